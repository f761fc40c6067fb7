package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RunParams represents the immutable per-run configuration. Pointer fields
// distinguish "not set" from zero values so partial JSON configs are safe;
// the Get* accessors supply defaults for anything omitted.
type RunParams struct {
	// DEM params
	DEMSource     *string  `json:"dem_source,omitempty"`
	DEMResolution *float64 `json:"dem_resolution,omitempty"` // metres

	// InSAR params (recorded for provenance; the collaborator applies them)
	FilterWavelength *float64 `json:"insar_filter_wavelength,omitempty"`
	UnwrapMethod     *string  `json:"insar_unwrap_method,omitempty"`

	// Time-series params
	ReferencePoint []float64 `json:"time_series_reference_point,omitempty"` // [lon, lat]

	// Point-cloud conversion params
	CoherenceThreshold *float64 `json:"coherence_threshold,omitempty"`
	PointCloudStride   *int     `json:"point_cloud_resolution,omitempty"` // cell stride for downsampling
	Interpolation      *string  `json:"point_cloud_interpolation,omitempty"`
	DisplacementScale  *float64 `json:"displacement_scale,omitempty"` // metres -> output unit
	MinDeformation     *float64 `json:"min_deformation,omitempty"`    // output unit
	MaxDeformation     *float64 `json:"max_deformation,omitempty"`

	// Alignment params
	ICPMaxIterations *int     `json:"icp_max_iterations,omitempty"`
	ICPTolerance     *float64 `json:"icp_tolerance,omitempty"`
	ICPTrimDistance  *float64 `json:"icp_trim_distance,omitempty"` // metres

	// Segmentation params
	SegmentationMethod *string  `json:"segmentation_method,omitempty"`
	VelocityTolerance  *float64 `json:"segmentation_velocity_tolerance,omitempty"` // unit/year
	AdjacencyRadius    *float64 `json:"segmentation_adjacency_radius,omitempty"`   // metres
	MinSegmentPoints   *int     `json:"segmentation_min_points,omitempty"`

	// Classification params
	ClassificationMethod *string  `json:"classification_method,omitempty"`
	NumClusters          *int     `json:"num_clusters,omitempty"`
	KMeansMaxIterations  *int     `json:"kmeans_max_iterations,omitempty"`
	KMeansTolerance      *float64 `json:"kmeans_tolerance,omitempty"`

	// Inversion params
	ResidualThreshold *float64 `json:"residual_threshold,omitempty"` // low-confidence flag cutoff

	// Passed through to the visualisation collaborator untouched.
	ColorMap *string `json:"visualization_color_map,omitempty"`
}

// Defaults match the original processing parameters: 0.3 coherence floor,
// stride 1 (every cell), millimetre output unit, k-means with 5 clusters.
const (
	DefaultCoherenceThreshold = 0.3
	DefaultStride             = 1
	DefaultDisplacementScale  = 1000.0 // metres -> millimetres
	DefaultICPMaxIterations   = 50
	DefaultICPTolerance       = 1e-6
	DefaultICPTrimDistance    = 5.0
	DefaultVelocityTolerance  = 2.0
	DefaultAdjacencyRadius    = 45.0
	DefaultMinSegmentPoints   = 4
	DefaultNumClusters        = 5
	DefaultKMeansMaxIter      = 100
	DefaultKMeansTolerance    = 1e-3
	DefaultResidualThreshold  = 5.0
)

// EmptyRunParams returns a RunParams with all fields unset.
func EmptyRunParams() *RunParams {
	return &RunParams{}
}

// LoadRunParams loads RunParams from a JSON file. Fields omitted from the
// file fall back to defaults via the Get* accessors.
func LoadRunParams(path string) (*RunParams, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	p := EmptyRunParams()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return p, nil
}

// Validate checks ranges on everything that is set.
func (p *RunParams) Validate() error {
	if p.CoherenceThreshold != nil && (*p.CoherenceThreshold < 0 || *p.CoherenceThreshold > 1) {
		return fmt.Errorf("coherence_threshold must be in [0,1], got %g", *p.CoherenceThreshold)
	}
	if p.PointCloudStride != nil && *p.PointCloudStride < 1 {
		return fmt.Errorf("point_cloud_resolution must be >= 1, got %d", *p.PointCloudStride)
	}
	if p.Interpolation != nil {
		switch *p.Interpolation {
		case "nearest", "bilinear":
		default:
			return fmt.Errorf("point_cloud_interpolation must be nearest or bilinear, got %q", *p.Interpolation)
		}
	}
	if p.NumClusters != nil && *p.NumClusters < 1 {
		return fmt.Errorf("num_clusters must be >= 1, got %d", *p.NumClusters)
	}
	if p.ICPMaxIterations != nil && *p.ICPMaxIterations < 1 {
		return fmt.Errorf("icp_max_iterations must be >= 1, got %d", *p.ICPMaxIterations)
	}
	if p.MinDeformation != nil && p.MaxDeformation != nil && *p.MinDeformation >= *p.MaxDeformation {
		return fmt.Errorf("min_deformation %g must be below max_deformation %g",
			*p.MinDeformation, *p.MaxDeformation)
	}
	if len(p.ReferencePoint) != 0 && len(p.ReferencePoint) != 2 {
		return fmt.Errorf("time_series_reference_point must be [lon, lat], got %d values", len(p.ReferencePoint))
	}
	return nil
}

// Accessors with fallback defaults.

func (p *RunParams) GetCoherenceThreshold() float64 {
	if p.CoherenceThreshold != nil {
		return *p.CoherenceThreshold
	}
	return DefaultCoherenceThreshold
}

func (p *RunParams) GetStride() int {
	if p.PointCloudStride != nil {
		return *p.PointCloudStride
	}
	return DefaultStride
}

func (p *RunParams) GetInterpolation() string {
	if p.Interpolation != nil {
		return *p.Interpolation
	}
	return "nearest"
}

func (p *RunParams) GetDisplacementScale() float64 {
	if p.DisplacementScale != nil {
		return *p.DisplacementScale
	}
	return DefaultDisplacementScale
}

func (p *RunParams) GetDeformationRange() (min, max float64, bounded bool) {
	if p.MinDeformation == nil || p.MaxDeformation == nil {
		return 0, 0, false
	}
	return *p.MinDeformation, *p.MaxDeformation, true
}

func (p *RunParams) GetICPMaxIterations() int {
	if p.ICPMaxIterations != nil {
		return *p.ICPMaxIterations
	}
	return DefaultICPMaxIterations
}

func (p *RunParams) GetICPTolerance() float64 {
	if p.ICPTolerance != nil {
		return *p.ICPTolerance
	}
	return DefaultICPTolerance
}

func (p *RunParams) GetICPTrimDistance() float64 {
	if p.ICPTrimDistance != nil {
		return *p.ICPTrimDistance
	}
	return DefaultICPTrimDistance
}

func (p *RunParams) GetVelocityTolerance() float64 {
	if p.VelocityTolerance != nil {
		return *p.VelocityTolerance
	}
	return DefaultVelocityTolerance
}

func (p *RunParams) GetAdjacencyRadius() float64 {
	if p.AdjacencyRadius != nil {
		return *p.AdjacencyRadius
	}
	return DefaultAdjacencyRadius
}

func (p *RunParams) GetMinSegmentPoints() int {
	if p.MinSegmentPoints != nil {
		return *p.MinSegmentPoints
	}
	return DefaultMinSegmentPoints
}

func (p *RunParams) GetNumClusters() int {
	if p.NumClusters != nil {
		return *p.NumClusters
	}
	return DefaultNumClusters
}

func (p *RunParams) GetKMeansMaxIterations() int {
	if p.KMeansMaxIterations != nil {
		return *p.KMeansMaxIterations
	}
	return DefaultKMeansMaxIter
}

func (p *RunParams) GetKMeansTolerance() float64 {
	if p.KMeansTolerance != nil {
		return *p.KMeansTolerance
	}
	return DefaultKMeansTolerance
}

func (p *RunParams) GetResidualThreshold() float64 {
	if p.ResidualThreshold != nil {
		return *p.ResidualThreshold
	}
	return DefaultResidualThreshold
}

func (p *RunParams) GetReferencePoint() (lon, lat float64, ok bool) {
	if len(p.ReferencePoint) == 2 {
		return p.ReferencePoint[0], p.ReferencePoint[1], true
	}
	return 0, 0, false
}
