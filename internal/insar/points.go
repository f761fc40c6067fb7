package insar

import (
	"fmt"
	"time"
)

// EpochID identifies a registered acquisition. IDs are assigned sequentially
// at registration; ordering by ID is not meaningful, ordering by date is.
type EpochID int64

// OrbitDirection is the satellite pass direction for an acquisition.
type OrbitDirection string

const (
	OrbitAscending  OrbitDirection = "ascending"
	OrbitDescending OrbitDirection = "descending"
)

// Epoch is one dated deformation product. Immutable once registered.
type Epoch struct {
	ID           EpochID
	Date         time.Time
	SatelliteID  string
	Orbit        OrbitDirection
	Polarization string // e.g. "VV", "VH"
	GridID       string // reference-grid identity, set by the registry
	QualityMask  []bool // optional per-cell validity mask, row-major
}

// SegmentID labels the segment a point belongs to. NoiseSegment is the
// reserved label for points no segment claimed.
type SegmentID int32

// NoiseSegment is the reserved "unassigned/noise" segment label.
const NoiseSegment SegmentID = 0

// DeformationPoint is one attributed point of the output cloud. Created at
// conversion; inversion fills Velocity and Residual, alignment adjusts the
// coordinate, segmentation and classification fill the labels.
type DeformationPoint struct {
	X, Y, Z      float64 // map coordinates plus DEM elevation, one CRS per run
	Epoch        EpochID
	Location     LocationID // reference-grid cell this point samples
	Displacement float64    // cumulative displacement in the configured unit
	Coherence    float64
	Velocity     float64 // filled by inversion, unit/year
	Residual     float64 // inversion residual std dev, same unit
	Segment      SegmentID
	Class        int32 // cluster label from classification, -1 until classified
}

// ArtifactState tracks where a per-epoch point set sits in the pipeline.
// Transitions are validated: each stage may only consume an artifact in the
// state the previous stage left it in.
type ArtifactState string

const (
	StateRegistered ArtifactState = "registered"
	StateConverted  ArtifactState = "converted"
	StateInverted   ArtifactState = "inverted"
	StateAligned    ArtifactState = "aligned"
	StateSegmented  ArtifactState = "segmented"
	StateClassified ArtifactState = "classified"
)

// nextState holds the single legal successor for each state.
var nextState = map[ArtifactState]ArtifactState{
	StateRegistered: StateConverted,
	StateConverted:  StateInverted,
	StateInverted:   StateAligned,
	StateAligned:    StateSegmented,
	StateSegmented:  StateClassified,
}

// PointCloud is one epoch's point set with its lifecycle tag.
type PointCloud struct {
	Epoch  EpochID
	Points []DeformationPoint
	State  ArtifactState
}

// Advance moves the cloud to the given state, failing if the transition is
// not the legal successor of the current state.
func (pc *PointCloud) Advance(to ArtifactState) error {
	next, ok := nextState[pc.State]
	if !ok || next != to {
		return fmt.Errorf("invalid lifecycle transition %s -> %s for epoch %d",
			pc.State, to, pc.Epoch)
	}
	pc.State = to
	return nil
}
