package convert

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/groundscan-data/deform.report/internal/config"
	"github.com/groundscan-data/deform.report/internal/insar"
)

// Stats reports what one conversion did with its input cells.
type Stats struct {
	CellsVisited  int // cells on the stride lattice
	PointsEmitted int
	LowCoherence  int // dropped: coherence below threshold
	MissingData   int // dropped: NaN displacement or no DEM coverage
	OutOfRange    int // dropped: displacement outside configured bounds
}

// Excluded returns the total number of dropped cells (the data-quality
// counter contribution of this conversion).
func (s Stats) Excluded() int {
	return s.LowCoherence + s.MissingData + s.OutOfRange
}

// Converter builds point clouds from deformation rasters. Configuration is
// captured at construction and never mutated.
type Converter struct {
	params *config.RunParams
}

// NewConverter creates a converter with the given immutable run parameters.
func NewConverter(params *config.RunParams) *Converter {
	return &Converter{params: params}
}

// Convert produces one attributed point per valid raster cell. A cell is
// valid when it sits on the downsampling stride lattice, its coherence meets
// the threshold, its displacement is finite and within the configured
// deformation bounds, and the DEM covers its centre. Invalid cells are
// dropped and counted in Stats; the drop is recoverable, never an error.
func (c *Converter) Convert(epoch insar.Epoch, raster *insar.DeformationRaster, dem insar.DEMSurface) ([]insar.DeformationPoint, Stats, error) {
	if raster == nil {
		return nil, Stats{}, &insar.ValidationError{Field: "raster", Reason: "nil raster"}
	}
	if mask := epoch.QualityMask; mask != nil && len(mask) != raster.Grid.CellCount() {
		return nil, Stats{}, &insar.ValidationError{
			Field:  "epoch.quality_mask",
			Reason: fmt.Sprintf("mask length %d does not match grid cell count %d", len(mask), raster.Grid.CellCount()),
		}
	}

	grid := raster.Grid
	stride := c.params.GetStride()
	threshold := c.params.GetCoherenceThreshold()
	scale := c.params.GetDisplacementScale()
	minDef, maxDef, bounded := c.params.GetDeformationRange()

	var stats Stats
	points := make([]insar.DeformationPoint, 0, grid.CellCount()/(stride*stride))

	for row := 0; row < grid.Height; row += stride {
		for col := 0; col < grid.Width; col += stride {
			stats.CellsVisited++

			if mask := epoch.QualityMask; mask != nil && !mask[row*grid.Width+col] {
				stats.MissingData++
				continue
			}

			disp, coh := raster.At(row, col)
			if coh < threshold {
				stats.LowCoherence++
				continue
			}
			if math.IsNaN(disp) || math.IsInf(disp, 0) {
				stats.MissingData++
				continue
			}

			x, y := grid.CellCenter(row, col)
			z, covered := dem.ElevationAt(x, y)
			if !covered {
				stats.MissingData++
				continue
			}

			scaled := projectLOS(disp, epoch.Orbit) * scale
			if bounded && (scaled < minDef || scaled > maxDef) {
				stats.OutOfRange++
				continue
			}

			points = append(points, insar.DeformationPoint{
				X:            x,
				Y:            y,
				Z:            z,
				Epoch:        epoch.ID,
				Location:     grid.Location(row, col),
				Displacement: scaled,
				Coherence:    coh,
				Segment:      insar.NoiseSegment,
				Class:        -1,
			})
		}
	}

	stats.PointsEmitted = len(points)
	return points, stats, nil
}

// projectLOS resolves the line-of-sight displacement sign from the orbit
// direction: positive output means motion toward the satellite (uplift for
// near-vertical geometry). Descending passes observe the same ground motion
// with the look direction mirrored, so the sign flips to keep one consistent
// convention across epochs.
//
// TODO(geodesy): the full LOS -> vertical/horizontal decomposition needs the
// incidence angle from the collaborator's orbit metadata; confirm the
// convention before mixing ascending and descending stacks in one run.
func projectLOS(losDisp float64, orbit insar.OrbitDirection) float64 {
	if orbit == insar.OrbitDescending {
		return -losDisp
	}
	return losDisp
}

// Result pairs one epoch's conversion output with its stats. Quality carries
// the epoch's data-quality exclusions when any cells were dropped; it is
// non-fatal and nil for a clean conversion.
type Result struct {
	Epoch   insar.EpochID
	Cloud   *insar.PointCloud
	Stats   Stats
	Quality *insar.DataQualityError
	Err     error
}

// ConvertAll converts every epoch concurrently. Each epoch's raster is
// independent, so failures are per-epoch: a failed epoch carries its error in
// its Result and does not block the others. Data-quality drops are added to
// counters. Respects ctx between epochs.
func (c *Converter) ConvertAll(ctx context.Context, epochs []insar.Epoch, rasters map[insar.EpochID]*insar.DeformationRaster, dem insar.DEMSurface, counters *insar.RunCounters) []Result {
	results := make([]Result, len(epochs))
	var wg sync.WaitGroup

	for i, epoch := range epochs {
		if ctx.Err() != nil {
			results[i] = Result{Epoch: epoch.ID, Err: ctx.Err()}
			continue
		}

		wg.Add(1)
		go func(i int, epoch insar.Epoch) {
			defer wg.Done()

			raster, ok := rasters[epoch.ID]
			if !ok {
				results[i] = Result{
					Epoch: epoch.ID,
					Err:   &insar.ValidationError{Field: "raster", Reason: "no raster for epoch"},
				}
				return
			}

			points, stats, err := c.Convert(epoch, raster, dem)
			if err != nil {
				results[i] = Result{Epoch: epoch.ID, Err: err}
				return
			}
			var quality *insar.DataQualityError
			if excluded := stats.Excluded(); excluded > 0 {
				counters.Add(insar.CategoryDataQuality, int64(excluded))
				quality = &insar.DataQualityError{
					Epoch: epoch.ID,
					Count: excluded,
					Reason: fmt.Sprintf("low coherence %d, missing %d, out of range %d",
						stats.LowCoherence, stats.MissingData, stats.OutOfRange),
				}
				log.Printf("Epoch %d conversion: %d points, %v", epoch.ID, stats.PointsEmitted, quality)
			}

			results[i] = Result{
				Epoch:   epoch.ID,
				Cloud:   &insar.PointCloud{Epoch: epoch.ID, Points: points, State: insar.StateConverted},
				Stats:   stats,
				Quality: quality,
			}
		}(i, epoch)
	}

	wg.Wait()
	return results
}
