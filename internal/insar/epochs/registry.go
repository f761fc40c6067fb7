package epochs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/groundscan-data/deform.report/internal/insar"
)

// Metadata describes an epoch at registration time. The registry assigns the
// ID and the grid identity.
type Metadata struct {
	Date         time.Time
	SatelliteID  string
	Orbit        insar.OrbitDirection
	Polarization string
	QualityMask  []bool
}

// Registry tracks registered epochs and the common reference grid.
// Registration is serialised; reads after ingest are lock-free copies.
type Registry struct {
	mu     sync.Mutex
	gridID string
	grid   insar.ReferenceGrid
	epochs []insar.Epoch
	nextID insar.EpochID
	byKey  map[string]insar.EpochID // date+polarization -> id
}

// NewRegistry creates an empty registry. The reference grid is established
// by the first Register call.
func NewRegistry() *Registry {
	return &Registry{
		nextID: 1,
		byKey:  make(map[string]insar.EpochID),
	}
}

func epochKey(date time.Time, polarization string) string {
	return date.UTC().Format("2006-01-02") + "/" + polarization
}

// Register adds an epoch and its raster to the registry. The first
// registration fixes the reference grid; later rasters must match it. Fails
// with insar.ErrDuplicateEpoch when the (date, polarization) pair is already
// present and with an InvalidGeoreferenceError on grid mismatch.
func (r *Registry) Register(meta Metadata, raster *insar.DeformationRaster) (insar.EpochID, error) {
	if raster == nil {
		return 0, &insar.ValidationError{Field: "raster", Reason: "nil raster"}
	}
	if want, got := raster.Grid.CellCount(), len(raster.Displacement); want != got {
		return 0, &insar.ValidationError{
			Field:  "raster.displacement",
			Reason: fmt.Sprintf("band length %d does not match grid cell count %d", got, want),
		}
	}
	if want, got := raster.Grid.CellCount(), len(raster.Coherence); want != got {
		return 0, &insar.ValidationError{
			Field:  "raster.coherence",
			Reason: fmt.Sprintf("band length %d does not match grid cell count %d", got, want),
		}
	}
	if want, got := raster.Grid.CellCount(), len(meta.QualityMask); meta.QualityMask != nil && want != got {
		return 0, &insar.ValidationError{
			Field:  "meta.quality_mask",
			Reason: fmt.Sprintf("mask length %d does not match grid cell count %d", got, want),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := epochKey(meta.Date, meta.Polarization)
	if _, exists := r.byKey[key]; exists {
		return 0, fmt.Errorf("register %s: %w", key, insar.ErrDuplicateEpoch)
	}

	if len(r.epochs) == 0 {
		r.grid = raster.Grid
		r.gridID = fmt.Sprintf("%s/%gm/%dx%d", raster.Grid.CRS, raster.Grid.CellSize,
			raster.Grid.Width, raster.Grid.Height)
	} else if !r.grid.Matches(raster.Grid) {
		return 0, &insar.InvalidGeoreferenceError{
			WantCRS:      r.grid.CRS,
			GotCRS:       raster.Grid.CRS,
			WantCellSize: r.grid.CellSize,
			GotCellSize:  raster.Grid.CellSize,
		}
	}

	id := r.nextID
	r.nextID++
	r.byKey[key] = id
	r.epochs = append(r.epochs, insar.Epoch{
		ID:           id,
		Date:         meta.Date.UTC(),
		SatelliteID:  meta.SatelliteID,
		Orbit:        meta.Orbit,
		Polarization: meta.Polarization,
		GridID:       r.gridID,
		QualityMask:  meta.QualityMask,
	})
	return id, nil
}

// OrderedEpochs returns a copy of the registered epochs sorted by date.
func (r *Registry) OrderedEpochs() []insar.Epoch {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]insar.Epoch, len(r.epochs))
	copy(out, r.epochs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Epoch returns the epoch with the given id.
func (r *Registry) Epoch(id insar.EpochID) (insar.Epoch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.epochs {
		if e.ID == id {
			return e, true
		}
	}
	return insar.Epoch{}, false
}

// Grid returns the reference grid. Only valid after the first registration.
func (r *Registry) Grid() (insar.ReferenceGrid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.epochs) == 0 {
		return insar.ReferenceGrid{}, insar.ErrNoEpochs
	}
	return r.grid, nil
}

// GridID returns the grid identity string shared by all epochs of the run.
func (r *Registry) GridID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gridID
}

// Len returns the number of registered epochs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.epochs)
}
