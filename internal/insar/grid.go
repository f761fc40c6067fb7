package insar

import (
	"math"
)

// ReferenceGrid describes the common georeferenced grid every raster in a run
// must conform to. The first registered epoch fixes the grid; afterwards it is
// read-only configuration shared by all stages.
//
// Cells are addressed (row, col) with row 0 at OriginY and col 0 at OriginX.
// X increases with col, Y decreases with row (north-up raster convention).
type ReferenceGrid struct {
	CRS      string  // e.g. "EPSG:32650"
	OriginX  float64 // X of the upper-left cell corner
	OriginY  float64 // Y of the upper-left cell corner
	CellSize float64 // square cells, map units
	Width    int     // columns
	Height   int     // rows
}

// CellCount returns the total number of cells in the grid.
func (g ReferenceGrid) CellCount() int { return g.Width * g.Height }

// CellCenter returns the map coordinates of the centre of cell (row, col).
func (g ReferenceGrid) CellCenter(row, col int) (x, y float64) {
	x = g.OriginX + (float64(col)+0.5)*g.CellSize
	y = g.OriginY - (float64(row)+0.5)*g.CellSize
	return x, y
}

// CellAt returns the (row, col) of the cell containing map point (x, y) and
// whether the point lies inside the grid.
func (g ReferenceGrid) CellAt(x, y float64) (row, col int, ok bool) {
	col = int(math.Floor((x - g.OriginX) / g.CellSize))
	row = int(math.Floor((g.OriginY - y) / g.CellSize))
	if row < 0 || row >= g.Height || col < 0 || col >= g.Width {
		return 0, 0, false
	}
	return row, col, true
}

// Matches reports whether another grid shares this grid's CRS and geometry.
// Rasters from the collaborator must match exactly; resampling is out of
// scope for the core.
func (g ReferenceGrid) Matches(other ReferenceGrid) bool {
	return g.CRS == other.CRS &&
		g.OriginX == other.OriginX &&
		g.OriginY == other.OriginY &&
		g.CellSize == other.CellSize &&
		g.Width == other.Width &&
		g.Height == other.Height
}

// LocationID identifies a spatial location (a reference-grid cell) across
// epochs. Stable for the lifetime of a run because every epoch shares one
// grid.
type LocationID int64

// Location returns the LocationID for cell (row, col).
func (g ReferenceGrid) Location(row, col int) LocationID {
	return LocationID(int64(row)*int64(g.Width) + int64(col))
}

// RowCol is the inverse of Location.
func (g ReferenceGrid) RowCol(loc LocationID) (row, col int) {
	return int(int64(loc) / int64(g.Width)), int(int64(loc) % int64(g.Width))
}

// DeformationRaster is one epoch's unwrapped displacement product on the
// reference grid: a displacement band and a coherence band, both row-major
// with len = Width*Height. Consumed by conversion, then discarded.
type DeformationRaster struct {
	Grid         ReferenceGrid
	Displacement []float64 // line-of-sight displacement, metres
	Coherence    []float64 // interferometric coherence, [0, 1]
}

// At returns the displacement and coherence for cell (row, col).
func (r *DeformationRaster) At(row, col int) (disp, coh float64) {
	i := row*r.Grid.Width + col
	return r.Displacement[i], r.Coherence[i]
}

// DEMSurface provides terrain elevation lookups for point-cloud conversion.
// Implementations adapt whatever elevation source the run is configured with.
type DEMSurface interface {
	// ElevationAt returns the terrain elevation at map point (x, y) and
	// whether the point is covered by the surface.
	ElevationAt(x, y float64) (float64, bool)
}

// GridDEM is a DEMSurface backed by a regular elevation grid, sampled with
// either nearest-cell or bilinear interpolation.
type GridDEM struct {
	Grid       ReferenceGrid
	Elevations []float64 // row-major, len = Width*Height
	Bilinear   bool
}

// ElevationAt implements DEMSurface.
func (d *GridDEM) ElevationAt(x, y float64) (float64, bool) {
	if !d.Bilinear {
		row, col, ok := d.Grid.CellAt(x, y)
		if !ok {
			return 0, false
		}
		z := d.Elevations[row*d.Grid.Width+col]
		if math.IsNaN(z) {
			return 0, false
		}
		return z, true
	}

	if _, _, ok := d.Grid.CellAt(x, y); !ok {
		return 0, false
	}

	// Bilinear: work in fractional cell-centre coordinates.
	fc := (x-d.Grid.OriginX)/d.Grid.CellSize - 0.5
	fr := (d.Grid.OriginY-y)/d.Grid.CellSize - 0.5
	c0 := int(math.Floor(fc))
	r0 := int(math.Floor(fr))
	c1, r1 := c0+1, r0+1

	// Clamp to the grid edge so border cells still resolve.
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	c0 = clamp(c0, d.Grid.Width-1)
	c1 = clamp(c1, d.Grid.Width-1)
	r0 = clamp(r0, d.Grid.Height-1)
	r1 = clamp(r1, d.Grid.Height-1)

	wc := fc - math.Floor(fc)
	wr := fr - math.Floor(fr)

	z00 := d.Elevations[r0*d.Grid.Width+c0]
	z01 := d.Elevations[r0*d.Grid.Width+c1]
	z10 := d.Elevations[r1*d.Grid.Width+c0]
	z11 := d.Elevations[r1*d.Grid.Width+c1]
	if math.IsNaN(z00) || math.IsNaN(z01) || math.IsNaN(z10) || math.IsNaN(z11) {
		return 0, false
	}

	top := z00*(1-wc) + z01*wc
	bot := z10*(1-wc) + z11*wc
	return top*(1-wr) + bot*wr, true
}
