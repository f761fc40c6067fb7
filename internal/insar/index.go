package insar

import "math"

// Points-per-cell estimate used for initial index capacity.
const estimatedPointsPerCell = 4

// SpatialIndex provides neighbourhood and nearest-neighbour queries over a
// point set using a regular hash grid. Cell size should approximately match
// the query radius the caller intends to use.
//
// Indexing is 2D on (x, y); distances reported to callers are full 3D.
type SpatialIndex struct {
	CellSize float64
	Points   []DeformationPoint
	grid     map[int64][]int // cell id -> point indices
}

// NewSpatialIndex builds an index over points with the given cell size.
func NewSpatialIndex(points []DeformationPoint, cellSize float64) *SpatialIndex {
	si := &SpatialIndex{
		CellSize: cellSize,
		Points:   points,
		grid:     make(map[int64][]int, len(points)/estimatedPointsPerCell+1),
	}
	for i, p := range points {
		id := si.cellID(si.cellCoord(p.X), si.cellCoord(p.Y))
		si.grid[id] = append(si.grid[id], i)
	}
	return si
}

func (si *SpatialIndex) cellCoord(v float64) int64 {
	return int64(math.Floor(v / si.CellSize))
}

// cellID maps a signed cell coordinate pair to a unique id using zigzag
// encoding followed by Szudzik's pairing function.
func (si *SpatialIndex) cellID(cx, cy int64) int64 {
	var a, b int64
	if cx >= 0 {
		a = 2 * cx
	} else {
		a = -2*cx - 1
	}
	if cy >= 0 {
		b = 2 * cy
	} else {
		b = -2*cy - 1
	}
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

// Neighbors returns indices of points within radius of points[idx],
// including idx itself. Distance is 2D (x, y).
func (si *SpatialIndex) Neighbors(idx int, radius float64) []int {
	p := si.Points[idx]
	return si.neighborsOf(p.X, p.Y, radius)
}

func (si *SpatialIndex) neighborsOf(x, y, radius float64) []int {
	r2 := radius * radius
	cx := si.cellCoord(x)
	cy := si.cellCoord(y)
	reach := int64(math.Ceil(radius/si.CellSize))

	var out []int
	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for _, i := range si.grid[si.cellID(cx+dx, cy+dy)] {
				q := si.Points[i]
				ddx := q.X - x
				ddy := q.Y - y
				if ddx*ddx+ddy*ddy <= r2 {
					out = append(out, i)
				}
			}
		}
	}
	return out
}

// Nearest returns the index of the point closest to (x, y, z) within
// maxDist, the squared 3D distance, and whether any point qualified. The
// search expands cell rings outward until a hit cannot be beaten by a
// farther ring.
func (si *SpatialIndex) Nearest(x, y, z, maxDist float64) (best int, bestDist2 float64, ok bool) {
	cx := si.cellCoord(x)
	cy := si.cellCoord(y)
	maxReach := int64(math.Ceil(maxDist/si.CellSize)) + 1

	best = -1
	bestDist2 = maxDist * maxDist

	for ring := int64(0); ring <= maxReach; ring++ {
		// Once a hit exists, rings whose minimum possible 2D distance
		// exceeds the best hit cannot improve it.
		if best >= 0 {
			minRingDist := float64(ring-1) * si.CellSize
			if minRingDist > 0 && minRingDist*minRingDist > bestDist2 {
				break
			}
		}
		for dx := -ring; dx <= ring; dx++ {
			for dy := -ring; dy <= ring; dy++ {
				// Ring perimeter only; inner cells were already visited.
				if ring > 0 && dx > -ring && dx < ring && dy > -ring && dy < ring {
					continue
				}
				for _, i := range si.grid[si.cellID(cx+dx, cy+dy)] {
					q := si.Points[i]
					ddx := q.X - x
					ddy := q.Y - y
					ddz := q.Z - z
					d2 := ddx*ddx + ddy*ddy + ddz*ddz
					if d2 < bestDist2 || (best < 0 && d2 <= bestDist2) {
						best = i
						bestDist2 = d2
					}
				}
			}
		}
	}
	if best < 0 {
		return -1, 0, false
	}
	return best, bestDist2, true
}
