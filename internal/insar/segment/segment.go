package segment

import (
	"math"
	"sort"

	"github.com/groundscan-data/deform.report/internal/config"
	"github.com/groundscan-data/deform.report/internal/insar"
)

// Segment is a disjoint set of points sharing a deformation trend, with
// aggregate statistics used as the classification feature vector.
type Segment struct {
	ID           insar.SegmentID
	PointIndices []int // indices into the segmented point slice
	MeanVelocity float64
	Area         float64 // m², from the point footprint
	Elongation   float64 // major/minor axis ratio of the 2D point spread
	PointCount   int
}

// Segmenter partitions an attributed point set into velocity-coherent
// regions.
type Segmenter struct {
	params *config.RunParams
}

// NewSegmenter creates a segmenter with the given immutable run parameters.
func NewSegmenter(params *config.RunParams) *Segmenter {
	return &Segmenter{params: params}
}

// Segment grows regions from local velocity-extremum seeds. Every input
// point ends up in exactly one segment or carries the reserved noise label:
// the result is a strict partition. Point labels are written back onto the
// input slice.
func (s *Segmenter) Segment(points []insar.DeformationPoint) ([]Segment, error) {
	if len(points) == 0 {
		return nil, nil
	}

	radius := s.params.GetAdjacencyRadius()
	tolerance := s.params.GetVelocityTolerance()
	minPoints := s.params.GetMinSegmentPoints()

	index := insar.NewSpatialIndex(points, radius)

	// Seed order: local velocity extrema first, strongest deformation first.
	// A point seeds a region when no neighbour has a larger |velocity|.
	seeds := make([]int, 0, len(points))
	for i := range points {
		if isLocalExtremum(index, points, i, radius) {
			seeds = append(seeds, i)
		}
	}
	sort.Slice(seeds, func(a, b int) bool {
		va := math.Abs(points[seeds[a]].Velocity)
		vb := math.Abs(points[seeds[b]].Velocity)
		if va == vb {
			return seeds[a] < seeds[b]
		}
		return va > vb
	})

	// assigned[i] is the segment id of point i, or NoiseSegment.
	assigned := make([]insar.SegmentID, len(points))
	var segments []Segment
	nextID := insar.SegmentID(1)

	for _, seed := range seeds {
		if assigned[seed] != insar.NoiseSegment {
			continue
		}

		// Explicit work-queue frontier; no recursion.
		members := []int{seed}
		assigned[seed] = nextID
		mean := points[seed].Velocity
		frontier := []int{seed}

		for len(frontier) > 0 {
			cur := frontier[0]
			frontier = frontier[1:]

			for _, nb := range index.Neighbors(cur, radius) {
				if assigned[nb] != insar.NoiseSegment {
					continue
				}
				if math.Abs(points[nb].Velocity-mean) >= tolerance {
					continue
				}
				assigned[nb] = nextID
				members = append(members, nb)
				// Running mean keeps the merge criterion tied to the
				// segment as it grows, not just the seed.
				mean += (points[nb].Velocity - mean) / float64(len(members))
				frontier = append(frontier, nb)
			}
		}

		if len(members) < minPoints {
			// Too small to be a feature: release back to noise.
			for _, m := range members {
				assigned[m] = insar.NoiseSegment
			}
			continue
		}

		segments = append(segments, buildSegment(nextID, members, points, radius/2))
		nextID++
	}

	for i := range points {
		points[i].Segment = assigned[i]
	}
	return segments, nil
}

// isLocalExtremum reports whether point i has the largest |velocity| in its
// neighbourhood. Ties break toward the lower index so exactly one of two
// equal neighbours seeds.
func isLocalExtremum(index *insar.SpatialIndex, points []insar.DeformationPoint, i int, radius float64) bool {
	vi := math.Abs(points[i].Velocity)
	for _, nb := range index.Neighbors(i, radius) {
		if nb == i {
			continue
		}
		vn := math.Abs(points[nb].Velocity)
		if vn > vi || (vn == vi && nb < i) {
			return false
		}
	}
	return true
}

// buildSegment computes the aggregate stats for a grown region. footprint
// is the linear size assumed per point when the bounding box degenerates.
func buildSegment(id insar.SegmentID, members []int, points []insar.DeformationPoint, footprint float64) Segment {
	sort.Ints(members)

	n := float64(len(members))
	var sumV, cx, cy float64
	for _, m := range members {
		sumV += points[m].Velocity
		cx += points[m].X
		cy += points[m].Y
	}
	cx /= n
	cy /= n

	// 2D covariance for the elongation (eigenvalue ratio, closed form).
	var sxx, syy, sxy float64
	var minX, maxX, minY, maxY float64
	minX, maxX = points[members[0]].X, points[members[0]].X
	minY, maxY = points[members[0]].Y, points[members[0]].Y
	for _, m := range members {
		dx := points[m].X - cx
		dy := points[m].Y - cy
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
		minX = math.Min(minX, points[m].X)
		maxX = math.Max(maxX, points[m].X)
		minY = math.Min(minY, points[m].Y)
		maxY = math.Max(maxY, points[m].Y)
	}
	sxx /= n
	syy /= n
	sxy /= n

	tr := sxx + syy
	det := sxx*syy - sxy*sxy
	disc := math.Sqrt(math.Max(0, tr*tr/4-det))
	lambda1 := tr/2 + disc
	lambda2 := tr/2 - disc

	elongation := 1.0
	if lambda2 > 1e-12 {
		elongation = math.Sqrt(lambda1 / lambda2)
	} else if lambda1 > 1e-12 {
		elongation = math.Inf(1)
	}
	if math.IsInf(elongation, 1) {
		// Collinear points: cap so the feature vector stays finite.
		elongation = float64(len(members))
	}

	// Footprint area from the bounding box: robust enough for segment
	// statistics without a hull computation. Degenerate (collinear)
	// segments fall back to one footprint cell per point.
	area := (maxX - minX) * (maxY - minY)
	if area <= 0 {
		area = n * footprint * footprint
	}

	return Segment{
		ID:           id,
		PointIndices: members,
		MeanVelocity: sumV / n,
		Area:         area,
		Elongation:   elongation,
		PointCount:   len(members),
	}
}
