package segment

import (
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/groundscan-data/deform.report/internal/config"
	"github.com/groundscan-data/deform.report/internal/insar"
)

// Feature vector layout for classification: one row per segment.
const featureDim = 3 // mean velocity, area, elongation

// ClassificationModel holds the fitted cluster centroids (in normalised
// feature space), the normalisation parameters needed to assign new
// segments, and the per-segment assignments of the training set.
type ClassificationModel struct {
	Centroids   [][]float64 // k x featureDim, z-score space
	FeatureMean []float64
	FeatureStd  []float64
	Assignments map[insar.SegmentID]int
	Iterations  int
	Converged   bool
}

// Classifier clusters segment feature vectors with deterministic k-means.
type Classifier struct {
	params *config.RunParams
}

// NewClassifier creates a classifier with the given immutable run parameters.
func NewClassifier(params *config.RunParams) *Classifier {
	return &Classifier{params: params}
}

// Classify fits a k-means model over the segments' (mean velocity, area,
// elongation) vectors. Fails with insar.ErrEmptyInput when there are fewer
// segments than clusters. On hitting the iteration cap the best-effort model
// is returned together with a NonConvergenceError warning.
//
// Seeding is deterministic: the strongest-deforming segment starts, then
// farthest-point selection. Identical inputs produce identical models.
func (c *Classifier) Classify(segments []Segment, k int) (*ClassificationModel, error) {
	if k < 1 {
		return nil, &insar.ValidationError{Field: "num_clusters", Reason: "must be >= 1"}
	}
	if len(segments) < k {
		return nil, insar.ErrEmptyInput
	}

	features := make([][]float64, len(segments))
	for i, s := range segments {
		features[i] = []float64{s.MeanVelocity, s.Area, s.Elongation}
	}

	// Z-score normalisation per feature so area (m²) cannot drown out
	// velocity.
	mean := make([]float64, featureDim)
	std := make([]float64, featureDim)
	col := make([]float64, len(features))
	for j := 0; j < featureDim; j++ {
		for i := range features {
			col[i] = features[i][j]
		}
		m, s := stat.MeanStdDev(col, nil)
		if s == 0 || math.IsNaN(s) {
			s = 1
		}
		mean[j], std[j] = m, s
	}
	for i := range features {
		for j := 0; j < featureDim; j++ {
			features[i][j] = (features[i][j] - mean[j]) / std[j]
		}
	}

	centroids := seedCentroids(features, segments, k)

	maxIter := c.params.GetKMeansMaxIterations()
	tol := c.params.GetKMeansTolerance()

	assign := make([]int, len(features))
	counts := make([]int, k)
	next := make([][]float64, k)
	for i := range next {
		next[i] = make([]float64, featureDim)
	}

	converged := false
	iterations := 0
	for iter := 1; iter <= maxIter; iter++ {
		iterations = iter

		for i, f := range features {
			assign[i] = nearestCentroid(f, centroids)
		}

		for i := range next {
			for j := range next[i] {
				next[i][j] = 0
			}
			counts[i] = 0
		}
		for i, f := range features {
			floats.Add(next[assign[i]], f)
			counts[assign[i]]++
		}

		shift := 0.0
		for i := range next {
			if counts[i] == 0 {
				// Empty cluster keeps its centroid rather than collapsing.
				copy(next[i], centroids[i])
				continue
			}
			floats.Scale(1/float64(counts[i]), next[i])
			shift += floats.Distance(centroids[i], next[i], 2)
			copy(centroids[i], next[i])
		}

		if shift < tol {
			converged = true
			break
		}
	}

	model := &ClassificationModel{
		Centroids:   centroids,
		FeatureMean: mean,
		FeatureStd:  std,
		Assignments: make(map[insar.SegmentID]int, len(segments)),
		Iterations:  iterations,
		Converged:   converged,
	}
	for i, s := range segments {
		model.Assignments[s.ID] = assign[i]
	}

	if !converged {
		log.Printf("Classification hit iteration cap (%d): keeping best-effort model", maxIter)
		return model, &insar.NonConvergenceError{Stage: "kmeans", Iterations: iterations}
	}
	return model, nil
}

// Assign returns the cluster for a segment under a fitted model.
func (m *ClassificationModel) Assign(s Segment) int {
	f := []float64{s.MeanVelocity, s.Area, s.Elongation}
	for j := range f {
		f[j] = (f[j] - m.FeatureMean[j]) / m.FeatureStd[j]
	}
	return nearestCentroid(f, m.Centroids)
}

// seedCentroids picks k initial centroids deterministically: start from the
// segment with the strongest mean deformation, then repeatedly take the
// feature vector farthest from all chosen centroids.
func seedCentroids(features [][]float64, segments []Segment, k int) [][]float64 {
	first := 0
	for i, s := range segments {
		if math.Abs(s.MeanVelocity) > math.Abs(segments[first].MeanVelocity) {
			first = i
		}
	}

	chosen := []int{first}
	for len(chosen) < k {
		bestIdx, bestDist := -1, -1.0
		for i, f := range features {
			minDist := math.Inf(1)
			for _, c := range chosen {
				if d := floats.Distance(f, features[c], 2); d < minDist {
					minDist = d
				}
			}
			if minDist > bestDist {
				bestDist = minDist
				bestIdx = i
			}
		}
		chosen = append(chosen, bestIdx)
	}

	centroids := make([][]float64, k)
	for i, c := range chosen {
		centroids[i] = make([]float64, featureDim)
		copy(centroids[i], features[c])
	}
	return centroids
}

func nearestCentroid(f []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := floats.Distance(f, c, 2); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// ApplyToPoints writes cluster labels onto the points of a segmented cloud
// via their segment ids. Noise points keep class -1.
func (m *ClassificationModel) ApplyToPoints(points []insar.DeformationPoint) {
	for i := range points {
		if points[i].Segment == insar.NoiseSegment {
			points[i].Class = -1
			continue
		}
		if cls, ok := m.Assignments[points[i].Segment]; ok {
			points[i].Class = int32(cls)
		}
	}
}
