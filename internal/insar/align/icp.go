package align

import (
	"context"
	"errors"
	"log"
	"math"

	"github.com/groundscan-data/deform.report/internal/config"
	"github.com/groundscan-data/deform.report/internal/insar"
)

// Index cell size as a fraction of the trim distance. Cells near the query
// radius keep the ring search shallow.
const cellSizeFactor = 1.0

// Aligner runs trimmed ICP between a fixed reference cloud and per-epoch
// target clouds. Independent targets against the same reference may be
// aligned concurrently; each Align call is self-contained.
type Aligner struct {
	params *config.RunParams
}

// NewAligner creates an aligner with the given immutable run parameters.
func NewAligner(params *config.RunParams) *Aligner {
	return &Aligner{params: params}
}

// Result reports one alignment.
type Result struct {
	Transform  insar.Transform
	Iterations int
	MSE        float64 // final mean-squared correspondence error
	Matched    int     // correspondences inside the trim distance, last iteration
	Converged  bool
}

// Align estimates the rigid transform taking target into the reference
// frame and returns the transformed points. The input clouds are not
// mutated. Reaching the iteration cap returns the best transform found with
// a NonConvergenceError; callers log it and proceed with the result.
func (a *Aligner) Align(ctx context.Context, reference, target []insar.DeformationPoint) (Result, []insar.DeformationPoint, error) {
	if len(reference) == 0 || len(target) == 0 {
		return Result{Transform: insar.IdentityTransform()}, nil, &insar.ValidationError{
			Field: "align", Reason: "empty reference or target cloud",
		}
	}

	trim := a.params.GetICPTrimDistance()
	tol := a.params.GetICPTolerance()
	maxIter := a.params.GetICPMaxIterations()

	index := insar.NewSpatialIndex(reference, trim*cellSizeFactor)

	// Working copy of the target; moved is updated in place each iteration.
	moved := make([]insar.DeformationPoint, len(target))
	copy(moved, target)

	total := insar.IdentityTransform()
	best := Result{Transform: total, MSE: math.Inf(1)}
	prevMSE := math.Inf(1)

	srcX := make([]float64, 0, len(target))
	srcY := make([]float64, 0, len(target))
	srcZ := make([]float64, 0, len(target))
	dstX := make([]float64, 0, len(target))
	dstY := make([]float64, 0, len(target))
	dstZ := make([]float64, 0, len(target))

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return best, applyAll(target, best.Transform), err
		}

		// Correspondences inside the trim distance; everything else is an
		// outlier this iteration.
		srcX, srcY, srcZ = srcX[:0], srcY[:0], srcZ[:0]
		dstX, dstY, dstZ = dstX[:0], dstY[:0], dstZ[:0]
		var sumSq float64
		for _, p := range moved {
			ri, d2, ok := index.Nearest(p.X, p.Y, p.Z, trim)
			if !ok {
				continue
			}
			r := reference[ri]
			srcX = append(srcX, p.X)
			srcY = append(srcY, p.Y)
			srcZ = append(srcZ, p.Z)
			dstX = append(dstX, r.X)
			dstY = append(dstY, r.Y)
			dstZ = append(dstZ, r.Z)
			sumSq += d2
		}
		if len(srcX) < 3 {
			return best, applyAll(target, best.Transform), &insar.NonConvergenceError{
				Stage: "icp", Iterations: iter, LastDelta: math.Inf(1),
			}
		}

		mse := sumSq / float64(len(srcX))
		if mse < best.MSE {
			best = Result{Transform: total, Iterations: iter, MSE: mse, Matched: len(srcX)}
		}

		if delta := math.Abs(prevMSE - mse); delta < tol {
			best.Converged = true
			best.Iterations = iter
			return best, applyAll(target, best.Transform), nil
		}
		prevMSE = mse

		// Incremental estimate moving the current positions onto their
		// correspondences, composed onto the running total.
		step := estimateRigid(srcX, srcY, srcZ, dstX, dstY, dstZ)
		total = step.Compose(total)
		for i := range moved {
			moved[i].X, moved[i].Y, moved[i].Z = step.Apply(moved[i].X, moved[i].Y, moved[i].Z)
		}
	}

	err := &insar.NonConvergenceError{Stage: "icp", Iterations: maxIter, LastDelta: math.Abs(prevMSE - best.MSE)}
	log.Printf("ICP hit iteration cap (%d): keeping best transform, mse=%g", maxIter, best.MSE)
	return best, applyAll(target, best.Transform), err
}

// AlignCloud aligns a cloud against the reference epoch's points, advancing
// its lifecycle state. Non-convergence is counted as a warning and the
// best-effort result is kept.
func (a *Aligner) AlignCloud(ctx context.Context, reference []insar.DeformationPoint, cloud *insar.PointCloud, counters *insar.RunCounters) (Result, error) {
	res, aligned, err := a.Align(ctx, reference, cloud.Points)
	if err != nil {
		var nc *insar.NonConvergenceError
		if !errors.As(err, &nc) {
			return res, err
		}
		counters.Add(insar.CategoryNonConvergence, 1)
	}
	cloud.Points = aligned
	if stateErr := cloud.Advance(insar.StateAligned); stateErr != nil {
		return res, stateErr
	}
	return res, nil
}

func applyAll(points []insar.DeformationPoint, t insar.Transform) []insar.DeformationPoint {
	out := make([]insar.DeformationPoint, len(points))
	copy(out, points)
	for i := range out {
		out[i].X, out[i].Y, out[i].Z = t.Apply(out[i].X, out[i].Y, out[i].Z)
	}
	return out
}
