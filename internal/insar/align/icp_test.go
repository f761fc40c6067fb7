package align

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/groundscan-data/deform.report/internal/config"
	"github.com/groundscan-data/deform.report/internal/insar"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

// referenceCloud builds a non-degenerate point lattice with varying
// elevation so the rigid estimate is fully constrained.
func referenceCloud(nx, ny int, spacing float64) []insar.DeformationPoint {
	pts := make([]insar.DeformationPoint, 0, nx*ny)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			pts = append(pts, insar.DeformationPoint{
				X: float64(i) * spacing,
				Y: float64(j) * spacing,
				Z: 100 + 3*math.Sin(float64(i)) + 2*math.Cos(float64(j)),
			})
		}
	}
	return pts
}

func shifted(points []insar.DeformationPoint, dx, dy, dz float64) []insar.DeformationPoint {
	out := make([]insar.DeformationPoint, len(points))
	copy(out, points)
	for i := range out {
		out[i].X += dx
		out[i].Y += dy
		out[i].Z += dz
	}
	return out
}

func TestAlignRecoversTranslation(t *testing.T) {
	ref := referenceCloud(6, 6, 10)
	dx, dy, dz := 1.5, -1.0, 0.5
	target := shifted(ref, dx, dy, dz)

	a := NewAligner(&config.RunParams{ICPTrimDistance: fptr(5.0)})
	res, aligned, err := a.Align(context.Background(), ref, target)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if !res.Converged {
		t.Error("pure translation should converge")
	}

	gx, gy, gz := res.Transform.Translation()
	if math.Abs(gx+dx) > 1e-6 || math.Abs(gy+dy) > 1e-6 || math.Abs(gz+dz) > 1e-6 {
		t.Errorf("recovered translation (%g, %g, %g), want (%g, %g, %g)",
			gx, gy, gz, -dx, -dy, -dz)
	}

	// The aligned cloud should land on the reference.
	for i := range aligned {
		if math.Abs(aligned[i].X-ref[i].X) > 1e-6 ||
			math.Abs(aligned[i].Y-ref[i].Y) > 1e-6 ||
			math.Abs(aligned[i].Z-ref[i].Z) > 1e-6 {
			t.Fatalf("point %d aligned to (%g, %g, %g), want (%g, %g, %g)",
				i, aligned[i].X, aligned[i].Y, aligned[i].Z, ref[i].X, ref[i].Y, ref[i].Z)
		}
	}

	// Inputs untouched.
	if target[0].X != ref[0].X+dx {
		t.Error("Align must not mutate the target cloud")
	}
}

func TestAlignIdenticalClouds(t *testing.T) {
	ref := referenceCloud(4, 4, 10)

	a := NewAligner(config.EmptyRunParams())
	res, _, err := a.Align(context.Background(), ref, ref)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if !res.Converged {
		t.Error("identical clouds should converge immediately")
	}
	if res.MSE > 1e-12 {
		t.Errorf("MSE = %g, want ~0", res.MSE)
	}
}

func TestAlignIterationCapKeepsBestEffort(t *testing.T) {
	ref := referenceCloud(6, 6, 10)
	target := shifted(ref, 1.0, 0.5, 0)

	// One iteration cannot converge (convergence needs a stable delta).
	a := NewAligner(&config.RunParams{
		ICPMaxIterations: iptr(1),
		ICPTrimDistance:  fptr(5.0),
	})
	res, aligned, err := a.Align(context.Background(), ref, target)

	var nc *insar.NonConvergenceError
	if !errors.As(err, &nc) {
		t.Fatalf("err = %v, want NonConvergenceError", err)
	}
	if insar.IsFatal(err) {
		t.Error("non-convergence must not be fatal")
	}
	if len(aligned) != len(target) {
		t.Error("best-effort aligned cloud must still be returned")
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
}

func TestAlignEmptyInputs(t *testing.T) {
	a := NewAligner(config.EmptyRunParams())
	if _, _, err := a.Align(context.Background(), nil, referenceCloud(2, 2, 10)); !insar.IsFatal(err) {
		t.Errorf("empty reference: err = %v, want fatal validation error", err)
	}
	if _, _, err := a.Align(context.Background(), referenceCloud(2, 2, 10), nil); !insar.IsFatal(err) {
		t.Errorf("empty target: err = %v, want fatal validation error", err)
	}
}

func TestAlignCloudCountsNonConvergence(t *testing.T) {
	ref := referenceCloud(6, 6, 10)
	cloud := &insar.PointCloud{
		Epoch:  2,
		State:  insar.StateInverted,
		Points: shifted(ref, 1.0, 0.5, 0),
	}

	a := NewAligner(&config.RunParams{
		ICPMaxIterations: iptr(1),
		ICPTrimDistance:  fptr(5.0),
	})
	counters := insar.NewRunCounters()
	if _, err := a.AlignCloud(context.Background(), ref, cloud, counters); err != nil {
		t.Fatalf("AlignCloud should swallow non-convergence: %v", err)
	}
	if cloud.State != insar.StateAligned {
		t.Errorf("state = %s, want aligned", cloud.State)
	}
	if counters.Snapshot()[insar.CategoryNonConvergence] != 1 {
		t.Error("non-convergence must be counted")
	}
}

func TestEstimateRigidPureTranslation(t *testing.T) {
	srcX := []float64{0, 10, 0, 5}
	srcY := []float64{0, 0, 10, 5}
	srcZ := []float64{0, 1, 2, 7}
	dstX := make([]float64, 4)
	dstY := make([]float64, 4)
	dstZ := make([]float64, 4)
	for i := range srcX {
		dstX[i] = srcX[i] + 3
		dstY[i] = srcY[i] - 2
		dstZ[i] = srcZ[i] + 0.5
	}

	tr := estimateRigid(srcX, srcY, srcZ, dstX, dstY, dstZ)
	for i := range srcX {
		x, y, z := tr.Apply(srcX[i], srcY[i], srcZ[i])
		if math.Abs(x-dstX[i]) > 1e-9 || math.Abs(y-dstY[i]) > 1e-9 || math.Abs(z-dstZ[i]) > 1e-9 {
			t.Errorf("point %d mapped to (%g, %g, %g), want (%g, %g, %g)",
				i, x, y, z, dstX[i], dstY[i], dstZ[i])
		}
	}
}

func TestEstimateRigidRotation(t *testing.T) {
	// 90 degree rotation about Z.
	srcX := []float64{1, 0, -1, 0, 2}
	srcY := []float64{0, 1, 0, -1, 2}
	srcZ := []float64{0, 0.5, 1, 1.5, 2}
	dstX := make([]float64, len(srcX))
	dstY := make([]float64, len(srcX))
	dstZ := make([]float64, len(srcX))
	for i := range srcX {
		dstX[i] = -srcY[i]
		dstY[i] = srcX[i]
		dstZ[i] = srcZ[i]
	}

	tr := estimateRigid(srcX, srcY, srcZ, dstX, dstY, dstZ)
	for i := range srcX {
		x, y, z := tr.Apply(srcX[i], srcY[i], srcZ[i])
		if math.Abs(x-dstX[i]) > 1e-9 || math.Abs(y-dstY[i]) > 1e-9 || math.Abs(z-dstZ[i]) > 1e-9 {
			t.Errorf("point %d mapped to (%g, %g, %g), want (%g, %g, %g)",
				i, x, y, z, dstX[i], dstY[i], dstZ[i])
		}
	}
}
