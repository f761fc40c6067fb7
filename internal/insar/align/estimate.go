package align

import (
	"gonum.org/v1/gonum/mat"

	"github.com/groundscan-data/deform.report/internal/insar"
)

// estimateRigid computes the rigid transform (rotation + translation)
// minimising the squared distance from the source points to their
// destination correspondences, by SVD of the cross-covariance (Kabsch).
// Inputs are parallel coordinate slices of equal length >= 3.
func estimateRigid(srcX, srcY, srcZ, dstX, dstY, dstZ []float64) insar.Transform {
	n := float64(len(srcX))

	var scx, scy, scz, dcx, dcy, dcz float64
	for i := range srcX {
		scx += srcX[i]
		scy += srcY[i]
		scz += srcZ[i]
		dcx += dstX[i]
		dcy += dstY[i]
		dcz += dstZ[i]
	}
	scx, scy, scz = scx/n, scy/n, scz/n
	dcx, dcy, dcz = dcx/n, dcy/n, dcz/n

	// Cross-covariance of the centred sets.
	h := mat.NewDense(3, 3, nil)
	for i := range srcX {
		sx, sy, sz := srcX[i]-scx, srcY[i]-scy, srcZ[i]-scz
		dx, dy, dz := dstX[i]-dcx, dstY[i]-dcy, dstZ[i]-dcz
		h.Set(0, 0, h.At(0, 0)+sx*dx)
		h.Set(0, 1, h.At(0, 1)+sx*dy)
		h.Set(0, 2, h.At(0, 2)+sx*dz)
		h.Set(1, 0, h.At(1, 0)+sy*dx)
		h.Set(1, 1, h.At(1, 1)+sy*dy)
		h.Set(1, 2, h.At(1, 2)+sy*dz)
		h.Set(2, 0, h.At(2, 0)+sz*dx)
		h.Set(2, 1, h.At(2, 1)+sz*dy)
		h.Set(2, 2, h.At(2, 2)+sz*dz)
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		// Degenerate correspondence geometry: fall back to pure
		// translation between centroids.
		t := insar.IdentityTransform()
		t.T[3] = dcx - scx
		t.T[7] = dcy - scy
		t.T[11] = dcz - scz
		return t
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * U^T, with a reflection fix when det < 0.
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		// Flip the sign of V's last column and recompute.
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	// t = dstCentroid - R * srcCentroid.
	tx := dcx - (r.At(0, 0)*scx + r.At(0, 1)*scy + r.At(0, 2)*scz)
	ty := dcy - (r.At(1, 0)*scx + r.At(1, 1)*scy + r.At(1, 2)*scz)
	tz := dcz - (r.At(2, 0)*scx + r.At(2, 1)*scy + r.At(2, 2)*scz)

	return insar.Transform{T: [16]float64{
		r.At(0, 0), r.At(0, 1), r.At(0, 2), tx,
		r.At(1, 0), r.At(1, 1), r.At(1, 2), ty,
		r.At(2, 0), r.At(2, 1), r.At(2, 2), tz,
		0, 0, 0, 1,
	}}
}
