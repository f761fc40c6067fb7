package insar

// Transform is a rigid transform as a 4x4 homogeneous matrix.
// T is row-major: [m00,m01,m02,m03, m10,m11,m12,m13, m20,m21,m22,m23, m30,m31,m32,m33].
type Transform struct {
	T [16]float64
}

// IdentityTransform returns the identity transform.
func IdentityTransform() Transform {
	return Transform{T: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// Apply transforms a point.
func (t Transform) Apply(x, y, z float64) (float64, float64, float64) {
	m := &t.T
	return m[0]*x + m[1]*y + m[2]*z + m[3],
		m[4]*x + m[5]*y + m[6]*z + m[7],
		m[8]*x + m[9]*y + m[10]*z + m[11]
}

// Compose returns the transform equivalent to applying other first, then t.
func (t Transform) Compose(other Transform) Transform {
	var out Transform
	a, b := &t.T, &other.T
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += a[i*4+k] * b[k*4+j]
			}
			out.T[i*4+j] = s
		}
	}
	return out
}

// Translation returns the translation components of the transform.
func (t Transform) Translation() (dx, dy, dz float64) {
	return t.T[3], t.T[7], t.T[11]
}
