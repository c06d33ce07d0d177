package pose

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// Transform is a 4x4 homogeneous transform in row-major order:
// m00,m01,m02,m03, m10,...,m33.
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Apply applies T to point (x,y,z).
func (t Transform) Apply(x, y, z float64) (wx, wy, wz float64) {
	wx = t[0]*x + t[1]*y + t[2]*z + t[3]
	wy = t[4]*x + t[5]*y + t[6]*z + t[7]
	wz = t[8]*x + t[9]*y + t[10]*z + t[11]
	return
}

// Translation returns the translation column.
func (t Transform) Translation() (x, y, z float64) {
	return t[3], t[7], t[11]
}

// Mul returns t·o: o is applied first, then t.
func (t Transform) Mul(o Transform) Transform {
	a := mat.NewDense(4, 4, t[:])
	b := mat.NewDense(4, 4, o[:])
	var c mat.Dense
	c.Mul(a, b)

	var out Transform
	copy(out[:], c.RawMatrix().Data)
	return out
}

// Inverse returns the rigid inverse [Rᵀ | −Rᵀt]. It assumes t is a proper
// rigid transform; see IsValidTransform.
func (t Transform) Inverse() Transform {
	var out Transform
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*4+c] = t[c*4+r]
		}
	}
	tx, ty, tz := t.Translation()
	out[3] = -(out[0]*tx + out[1]*ty + out[2]*tz)
	out[7] = -(out[4]*tx + out[5]*ty + out[6]*tz)
	out[11] = -(out[8]*tx + out[9]*ty + out[10]*tz)
	out[15] = 1
	return out
}

// EqualWithin reports whether every element of t and o differs by at most tol.
func (t Transform) EqualWithin(o Transform, tol float64) bool {
	return mat.EqualApprox(mat.NewDense(4, 4, t[:]), mat.NewDense(4, 4, o[:]), tol)
}

// IsValidTransform checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
// 1. Orthonormal rotation submatrix (det ≈ 1)
// 2. Last row is [0 0 0 1]
func IsValidTransform(t Transform) bool {
	for _, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	r00, r01, r02 := t[0], t[1], t[2]
	r10, r11, r12 := t[4], t[5], t[6]
	r20, r21, r22 := t[8], t[9], t[10]

	// det ≈ 1 (proper rotation, not reflection)
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if t[12] != 0 || t[13] != 0 || t[14] != 0 || math.Abs(t[15]-1.0) > 0.001 {
		return false
	}

	return true
}
