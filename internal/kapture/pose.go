package kapture

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// PoseTransform is a rigid transform stored the kapture way: the
// rotation and translation mapping world coordinates into the device
// frame (x_device = R * x_world + T). COLMAP uses the same convention,
// so prior poses export without inversion.
type PoseTransform struct {
	R quat.Number
	T [3]float64
}

// IdentityPose returns the identity transform.
func IdentityPose() PoseTransform {
	return PoseTransform{R: quat.Number{Real: 1}}
}

// NewPose builds a transform from a wxyz quaternion and a translation.
// The quaternion is normalised; a zero quaternion is an error.
func NewPose(q [4]float64, t [3]float64) (PoseTransform, error) {
	r := quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]}
	n := quat.Abs(r)
	if n == 0 || math.IsNaN(n) {
		return PoseTransform{}, fmt.Errorf("invalid rotation quaternion %v", q)
	}
	return PoseTransform{
		R: quat.Scale(1/n, r),
		T: t,
	}, nil
}

// Quat returns the rotation as wxyz components.
func (p PoseTransform) Quat() [4]float64 {
	return [4]float64{p.R.Real, p.R.Imag, p.R.Jmag, p.R.Kmag}
}

// RotateVector applies the rotation part to a vector.
func (p PoseTransform) RotateVector(v [3]float64) [3]float64 {
	qv := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(p.R, qv), quat.Conj(p.R))
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

// Apply transforms a world point into the device frame.
func (p PoseTransform) Apply(v [3]float64) [3]float64 {
	r := p.RotateVector(v)
	return [3]float64{r[0] + p.T[0], r[1] + p.T[1], r[2] + p.T[2]}
}

// Compose chains two transforms: (p.Compose(q)).Apply(x) == p.Apply(q.Apply(x)).
func (p PoseTransform) Compose(q PoseTransform) PoseTransform {
	t := p.RotateVector(q.T)
	return PoseTransform{
		R: quat.Mul(p.R, q.R),
		T: [3]float64{t[0] + p.T[0], t[1] + p.T[1], t[2] + p.T[2]},
	}
}

// Inverse returns the transform mapping device coordinates back to world.
func (p PoseTransform) Inverse() PoseTransform {
	rInv := quat.Conj(p.R) // unit quaternion, conjugate == inverse
	qv := quat.Number{Imag: p.T[0], Jmag: p.T[1], Kmag: p.T[2]}
	r := quat.Mul(quat.Mul(rInv, qv), quat.Conj(rInv))
	return PoseTransform{
		R: rInv,
		T: [3]float64{-r.Imag, -r.Jmag, -r.Kmag},
	}
}
