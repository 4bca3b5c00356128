// Package spatialmath defines the rotation group used by the spline and factor packages.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// SO3ParamSize is the number of scalars in a serialized rotation: qx, qy, qz, qw.
const SO3ParamSize = 4

const smallAngle = 1e-10

// SO3 is a 3D rotation stored as a unit quaternion.
type SO3 struct {
	q quat.Number
}

// NewSO3 returns the rotation described by q. q is normalized; a zero quaternion is an error.
func NewSO3(q quat.Number) (SO3, error) {
	norm := quat.Abs(q)
	if norm == 0 || math.IsNaN(norm) {
		return SO3{}, errors.Errorf("cannot build a rotation from quaternion %v", q)
	}
	return SO3{quat.Scale(1/norm, q)}, nil
}

// IdentitySO3 returns the rotation that does nothing.
func IdentitySO3() SO3 {
	return SO3{quat.Number{Real: 1}}
}

// ExpSO3 maps a rotation vector (axis times angle, radians) to a rotation.
func ExpSO3(omega r3.Vector) SO3 {
	if omega.Norm() < smallAngle {
		q := quat.Number{Real: 1, Imag: omega.X / 2, Jmag: omega.Y / 2, Kmag: omega.Z / 2}
		return SO3{quat.Scale(1/quat.Abs(q), q)}
	}
	return SO3{R3ToR4(omega).ToQuat()}
}

// SO3FromParams reads a rotation from a parameter block laid out as qx, qy, qz, qw.
func SO3FromParams(p []float64) (SO3, error) {
	if len(p) < SO3ParamSize {
		return SO3{}, errors.Errorf("rotation block needs %d values, got %d", SO3ParamSize, len(p))
	}
	return NewSO3(quat.Number{Real: p[3], Imag: p[0], Jmag: p[1], Kmag: p[2]})
}

// Params writes the rotation as qx, qy, qz, qw.
func (r SO3) Params() []float64 {
	return []float64{r.q.Imag, r.q.Jmag, r.q.Kmag, r.q.Real}
}

// Mul returns r*o, i.e. o applied first.
func (r SO3) Mul(o SO3) SO3 {
	return SO3{quat.Mul(r.q, o.q)}
}

// Inverse returns the opposite rotation.
func (r SO3) Inverse() SO3 {
	return SO3{quat.Conj(r.q)}
}

// Rotate applies the rotation to v.
func (r SO3) Rotate(v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(r.q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(r.q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Log maps the rotation to its rotation vector, with angle in [0, pi].
func (r SO3) Log() r3.Vector {
	q := r.q
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	imag := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	n := imag.Norm()
	if n < smallAngle {
		return imag.Mul(2 / q.Real)
	}
	theta := 2 * math.Atan2(n, q.Real)
	return imag.Mul(theta / n)
}

func (r SO3) String() string {
	return fmt.Sprintf("SO3{w:%.6f x:%.6f y:%.6f z:%.6f}", r.q.Real, r.q.Imag, r.q.Jmag, r.q.Kmag)
}
