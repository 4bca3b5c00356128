package spline

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/evcalib/spatialmath"
)

// EvaluateLie evaluates a cumulative rotation spline segment from its Order knots at fraction u. It
// returns the rotation and the body-frame angular velocity; dtInv is the inverse knot spacing.
func EvaluateLie(knots []spatialmath.SO3, u, dtInv float64) (spatialmath.SO3, r3.Vector) {
	order := len(knots)
	coeff := blendingWeights(order, true, u, dtInv, 0)
	dcoeff := blendingWeights(order, true, u, dtInv, 1)

	res := knots[0]
	var vel r3.Vector
	for i := 0; i < order-1; i++ {
		delta := knots[i].Inverse().Mul(knots[i+1]).Log()
		expK := spatialmath.ExpSO3(delta.Mul(coeff[i+1]))
		res = res.Mul(expK)
		vel = expK.Inverse().Rotate(vel).Add(delta.Mul(dcoeff[i+1]))
	}
	return res, vel
}

// SO3Spline is a uniform cumulative B-spline of rotations.
type SO3Spline struct {
	meta  Meta
	knots []spatialmath.SO3
}

// NewSO3Spline returns a rotation spline of the given order over knots spaced dt apart.
func NewSO3Spline(order int, startTime, dt float64, knots []spatialmath.SO3) (*SO3Spline, error) {
	meta := Meta{Order: order, StartTime: startTime, Dt: dt, NumKnots: len(knots)}
	if err := meta.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid rotation spline")
	}
	return &SO3Spline{meta: meta, knots: append([]spatialmath.SO3(nil), knots...)}, nil
}

// Meta returns the knot grid.
func (s *SO3Spline) Meta() Meta {
	return s.meta
}

// Knots returns the control rotations.
func (s *SO3Spline) Knots() []spatialmath.SO3 {
	return s.knots
}

// EvaluateWithVelocity returns the rotation and the body-frame angular velocity at time t.
func (s *SO3Spline) EvaluateWithVelocity(t float64) (spatialmath.SO3, r3.Vector, error) {
	idx, u, err := s.meta.ComputeIndex(t)
	if err != nil {
		return spatialmath.SO3{}, r3.Vector{}, err
	}
	rot, vel := EvaluateLie(s.knots[idx:idx+s.meta.Order], u, 1/s.meta.Dt)
	return rot, vel, nil
}

// Evaluate returns the rotation at time t.
func (s *SO3Spline) Evaluate(t float64) (spatialmath.SO3, error) {
	rot, _, err := s.EvaluateWithVelocity(t)
	return rot, err
}

// AngularVelocity returns the body-frame angular velocity at time t.
func (s *SO3Spline) AngularVelocity(t float64) (r3.Vector, error) {
	_, vel, err := s.EvaluateWithVelocity(t)
	return vel, err
}
