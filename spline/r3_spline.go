package spline

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// EvaluateR3 evaluates the derivative-th time derivative of a vector spline segment from its Order
// knots at fraction u.
func EvaluateR3(knots []r3.Vector, u, dtInv float64, derivative int) r3.Vector {
	coeff := blendingWeights(len(knots), false, u, dtInv, derivative)
	var res r3.Vector
	for i, k := range knots {
		res = res.Add(k.Mul(coeff[i]))
	}
	return res
}

// R3Spline is a uniform B-spline of 3-vectors, used for positions and for velocities.
type R3Spline struct {
	meta  Meta
	knots []r3.Vector
}

// NewR3Spline returns a vector spline of the given order over knots spaced dt apart.
func NewR3Spline(order int, startTime, dt float64, knots []r3.Vector) (*R3Spline, error) {
	meta := Meta{Order: order, StartTime: startTime, Dt: dt, NumKnots: len(knots)}
	if err := meta.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid vector spline")
	}
	return &R3Spline{meta: meta, knots: append([]r3.Vector(nil), knots...)}, nil
}

// Meta returns the knot grid.
func (s *R3Spline) Meta() Meta {
	return s.meta
}

// Knots returns the control points.
func (s *R3Spline) Knots() []r3.Vector {
	return s.knots
}

// Evaluate returns the derivative-th time derivative of the spline at time t.
func (s *R3Spline) Evaluate(t float64, derivative int) (r3.Vector, error) {
	if derivative < 0 {
		return r3.Vector{}, errors.Errorf("negative derivative order %d", derivative)
	}
	idx, u, err := s.meta.ComputeIndex(t)
	if err != nil {
		return r3.Vector{}, err
	}
	return EvaluateR3(s.knots[idx:idx+s.meta.Order], u, 1/s.meta.Dt, derivative), nil
}
