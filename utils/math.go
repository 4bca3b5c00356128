// Package utils contains small numeric and concurrency helpers shared across packages.
package utils

import (
	"math"
)

// Square returns x*x.
func Square(x float64) float64 {
	return x * x
}

// Float64AlmostEqual compares two float64s and returns if the difference between them is less than epsilon.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// LagrangeMidDerivative returns the first-order derivative, evaluated at the middle sample, of the
// quadratic Lagrange polynomial through (t[0], v[0]), (t[1], v[1]), (t[2], v[2]).
// The sample times must be pairwise distinct.
func LagrangeMidDerivative(t, v [3]float64) float64 {
	t0, t1, t2 := t[0], t[1], t[2]
	return v[0]*(t1-t2)/((t0-t1)*(t0-t2)) +
		v[1]*(2*t1-t0-t2)/((t1-t0)*(t1-t2)) +
		v[2]*(t1-t0)/((t2-t0)*(t2-t1))
}
