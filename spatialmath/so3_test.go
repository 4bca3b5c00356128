package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestExpLogRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		TestName string
		Omega    r3.Vector
	}{
		{"zero", r3.Vector{}},
		{"tiny", r3.Vector{X: 1e-12, Y: -2e-12, Z: 0}},
		{"roll", r3.Vector{X: 0.3}},
		{"mixed", r3.Vector{X: 0.2, Y: -1.1, Z: 0.7}},
		{"near pi", r3.Vector{Z: math.Pi - 1e-3}},
	} {
		t.Run(tc.TestName, func(t *testing.T) {
			back := ExpSO3(tc.Omega).Log()
			test.That(t, back.X, test.ShouldAlmostEqual, tc.Omega.X, 1e-9)
			test.That(t, back.Y, test.ShouldAlmostEqual, tc.Omega.Y, 1e-9)
			test.That(t, back.Z, test.ShouldAlmostEqual, tc.Omega.Z, 1e-9)
		})
	}
}

func TestRotate(t *testing.T) {
	r := ExpSO3(r3.Vector{Z: math.Pi / 2})
	v := r.Rotate(r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, v.Z, test.ShouldAlmostEqual, 0, 1e-12)

	back := r.Inverse().Rotate(v)
	test.That(t, back.X, test.ShouldAlmostEqual, 1, 1e-12)
}

func TestComposition(t *testing.T) {
	a := ExpSO3(r3.Vector{X: 0.5})
	b := ExpSO3(r3.Vector{Y: -0.2, Z: 0.9})
	p := r3.Vector{X: -1, Y: 0.5, Z: 2}

	lhs := a.Mul(b).Rotate(p)
	rhs := a.Rotate(b.Rotate(p))
	test.That(t, lhs.Sub(rhs).Norm(), test.ShouldBeLessThan, 1e-12)
	test.That(t, rotationsClose(a.Mul(a.Inverse()), IdentitySO3(), 1e-12), test.ShouldBeTrue)
}

func TestParams(t *testing.T) {
	r := ExpSO3(r3.Vector{X: 0.1, Y: 0.2, Z: 0.3})
	back, err := SO3FromParams(r.Params())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rotationsClose(r, back, 1e-12), test.ShouldBeTrue)

	_, err = SO3FromParams([]float64{0, 0, 0})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSO3(quat.Number{})
	test.That(t, err, test.ShouldNotBeNil)

	// non unit input is normalized
	scaled, err := SO3FromParams([]float64{0, 0, 0, 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rotationsClose(scaled, IdentitySO3(), 1e-12), test.ShouldBeTrue)
}

func TestComposeRates(t *testing.T) {
	rate := r3.Vector{X: 0.2, Y: 0.1, Z: -0.4}
	start := ExpSO3(r3.Vector{Z: 1})
	end := start.Mul(ExpSO3(rate.Mul(0.5)))
	av := start.Inverse().Mul(end).Log().Mul(1 / 0.5)
	test.That(t, av.Sub(rate).Norm(), test.ShouldBeLessThan, 1e-12)

	// rotating a cross product is the cross product of the rotated vectors
	v := r3.Vector{X: 1, Y: -2, Z: 0.5}
	w := r3.Vector{X: 0.3, Y: 0.1, Z: 2}
	lhs := start.Rotate(v.Cross(w))
	rhs := start.Rotate(v).Cross(start.Rotate(w))
	test.That(t, lhs.Sub(rhs).Norm(), test.ShouldBeLessThan, 1e-12)
}

func rotationsClose(a, b SO3, tol float64) bool {
	return a.Inverse().Mul(b).Log().Norm() < tol
}
