package spline

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

type blendingKey struct {
	order      int
	cumulative bool
}

var blendingCache sync.Map

// BlendingMatrix returns the order x order uniform B-spline blending matrix. Row j holds the
// polynomial coefficients (ascending powers of u) of the weight of control point j. When cumulative
// is set, row j is the sum of rows j..order-1, as used by Lie-group splines.
func BlendingMatrix(order int, cumulative bool) *mat.Dense {
	key := blendingKey{order, cumulative}
	if m, ok := blendingCache.Load(key); ok {
		return m.(*mat.Dense)
	}

	n := order
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for s := j; s < n; s++ {
				sum += math.Pow(-1, float64(s-j)) * binomial(n, s-j) * math.Pow(float64(n-s-1), float64(n-1-i))
			}
			m.Set(j, i, binomial(n-1, n-1-i)*sum)
		}
	}
	if cumulative {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				for c := 0; c < n; c++ {
					m.Set(i, c, m.At(i, c)+m.At(j, c))
				}
			}
		}
	}
	factorial := 1.0
	for i := 2; i < n; i++ {
		factorial *= float64(i)
	}
	m.Scale(1/factorial, m)

	actual, _ := blendingCache.LoadOrStore(key, m)
	return actual.(*mat.Dense)
}

// binomial returns n choose k as a float.
func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	res := 1.0
	for i := 1; i <= k; i++ {
		res = res * float64(n-k+i) / float64(i)
	}
	return res
}

// powerBasis returns the derivative-th derivative of [1, u, u^2, ..., u^(order-1)] with respect to u.
func powerBasis(order int, u float64, derivative int) *mat.VecDense {
	p := mat.NewVecDense(order, nil)
	for i := derivative; i < order; i++ {
		coeff := 1.0
		for k := 0; k < derivative; k++ {
			coeff *= float64(i - k)
		}
		p.SetVec(i, coeff*math.Pow(u, float64(i-derivative)))
	}
	return p
}

// blendingWeights returns the per-control-point weights (or their time derivatives) at fraction u.
func blendingWeights(order int, cumulative bool, u, dtInv float64, derivative int) []float64 {
	var w mat.VecDense
	w.MulVec(BlendingMatrix(order, cumulative), powerBasis(order, u, derivative))
	if derivative > 0 {
		w.ScaleVec(math.Pow(dtInv, float64(derivative)), &w)
	}
	return w.RawVector().Data
}
