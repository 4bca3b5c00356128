package normflow

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Plane is the local time surface t = -(A x + B y + C) fitted around a pixel.
type Plane struct {
	A, B, C float64
}

// TimeAt predicts the time at (x, y).
func (p Plane) TimeAt(x, y float64) float64 {
	return -(p.A*x + p.B*y + p.C)
}

// Flow converts the plane slope into a normal flow vector in pixels per second. ok is false when
// the plane has no spatial slope.
func (p Plane) Flow() (dx, dy float64, ok bool) {
	dtdx, dtdy := -p.A, -p.B
	den := dtdx*dtdx + dtdy*dtdy
	if den == 0 || math.IsNaN(den) {
		return 0, 0, false
	}
	return dtdx / den, dtdy / den, true
}

// centralize returns the samples shifted by their mean. X and Y hold pixel coordinates and Z the time.
func centralize(samples []r3.Vector) []r3.Vector {
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	ts := make([]float64, len(samples))
	for i, s := range samples {
		xs[i], ys[i], ts[i] = s.X, s.Y, s.Z
	}
	mean := r3.Vector{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(ts, nil)}
	out := make([]r3.Vector, len(samples))
	for i, s := range samples {
		out[i] = s.Sub(mean)
	}
	return out
}

// localPlaneProblem fits planes to mean-centred (x, y, t) samples of one window.
type localPlaneProblem struct {
	samples []r3.Vector
}

func (p *localPlaneProblem) NumPoints() int  { return len(p.samples) }
func (p *localPlaneProblem) SampleSize() int { return 3 }

// ComputeModel solves the normal equations of [x y 1] * [A B C]^T = -t.
func (p *localPlaneProblem) ComputeModel(indices []int) (Plane, bool) {
	var mtm mat.SymDense
	m := mat.NewDense(len(indices), 3, nil)
	b := mat.NewVecDense(len(indices), nil)
	for row, idx := range indices {
		s := p.samples[idx]
		m.SetRow(row, []float64{s.X, s.Y, 1})
		b.SetVec(row, -s.Z)
	}
	mtm.SymOuterK(1, m.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&mtm); !ok {
		return Plane{}, false
	}
	var mtb, abc mat.VecDense
	mtb.MulVec(m.T(), b)
	if err := chol.SolveVecTo(&abc, &mtb); err != nil {
		return Plane{}, false
	}
	return Plane{A: abc.AtVec(0), B: abc.AtVec(1), C: abc.AtVec(2)}, true
}

func (p *localPlaneProblem) Distance(model Plane, idx int) float64 {
	s := p.samples[idx]
	return math.Abs(s.Z - model.TimeAt(s.X, s.Y))
}

func (p *localPlaneProblem) Refine(_ Plane, inliers []int) (Plane, bool) {
	return p.ComputeModel(inliers)
}
