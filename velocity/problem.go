package velocity

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/evcalib/factor"
)

// observation is one point of the flow equation with the rotational part already removed:
//
//	a * v = rhs,  a = A / depth,  rhs = flow - B * w
type observation struct {
	a   *mat.Dense
	rhs r2.Point
}

func newObservation(a, b *mat.Dense, flow r2.Point, depth float64, angVel r3.Vector) observation {
	var scaled mat.Dense
	scaled.Scale(1/depth, a)
	return observation{a: &scaled, rhs: flow.Sub(factor.MulVec(b, angVel))}
}

// problem fits one linear velocity to the observations of a frame.
type problem struct {
	obs []observation
}

func (p *problem) NumPoints() int {
	return len(p.obs)
}

func (p *problem) SampleSize() int {
	return 3
}

// ComputeModel solves the stacked 2n x 3 system in the least-squares sense.
func (p *problem) ComputeModel(indices []int) (r3.Vector, bool) {
	lhs := mat.NewDense(2*len(indices), 3, nil)
	rhs := mat.NewVecDense(2*len(indices), nil)
	for i, idx := range indices {
		o := p.obs[idx]
		lhs.Slice(2*i, 2*i+2, 0, 3).(*mat.Dense).Copy(o.a)
		rhs.SetVec(2*i, o.rhs.X)
		rhs.SetVec(2*i+1, o.rhs.Y)
	}
	var qr mat.QR
	qr.Factorize(lhs)
	var v mat.VecDense
	if err := qr.SolveVecTo(&v, false, rhs); err != nil {
		return r3.Vector{}, false
	}
	return r3.Vector{X: v.AtVec(0), Y: v.AtVec(1), Z: v.AtVec(2)}, true
}

func (p *problem) Distance(model r3.Vector, idx int) float64 {
	o := p.obs[idx]
	return factor.MulVec(o.a, model).Sub(o.rhs).Norm()
}

func (p *problem) Refine(_ r3.Vector, inliers []int) (r3.Vector, bool) {
	return p.ComputeModel(inliers)
}
