package factor

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/evcalib/spatialmath"
	"go.viam.com/evcalib/spline"
)

// FlowMotionFactor compares the pixel velocity of one correspondence with the velocity predicted
// from the body trajectory, the depth camera extrinsics and intrinsics, and the feature depth.
//
// Evaluation is pure; one factor may be evaluated from many goroutines.
type FlowMotionFactor[D DepthModel] struct {
	rotMeta   spline.Meta
	scaleMeta spline.Meta
	scale     LinearScale
	corr      *OpticalFlowCorr
	weight    float64
	layout    Layout
}

// NewFlowMotionFactor returns a residual over the knots of rotMeta and scaleMeta, which must cover
// every body time the correspondence can be moved to by the time offset and the readout. The
// residual is scaled by weight times the correspondence's own weight.
func NewFlowMotionFactor[D DepthModel](
	rotMeta, scaleMeta spline.Meta,
	scale LinearScale,
	corr *OpticalFlowCorr,
	weight float64,
) (*FlowMotionFactor[D], error) {
	if corr == nil {
		return nil, errors.New("flow factor needs a correspondence")
	}
	if err := rotMeta.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid rotation spline window")
	}
	if err := scaleMeta.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid scale spline window")
	}
	var model D
	if model.needsInvDepth() && !corr.HasValidInvDepth() {
		return nil, errors.Wrapf(ErrInvalidDepth, "depth %f", corr.Depth)
	}
	return &FlowMotionFactor[D]{
		rotMeta:   rotMeta,
		scaleMeta: scaleMeta,
		scale:     scale,
		corr:      corr,
		weight:    weight * corr.Weight,
		layout:    Layout{RotationKnots: rotMeta.NumKnots, ScaleKnots: scaleMeta.NumKnots},
	}, nil
}

// Layout returns the parameter blocks the factor expects.
func (f *FlowMotionFactor[D]) Layout() Layout {
	return f.layout
}

// Corr returns the correspondence the factor observes.
func (f *FlowMotionFactor[D]) Corr() *OpticalFlowCorr {
	return f.corr
}

// Evaluate returns the weighted difference between predicted and observed pixel velocity. It fails
// when the blocks do not match the layout or the body time leaves the spline windows.
func (f *FlowMotionFactor[D]) Evaluate(blocks [][]float64) ([2]float64, error) {
	if err := f.layout.Check(blocks); err != nil {
		return [2]float64{}, err
	}
	return f.evaluate(blocks)
}

func (f *FlowMotionFactor[D]) evaluate(blocks [][]float64) ([2]float64, error) {
	pred, err := f.predict(blocks)
	if err != nil {
		return [2]float64{}, err
	}
	obs := f.corr.MidPointVel(blocks[f.layout.calib(readoutOffset)][0])
	res := pred.Sub(obs).Mul(f.weight)
	return [2]float64{res.X, res.Y}, nil
}

func (f *FlowMotionFactor[D]) predict(blocks [][]float64) (r2.Point, error) {
	l := f.layout
	so3DnToBr, err := spatialmath.SO3FromParams(blocks[l.calib(so3DnToBrOffset)])
	if err != nil {
		return r2.Point{}, err
	}
	so3BrToDn := so3DnToBr.Inverse()
	pos := blocks[l.calib(posDnInBrOffset)]
	posDnInBr := r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}
	timeOffset := blocks[l.calib(timeOffsetOffset)][0]
	readout := blocks[l.calib(readoutOffset)][0]
	fx := blocks[l.calib(fxOffset)][0]
	fy := blocks[l.calib(fyOffset)][0]
	cx := blocks[l.calib(cxOffset)][0]
	cy := blocks[l.calib(cyOffset)][0]
	alpha := blocks[l.calib(alphaOffset)][0]
	beta := blocks[l.calib(betaOffset)][0]
	depthInfo := blocks[l.calib(depthInfoOffset)][0]

	timeByBr := f.corr.MidPointTime(readout) + timeOffset

	rotIdx, rotU, err := f.rotMeta.ComputeIndex(timeByBr)
	if err != nil {
		return r2.Point{}, errors.Wrap(err, "rotation spline")
	}
	scaleIdx, scaleU, err := f.scaleMeta.ComputeIndex(timeByBr)
	if err != nil {
		return r2.Point{}, errors.Wrap(err, "scale spline")
	}

	rotKnots := make([]spatialmath.SO3, f.rotMeta.Order)
	for i := range rotKnots {
		if rotKnots[i], err = spatialmath.SO3FromParams(blocks[rotIdx+i]); err != nil {
			return r2.Point{}, errors.Wrapf(err, "rotation knot %d", rotIdx+i)
		}
	}
	scaleKnots := make([]r3.Vector, f.scaleMeta.Order)
	for i := range scaleKnots {
		k := blocks[l.RotationKnots+scaleIdx+i]
		scaleKnots[i] = r3.Vector{X: k[0], Y: k[1], Z: k[2]}
	}

	so3BrToBr0, angVelInBr := spline.EvaluateLie(rotKnots, rotU, 1/f.rotMeta.Dt)
	angVelInBr0 := so3BrToBr0.Rotate(angVelInBr)
	angVelDn := so3BrToDn.Rotate(angVelInBr)

	linVelBrInBr0 := spline.EvaluateR3(scaleKnots, scaleU, 1/f.scaleMeta.Dt, f.scale.velocityDerivative())
	// lever arm between the body origin and the depth camera
	linVelDnInBr0 := linVelBrInBr0.Add(angVelInBr0.Cross(so3BrToBr0.Rotate(posDnInBr)))
	linVelDn := so3BrToDn.Rotate(so3BrToBr0.Inverse().Rotate(linVelDnInBr0))

	subA, subB := FlowMatrices(fx, fy, cx, cy, f.corr.MidPoint())
	var model D
	return MulVec(subA, linVelDn).Mul(model.scale(alpha, beta, depthInfo)).Add(MulVec(subB, angVelDn)), nil
}

// Prediction returns the pixel velocity the parameters predict at the anchor.
func (f *FlowMotionFactor[D]) Prediction(blocks [][]float64) (r2.Point, error) {
	if err := f.layout.Check(blocks); err != nil {
		return r2.Point{}, err
	}
	return f.predict(blocks)
}

// Jacobians returns d(residual)/d(block), a 2 x len(block) matrix per block, by central finite
// differences. Quaternion blocks are differentiated in their four ambient coordinates.
func (f *FlowMotionFactor[D]) Jacobians(blocks [][]float64) ([]*mat.Dense, error) {
	if _, err := f.Evaluate(blocks); err != nil {
		return nil, err
	}
	work := make([][]float64, len(blocks))
	copy(work, blocks)

	jacs := make([]*mat.Dense, len(blocks))
	for i, block := range blocks {
		var evalErr error
		jac := mat.NewDense(2, len(block), nil)
		fd.Jacobian(jac, func(y, x []float64) {
			work[i] = x
			res, err := f.evaluate(work)
			if err != nil && evalErr == nil {
				evalErr = errors.Wrapf(err, "perturbing parameter block %d", i)
			}
			y[0], y[1] = res[0], res[1]
		}, block, &fd.JacobianSettings{Formula: fd.Central})
		work[i] = block
		if evalErr != nil {
			return nil, evalErr
		}
		jacs[i] = jac
	}
	return jacs, nil
}
