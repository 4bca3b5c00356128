package factor

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/evcalib/spatialmath"
	"go.viam.com/evcalib/spline"
)

// R3ParamSize is the number of scalars in a position or scale block.
const R3ParamSize = 3

// Offsets of the calibration blocks that follow the spline knots.
const (
	so3DnToBrOffset = iota
	posDnInBrOffset
	timeOffsetOffset
	readoutOffset
	fxOffset
	fyOffset
	cxOffset
	cyOffset
	alphaOffset
	betaOffset
	depthInfoOffset
	numCalibBlocks
)

// Calibration is the state a flow residual is evaluated against, besides the trajectory.
type Calibration struct {
	SO3DnToBr spatialmath.SO3
	PosDnInBr r3.Vector
	// TimeOffset maps depth-camera time to body time.
	TimeOffset float64
	Readout    float64

	Fx, Fy, Cx, Cy float64

	// Alpha and Beta are the depth-affine coefficients; DepthInfo is the depth, or inverse depth,
	// they apply to.
	Alpha, Beta, DepthInfo float64
}

// Layout is the parameter block order shared by a residual and the solver feeding it:
//
//	rotation knots (qx qy qz qw) | scale knots (x y z) | SO3_DnToBr | POS_DnInBr | TO | READOUT |
//	FX | FY | CX | CY | ALPHA | BETA | DEPTH_INFO
//
// Blocks are addressed by index only, so a solver that builds them in another order gets wrong
// residuals rather than an error.
type Layout struct {
	RotationKnots int
	ScaleKnots    int
}

// NumBlocks is the total number of parameter blocks.
func (l Layout) NumBlocks() int {
	return l.RotationKnots + l.ScaleKnots + numCalibBlocks
}

func (l Layout) calib(offset int) int {
	return l.RotationKnots + l.ScaleKnots + offset
}

// BlockSizes returns the number of scalars in each block, in order.
func (l Layout) BlockSizes() []int {
	sizes := make([]int, 0, l.NumBlocks())
	for range l.RotationKnots {
		sizes = append(sizes, spatialmath.SO3ParamSize)
	}
	for range l.ScaleKnots {
		sizes = append(sizes, R3ParamSize)
	}
	sizes = append(sizes, spatialmath.SO3ParamSize, R3ParamSize)
	for range numCalibBlocks - 2 {
		sizes = append(sizes, 1)
	}
	return sizes
}

// Check verifies that blocks matches the layout.
func (l Layout) Check(blocks [][]float64) error {
	sizes := l.BlockSizes()
	if len(blocks) != len(sizes) {
		return errors.Errorf("expected %d parameter blocks, got %d", len(sizes), len(blocks))
	}
	for i, size := range sizes {
		if len(blocks[i]) != size {
			return errors.Errorf("parameter block %d has %d values, expected %d", i, len(blocks[i]), size)
		}
	}
	return nil
}

// Blocks lays out knots and calibration as parameter blocks.
func (l Layout) Blocks(rotKnots []spatialmath.SO3, scaleKnots []r3.Vector, calib Calibration) ([][]float64, error) {
	if len(rotKnots) != l.RotationKnots || len(scaleKnots) != l.ScaleKnots {
		return nil, errors.Errorf("layout wants %d rotation and %d scale knots, got %d and %d",
			l.RotationKnots, l.ScaleKnots, len(rotKnots), len(scaleKnots))
	}
	blocks := make([][]float64, 0, l.NumBlocks())
	for _, k := range rotKnots {
		blocks = append(blocks, k.Params())
	}
	for _, k := range scaleKnots {
		blocks = append(blocks, []float64{k.X, k.Y, k.Z})
	}
	blocks = append(blocks,
		calib.SO3DnToBr.Params(),
		[]float64{calib.PosDnInBr.X, calib.PosDnInBr.Y, calib.PosDnInBr.Z},
		[]float64{calib.TimeOffset},
		[]float64{calib.Readout},
		[]float64{calib.Fx},
		[]float64{calib.Fy},
		[]float64{calib.Cx},
		[]float64{calib.Cy},
		[]float64{calib.Alpha},
		[]float64{calib.Beta},
		[]float64{calib.DepthInfo},
	)
	return blocks, nil
}

// SplineWindow returns the part of a spline grid a correspondence can reach when its body time
// may move by up to padding either way, and the index of the first knot of that part. Knots
// [first, first+window.NumKnots) are the ones to pass as blocks.
func SplineWindow(full spline.Meta, corr *OpticalFlowCorr, readout, timeOffset, padding float64) (spline.Meta, int, error) {
	t := corr.MidPointTime(readout) + timeOffset
	tMin := max(full.MinTime(), t-padding)
	tMax := min(t+padding, full.MaxTime()-1e-9*full.Dt)
	window, first, err := full.Window(tMin, tMax)
	if err != nil {
		return spline.Meta{}, 0, errors.Wrap(err, "correspondence is outside the trajectory")
	}
	return window, first, nil
}
