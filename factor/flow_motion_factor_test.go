package factor

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/evcalib/spatialmath"
	"go.viam.com/evcalib/spline"
)

const (
	testWidth   = 320
	testHeight  = 240
	testRsExp   = 0.5
	anchorTime  = 0.2
	traceStep   = 0.01
	numTestKnot = 8
)

type scene struct {
	rot    *spline.SO3Spline
	pos    *spline.R3Spline
	calib  Calibration
	frame  *CameraFrame
	target r3.Vector
}

func newScene(t *testing.T) *scene {
	t.Helper()
	rotKnots := make([]spatialmath.SO3, numTestKnot)
	posKnots := make([]r3.Vector, numTestKnot)
	for i := range rotKnots {
		fi := float64(i)
		rotKnots[i] = spatialmath.ExpSO3(r3.Vector{X: 0.05 * fi, Y: -0.03*fi + 0.01*fi*fi, Z: 0.02 * fi})
		posKnots[i] = r3.Vector{X: 0.1 * fi, Y: 0.02 * fi * fi, Z: -0.05 * fi}
	}
	rot, err := spline.NewSO3Spline(4, 0, 0.1, rotKnots)
	test.That(t, err, test.ShouldBeNil)
	pos, err := spline.NewR3Spline(4, 0, 0.1, posKnots)
	test.That(t, err, test.ShouldBeNil)

	s := &scene{
		rot: rot,
		pos: pos,
		calib: Calibration{
			SO3DnToBr:  spatialmath.ExpSO3(r3.Vector{X: 0.1, Y: 0.2, Z: -0.1}),
			PosDnInBr:  r3.Vector{X: 0.05, Y: -0.02, Z: 0.1},
			TimeOffset: 0.01,
			Readout:    0.02,
			Fx:         300,
			Fy:         310,
			Cx:         160,
			Cy:         120,
			Alpha:      1,
		},
		frame: NewCameraFrame(1, anchorTime, image.NewGray(image.Rect(0, 0, testWidth, testHeight))),
	}
	rs, ps := s.sensorPose(t, anchorTime+s.calib.TimeOffset)
	s.target = ps.Add(rs.Rotate(r3.Vector{X: 0.3, Y: -0.2, Z: 2}))
	return s
}

// sensorPose is the depth camera pose in the reference frame at body time tb.
func (s *scene) sensorPose(t *testing.T, tb float64) (spatialmath.SO3, r3.Vector) {
	t.Helper()
	rb, err := s.rot.Evaluate(tb)
	test.That(t, err, test.ShouldBeNil)
	pb, err := s.pos.Evaluate(tb, 0)
	test.That(t, err, test.ShouldBeNil)
	return rb.Mul(s.calib.SO3DnToBr), pb.Add(rb.Rotate(s.calib.PosDnInBr))
}

// project images the static target at camera time tc and returns its pixel and depth.
func (s *scene) project(t *testing.T, tc float64) (r2.Point, float64) {
	t.Helper()
	rs, ps := s.sensorPose(t, tc+s.calib.TimeOffset)
	p := rs.Inverse().Rotate(s.target.Sub(ps))
	return r2.Point{X: s.calib.Fx*p.X/p.Z + s.calib.Cx, Y: s.calib.Fy*p.Y/p.Z + s.calib.Cy}, p.Z
}

// simulateCorr tracks the target around anchorTime. The trace is linear in rolling-shutter
// corrected time with the slope of the true image motion, so its three-point derivative is exact.
func (s *scene) simulateCorr(t *testing.T) (*OpticalFlowCorr, r2.Point) {
	t.Helper()
	readout := s.calib.Readout
	mid, depth := s.project(t, anchorTime)
	tc := anchorTime
	for range 30 {
		tc = anchorTime + (mid.Y/testHeight-testRsExp)*readout
		mid, depth = s.project(t, tc)
	}
	const h = 1e-5
	ahead, _ := s.project(t, tc+h)
	behind, _ := s.project(t, tc-h)
	vel := ahead.Sub(behind).Mul(1 / (2 * h))

	var times, xs, ys [3]float64
	for i := range times {
		times[i] = anchorTime + float64(i-1)*traceStep
		ys[i] = (mid.Y + vel.Y*(times[i]-testRsExp*readout-tc)) / (1 - vel.Y*readout/testHeight)
		corrected := times[i] + (ys[i]/testHeight-testRsExp)*readout
		xs[i] = mid.X + vel.X*(corrected-tc)
	}
	corr, err := NewOpticalFlowCorr(times, xs, ys, depth, s.frame, testRsExp)
	test.That(t, err, test.ShouldBeNil)
	return corr, vel
}

func (s *scene) blocks(t *testing.T, calib Calibration) [][]float64 {
	t.Helper()
	layout := Layout{RotationKnots: numTestKnot, ScaleKnots: numTestKnot}
	blocks, err := layout.Blocks(s.rot.Knots(), s.pos.Knots(), calib)
	test.That(t, err, test.ShouldBeNil)
	return blocks
}

func TestOpticalFlowCorr(t *testing.T) {
	frame := NewCameraFrame(0, 0, image.NewGray(image.Rect(0, 0, 10, 100)))
	corr, err := NewOpticalFlowCorr([3]float64{0, 1, 3}, [3]float64{0, 1, 9}, [3]float64{10, 20, 40}, 0.5, frame, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corr.Weight, test.ShouldEqual, 1.0)
	test.That(t, corr.InvDepth, test.ShouldEqual, 2.0)
	test.That(t, corr.HasValidInvDepth(), test.ShouldBeTrue)
	test.That(t, corr.MidReadoutFactor(), test.ShouldAlmostEqual, -0.3)
	test.That(t, corr.RowFactors[0], test.ShouldAlmostEqual, -0.4)
	test.That(t, corr.MidPoint(), test.ShouldResemble, r2.Point{X: 1, Y: 20})
	test.That(t, corr.MidPointTime(0.1), test.ShouldAlmostEqual, 0.97)

	// x follows t^2 so its derivative at t=1 is 2; y is linear
	vel := corr.MidPointVel(0)
	test.That(t, vel.X, test.ShouldAlmostEqual, 2)
	test.That(t, vel.Y, test.ShouldAlmostEqual, 10)

	noDepth, err := NewOpticalFlowCorr([3]float64{0, 1, 2}, [3]float64{}, [3]float64{}, 1e-3, frame, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, noDepth.InvDepth, test.ShouldEqual, InvalidInvDepth)
	test.That(t, noDepth.HasValidInvDepth(), test.ShouldBeFalse)

	_, err = NewOpticalFlowCorr([3]float64{0, 1, 2}, [3]float64{}, [3]float64{}, 1, &CameraFrame{}, 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOpticalFlowCorr([3]float64{0, 1, 1}, [3]float64{}, [3]float64{}, 1, frame, 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOpticalFlowCorr([3]float64{0, 1, 1 + 1e-12}, [3]float64{}, [3]float64{}, 1, frame, 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, corr.DepthObservable, test.ShouldBeTrue)
	test.That(t, noDepth.DepthObservable, test.ShouldBeFalse)
}

func TestCorrDepthFromFrame(t *testing.T) {
	depth := image.NewGray16(image.Rect(0, 0, 10, 100))
	depth.SetGray16(4, 20, color.Gray16{Y: 1500})
	frame := &CameraFrame{ID: 2, Timestamp: 1, Image: image.NewGray(depth.Bounds()), Depth: depth}

	test.That(t, frame.DepthAt(r2.Point{X: 4.2, Y: 19.8}), test.ShouldAlmostEqual, 1.5)
	test.That(t, frame.DepthAt(r2.Point{X: 5, Y: 20}), test.ShouldEqual, 0.0)
	test.That(t, frame.DepthAt(r2.Point{X: -3, Y: 20}), test.ShouldEqual, 0.0)
	test.That(t, NewCameraFrame(0, 0, depth).DepthAt(r2.Point{X: 4, Y: 20}), test.ShouldEqual, 0.0)

	corr, err := NewOpticalFlowCorrFromFrame([3]float64{0, 0.1, 0.2}, [3]float64{3, 4, 5}, [3]float64{20, 20, 20}, frame, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corr.Depth, test.ShouldAlmostEqual, 1.5)
	test.That(t, corr.InvDepth, test.ShouldAlmostEqual, 1/1.5)
	test.That(t, corr.DepthObservable, test.ShouldBeTrue)

	// no depth return under the anchor pixel
	corr, err = NewOpticalFlowCorrFromFrame([3]float64{0, 0.1, 0.2}, [3]float64{3, 4, 5}, [3]float64{40, 40, 40}, frame, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corr.HasValidInvDepth(), test.ShouldBeFalse)
	test.That(t, corr.DepthObservable, test.ShouldBeFalse)
}

func TestCorrWeightScalesResidual(t *testing.T) {
	s := newScene(t)
	corr, _ := s.simulateCorr(t)
	calib := s.calib
	calib.DepthInfo = corr.InvDepth
	calib.PosDnInBr = calib.PosDnInBr.Add(r3.Vector{Y: 0.3})
	blocks := s.blocks(t, calib)

	unit, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), s.pos.Meta(), PositionSpline, corr, 1)
	test.That(t, err, test.ShouldBeNil)
	base, err := unit.Evaluate(blocks)
	test.That(t, err, test.ShouldBeNil)

	weighted := *corr
	weighted.Weight = 0.5
	f, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), s.pos.Meta(), PositionSpline, &weighted, 3)
	test.That(t, err, test.ShouldBeNil)
	res, err := f.Evaluate(blocks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res[0], test.ShouldAlmostEqual, 1.5*base[0], 1e-9)
	test.That(t, res[1], test.ShouldAlmostEqual, 1.5*base[1], 1e-9)
}

func TestFlowMatrices(t *testing.T) {
	// a point on the optical axis only moves under lateral translation and rotation about x and y
	a, b := FlowMatrices(300, 310, 160, 120, r2.Point{X: 160, Y: 120})
	test.That(t, MulVec(a, r3.Vector{Z: 1}), test.ShouldResemble, r2.Point{})
	test.That(t, MulVec(a, r3.Vector{X: 1}), test.ShouldResemble, r2.Point{X: -300})
	test.That(t, MulVec(b, r3.Vector{Z: 1}), test.ShouldResemble, r2.Point{})
	test.That(t, MulVec(b, r3.Vector{Y: 1}), test.ShouldResemble, r2.Point{X: -300})
	test.That(t, MulVec(b, r3.Vector{X: 1}), test.ShouldResemble, r2.Point{Y: 310})
}

func TestFlowMotionFactorZeroAtTruth(t *testing.T) {
	s := newScene(t)
	corr, vel := s.simulateCorr(t)

	t.Run("inverse depth", func(t *testing.T) {
		f, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), s.pos.Meta(), PositionSpline, corr, 1)
		test.That(t, err, test.ShouldBeNil)
		calib := s.calib
		calib.DepthInfo = corr.InvDepth
		blocks := s.blocks(t, calib)

		pred, err := f.Prediction(blocks)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pred.X, test.ShouldAlmostEqual, vel.X, 1e-4)
		test.That(t, pred.Y, test.ShouldAlmostEqual, vel.Y, 1e-4)

		res, err := f.Evaluate(blocks)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res[0], test.ShouldAlmostEqual, 0, 1e-4)
		test.That(t, res[1], test.ShouldAlmostEqual, 0, 1e-4)
	})

	t.Run("depth", func(t *testing.T) {
		weighted := *corr
		weighted.Weight = 2
		f, err := NewFlowMotionFactor[Depth](s.rot.Meta(), s.pos.Meta(), PositionSpline, &weighted, 1)
		test.That(t, err, test.ShouldBeNil)
		calib := s.calib
		calib.DepthInfo = corr.Depth
		res, err := f.Evaluate(s.blocks(t, calib))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res[0], test.ShouldAlmostEqual, 0, 2e-4)
		test.That(t, res[1], test.ShouldAlmostEqual, 0, 2e-4)
	})

	t.Run("affine inverse depth", func(t *testing.T) {
		f, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), s.pos.Meta(), PositionSpline, corr, 1)
		test.That(t, err, test.ShouldBeNil)
		calib := s.calib
		calib.Alpha, calib.Beta = 2, 0.5
		// info/(alpha + beta*info) == 1/depth
		calib.DepthInfo = calib.Alpha / (corr.Depth - calib.Beta)
		res, err := f.Evaluate(s.blocks(t, calib))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res[0], test.ShouldAlmostEqual, 0, 1e-4)
		test.That(t, res[1], test.ShouldAlmostEqual, 0, 1e-4)
	})

	t.Run("wrong calibration", func(t *testing.T) {
		f, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), s.pos.Meta(), PositionSpline, corr, 1)
		test.That(t, err, test.ShouldBeNil)
		calib := s.calib
		calib.DepthInfo = corr.InvDepth
		calib.PosDnInBr = calib.PosDnInBr.Add(r3.Vector{X: 0.5})
		res, err := f.Evaluate(s.blocks(t, calib))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, math.Hypot(res[0], res[1]), test.ShouldBeGreaterThan, 1e-2)
	})
}

func TestFlowMotionFactorVelocitySplineZeroAtTruth(t *testing.T) {
	// evenly spaced position knots move the body at a constant velocity, which a velocity spline
	// holds exactly in knots that all equal it
	s := newScene(t)
	const dt = 0.1
	linVel := r3.Vector{X: 0.4, Y: -0.2, Z: 0.3}
	posKnots := make([]r3.Vector, numTestKnot)
	velKnots := make([]r3.Vector, numTestKnot)
	for i := range posKnots {
		posKnots[i] = linVel.Mul(float64(i) * dt)
		velKnots[i] = linVel
	}
	pos, err := spline.NewR3Spline(4, 0, dt, posKnots)
	test.That(t, err, test.ShouldBeNil)
	s.pos = pos
	rs, ps := s.sensorPose(t, anchorTime+s.calib.TimeOffset)
	s.target = ps.Add(rs.Rotate(r3.Vector{X: -0.1, Y: 0.3, Z: 1.5}))
	corr, vel := s.simulateCorr(t)

	velSpline, err := spline.NewR3Spline(4, 0, dt, velKnots)
	test.That(t, err, test.ShouldBeNil)
	f, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), velSpline.Meta(), VelocitySpline, corr, 1)
	test.That(t, err, test.ShouldBeNil)

	calib := s.calib
	calib.DepthInfo = corr.InvDepth
	layout := Layout{RotationKnots: numTestKnot, ScaleKnots: numTestKnot}
	blocks, err := layout.Blocks(s.rot.Knots(), velKnots, calib)
	test.That(t, err, test.ShouldBeNil)

	pred, err := f.Prediction(blocks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pred.X, test.ShouldAlmostEqual, vel.X, 1e-4)
	test.That(t, pred.Y, test.ShouldAlmostEqual, vel.Y, 1e-4)
	res, err := f.Evaluate(blocks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res[0], test.ShouldAlmostEqual, 0, 1e-4)
	test.That(t, res[1], test.ShouldAlmostEqual, 0, 1e-4)

	// a position spline read from the same knots sees no motion at all
	asPos, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), velSpline.Meta(), PositionSpline, corr, 1)
	test.That(t, err, test.ShouldBeNil)
	res, err = asPos.Evaluate(blocks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Hypot(res[0], res[1]), test.ShouldBeGreaterThan, 1e-2)
}

func TestFlowMotionFactorWindow(t *testing.T) {
	s := newScene(t)
	corr, _ := s.simulateCorr(t)
	calib := s.calib
	calib.DepthInfo = corr.InvDepth

	full, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), s.pos.Meta(), PositionSpline, corr, 1)
	test.That(t, err, test.ShouldBeNil)
	want, err := full.Evaluate(s.blocks(t, calib))
	test.That(t, err, test.ShouldBeNil)

	rotWin, rotFirst, err := SplineWindow(s.rot.Meta(), corr, calib.Readout, calib.TimeOffset, 0.02)
	test.That(t, err, test.ShouldBeNil)
	posWin, posFirst, err := SplineWindow(s.pos.Meta(), corr, calib.Readout, calib.TimeOffset, 0.02)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rotWin.NumKnots, test.ShouldBeLessThan, numTestKnot)

	windowed, err := NewFlowMotionFactor[InverseDepth](rotWin, posWin, PositionSpline, corr, 1)
	test.That(t, err, test.ShouldBeNil)
	blocks, err := windowed.Layout().Blocks(
		s.rot.Knots()[rotFirst:rotFirst+rotWin.NumKnots],
		s.pos.Knots()[posFirst:posFirst+posWin.NumKnots],
		calib,
	)
	test.That(t, err, test.ShouldBeNil)
	got, err := windowed.Evaluate(blocks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got[0], test.ShouldAlmostEqual, want[0], 1e-9)
	test.That(t, got[1], test.ShouldAlmostEqual, want[1], 1e-9)
}

func TestFlowMotionFactorJacobians(t *testing.T) {
	s := newScene(t)
	corr, _ := s.simulateCorr(t)
	calib := s.calib
	calib.DepthInfo = corr.InvDepth
	blocks := s.blocks(t, calib)

	f, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), s.pos.Meta(), PositionSpline, corr, 1)
	test.That(t, err, test.ShouldBeNil)
	jacs, err := f.Jacobians(blocks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(jacs), test.ShouldEqual, f.Layout().NumBlocks())
	for i, size := range f.Layout().BlockSizes() {
		r, c := jacs[i].Dims()
		test.That(t, r, test.ShouldEqual, 2)
		test.That(t, c, test.ShouldEqual, size)
	}

	// the anchor lies in the segment of knots 2..5
	test.That(t, jacs[0].Norm(2), test.ShouldEqual, 0.0)
	test.That(t, jacs[numTestKnot-1].Norm(2), test.ShouldEqual, 0.0)
	test.That(t, jacs[numTestKnot].Norm(2), test.ShouldEqual, 0.0)
	test.That(t, jacs[3].Norm(2), test.ShouldBeGreaterThan, 0)
	test.That(t, jacs[numTestKnot+3].Norm(2), test.ShouldBeGreaterThan, 0)

	// with alpha=1 and beta=0 the residual is linear in the inverse depth
	infoIdx := f.Layout().calib(depthInfoOffset)
	base, err := f.Evaluate(blocks)
	test.That(t, err, test.ShouldBeNil)
	blocks[infoIdx] = []float64{calib.DepthInfo + 1}
	shifted, err := f.Evaluate(blocks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, jacs[infoIdx].At(0, 0), test.ShouldAlmostEqual, shifted[0]-base[0], 1e-6)
	test.That(t, jacs[infoIdx].At(1, 0), test.ShouldAlmostEqual, shifted[1]-base[1], 1e-6)
}

func TestFlowMotionFactorFailures(t *testing.T) {
	s := newScene(t)
	corr, _ := s.simulateCorr(t)
	calib := s.calib
	calib.DepthInfo = corr.InvDepth

	f, err := NewFlowMotionFactor[InverseDepth](s.rot.Meta(), s.pos.Meta(), VelocitySpline, corr, 1)
	test.That(t, err, test.ShouldBeNil)

	calib.TimeOffset = 10
	blocks := s.blocks(t, calib)
	_, err = f.Evaluate(blocks)
	test.That(t, errors.Is(err, spline.ErrOutOfRange), test.ShouldBeTrue)
	_, err = f.Jacobians(blocks)
	test.That(t, errors.Is(err, spline.ErrOutOfRange), test.ShouldBeTrue)

	_, err = f.Evaluate(blocks[1:])
	test.That(t, err, test.ShouldNotBeNil)
	blocks[0] = []float64{1}
	_, err = f.Evaluate(blocks)
	test.That(t, err, test.ShouldNotBeNil)

	noDepth, err := NewOpticalFlowCorr(corr.Times, corr.XTrace, corr.YTrace, 0, s.frame, testRsExp)
	test.That(t, err, test.ShouldBeNil)
	_, err = NewFlowMotionFactor[InverseDepth](s.rot.Meta(), s.pos.Meta(), PositionSpline, noDepth, 1)
	test.That(t, errors.Is(err, ErrInvalidDepth), test.ShouldBeTrue)
	_, err = NewFlowMotionFactor[Depth](s.rot.Meta(), s.pos.Meta(), PositionSpline, noDepth, 1)
	test.That(t, err, test.ShouldBeNil)

	_, err = Layout{RotationKnots: 1}.Blocks(nil, nil, calib)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, PositionSpline.String(), test.ShouldEqual, "position")
}
