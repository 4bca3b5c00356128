// Package factor builds the residuals that tie tracked optical flow to a continuous-time body
// trajectory and to the calibration of the camera that observed it.
package factor

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/evcalib/utils"
)

const (
	// midIndex is the anchor sample of a correspondence.
	midIndex = 1
	// minDepth is the smallest depth, in meters, whose inverse is usable.
	minDepth = 1e-3
	// minTimeGap is the smallest spacing, in seconds, between two samples of a trace.
	minTimeGap = 1e-9
	// InvalidInvDepth marks a correspondence without a usable depth.
	InvalidInvDepth = -1.0
)

// ErrInvalidDepth is returned when an inverse-depth residual is built on a correspondence without
// a usable depth.
var ErrInvalidDepth = errors.New("correspondence has no valid inverse depth")

// CameraFrame is an image a correspondence was tracked in. Many correspondences may share one
// frame.
type CameraFrame struct {
	ID        uint64
	Timestamp float64
	Image     image.Image
	// Depth is the registered depth image, if any, in millimeters.
	Depth *image.Gray16
}

// NewCameraFrame returns a frame with no depth image.
func NewCameraFrame(id uint64, timestamp float64, img image.Image) *CameraFrame {
	return &CameraFrame{ID: id, Timestamp: timestamp, Image: img}
}

// DepthAt returns the registered depth, in meters, at the pixel nearest p. It is 0 when the frame
// has no depth image or p falls outside it.
func (f *CameraFrame) DepthAt(p r2.Point) float64 {
	if f == nil || f.Depth == nil {
		return 0
	}
	pt := image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	if !pt.In(f.Depth.Bounds()) {
		return 0
	}
	return float64(f.Depth.Gray16At(pt.X, pt.Y).Y) / 1000
}

// Height is the number of image rows.
func (f *CameraFrame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// OpticalFlowCorr is one feature tracked over three consecutive frames. Index 1 is the anchor
// sample; the others only serve to differentiate the trace.
type OpticalFlowCorr struct {
	Times  [3]float64
	XTrace [3]float64
	YTrace [3]float64
	// RowFactors is row/height minus the exposure factor, per sample. Multiplied by the readout
	// time it gives the rolling-shutter delay of that row.
	RowFactors [3]float64

	Depth    float64
	InvDepth float64
	Frame    *CameraFrame
	// DepthObservable is set when the depth of this feature was measured. Clear it to keep the
	// depth as an initial guess without letting velocity estimation rely on it.
	DepthObservable bool
	// Weight scales every residual built on this correspondence.
	Weight float64
}

// NewOpticalFlowCorr builds a correspondence from a three-sample trace. Depths not above 1mm get
// the InvalidInvDepth sentinel; any other depth is taken as measured.
func NewOpticalFlowCorr(
	times, xTrace, yTrace [3]float64,
	depth float64,
	frame *CameraFrame,
	rsExpFactor float64,
) (*OpticalFlowCorr, error) {
	height := frame.Height()
	if height == 0 {
		return nil, errors.New("correspondence needs a frame with an image")
	}
	if utils.Float64AlmostEqual(times[0], times[1], minTimeGap) ||
		utils.Float64AlmostEqual(times[1], times[2], minTimeGap) ||
		utils.Float64AlmostEqual(times[0], times[2], minTimeGap) {
		return nil, errors.Errorf("trace sample times must be distinct, got %v", times)
	}
	c := &OpticalFlowCorr{
		Times:    times,
		XTrace:   xTrace,
		YTrace:   yTrace,
		Depth:    depth,
		InvDepth: InvalidInvDepth,
		Frame:    frame,
		Weight:   1,
	}
	if depth > minDepth {
		c.InvDepth = 1 / depth
		c.DepthObservable = true
	}
	for i := range c.RowFactors {
		c.RowFactors[i] = yTrace[i]/float64(height) - rsExpFactor
	}
	return c, nil
}

// NewOpticalFlowCorrFromFrame builds a correspondence whose depth is read from the frame's depth
// image at the anchor pixel.
func NewOpticalFlowCorrFromFrame(
	times, xTrace, yTrace [3]float64,
	frame *CameraFrame,
	rsExpFactor float64,
) (*OpticalFlowCorr, error) {
	depth := frame.DepthAt(r2.Point{X: xTrace[midIndex], Y: yTrace[midIndex]})
	return NewOpticalFlowCorr(times, xTrace, yTrace, depth, frame, rsExpFactor)
}

// HasValidInvDepth reports whether InvDepth can be used.
func (c *OpticalFlowCorr) HasValidInvDepth() bool {
	return c.InvDepth > 0
}

// MidPoint is the anchor pixel.
func (c *OpticalFlowCorr) MidPoint() r2.Point {
	return r2.Point{X: c.XTrace[midIndex], Y: c.YTrace[midIndex]}
}

// MidPointTime is the capture time of the anchor pixel given the rolling-shutter readout time.
func (c *OpticalFlowCorr) MidPointTime(readout float64) float64 {
	return c.Times[midIndex] + c.RowFactors[midIndex]*readout
}

// MidReadoutFactor is the row factor of the anchor sample.
func (c *OpticalFlowCorr) MidReadoutFactor() float64 {
	return c.RowFactors[midIndex]
}

// MidPointVel is the pixel velocity at the anchor, from the quadratic through the three samples
// placed at their rolling-shutter corrected times.
func (c *OpticalFlowCorr) MidPointVel(readout float64) r2.Point {
	var times [3]float64
	for i := range times {
		times[i] = c.Times[i] + c.RowFactors[i]*readout
	}
	return r2.Point{
		X: utils.LagrangeMidDerivative(times, c.XTrace),
		Y: utils.LagrangeMidDerivative(times, c.YTrace),
	}
}
