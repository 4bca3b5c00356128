// Package transform holds the pinhole camera model and lens distortion used to rectify event
// coordinates and rasters.
package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"-"`
}

// NewPinholeCameraModel validates intrinsics and pairs them with a distortion model. A nil
// distorter means an ideal lens.
func NewPinholeCameraModel(intrinsics *PinholeCameraIntrinsics, distortion Distorter) (*PinholeCameraModel, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if distortion == nil {
		distortion = noDistortion{}
	}
	if err := distortion.CheckValid(); err != nil {
		return nil, err
	}
	return &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: distortion}, nil
}

type pinholeCameraFile struct {
	Intrinsics           *PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	DistortionType       DistortionType           `json:"distortion_type"`
	DistortionParameters []float64                `json:"distortion_parameters"`
}

// NewPinholeCameraModelFromJSONFile reads intrinsics together with a named distortion model.
func NewPinholeCameraModelFromJSONFile(jsonPath string) (*PinholeCameraModel, error) {
	var cfg pinholeCameraFile
	if err := readJSONFile(jsonPath, &cfg); err != nil {
		return nil, err
	}
	distortion, err := NewDistorter(cfg.DistortionType, cfg.DistortionParameters)
	if err != nil {
		return nil, err
	}
	return NewPinholeCameraModel(cfg.Intrinsics, distortion)
}

func (params *PinholeCameraModel) distorter() Distorter {
	if params.Distortion == nil {
		return noDistortion{}
	}
	return params.Distortion
}

// DistortionMap is a function that transforms the undistorted input points (u,v) to the distorted points (x,y)
// according to the model in PinholeCameraModel.Distortion.
// A nil Distortion is an ideal lens.
func (params *PinholeCameraModel) DistortionMap() func(u, v float64) (float64, float64) {
	distortion := params.distorter()
	return func(u, v float64) (float64, float64) {
		x := (u - params.Ppx) / params.Fx
		y := (v - params.Ppy) / params.Fy
		x, y = distortion.Transform(x, y)
		x = x*params.Fx + params.Ppx
		y = y*params.Fy + params.Ppy
		return x, y
	}
}

// UndistortPixel moves a pixel observed through the lens to where an ideal pinhole would have seen it.
func (params *PinholeCameraModel) UndistortPixel(p r2.Point) r2.Point {
	var inverse Distorter
	switch d := params.distorter().(type) {
	case *BrownConrady:
		inverse = d.Inverse()
	case *InverseBrownConrady:
		inverse = d.forward()
	default:
		return p
	}
	x, y := inverse.Transform((p.X-params.Ppx)/params.Fx, (p.Y-params.Ppy)/params.Fy)
	return r2.Point{X: x*params.Fx + params.Ppx, Y: y*params.Fy + params.Ppy}
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

func readJSONFile(jsonPath string, dst interface{}) error {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return errors.Wrap(err, "error reading JSON data")
	}
	if err := json.Unmarshal(byteValue, dst); err != nil {
		return errors.Wrap(err, "error parsing JSON string")
	}
	return nil
}

// Contains reports whether integer pixel (x, y) is inside the image.
func (params *PinholeCameraIntrinsics) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < params.Width && y < params.Height
}
