package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// BrownConradyDistortionType maps normalized undistorted coordinates to distorted ones.
	BrownConradyDistortionType = DistortionType("brown_conrady")
	// InverseBrownConradyDistortionType maps normalized distorted coordinates back to undistorted ones.
	InverseBrownConradyDistortionType = DistortionType("inverse_brown_conrady")
	// NoDistortionType leaves coordinates untouched.
	NoDistortionType = DistortionType("no_distortion")
)

// Distorter transforms normalized image coordinates according to a lens model.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType {
	case BrownConradyDistortionType:
		return NewBrownConrady(parameters)
	case InverseBrownConradyDistortionType:
		return NewInverseBrownConrady(parameters)
	case NoDistortionType, "":
		return noDistortion{}, nil
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}

type noDistortion struct{}

func (noDistortion) ModelType() DistortionType                 { return NoDistortionType }
func (noDistortion) CheckValid() error                         { return nil }
func (noDistortion) Parameters() []float64                     { return []float64{} }
func (noDistortion) Transform(x, y float64) (float64, float64) { return x, y }

// fillParameters pads a Brown-Conrady style parameter list (k1, k2, k3, p1, p2) with zeros.
func fillParameters(inp []float64) ([5]float64, error) {
	var out [5]float64
	if len(inp) > len(out) {
		return out, errors.Errorf("list of parameters too long, expected max %d, got %d", len(out), len(inp))
	}
	copy(out[:], inp)
	return out, nil
}
