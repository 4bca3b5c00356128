package transform

const (
	inverseMaxIterations = 20
	inverseTolerance     = 1e-10
)

// InverseBrownConrady undoes a BrownConrady distortion. There is no closed form, so each point is
// solved with Newton iterations on the forward model, starting from the distorted point.
type InverseBrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewInverseBrownConrady takes the parameters of the forward model, in BrownConrady order.
func NewInverseBrownConrady(inp []float64) (*InverseBrownConrady, error) {
	p, err := fillParameters(inp)
	if err != nil {
		return nil, err
	}
	return &InverseBrownConrady{p[0], p[1], p[2], p[3], p[4]}, nil
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the forward model as a list of floats.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	return ibc.forward().Parameters()
}

func (ibc *InverseBrownConrady) forward() *BrownConrady {
	if ibc == nil {
		return nil
	}
	return &BrownConrady{ibc.RadialK1, ibc.RadialK2, ibc.RadialK3, ibc.TangentialP1, ibc.TangentialP2}
}

// Transform maps a normalized distorted point to its undistorted position.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	fwd := ibc.forward()
	xu, yu := xd, yd
	for i := 0; i < inverseMaxIterations; i++ {
		xe, ye := fwd.Transform(xu, yu)
		errX, errY := xe-xd, ye-yd
		if errX*errX+errY*errY < inverseTolerance*inverseTolerance {
			break
		}

		r2 := xu*xu + yu*yu
		radDist := 1 + ibc.RadialK1*r2 + ibc.RadialK2*r2*r2 + ibc.RadialK3*r2*r2*r2
		dRad := 2 * (ibc.RadialK1 + 2*ibc.RadialK2*r2 + 3*ibc.RadialK3*r2*r2)
		j00 := radDist + xu*xu*dRad + 2*ibc.TangentialP1*yu + 6*ibc.TangentialP2*xu
		j01 := xu*yu*dRad + 2*ibc.TangentialP1*xu + 2*ibc.TangentialP2*yu
		j10 := xu*yu*dRad + 2*ibc.TangentialP2*yu + 2*ibc.TangentialP1*xu
		j11 := radDist + yu*yu*dRad + 2*ibc.TangentialP2*xu + 6*ibc.TangentialP1*yu

		det := j00*j11 - j01*j10
		if det == 0 {
			break
		}
		xu -= (j11*errX - j01*errY) / det
		yu -= (-j10*errX + j00*errY) / det
	}
	return xu, yu
}
