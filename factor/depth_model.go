package factor

// DepthModel selects how DEPTH_INFO enters the flow prediction. It is a type parameter so the
// choice is made once per residual type.
type DepthModel interface {
	InverseDepth | Depth
	// scale returns the factor applied to the translational flow.
	scale(alpha, beta, info float64) float64
	needsInvDepth() bool
}

// InverseDepth treats DEPTH_INFO as an inverse depth d: scale = d / (alpha + beta*d).
type InverseDepth struct{}

func (InverseDepth) scale(alpha, beta, info float64) float64 {
	return info / (alpha + beta*info)
}

func (InverseDepth) needsInvDepth() bool {
	return true
}

// Depth treats DEPTH_INFO as a depth z: scale = 1 / (alpha*z + beta).
type Depth struct{}

func (Depth) scale(alpha, beta, info float64) float64 {
	return 1 / (alpha*info + beta)
}

func (Depth) needsInvDepth() bool {
	return false
}

// LinearScale is the kind of quantity the scale spline holds.
type LinearScale int

const (
	// PositionSpline knots are positions; velocity is their first derivative.
	PositionSpline LinearScale = iota
	// VelocitySpline knots are linear velocities.
	VelocitySpline
)

func (k LinearScale) velocityDerivative() int {
	if k == VelocitySpline {
		return 0
	}
	return 1
}

func (k LinearScale) String() string {
	switch k {
	case PositionSpline:
		return "position"
	case VelocitySpline:
		return "velocity"
	default:
		return "unknown"
	}
}
