// Package velocity estimates the linear velocity of a depth camera from the optical flow and depth
// of the points it tracks, given how the body it is mounted on rotates.
package velocity

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/evcalib/factor"
	"go.viam.com/evcalib/logging"
	"go.viam.com/evcalib/rimage/transform"
	"go.viam.com/evcalib/sac"
	"go.viam.com/evcalib/spatialmath"
)

// minDepth is the smallest usable depth, in meters.
const minDepth = 1e-3

// RotationSpline gives the body orientation and body-frame angular velocity over time.
// *spline.SO3Spline implements it.
type RotationSpline interface {
	EvaluateWithVelocity(t float64) (spatialmath.SO3, r3.Vector, error)
}

// Dynamic is one tracked point of a frame: where it is, how fast it moves in pixels per second and
// how far it is, in meters.
type Dynamic struct {
	Pixel r2.Point
	Flow  r2.Point
	Depth float64
}

// Estimator recovers a linear velocity per frame by sample consensus over its tracked points.
type Estimator struct {
	intrinsics *transform.PinholeCameraIntrinsics
	timeOffset float64
	rotation   RotationSpline
	so3BrToDn  spatialmath.SO3
	cfg        Config
	logger     logging.Logger
}

// NewEstimator returns an estimator for a depth camera with the given intrinsics, mounted with
// rotation so3DnToBr on a body whose rotation is described by rotation. timeOffset maps camera
// time to body time.
func NewEstimator(
	intrinsics *transform.PinholeCameraIntrinsics,
	timeOffset float64,
	rotation RotationSpline,
	so3DnToBr spatialmath.SO3,
	cfg Config,
	logger logging.Logger,
) (*Estimator, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "velocity estimation")
	}
	if rotation == nil {
		return nil, errors.New("velocity estimation needs a rotation spline")
	}
	if err := cfg.Validate("velocity"); err != nil {
		return nil, err
	}
	return &Estimator{
		intrinsics: intrinsics,
		timeOffset: timeOffset,
		rotation:   rotation,
		so3BrToDn:  so3DnToBr.Inverse(),
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}, nil
}

// angularVelocity returns the angular velocity of the camera, in its own frame, at camera time t.
func (e *Estimator) angularVelocity(t float64) (r3.Vector, error) {
	_, angVelBr, err := e.rotation.EvaluateWithVelocity(t + e.timeOffset)
	if err != nil {
		return r3.Vector{}, errors.Wrapf(err, "cannot query rotation at camera time %f", t)
	}
	return e.so3BrToDn.Rotate(angVelBr), nil
}

func (e *Estimator) observe(d Dynamic, angVel r3.Vector) observation {
	a, b := factor.FlowMatrices(e.intrinsics.Fx, e.intrinsics.Fy, e.intrinsics.Ppx, e.intrinsics.Ppy, d.Pixel)
	return newObservation(a, b, d.Flow, d.Depth, angVel)
}

// EstimateFromDynamics estimates the velocity of a frame captured at frameTime. Points without a
// usable depth are ignored. The boolean is false when no velocity is supported by enough points;
// an error means the frame lies outside the rotation spline.
func (e *Estimator) EstimateFromDynamics(frameTime float64, dynamics []Dynamic) (r3.Vector, bool, error) {
	usable := lo.Filter(dynamics, func(d Dynamic, _ int) bool { return d.Depth > minDepth })
	if len(usable) < 3 {
		e.logger.Debugw("too few dynamics to estimate velocity", "time", frameTime, "usable", len(usable))
		return r3.Vector{}, false, nil
	}
	angVel, err := e.angularVelocity(frameTime)
	if err != nil {
		return r3.Vector{}, false, err
	}
	obs := lo.Map(usable, func(d Dynamic, _ int) observation { return e.observe(d, angVel) })
	v, ok := e.solve(frameTime, obs)
	return v, ok, nil
}

// EstimateFromCorrs estimates a velocity from correspondences, each placed at its own rolling
// shutter corrected time. Correspondences without an observable, valid depth are ignored.
func (e *Estimator) EstimateFromCorrs(corrs []*factor.OpticalFlowCorr, readout float64) (r3.Vector, bool, error) {
	usable := lo.Filter(corrs, func(c *factor.OpticalFlowCorr, _ int) bool {
		return c.DepthObservable && c.HasValidInvDepth()
	})
	if len(usable) < 3 {
		e.logger.Debugw("too few correspondences to estimate velocity", "usable", len(usable), "total", len(corrs))
		return r3.Vector{}, false, nil
	}
	obs := make([]observation, 0, len(usable))
	for _, c := range usable {
		t := c.MidPointTime(readout)
		angVel, err := e.angularVelocity(t)
		if err != nil {
			return r3.Vector{}, false, err
		}
		obs = append(obs, e.observe(Dynamic{Pixel: c.MidPoint(), Flow: c.MidPointVel(readout), Depth: c.Depth}, angVel))
	}
	v, ok := e.solve(usable[0].MidPointTime(readout), obs)
	return v, ok, nil
}

func (e *Estimator) solve(t float64, obs []observation) (r3.Vector, bool) {
	ransac := sac.NewRansac[r3.Vector](sac.Config{
		Threshold:     e.cfg.Threshold,
		MaxIterations: e.cfg.MaxIterations,
		Seed:          e.cfg.Seed,
		RandomSeed:    e.cfg.RandomSeed,
	})
	res, err := ransac.Compute(&problem{obs: obs})
	if err != nil {
		e.logger.Debugw("velocity consensus failed", "time", t, "error", err)
		return r3.Vector{}, false
	}
	if ratio := res.InlierRatio(len(obs)); ratio < e.cfg.MinInlierRatio {
		e.logger.Debugw("too few velocity inliers", "time", t, "ratio", ratio)
		return r3.Vector{}, false
	}
	return res.Model, true
}
