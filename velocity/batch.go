package velocity

import (
	"context"
	"runtime"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Frame is the tracked points of one depth image.
type Frame struct {
	Timestamp float64
	Dynamics  []Dynamic
}

// FrameVelocity is the outcome of one frame. OK is false when the frame did not support a
// velocity.
type FrameVelocity struct {
	Timestamp float64
	Velocity  r3.Vector
	OK        bool
}

// EstimateFrames estimates every frame independently and in parallel. Results are in frame order.
// A frame that fails does not stop the others; the failures are combined in the returned error.
func (e *Estimator) EstimateFrames(ctx context.Context, frames []Frame) ([]FrameVelocity, error) {
	results := make([]FrameVelocity, len(frames))
	frameErrs := make([]error, len(frames))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, frame := range frames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, ok, err := e.EstimateFromDynamics(frame.Timestamp, frame.Dynamics)
			if err != nil {
				frameErrs[i] = errors.Wrapf(err, "frame %d", i)
			}
			results[i] = FrameVelocity{Timestamp: frame.Timestamp, Velocity: v, OK: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	err := multierr.Combine(frameErrs...)
	if err != nil {
		e.logger.Warnw("some frames could not be estimated", "failed", len(multierr.Errors(err)), "frames", len(frames))
	}
	return results, err
}
