package event

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/evcalib/logging"
	"go.viam.com/evcalib/rimage"
	"go.viam.com/evcalib/rimage/transform"
	"go.viam.com/evcalib/utils"
)

const (
	negative = 0
	positive = 1
)

var black = color.RGBA{0, 0, 0, 255}

func polarityIndex(p bool) int {
	if p {
		return positive
	}
	return negative
}

// Surface is the surface of active events: for every pixel and polarity it keeps the time of the
// last accepted event (sae) and of the last received event (saeLatest). Events that repeat the
// previous polarity within the filter threshold only refresh saeLatest.
type Surface struct {
	mu sync.RWMutex

	model           *transform.PinholeCameraModel
	undistortion    *transform.UndistortionMap
	filterThreshold float64
	width, height   int
	logger          logging.Logger

	sae        [2][]float64
	saeLatest  [2][]float64
	timeLatest float64
	eventImg   *image.RGBA
	dropped    int
}

// NewSurface returns an empty surface sized to the camera.
func NewSurface(model *transform.PinholeCameraModel, filterThreshold float64, logger logging.Logger) (*Surface, error) {
	if filterThreshold < 0 || math.IsNaN(filterThreshold) {
		return nil, errors.Errorf("event filter threshold must be non-negative, got %f", filterThreshold)
	}
	undistortion, err := transform.NewUndistortionMap(model)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build surface")
	}
	s := &Surface{
		model:           model,
		undistortion:    undistortion,
		filterThreshold: filterThreshold,
		width:           model.Width,
		height:          model.Height,
		logger:          logger,
		eventImg:        rimage.NewFilledRGBA(model.Width, model.Height, black),
	}
	for p := range s.sae {
		s.sae[p] = make([]float64, s.width*s.height)
		s.saeLatest[p] = make([]float64, s.width*s.height)
	}
	return s, nil
}

// NewSurfaceFromCameraFile loads the camera model from a JSON file (see
// transform.NewPinholeCameraModelFromJSONFile) and returns an empty surface sized to it.
func NewSurfaceFromCameraFile(path string, filterThreshold float64, logger logging.Logger) (*Surface, error) {
	model, err := transform.NewPinholeCameraModelFromJSONFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load camera from %q", path)
	}
	return NewSurface(model, filterThreshold, logger)
}

// Model returns the camera the surface is sized for.
func (s *Surface) Model() *transform.PinholeCameraModel {
	return s.model
}

// Grab folds one event into the surface. Events outside the image are dropped.
func (s *Surface) Grab(ev Event, draw bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grab(ev, draw)
}

// GrabArray folds a batch of events into the surface in order.
func (s *Surface) GrabArray(arr *Array, draw bool) {
	if arr == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range arr.Events {
		s.grab(ev, draw)
	}
}

func (s *Surface) grab(ev Event, draw bool) {
	x, y := int(ev.X), int(ev.Y)
	if x >= s.width || y >= s.height {
		s.dropped++
		s.logger.Debugw("dropping event outside the image", "x", x, "y", y, "dropped", s.dropped)
		return
	}
	i := y*s.width + x
	p := polarityIndex(ev.Polarity)
	tLast := s.saeLatest[p][i]
	tLastInv := s.saeLatest[1-p][i]
	if ev.Timestamp > tLast+s.filterThreshold || tLastInv > tLast {
		s.sae[p][i] = ev.Timestamp
	}
	s.saeLatest[p][i] = ev.Timestamp
	s.timeLatest = ev.Timestamp

	if draw {
		if ev.Polarity {
			s.eventImg.SetRGBA(x, y, rimage.PositiveColor)
		} else {
			s.eventImg.SetRGBA(x, y, rimage.NegativeColor)
		}
	}
}

// LatestTime is the timestamp of the most recent event grabbed.
func (s *Surface) LatestTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeLatest
}

// Dropped is the number of events discarded for lying outside the image.
func (s *Surface) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// ActiveTime returns the accepted event time of one polarity at a pixel, or 0 outside the image.
func (s *Surface) ActiveTime(polarity bool, x, y int) float64 {
	if !s.model.Contains(x, y) {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sae[polarityIndex(polarity)][y*s.width+x]
}

// LatestTimeAt returns the last received event time of one polarity at a pixel, or 0 outside the
// image.
func (s *Surface) LatestTimeAt(polarity bool, x, y int) float64 {
	if !s.model.Contains(x, y) {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saeLatest[polarityIndex(polarity)][y*s.width+x]
}

// EventImage returns the raster of drawn events, optionally clearing it afterwards.
func (s *Surface) EventImage(reset, undistort bool) (*image.RGBA, error) {
	s.mu.Lock()
	img := s.eventImg
	if reset {
		s.eventImg = rimage.NewFilledRGBA(s.width, s.height, black)
	} else {
		img = cloneRGBA(img)
	}
	s.mu.Unlock()

	if undistort {
		return s.undistortion.RemapRGBA(img)
	}
	return img, nil
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// TimeSurface renders exp(-(latest - t)/decaySec) of every pixel's most recent accepted event as a
// gray image. Unless polarity is ignored the value is signed by the dominant polarity and mapped
// from [-1, 1] to [0, 255]. A positive medianKernel applies a (2k+1)-wide median blur.
func (s *Surface) TimeSurface(ignorePolarity, undistort bool, medianKernel int, decaySec float64) (*image.Gray, error) {
	if decaySec <= 0 {
		return nil, errors.Errorf("decay must be positive, got %f", decaySec)
	}
	s.mu.RLock()
	img := s.renderTimeSurface(ignorePolarity, decaySec)
	s.mu.RUnlock()

	var err error
	if medianKernel > 0 {
		if img, err = rimage.MedianBlurGray(img, 2*medianKernel+1); err != nil {
			return nil, err
		}
	}
	if undistort {
		return s.undistortion.RemapGray(img)
	}
	return img, nil
}

// RawTimeSurface returns the most recent accepted event time of every pixel, negated for pixels
// whose dominant polarity is negative unless polarity is ignored, together with a polarity map
// holding 255 for positive and 0 for negative pixels.
func (s *Surface) RawTimeSurface(ignorePolarity, undistort bool) (*mat.Dense, *image.Gray, error) {
	s.mu.RLock()
	times, polarities := s.renderRawTimes(ignorePolarity)
	s.mu.RUnlock()

	if !undistort {
		return times, polarities, nil
	}
	return s.remapRawTimes(times, polarities)
}

// Snapshot is the raw time map, polarity map and time surface of one instant of a Surface.
type Snapshot struct {
	RawTimes    *mat.Dense
	Polarities  *image.Gray
	TimeSurface *image.Gray
	LatestTime  float64
}

// Snapshot renders RawTimeSurface, TimeSurface (without blur) and LatestTime from the same state,
// so no event grabbed concurrently can show up in one and not the others.
func (s *Surface) Snapshot(ignorePolarity, undistort bool, decaySec float64) (*Snapshot, error) {
	if decaySec <= 0 {
		return nil, errors.Errorf("decay must be positive, got %f", decaySec)
	}
	s.mu.RLock()
	snap := &Snapshot{TimeSurface: s.renderTimeSurface(ignorePolarity, decaySec), LatestTime: s.timeLatest}
	snap.RawTimes, snap.Polarities = s.renderRawTimes(ignorePolarity)
	s.mu.RUnlock()

	if !undistort {
		return snap, nil
	}
	var err error
	if snap.RawTimes, snap.Polarities, err = s.remapRawTimes(snap.RawTimes, snap.Polarities); err != nil {
		return nil, err
	}
	if snap.TimeSurface, err = s.undistortion.RemapGray(snap.TimeSurface); err != nil {
		return nil, err
	}
	return snap, nil
}

// renderTimeSurface must be called with the read lock held.
func (s *Surface) renderTimeSurface(ignorePolarity bool, decaySec float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	utils.ParallelForEachRow(s.height, func(y int) {
		for x := 0; x < s.width; x++ {
			i := y*s.width + x
			pos, neg := s.sae[positive][i], s.sae[negative][i]
			v := math.Exp(-(s.timeLatest - math.Max(pos, neg)) / decaySec)
			if ignorePolarity {
				v *= 255
			} else {
				if pos <= neg {
					v = -v
				}
				v = 255 * (v + 1) / 2
			}
			img.Pix[img.PixOffset(x, y)] = saturateUint8(v)
		}
	})
	return img
}

// renderRawTimes must be called with the read lock held.
func (s *Surface) renderRawTimes(ignorePolarity bool) (*mat.Dense, *image.Gray) {
	times := mat.NewDense(s.height, s.width, nil)
	polarities := image.NewGray(image.Rect(0, 0, s.width, s.height))
	utils.ParallelForEachRow(s.height, func(y int) {
		for x := 0; x < s.width; x++ {
			i := y*s.width + x
			pos, neg := s.sae[positive][i], s.sae[negative][i]
			t := math.Max(pos, neg)
			if pos > neg {
				polarities.Pix[polarities.PixOffset(x, y)] = 255
			} else if !ignorePolarity {
				t = -t
			}
			times.Set(y, x, t)
		}
	})
	return times, polarities
}

func (s *Surface) remapRawTimes(times *mat.Dense, polarities *image.Gray) (*mat.Dense, *image.Gray, error) {
	times, err := s.undistortion.RemapDense(times)
	if err != nil {
		return nil, nil, err
	}
	polarities, err = s.undistortion.RemapGray(polarities)
	if err != nil {
		return nil, nil, err
	}
	return times, polarities, nil
}

func saturateUint8(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
