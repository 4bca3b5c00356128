package normflow

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/evcalib/event"
	"go.viam.com/evcalib/rimage"
)

// NormFlow is the normal flow, in pixels per second, fitted around Pixel at Timestamp.
type NormFlow struct {
	Timestamp float64
	Pixel     image.Point
	Flow      r2.Point
}

// Pack is everything one extraction produced from a snapshot of the surface.
type Pack struct {
	// RawTimes holds the latest accepted event time per pixel, rows along the image height.
	RawTimes *mat.Dense
	// Polarities holds 255 where the latest event was positive.
	Polarities *image.Gray
	// Inliers holds 255 for every pixel that supported an accepted plane.
	Inliers      *image.Gray
	Flows        []NormFlow
	Timestamp    float64
	MinTimestamp float64

	// SeedImage marks claimed seeds in red and verified ones in green over the time surface.
	SeedImage *image.RGBA
	// FlowImage draws every accepted flow over the time surface.
	FlowImage *image.RGBA
}

func (p *Pack) eventsWhere(keep func(t float64, x, y int) bool) *event.Array {
	rows, cols := p.RawTimes.Dims()
	var events []event.Event
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			t := p.RawTimes.At(y, x)
			if t < p.MinTimestamp || !keep(t, x, y) {
				continue
			}
			events = append(events, event.Event{
				Timestamp: t,
				X:         uint16(x),
				Y:         uint16(y),
				Polarity:  p.Polarities.GrayAt(x, y).Y == 255,
			})
		}
	}
	return event.NewArray(events)
}

// ActiveEvents rebuilds the events of every pixel updated within dt of the pack timestamp, in
// raster order. It returns nil when there are none.
func (p *Pack) ActiveEvents(dt float64) *event.Array {
	return p.eventsWhere(func(t float64, _, _ int) bool {
		return p.Timestamp-t <= dt
	})
}

// NormFlowEvents rebuilds the events of every pixel that supported a flow. It returns nil when
// there are none.
func (p *Pack) NormFlowEvents() *event.Array {
	return p.eventsWhere(func(_ float64, x, y int) bool {
		return p.Inliers.GrayAt(x, y).Y != 0
	})
}

func drawEvents(arr *event.Array, w, h int) *image.RGBA {
	img := rimage.NewFilledRGBA(w, h, color.RGBA{0, 0, 0, 255})
	if arr == nil {
		return img
	}
	for _, ev := range arr.Events {
		if ev.Polarity {
			img.SetRGBA(int(ev.X), int(ev.Y), rimage.PositiveColor)
		} else {
			img.SetRGBA(int(ev.X), int(ev.Y), rimage.NegativeColor)
		}
	}
	return img
}

// Visualization tiles the seeds and flows over the active events and the flow inliers.
func (p *Pack) Visualization(dt float64) image.Image {
	rows, cols := p.RawTimes.Dims()
	panels := []*image.RGBA{
		cloneRGBA(p.SeedImage),
		cloneRGBA(p.FlowImage),
		drawEvents(p.ActiveEvents(dt), cols, rows),
		drawEvents(p.NormFlowEvents(), cols, rows),
	}
	for i, label := range []string{"seeds", "flows", "active", "inliers"} {
		rimage.DrawString(gg.NewContextForRGBA(panels[i]), label, image.Pt(2, 2), rimage.VerifiedColor, 10)
	}
	return rimage.VConcat(
		rimage.HConcat(panels[0], panels[1]),
		rimage.HConcat(panels[2], panels[3]),
	)
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
