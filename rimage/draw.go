// Package rimage holds the raster helpers behind event and flow visualizations.
package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	// PositiveColor marks positive-polarity events.
	PositiveColor = color.RGBA{0, 0, 255, 255}
	// NegativeColor marks negative-polarity events.
	NegativeColor = color.RGBA{255, 0, 0, 255}
	// ClaimedColor marks pixels that were tried as plane seeds.
	ClaimedColor = color.RGBA{255, 0, 0, 255}
	// VerifiedColor marks seeds that yielded a flow.
	VerifiedColor = color.RGBA{0, 255, 0, 255}
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// DrawLine strokes a straight segment.
func DrawLine(dc *gg.Context, from, to r2.Point, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawLine(from.X, from.Y, to.X, to.Y)
	dc.Stroke()
}

// FlowDirectionColor encodes the direction of flow as a fully saturated hue, red pointing along +x.
func FlowDirectionColor(flow r2.Point) color.RGBA {
	hue := math.Atan2(flow.Y, flow.X) * 180 / math.Pi
	if hue < 0 {
		hue += 360
	}
	r, g, b := colorful.Hsv(hue, 1, 1).RGB255()
	return color.RGBA{r, g, b, 255}
}

// NewFilledRGBA returns a w x h raster filled with c.
func NewFilledRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// GrayToRGBA expands a single channel image to color.
func GrayToRGBA(g *image.Gray) *image.RGBA {
	b := g.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := g.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}
