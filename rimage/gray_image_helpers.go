package rimage

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// MedianBlurGray replaces every pixel with the median of the ksize x ksize window around it.
// Borders replicate the edge pixels. ksize must be odd and positive; 1 returns a copy.
func MedianBlurGray(img *image.Gray, ksize int) (*image.Gray, error) {
	if ksize <= 0 || ksize%2 == 0 {
		return nil, errors.Errorf("median kernel size must be odd and positive, got %d", ksize)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	r := ksize / 2
	window := make([]uint8, 0, ksize*ksize)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -r; dy <= r; dy++ {
				yy := clampInt(y+dy, 0, h-1)
				for dx := -r; dx <= r; dx++ {
					xx := clampInt(x+dx, 0, w-1)
					window = append(window, img.GrayAt(b.Min.X+xx, b.Min.Y+yy).Y)
				}
			}
			sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
			out.SetGray(x, y, color.Gray{Y: window[len(window)/2]})
		}
	}
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// HConcat places images side by side, top aligned, on a white background.
func HConcat(imgs ...image.Image) *image.NRGBA {
	w, h := 0, 0
	for _, img := range imgs {
		w += img.Bounds().Dx()
		h = max(h, img.Bounds().Dy())
	}
	dst := imaging.New(w, h, color.White)
	x := 0
	for _, img := range imgs {
		dst = imaging.Paste(dst, img, image.Pt(x, 0))
		x += img.Bounds().Dx()
	}
	return dst
}

// VConcat stacks images top to bottom, left aligned, on a white background.
func VConcat(imgs ...image.Image) *image.NRGBA {
	w, h := 0, 0
	for _, img := range imgs {
		w = max(w, img.Bounds().Dx())
		h += img.Bounds().Dy()
	}
	dst := imaging.New(w, h, color.White)
	y := 0
	for _, img := range imgs {
		dst = imaging.Paste(dst, img, image.Pt(0, y))
		y += img.Bounds().Dy()
	}
	return dst
}

// WriteImageToFile encodes img with the format implied by the file extension.
func WriteImageToFile(path string, img image.Image) error {
	if strings.EqualFold(filepath.Ext(path), ".ppm") {
		//nolint:gosec
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "cannot write image to %q", path)
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return errors.Wrapf(ppm.Encode(f, img), "cannot write image to %q", path)
	}
	return errors.Wrapf(imaging.Save(img, path), "cannot write image to %q", path)
}
