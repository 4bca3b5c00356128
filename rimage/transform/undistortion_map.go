package transform

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// UndistortionMap caches, for every pixel of the rectified image, the nearest pixel of the
// distorted image it samples from. Pixels whose source falls outside the image have index -1.
type UndistortionMap struct {
	model  *PinholeCameraModel
	source []int
}

// NewUndistortionMap precomputes the nearest-neighbour remap of the camera.
func NewUndistortionMap(model *PinholeCameraModel) (*UndistortionMap, error) {
	if model == nil {
		return nil, NewNoIntrinsicsError("camera model is nil")
	}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	w, h := model.Width, model.Height
	distortionMap := model.DistortionMap()
	source := make([]int, w*h)
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			x, y := distortionMap(float64(u), float64(v))
			xi, yi := int(math.Round(x)), int(math.Round(y))
			if model.Contains(xi, yi) {
				source[v*w+u] = yi*w + xi
			} else {
				source[v*w+u] = -1
			}
		}
	}
	return &UndistortionMap{model: model, source: source}, nil
}

func (um *UndistortionMap) checkSize(w, h int) error {
	if um.model.Width != w || um.model.Height != h {
		return errors.Errorf("img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			w, h, um.model.Width, um.model.Height)
	}
	return nil
}

// RemapDense rectifies a per-pixel value map with rows along the image height. Unmapped pixels are 0.
func (um *UndistortionMap) RemapDense(src *mat.Dense) (*mat.Dense, error) {
	if src == nil {
		return nil, errors.New("input map is nil")
	}
	rows, cols := src.Dims()
	if err := um.checkSize(cols, rows); err != nil {
		return nil, err
	}
	dst := mat.NewDense(rows, cols, nil)
	for i, s := range um.source {
		if s >= 0 {
			dst.Set(i/cols, i%cols, src.At(s/cols, s%cols))
		}
	}
	return dst, nil
}

// RemapGray rectifies a single channel image.
func (um *UndistortionMap) RemapGray(src *image.Gray) (*image.Gray, error) {
	if src == nil {
		return nil, errors.New("input image is nil")
	}
	b := src.Bounds()
	if err := um.checkSize(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}
	w := b.Dx()
	dst := image.NewGray(image.Rect(0, 0, w, b.Dy()))
	for i, s := range um.source {
		if s >= 0 {
			dst.Pix[dst.PixOffset(i%w, i/w)] = src.Pix[src.PixOffset(b.Min.X+s%w, b.Min.Y+s/w)]
		}
	}
	return dst, nil
}

// RemapRGBA rectifies a color image.
func (um *UndistortionMap) RemapRGBA(src *image.RGBA) (*image.RGBA, error) {
	if src == nil {
		return nil, errors.New("input image is nil")
	}
	b := src.Bounds()
	if err := um.checkSize(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}
	w := b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, w, b.Dy()))
	for i, s := range um.source {
		if s >= 0 {
			d := dst.PixOffset(i%w, i/w)
			o := src.PixOffset(b.Min.X+s%w, b.Min.Y+s/w)
			copy(dst.Pix[d:d+4], src.Pix[o:o+4])
		}
	}
	return dst, nil
}
