package factor

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// FlowMatrices returns the two 2x3 blocks of the calibrated flow equation at pixel:
//
//	flow = (1/depth) * A * v + B * w
//
// where v and w are the linear and angular velocity of the camera in its own frame and the
// observed point is static.
func FlowMatrices(fx, fy, cx, cy float64, pixel r2.Point) (a, b *mat.Dense) {
	up, vp := pixel.X-cx, pixel.Y-cy
	a = mat.NewDense(2, 3, []float64{
		-fx, 0, up,
		0, -fy, vp,
	})
	b = mat.NewDense(2, 3, []float64{
		up * vp / fy, -fx - up*up/fx, fx * vp / fy,
		fy + vp*vp/fy, -up * vp / fx, -fy * up / fx,
	})
	return a, b
}

// MulVec returns m*v for a 2x3 flow matrix.
func MulVec(m mat.Matrix, v r3.Vector) r2.Point {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return r2.Point{X: out.AtVec(0), Y: out.AtVec(1)}
}
