package transform

import (
	"image"
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/annotator/rimage"
	"go.viam.com/annotator/spatialmath"
)

// Extrinsics maps scene points into the camera frame: p_cam = R * p + T.
type Extrinsics struct {
	Rotation    *spatialmath.RotationMatrix
	Translation r3.Vector
}

// NewExtrinsicsFromRotationVector builds extrinsics from a Rodrigues rotation vector and a
// translation.
func NewExtrinsicsFromRotationVector(rvec, tvec r3.Vector) Extrinsics {
	return Extrinsics{Rotation: spatialmath.R3ToRotationMatrix(rvec), Translation: tvec}
}

// ToCamera moves a scene point into the camera frame.
func (e Extrinsics) ToCamera(p r3.Vector) r3.Vector {
	return e.Rotation.Mul(p).Add(e.Translation)
}

// ProjectPoint projects a scene point onto the image without distortion and rounds it to the
// nearest pixel, halves going to the even pixel. The second return is false when the point is
// at or behind the camera plane or lands outside the image.
func (params *PinholeCameraIntrinsics) ProjectPoint(p r3.Vector, ext Extrinsics) (image.Point, bool) {
	c := ext.ToCamera(p)
	if !(c.Z > 0) {
		return image.Point{}, false
	}
	u, v, ok := params.PointToPixel(c.X, c.Y, c.Z)
	if !ok {
		return image.Point{}, false
	}
	u, v = math.RoundToEven(u), math.RoundToEven(v)
	if u < 0 || v < 0 || u >= float64(params.Width) || v >= float64(params.Height) {
		return image.Point{}, false
	}
	return image.Pt(int(u), int(v)), true
}

// ProjectPoints projects every point and returns the pixels that land on the image, in input
// order. Dropped points are counted in the second return.
func (params *PinholeCameraIntrinsics) ProjectPoints(pts []r3.Vector, ext Extrinsics) ([]image.Point, int) {
	pixels := make([]image.Point, 0, len(pts))
	dropped := 0
	for _, p := range pts {
		px, ok := params.ProjectPoint(p, ext)
		if !ok {
			dropped++
			continue
		}
		pixels = append(pixels, px)
	}
	return pixels, dropped
}

// RasterizePoints projects pts and sets their pixels in a new mask the size of the image. It
// also returns the number of points that missed the image.
func (params *PinholeCameraIntrinsics) RasterizePoints(pts []r3.Vector, ext Extrinsics) (*image.Gray, int) {
	mask := rimage.NewMask(params.Width, params.Height)
	pixels, dropped := params.ProjectPoints(pts, ext)
	for _, px := range pixels {
		rimage.SetMask(mask, px.X, px.Y)
	}
	return mask, dropped
}
