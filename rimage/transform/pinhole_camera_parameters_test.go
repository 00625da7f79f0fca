package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func referenceMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1778.81005859375, 0, 967.9315795898438,
		0, 1778.870361328125, 572.4088134765625,
		0, 0, 1,
	})
}

func TestNewPinholeCameraIntrinsicsFromMatrix(t *testing.T) {
	params, err := NewPinholeCameraIntrinsicsFromMatrix(referenceMatrix(), 1944, 1200)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.Fx, test.ShouldEqual, 1778.81005859375)
	test.That(t, params.Fy, test.ShouldEqual, 1778.870361328125)
	test.That(t, params.Ppx, test.ShouldEqual, 967.9315795898438)
	test.That(t, params.Ppy, test.ShouldEqual, 572.4088134765625)
	test.That(t, mat.Equal(params.GetCameraMatrix(), referenceMatrix()), test.ShouldBeTrue)

	skewed := referenceMatrix()
	skewed.Set(0, 1, 0.5)
	_, err = NewPinholeCameraIntrinsicsFromMatrix(skewed, 1944, 1200)
	test.That(t, err, test.ShouldNotBeNil)

	scaled := referenceMatrix()
	scaled.Set(2, 2, 2)
	_, err = NewPinholeCameraIntrinsicsFromMatrix(scaled, 1944, 1200)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewPinholeCameraIntrinsicsFromMatrix(mat.NewDense(2, 3, nil), 1944, 1200)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewPinholeCameraIntrinsicsFromMatrix(referenceMatrix(), 0, 1200)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
}

func TestCheckValid(t *testing.T) {
	var nilParams *PinholeCameraIntrinsics
	test.That(t, errors.Is(nilParams.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)
	test.That(t, nilParams.GetCameraMatrix(), test.ShouldBeNil)

	good := PinholeCameraIntrinsics{Width: 10, Height: 10, Fx: 5, Fy: 5, Ppx: 5, Ppy: 5}
	test.That(t, good.CheckValid(), test.ShouldBeNil)

	for _, bad := range []PinholeCameraIntrinsics{
		{Width: 0, Height: 10, Fx: 5, Fy: 5},
		{Width: 10, Height: 10, Fx: 0, Fy: 5},
		{Width: 10, Height: 10, Fx: 5, Fy: -1},
		{Width: 10, Height: 10, Fx: 5, Fy: 5, Ppx: -1},
		{Width: 10, Height: 10, Fx: 5, Fy: 5, Ppy: -1},
	} {
		test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
	}
}

func TestNewPinholeCameraIntrinsicsFromJSONFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "intrinsics.json")
	data := `{"width_px": 1944, "height_px": 1200, "fx": 1778.8, "fy": 1778.9, "ppx": 967.9, "ppy": 572.4}`
	test.That(t, os.WriteFile(fn, []byte(data), 0o600), test.ShouldBeNil)

	params, err := NewPinholeCameraIntrinsicsFromJSONFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *params, test.ShouldResemble, PinholeCameraIntrinsics{
		Width: 1944, Height: 1200, Fx: 1778.8, Fy: 1778.9, Ppx: 967.9, Ppy: 572.4,
	})

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPointToPixel(t *testing.T) {
	params := PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 510, Ppx: 320, Ppy: 240}
	u, v, ok := params.PointToPixel(0.32, -0.56, 2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, u, test.ShouldAlmostEqual, 400)
	test.That(t, v, test.ShouldAlmostEqual, 97.2)

	u, v, ok = params.PointToPixel(0, 0, 3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, u, test.ShouldEqual, 320)
	test.That(t, v, test.ShouldEqual, 240)

	_, _, ok = params.PointToPixel(1, 1, 0)
	test.That(t, ok, test.ShouldBeFalse)
}
