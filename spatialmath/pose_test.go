package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestPoseMatrixRoundTrip(t *testing.T) {
	p := NewPose(r3.Vector{X: 0.1, Y: -0.2, Z: 0.35}, RotationMatrixFromXYZ(0.4, -1.1, 2.0))
	m := PoseToMatrix(p)

	// translation and rotation extracted from T rebuild T
	rebuilt := NewPose(
		r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)},
		p.Orientation().RotationMatrix(),
	)
	test.That(t, mat.EqualApprox(PoseToMatrix(rebuilt), m, 1e-12), test.ShouldBeTrue)

	fromMatrix, err := NewPoseFromMatrix(m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, PoseAlmostEqual(fromMatrix, p), test.ShouldBeTrue)
}

func TestNewPoseFromMatrixErrors(t *testing.T) {
	_, err := NewPoseFromMatrix(mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)

	m := PoseToMatrix(NewZeroPose())
	m.Set(3, 0, 1)
	_, err = NewPoseFromMatrix(m)
	test.That(t, err, test.ShouldNotBeNil)

	m = PoseToMatrix(NewZeroPose())
	m.Set(0, 0, 3)
	_, err = NewPoseFromMatrix(m)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestComposeMatchesMatrixProduct(t *testing.T) {
	a := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, RotationMatrixFromXYZ(0.2, 0.3, -0.4))
	b := NewPose(r3.Vector{X: -0.5, Z: 0.25}, RotationMatrixFromXYZ(-1, 0.1, 0.9))

	var product mat.Dense
	product.Mul(PoseToMatrix(a), PoseToMatrix(b))
	test.That(t, mat.EqualApprox(PoseToMatrix(Compose(a, b)), &product, 1e-12), test.ShouldBeTrue)

	test.That(t, PoseAlmostEqual(Compose(a, PoseInverse(a)), NewZeroPose()), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(Compose(a, PoseBetween(a, b)), b), test.ShouldBeTrue)
}

func TestRotateAbout(t *testing.T) {
	center := r3.Vector{X: 1, Y: 1}
	p := RotateAbout(RotationMatrixFromXYZ(0, 0, math.Pi/2), center)

	// the center is a fixed point
	test.That(t, TransformPoint(p, center).Sub(center).Norm(), test.ShouldBeLessThan, 1e-12)
	moved := TransformPoint(p, r3.Vector{X: 2, Y: 1})
	test.That(t, moved.X, test.ShouldAlmostEqual, 1)
	test.That(t, moved.Y, test.ShouldAlmostEqual, 2)
}
