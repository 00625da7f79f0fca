package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Pose represents a rigid transform: a rotation followed by a translation. As a 4x4 homogeneous
// matrix it is [[R, t], [0, 0, 0, 1]].
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

type pose struct {
	point    r3.Vector
	rotation *RotationMatrix
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return &pose{rotation: NewIdentityRotationMatrix()}
}

// NewPose builds a pose from a translation and an orientation.
func NewPose(point r3.Vector, o Orientation) Pose {
	if o == nil {
		return NewPoseFromPoint(point)
	}
	return &pose{point: point, rotation: o.RotationMatrix()}
}

// NewPoseFromPoint builds a pure translation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return &pose{point: point, rotation: NewIdentityRotationMatrix()}
}

// NewPoseFromOrientation builds a pure rotation.
func NewPoseFromOrientation(o Orientation) Pose {
	return NewPose(r3.Vector{}, o)
}

// NewPoseFromMatrix builds a pose from a 4x4 homogeneous matrix. The bottom row must be [0 0 0 1]
// and the upper-left block a proper rotation.
func NewPoseFromMatrix(m mat.Matrix) (Pose, error) {
	rows, cols := m.Dims()
	if rows != 4 || cols != 4 {
		return nil, errors.Errorf("homogeneous transform must be 4x4, got %dx%d", rows, cols)
	}
	for col, want := range []float64{0, 0, 0, 1} {
		if math.Abs(m.At(3, col)-want) > rotationTolerance {
			return nil, errors.Errorf("homogeneous transform bottom row must be [0 0 0 1], got %v",
				[]float64{m.At(3, 0), m.At(3, 1), m.At(3, 2), m.At(3, 3)})
		}
	}
	rot, err := NewRotationMatrix([]float64{
		m.At(0, 0), m.At(0, 1), m.At(0, 2),
		m.At(1, 0), m.At(1, 1), m.At(1, 2),
		m.At(2, 0), m.At(2, 1), m.At(2, 2),
	})
	if err != nil {
		return nil, err
	}
	return &pose{point: r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}, rotation: rot}, nil
}

// PoseToMatrix returns the 4x4 homogeneous matrix of a pose.
func PoseToMatrix(p Pose) *mat.Dense {
	rot := p.Orientation().RotationMatrix()
	pt := p.Point()
	return mat.NewDense(4, 4, []float64{
		rot.At(0, 0), rot.At(0, 1), rot.At(0, 2), pt.X,
		rot.At(1, 0), rot.At(1, 1), rot.At(1, 2), pt.Y,
		rot.At(2, 0), rot.At(2, 1), rot.At(2, 2), pt.Z,
		0, 0, 0, 1,
	})
}

// Point returns the translation of the pose.
func (p *pose) Point() r3.Vector {
	return p.point
}

// Orientation returns the rotation of the pose.
func (p *pose) Orientation() Orientation {
	return p.rotation
}

func (p *pose) String() string {
	return fmt.Sprintf("{point: %v, rotation: %v}", p.point, p.rotation)
}

// Compose returns the pose that applies b first and then a, i.e. the matrix product a * b.
func Compose(a, b Pose) Pose {
	ra := a.Orientation().RotationMatrix()
	return &pose{
		point:    ra.Mul(b.Point()).Add(a.Point()),
		rotation: ra.MatMul(b.Orientation().RotationMatrix()),
	}
}

// PoseInverse returns the inverse transform.
func PoseInverse(p Pose) Pose {
	inv := p.Orientation().RotationMatrix().Transpose()
	return &pose{point: inv.Mul(p.Point()).Mul(-1), rotation: inv}
}

// PoseBetween returns the pose d such that Compose(a, d) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// TransformPoint applies the pose to a point.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	return p.Orientation().RotationMatrix().Mul(pt).Add(p.Point())
}

// RotateAbout returns the pose rotating by rot about center: T(center) * R * T(-center).
func RotateAbout(rot Orientation, center r3.Vector) Pose {
	rm := rot.RotationMatrix()
	return &pose{point: center.Sub(rm.Mul(center)), rotation: rm}
}

// PoseAlmostEqual returns whether two poses are equal within 1e-8 in translation and 1e-5 in
// orientation.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-8)
}

// PoseAlmostEqualEps is PoseAlmostEqual with a custom translation tolerance.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return a.Point().Sub(b.Point()).Norm() <= epsilon && OrientationAlmostEqual(a.Orientation(), b.Orientation())
}
