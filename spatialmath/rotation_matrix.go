package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// rotationTolerance bounds how far from orthonormal a matrix may be and still be accepted as a rotation.
const rotationTolerance = 1e-6

// RotationMatrix is a 3x3 rotation matrix stored in row-major order.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates a rotation matrix from 9 row-major values. The matrix must be
// orthonormal with a determinant of +1.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("rotation matrix needs 9 values, got %d", len(m))
	}
	rm := &RotationMatrix{}
	copy(rm.mat[:], m)
	if !rm.IsRotation(rotationTolerance) {
		return nil, errors.Errorf("matrix %v is not a proper rotation", m)
	}
	return rm, nil
}

// NewRotationMatrixFromRows creates a rotation matrix from a [3][3] array, as it is serialized.
func NewRotationMatrixFromRows(rows [3][3]float64) (*RotationMatrix, error) {
	return NewRotationMatrix([]float64{
		rows[0][0], rows[0][1], rows[0][2],
		rows[1][0], rows[1][1], rows[1][2],
		rows[2][0], rows[2][1], rows[2][2],
	})
}

// NewIdentityRotationMatrix returns the identity rotation.
func NewIdentityRotationMatrix() *RotationMatrix {
	return &RotationMatrix{[9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// RotationMatrixFromXYZ builds Rx(rx) * Ry(ry) * Rz(rz) from angles in radians.
func RotationMatrixFromXYZ(rx, ry, rz float64) *RotationMatrix {
	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)
	rotX := &RotationMatrix{[9]float64{1, 0, 0, 0, cx, -sx, 0, sx, cx}}
	rotY := &RotationMatrix{[9]float64{cy, 0, sy, 0, 1, 0, -sy, 0, cy}}
	rotZ := &RotationMatrix{[9]float64{cz, -sz, 0, sz, cz, 0, 0, 0, 1}}
	return rotX.MatMul(rotY).MatMul(rotZ)
}

// At returns the value at row, col.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[row*3+col]
}

// Row returns a row of the matrix as a vector.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[row*3], Y: rm.mat[row*3+1], Z: rm.mat[row*3+2]}
}

// Col returns a column of the matrix as a vector.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[col+3], Z: rm.mat[col+6]}
}

// Rows returns the matrix as nested rows.
func (rm *RotationMatrix) Rows() [3][3]float64 {
	return [3][3]float64{
		{rm.mat[0], rm.mat[1], rm.mat[2]},
		{rm.mat[3], rm.mat[4], rm.mat[5]},
		{rm.mat[6], rm.mat[7], rm.mat[8]},
	}
}

// Mul rotates a vector.
func (rm *RotationMatrix) Mul(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Row(0).Dot(v), Y: rm.Row(1).Dot(v), Z: rm.Row(2).Dot(v)}
}

// MatMul returns rm * other.
func (rm *RotationMatrix) MatMul(other *RotationMatrix) *RotationMatrix {
	out := &RotationMatrix{}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out.mat[row*3+col] = rm.Row(row).Dot(other.Col(col))
		}
	}
	return out
}

// Transpose returns the transpose, which is also the inverse rotation.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	out := &RotationMatrix{}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out.mat[col*3+row] = rm.mat[row*3+col]
		}
	}
	return out
}

// Dense returns a copy of the matrix as a gonum dense matrix.
func (rm *RotationMatrix) Dense() *mat.Dense {
	data := rm.mat
	return mat.NewDense(3, 3, data[:])
}

// IsRotation reports whether the matrix is orthonormal with a positive determinant, within tol.
func (rm *RotationMatrix) IsRotation(tol float64) bool {
	for _, v := range rm.mat {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1
			}
			if math.Abs(rm.Row(i).Dot(rm.Row(j))-want) > tol {
				return false
			}
		}
	}
	return math.Abs(mat.Det(rm.Dense())-1) <= tol
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (rm *RotationMatrix) RotationMatrix() *RotationMatrix {
	return rm
}

// AxisAngles returns the orientation in axis angle representation.
func (rm *RotationMatrix) AxisAngles() *R4AA {
	return R3ToR4(rm.RotationVector())
}

// Quaternion returns orientation in quaternion representation.
func (rm *RotationMatrix) Quaternion() quat.Number {
	return rm.AxisAngles().ToQuat()
}

// RotationVector returns the rotation vector (axis scaled by angle) of the matrix, the inverse of
// R3ToRotationMatrix. The angle is in [0, pi].
func (rm *RotationMatrix) RotationVector() r3.Vector {
	skew := r3.Vector{
		X: rm.At(2, 1) - rm.At(1, 2),
		Y: rm.At(0, 2) - rm.At(2, 0),
		Z: rm.At(1, 0) - rm.At(0, 1),
	}
	cosTheta := math.Max(-1, math.Min(1, (rm.mat[0]+rm.mat[4]+rm.mat[8]-1)/2))
	theta := math.Acos(cosTheta)
	sinTheta := skew.Norm() / 2

	switch {
	case theta < 1e-6:
		// theta / (2 sin theta) ~ 1/2 + theta^2/12
		return skew.Mul(0.5 + theta*theta/12)
	case sinTheta < 1e-6 || math.Pi-theta < 1e-4:
		// near pi the skew part vanishes; recover the axis from the symmetric part (R + I) / 2
		axis := rm.axisNearPi()
		// keep the sign consistent with whatever skew part is left
		if axis.Dot(skew) < 0 {
			axis = axis.Mul(-1)
		}
		return axis.Mul(theta)
	default:
		return skew.Mul(theta / (2 * math.Sin(theta)))
	}
}

func (rm *RotationMatrix) axisNearPi() r3.Vector {
	diag := [3]float64{(rm.mat[0] + 1) / 2, (rm.mat[4] + 1) / 2, (rm.mat[8] + 1) / 2}
	largest := 0
	for i := 1; i < 3; i++ {
		if diag[i] > diag[largest] {
			largest = i
		}
	}
	var axis [3]float64
	axis[largest] = math.Sqrt(math.Max(diag[largest], 0))
	for i := 0; i < 3; i++ {
		if i != largest {
			axis[i] = (rm.At(largest, i) + rm.At(i, largest)) / 4 / axis[largest]
		}
	}
	return r3.Vector{X: axis[0], Y: axis[1], Z: axis[2]}.Normalize()
}

func (rm *RotationMatrix) String() string {
	rows := rm.Rows()
	return fmt.Sprintf("[%v %v %v]", rows[0], rows[1], rows[2])
}
