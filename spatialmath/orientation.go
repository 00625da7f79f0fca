// Package spatialmath defines the rotation and rigid transform types used to pose object instances
// and camera views.
package spatialmath

import (
	"gonum.org/v1/gonum/num/quat"
)

// Orientation is a 3D rotation, convertible between the parameterizations the annotator reads
// and writes: quaternions in view tables, rotation matrices in pose records and axis angles for
// rotation vectors.
type Orientation interface {
	Quaternion() quat.Number
	AxisAngles() *R4AA
	RotationMatrix() *RotationMatrix
}

// OrientationAlmostEqual reports whether two orientations describe the same rotation, treating
// q and -q as equal.
func OrientationAlmostEqual(o1, o2 Orientation) bool {
	return QuaternionAlmostEqual(o1.Quaternion(), o2.Quaternion(), 1e-5)
}
