package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestUnexpectedTypeError(t *testing.T) {
	err := NewUnexpectedTypeError(float64(0), float32(0))
	test.That(t, err.Error(), test.ShouldEqual, "expected float64 but got float32")
}

func TestUnsupportedFormatError(t *testing.T) {
	err := NewUnsupportedFormatError("point cloud", ".xyz")
	test.That(t, err.Error(), test.ShouldEqual, `unsupported point cloud format ".xyz"`)
}
