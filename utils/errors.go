package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewUnsupportedFormatError is used when a file extension or encoding has no reader/writer.
func NewUnsupportedFormatError(kind, format string) error {
	return errors.Errorf("unsupported %s format %q", kind, format)
}
