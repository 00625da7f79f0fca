//go:build !opencv

package rimage

// NewMaskCompositor returns the compositor used by annotation runs.
func NewMaskCompositor(kernelSize int) (MaskCompositor, error) {
	return NewMorphologicalCompositor(kernelSize)
}
