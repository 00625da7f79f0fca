package rimage

import (
	"image"

	"github.com/pkg/errors"
)

// A MaskCompositor turns the sparse footprint of one projected instance into a solid silhouette
// and paints it onto a shared label image.
type MaskCompositor interface {
	// Composite repairs scratch, keeps its largest outer region and fills it, holes included,
	// into label with value. It returns the number of label pixels written; zero means the
	// instance left no region.
	Composite(label, scratch *image.Gray, value uint8) (int, error)
}

// MorphologicalCompositor closes then dilates the footprint with a square kernel before
// extracting contours.
type MorphologicalCompositor struct {
	kernel Kernel
}

// NewMorphologicalCompositor returns a compositor repairing masks with a kernelSize x kernelSize
// rectangle.
func NewMorphologicalCompositor(kernelSize int) (*MorphologicalCompositor, error) {
	k, err := NewRectKernel(kernelSize)
	if err != nil {
		return nil, err
	}
	return &MorphologicalCompositor{kernel: k}, nil
}

// Repair returns the closed then dilated mask.
func (mc *MorphologicalCompositor) Repair(scratch *image.Gray) *image.Gray {
	return Dilate(Close(scratch, mc.kernel), mc.kernel)
}

// Composite implements MaskCompositor.
func (mc *MorphologicalCompositor) Composite(label, scratch *image.Gray, value uint8) (int, error) {
	if err := checkSameSize(label, scratch); err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, errors.New("label value 0 is reserved for the background")
	}
	repaired := mc.Repair(scratch)
	contours := FindOuterContours(repaired)
	best := LargestContour(contours)
	if best < 0 {
		return 0, nil
	}
	filled := image.NewGray(repaired.Bounds())
	FillContour(filled, &contours[best], MaskOn)
	return OverlayMask(label, filled, value)
}
