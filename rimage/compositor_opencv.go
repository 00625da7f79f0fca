//go:build opencv

package rimage

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// NewMaskCompositor returns the compositor used by annotation runs.
func NewMaskCompositor(kernelSize int) (MaskCompositor, error) {
	return NewOpenCVCompositor(kernelSize)
}

// OpenCVCompositor repairs and traces masks with OpenCV. OpenCV erodes with the same anchor it
// dilates with, so with even kernels its closing sits one pixel right and down of the one
// computed by MorphologicalCompositor.
type OpenCVCompositor struct {
	kernelSize int
}

// NewOpenCVCompositor returns an OpenCV backed compositor.
func NewOpenCVCompositor(kernelSize int) (*OpenCVCompositor, error) {
	if kernelSize < 1 {
		return nil, errors.Errorf("kernel size must be positive, got %d", kernelSize)
	}
	return &OpenCVCompositor{kernelSize: kernelSize}, nil
}

// Composite implements MaskCompositor.
func (oc *OpenCVCompositor) Composite(label, scratch *image.Gray, value uint8) (int, error) {
	if err := checkSameSize(label, scratch); err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, errors.New("label value 0 is reserved for the background")
	}
	src, err := gocv.ImageGrayToMatGray(scratch)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(oc.kernelSize, oc.kernelSize))
	defer kernel.Close()

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(src, &closed, gocv.MorphClose, kernel)
	repaired := gocv.NewMat()
	defer repaired.Close()
	gocv.Dilate(closed, &repaired, kernel)

	contours := gocv.FindContours(repaired, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()
	best, bestArea := -1, -1.0
	for i := 0; i < contours.Size(); i++ {
		if a := gocv.ContourArea(contours.At(i)); a > bestArea {
			best, bestArea = i, a
		}
	}
	if best < 0 {
		return 0, nil
	}

	filled := gocv.NewMatWithSize(scratch.Rect.Dy(), scratch.Rect.Dx(), gocv.MatTypeCV8UC1)
	defer filled.Close()
	poly := gocv.NewPointsVectorFromPoints([][]image.Point{contours.At(best).ToPoints()})
	defer poly.Close()
	gocv.FillPoly(&filled, poly, color.RGBA{R: MaskOn, G: MaskOn, B: MaskOn, A: MaskOn})

	out, err := filled.ToImage()
	if err != nil {
		return 0, err
	}
	return OverlayMask(label, toGray(out), value)
}
