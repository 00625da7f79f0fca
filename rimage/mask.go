// Package rimage holds the raster side of annotation: binary masks, morphology, contour tracing
// and label image encoding.
package rimage

import (
	"image"

	"github.com/pkg/errors"
)

// MaskOn is the value of a set pixel in a mask.
const MaskOn = 255

// NewMask returns an all-zero mask of the given size.
func NewMask(width, height int) *image.Gray {
	return image.NewGray(image.Rect(0, 0, width, height))
}

// SetMask turns the pixel at (x, y) on. It reports false and leaves the mask untouched when the
// position is out of bounds.
func SetMask(m *image.Gray, x, y int) bool {
	if !(image.Point{x, y}).In(m.Rect) {
		return false
	}
	m.Pix[m.PixOffset(x, y)] = MaskOn
	return true
}

// CountMask returns the number of non-zero pixels.
func CountMask(m *image.Gray) int {
	n := 0
	for y := m.Rect.Min.Y; y < m.Rect.Max.Y; y++ {
		row := m.Pix[m.PixOffset(m.Rect.Min.X, y) : m.PixOffset(m.Rect.Min.X, y)+m.Rect.Dx()]
		for _, v := range row {
			if v != 0 {
				n++
			}
		}
	}
	return n
}

// SameImgSize compares images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Size() == g2.Bounds().Size()
}

func checkSameSize(g1, g2 image.Image) error {
	if !SameImgSize(g1, g2) {
		return errors.Errorf("these images aren't the same size (%d %d) != (%d %d)",
			g1.Bounds().Dx(), g1.Bounds().Dy(), g2.Bounds().Dx(), g2.Bounds().Dy())
	}
	return nil
}

// OverlayMask writes value into dst wherever mask is set and returns the number of pixels
// written.
func OverlayMask(dst, mask *image.Gray, value uint8) (int, error) {
	if err := checkSameSize(dst, mask); err != nil {
		return 0, err
	}
	db, mb := dst.Bounds(), mask.Bounds()
	n := 0
	for y := 0; y < mb.Dy(); y++ {
		for x := 0; x < mb.Dx(); x++ {
			if mask.Pix[mask.PixOffset(mb.Min.X+x, mb.Min.Y+y)] == 0 {
				continue
			}
			dst.Pix[dst.PixOffset(db.Min.X+x, db.Min.Y+y)] = value
			n++
		}
	}
	return n, nil
}
