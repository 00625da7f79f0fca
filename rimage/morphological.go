package rimage

import (
	"image"

	"github.com/pkg/errors"

	"go.viam.com/annotator/utils"
)

// Kernel is a rectangular structuring element. Anchor is the element cell that lands on the
// output pixel.
type Kernel struct {
	Width, Height int
	Anchor        image.Point
}

// NewRectKernel returns a size x size kernel anchored at its center cell (size/2, size/2).
func NewRectKernel(size int) (Kernel, error) {
	if size < 1 {
		return Kernel{}, errors.Errorf("kernel size must be positive, got %d", size)
	}
	return Kernel{Width: size, Height: size, Anchor: image.Pt(size/2, size/2)}, nil
}

// reflected mirrors the kernel through its anchor.
func (k Kernel) reflected() Kernel {
	return Kernel{
		Width:  k.Width,
		Height: k.Height,
		Anchor: image.Pt(k.Width-1-k.Anchor.X, k.Height-1-k.Anchor.Y),
	}
}

// morph applies a max (dilate) or min (erode) filter. Samples outside the image are ignored.
// For every kernel cell (i, j) the sample is src(x+i-ax, y+j-ay).
func morph(src *image.Gray, k Kernel, dilate bool) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	utils.ParallelForEachPixel(b.Size(), func(x, y int) {
		px, py := b.Min.X+x, b.Min.Y+y
		var acc uint8
		if !dilate {
			acc = 255
		}
		for j := 0; j < k.Height; j++ {
			sy := py + j - k.Anchor.Y
			if sy < b.Min.Y || sy >= b.Max.Y {
				continue
			}
			for i := 0; i < k.Width; i++ {
				sx := px + i - k.Anchor.X
				if sx < b.Min.X || sx >= b.Max.X {
					continue
				}
				v := src.Pix[src.PixOffset(sx, sy)]
				if dilate && v > acc {
					acc = v
				} else if !dilate && v < acc {
					acc = v
				}
			}
		}
		dst.Pix[dst.PixOffset(px, py)] = acc
	})
	return dst
}

// Dilate returns the grayscale dilation of src by k. For a 2x2 kernel anchored at (1, 1) a set
// pixel grows one pixel right and down.
func Dilate(src *image.Gray, k Kernel) *image.Gray {
	return morph(src, k, true)
}

// Erode returns the grayscale erosion of src by the reflection of k, so that Erode undoes
// Dilate on shapes the kernel fits into.
func Erode(src *image.Gray, k Kernel) *image.Gray {
	return morph(src, k.reflected(), false)
}

// Close dilates then erodes src. The result always contains src.
func Close(src *image.Gray, k Kernel) *image.Gray {
	return Erode(Dilate(src, k), k)
}

// Open erodes then dilates src. The result is always contained in src.
func Open(src *image.Gray, k Kernel) *image.Gray {
	return Dilate(Erode(src, k), k)
}
