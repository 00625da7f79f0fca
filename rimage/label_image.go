package rimage

import (
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// EncodeLabelImage writes img as an 8-bit grayscale PNG.
func EncodeLabelImage(w io.Writer, img *image.Gray) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// DecodeLabelImage reads a PNG label image. Images that are not 8-bit grayscale are converted.
func DecodeLabelImage(r io.Reader) (*image.Gray, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode label image")
	}
	return toGray(img), nil
}

// LabelImageFileMode is the permission of written label images. Temporary files start owner-only.
const LabelImageFileMode os.FileMode = 0o644

// WriteLabelImage atomically replaces fn with the PNG encoding of img.
func WriteLabelImage(fn string, img *image.Gray) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(fn), "."+filepath.Base(fn)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			utils.UncheckedError(os.Remove(tmp.Name()))
		}
	}()
	if err := EncodeLabelImage(tmp, img); err != nil {
		utils.UncheckedError(tmp.Close())
		return errors.Wrapf(err, "cannot encode %q", fn)
	}
	if err := tmp.Chmod(LabelImageFileMode); err != nil {
		utils.UncheckedError(tmp.Close())
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fn)
}

// ReadLabelImage reads a label image written by WriteLabelImage.
func ReadLabelImage(fn string) (*image.Gray, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return DecodeLabelImage(f)
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g
}
