package datasets

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// DecodeGrayscale opens and decodes one corpus image as a grayscale raster.
// Radiographs are single-channel; decoding goes through the standard image
// registry so both JPEG and PNG sources work.
func DecodeGrayscale(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image %s", path)
	}
	return imaging.Grayscale(img), nil
}

// ResizeWithPadding scales img so its longer spatial dimension becomes
// exactly size, keeping the aspect ratio (the shorter dimension is floored),
// then zero-pads the shorter dimension to a size×size square. Padding splits
// floor(pad/2) on the leading side and ceil(pad/2) on the trailing side, so
// an odd pad puts the extra pixel at the trailing edge. Nothing is cropped.
//
// Downscaling uses box resampling, which averages source pixels over each
// destination pixel.
func ResizeWithPadding(img image.Image, size int) *image.NRGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	// Height wins ties, so square inputs resize without padding.
	newW, newH := size, size
	if h >= w {
		newW = w * size / h
		if newW < 1 {
			newW = 1
		}
	} else {
		newH = h * size / w
		if newH < 1 {
			newH = 1
		}
	}
	resized := imaging.Resize(img, newW, newH, imaging.Box)

	out := imaging.New(size, size, color.NRGBA{A: 0xff})
	offset := image.Pt((size-newW)/2, (size-newH)/2)
	return imaging.Paste(out, resized, offset)
}
