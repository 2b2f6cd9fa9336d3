package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Metadata describes a decoded input.
type Metadata struct {
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int    `json:"size_bytes"`
}

var pdfMagic = []byte("%PDF")

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// Decode turns raw input bytes into an image. PDFs are rasterized from the
// largest image embedded on their first page.
func Decode(data []byte) (image.Image, Metadata, error) {
	return DecodeLimited(data, 0)
}

// DecodeLimited is Decode with a ceiling on width*height. The dimensions are
// read from the header before any pixel buffer is allocated. maxPixels <= 0
// disables the check.
func DecodeLimited(data []byte, maxPixels int64) (image.Image, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, &ImageProcessingError{Operation: "decode", Err: ErrEmptyInput}
	}

	var (
		img    image.Image
		format string
		err    error
	)
	if IsPDF(data) {
		img, err = ExtractFirstPageImage(data, maxPixels)
		format = "pdf"
	} else {
		var cfg image.Config
		cfg, format, err = image.DecodeConfig(bytes.NewReader(data))
		switch {
		case err != nil:
			err = fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		case exceedsPixels(cfg, maxPixels):
			return nil, Metadata{Format: format, Width: cfg.Width, Height: cfg.Height, SizeBytes: len(data)},
				&ImageProcessingError{Operation: "decode", Err: fmt.Errorf("%w: %dx%d > %d", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)}
		default:
			img, format, err = image.Decode(bytes.NewReader(data))
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
			}
		}
	}
	if err != nil {
		return nil, Metadata{}, &ImageProcessingError{Operation: "decode", Err: err}
	}

	b := img.Bounds()
	if b.Empty() {
		return nil, Metadata{}, &ImageProcessingError{Operation: "decode", Err: fmt.Errorf("image has no pixels")}
	}
	return img, Metadata{Format: format, Width: b.Dx(), Height: b.Dy(), SizeBytes: len(data)}, nil
}

func exceedsPixels(cfg image.Config, maxPixels int64) bool {
	return maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels
}
