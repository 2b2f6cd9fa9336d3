package preprocess

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when the input bytes are not a known image or PDF.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrEmptyInput is returned for zero-length input.
	ErrEmptyInput = errors.New("empty image data")
	// ErrNoPageImage is returned when a PDF has no extractable image on its first page.
	ErrNoPageImage = errors.New("pdf page contains no image")
	// ErrImageTooLarge is returned when the declared dimensions exceed the pixel ceiling.
	ErrImageTooLarge = errors.New("image exceeds pixel limit")
)

// ImageProcessingError describes a failure while decoding or transforming an image.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }
