//go:build !tesseract

package tesseract

import (
	"context"
	"fmt"
	"image"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
)

// Available reports whether the binary was built with tesseract support.
const Available = false

// Backend is a placeholder used when the binary is built without the
// tesseract build tag.
type Backend struct{}

// New always fails; rebuild with -tags tesseract to enable the engine.
func New(Config) (*Backend, error) {
	return nil, fmt.Errorf("%w: built without tesseract support (rebuild with -tags tesseract)", engine.ErrUnavailable)
}

// Name implements engine.Backend.
func (b *Backend) Name() string { return Name }

// RecognizeRaw implements engine.Backend.
func (b *Backend) RecognizeRaw(context.Context, image.Image, []string) (engine.RawOutput, error) {
	return engine.RawOutput{}, engine.ErrUnavailable
}
