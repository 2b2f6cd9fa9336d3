//go:build tesseract

package tesseract

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
)

// Available reports whether the binary was built with tesseract support.
const Available = true

// Backend runs tesseract through gosseract. A client is created per call
// because gosseract clients are not safe for concurrent use.
type Backend struct {
	cfg           Config
	clientFactory func() *gosseract.Client
}

// New creates a tesseract backend.
func New(cfg Config) (*Backend, error) {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{DefaultLanguage}
	}
	return &Backend{cfg: cfg, clientFactory: gosseract.NewClient}, nil
}

// Name implements engine.Backend.
func (b *Backend) Name() string { return Name }

// RecognizeRaw implements engine.Backend. Tesseract cannot be interrupted once
// started, so cancellation is only observed before the call.
func (b *Backend) RecognizeRaw(ctx context.Context, img image.Image, langs []string) (engine.RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return engine.RawOutput{}, err
	}

	data, err := engine.EncodePNG(img)
	if err != nil {
		return engine.RawOutput{}, err
	}

	c := b.clientFactory()
	defer func() { _ = c.Close() }()

	if err := c.SetImageFromBytes(data); err != nil {
		return engine.RawOutput{}, fmt.Errorf("set image: %w", err)
	}
	if err := c.SetLanguage(b.languages(langs)...); err != nil {
		return engine.RawOutput{}, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(b.cfg.PageSegMode)); err != nil {
		return engine.RawOutput{}, fmt.Errorf("set page seg mode: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return engine.RawOutput{}, fmt.Errorf("recognize text: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return engine.RawOutput{}, fmt.Errorf("word confidences: %w", err)
	}
	confs := make([]float64, 0, len(boxes))
	for _, box := range boxes {
		confs = append(confs, box.Confidence)
	}

	return engine.RawOutput{Text: strings.TrimSpace(text), TokenConfidences: confs}, nil
}

func (b *Backend) languages(hints []string) []string {
	if mapped := engine.TesseractLanguages(hints); len(mapped) > 0 {
		return mapped
	}
	return b.cfg.Languages
}
