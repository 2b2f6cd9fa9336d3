// Package tesseract recognizes text with a local tesseract installation.
package tesseract

import (
	"context"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
)

const (
	// Name is the engine name used in configuration.
	Name = "tesseract"
	// DefaultLanguage is used when neither config nor request give hints.
	DefaultLanguage = "eng"
	// psmAuto is tesseract's fully automatic page segmentation.
	psmAuto = 3
)

// Config configures the tesseract backend.
type Config struct {
	Languages   []string
	PageSegMode int
}

// Factory builds the backend from registry settings.
func Factory(_ context.Context, s engine.Settings) (engine.Backend, error) {
	psm := s.PageSegMode
	if psm <= 0 {
		psm = psmAuto
	}
	b, err := New(Config{Languages: engine.TesseractLanguages(s.Languages), PageSegMode: psm})
	if err != nil {
		return nil, err
	}
	return b, nil
}
