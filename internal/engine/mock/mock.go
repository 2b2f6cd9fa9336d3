// Package mock provides a scripted recognition backend for tests and demos.
package mock

import (
	"context"
	"image"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
)

// Backend returns a fixed transcription after an optional delay.
type Backend struct {
	EngineName string
	Text       string
	// Confidence is reported for every whitespace-separated token (0-100).
	Confidence float64
	Delay      time.Duration
	Err        error
	Panic      any
	// IgnoreContext makes the backend sleep through cancellation, like a
	// native library that cannot be interrupted.
	IgnoreContext bool
	// Respond, when set, replaces the fixed behavior.
	Respond func(ctx context.Context, img image.Image, langs []string) (engine.RawOutput, error)

	calls     atomic.Int64
	lastLangs atomic.Value
}

var _ engine.Backend = (*Backend)(nil)

// New creates a backend that answers text with the given 0-100 confidence.
func New(name, text string, confidence float64) *Backend {
	return &Backend{EngineName: name, Text: text, Confidence: confidence}
}

// Name implements engine.Backend.
func (b *Backend) Name() string { return b.EngineName }

// Calls returns how many times RecognizeRaw was invoked.
func (b *Backend) Calls() int64 { return b.calls.Load() }

// LastLanguages returns the hints passed to the most recent call.
func (b *Backend) LastLanguages() []string {
	v, _ := b.lastLangs.Load().([]string)
	return v
}

// RecognizeRaw implements engine.Backend.
func (b *Backend) RecognizeRaw(ctx context.Context, img image.Image, langs []string) (engine.RawOutput, error) {
	b.calls.Add(1)
	b.lastLangs.Store(append([]string(nil), langs...))

	if b.Delay > 0 {
		if b.IgnoreContext {
			time.Sleep(b.Delay)
		} else {
			timer := time.NewTimer(b.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return engine.RawOutput{}, ctx.Err()
			}
		}
	}
	if b.Panic != nil {
		panic(b.Panic)
	}
	if b.Respond != nil {
		return b.Respond(ctx, img, langs)
	}
	if b.Err != nil {
		return engine.RawOutput{}, b.Err
	}

	tokens := strings.Fields(b.Text)
	confs := make([]float64, len(tokens))
	for i := range confs {
		confs[i] = b.Confidence
	}
	return engine.RawOutput{Text: b.Text, TokenConfidences: confs}, nil
}
