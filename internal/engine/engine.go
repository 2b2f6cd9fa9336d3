// Package engine wraps heterogeneous text-recognition backends behind one
// adapter that never fails loudly: backend errors and panics become
// zero-confidence results carrying the error.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/receipt-ocr/internal/scoring"
)

var (
	// ErrEmptyOutput marks a backend call that returned no text.
	ErrEmptyOutput = errors.New("engine returned no text")
	// ErrBackendPanic marks a backend call that panicked.
	ErrBackendPanic = errors.New("engine panicked")
	// ErrUnavailable is returned by backends that are not compiled in or not configured.
	ErrUnavailable = errors.New("engine unavailable")
)

// RawOutput is what a backend returns before scoring.
type RawOutput struct {
	Text string
	// TokenConfidences are per-token (usually per-word) confidences on a 0-100 scale.
	TokenConfidences []float64
}

// Backend is a text-recognition implementation. Implementations must be
// safe for concurrent use and should return promptly once ctx is done.
type Backend interface {
	Name() string
	RecognizeRaw(ctx context.Context, img image.Image, langs []string) (RawOutput, error)
}

// Error ties a failure to the engine and operation that produced it.
type Error struct {
	Engine string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: %s: %v", e.Engine, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is one engine invocation, normalized.
type Result struct {
	Engine           string        `json:"engine"`
	Text             string        `json:"text"`
	Confidence       float64       `json:"confidence"`
	RawConfidence    float64       `json:"raw_confidence"`
	Boosted          bool          `json:"boosted"`
	TokenConfidences []float64     `json:"-"`
	Elapsed          time.Duration `json:"elapsed"`
	Err              error         `json:"-"`
}

// OK reports whether the invocation produced usable text.
func (r Result) OK() bool { return r.Err == nil }

// Adapter turns a Backend into a well-behaved recognizer.
type Adapter struct {
	backend Backend
	scorer  *scoring.Scorer
	logger  *slog.Logger
}

// NewAdapter wraps backend. A nil scorer uses scoring.DefaultConfig(); a nil
// logger uses slog.Default().
func NewAdapter(backend Backend, scorer *scoring.Scorer, logger *slog.Logger) *Adapter {
	if scorer == nil {
		scorer = scoring.New(scoring.DefaultConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{backend: backend, scorer: scorer, logger: logger}
}

// Name returns the backend name.
func (a *Adapter) Name() string { return a.backend.Name() }

// Recognize runs the backend and scores its output. It never panics and never
// returns an error directly; failures are reported through Result.Err with a
// confidence of zero.
func (a *Adapter) Recognize(ctx context.Context, img image.Image, langs []string) (res Result) {
	name := a.backend.Name()
	start := time.Now()
	res.Engine = name

	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Engine:  name,
				Elapsed: time.Since(start),
				Err:     &Error{Engine: name, Op: "recognize", Err: fmt.Errorf("%w: %v", ErrBackendPanic, r)},
			}
			a.logger.Error("engine panicked", "engine", name, "panic", fmt.Sprint(r))
		}
	}()

	raw, err := a.backend.RecognizeRaw(ctx, img, langs)
	res.Elapsed = time.Since(start)
	if err == nil && strings.TrimSpace(raw.Text) == "" {
		err = ErrEmptyOutput
	}
	if err != nil {
		res.Err = &Error{Engine: name, Op: "recognize", Err: err}
		a.logger.Debug("engine failed", "engine", name, "error", err,
			"duration_ms", res.Elapsed.Milliseconds())
		return res
	}

	score := a.scorer.Score(raw.Text, raw.TokenConfidences)
	res.Text = raw.Text
	res.TokenConfidences = raw.TokenConfidences
	res.RawConfidence = score.Raw
	res.Confidence = score.Final
	res.Boosted = score.Boosted
	a.logger.Debug("engine finished", "engine", name, "confidence", res.Confidence,
		"boosted", res.Boosted, "duration_ms", res.Elapsed.Milliseconds())
	return res
}

// Close releases the backend if it holds resources.
func (a *Adapter) Close() error {
	if c, ok := a.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
