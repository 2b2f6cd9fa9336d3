// Package batch recognizes many receipt files concurrently and formats the
// collected outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/receipt-ocr/internal/pipeline"
)

// Recognizer is the part of *pipeline.Pipeline a batch run needs.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, opts pipeline.Options) pipeline.Outcome
}

// ErrNoFiles is returned when discovery found nothing to process.
var ErrNoFiles = errors.New("no receipt files found")

// Process discovers files under paths and recognizes them with rec.
// A nil progress callback reports nothing.
func Process(ctx context.Context, rec Recognizer, paths []string, cfg Config, progress ProgressCallback) (*Result, error) {
	files, err := discoverFiles(paths, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover receipt files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if progress == nil {
		progress = NoOpProgressCallback{}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}

	start := time.Now()
	outcomes := processFiles(ctx, rec, files, cfg, workers, progress)
	return &Result{
		Outcomes: outcomes,
		Paths:    files,
		Duration: time.Since(start),
		Workers:  workers,
	}, nil
}
