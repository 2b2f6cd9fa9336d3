package batch

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/MeKo-Tech/receipt-ocr/internal/pipeline"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Recognition options applied to every file
	Languages []string
	Deadline  time.Duration
	SkipCache bool

	// Output
	Format     string
	OutputFile string
	Precision  int

	// Parallel processing
	Workers int

	// File discovery
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Progress
	ShowProgress     bool
	Quiet            bool
	ProgressInterval time.Duration
}

// DefaultConfig returns the batch defaults.
func DefaultConfig() Config {
	return Config{
		Format:           "text",
		Precision:        2,
		Workers:          max(1, runtime.NumCPU()/2),
		IncludePatterns:  DefaultIncludePatterns(),
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Result holds the result of batch processing.
type Result struct {
	Outcomes []pipeline.Outcome
	Paths    []string
	Duration time.Duration
	Workers  int
}

// Stats summarizes a batch run.
type Stats struct {
	Total       int
	Succeeded   int
	Failed      int
	Partial     int
	CacheHits   int
	Duration    time.Duration
	PerFile     time.Duration
	FilesPerSec float64
}

// Stats computes summary statistics.
func (r *Result) Stats() Stats {
	s := Stats{Total: len(r.Outcomes), Duration: r.Duration}
	for _, o := range r.Outcomes {
		switch {
		case !o.OK():
			s.Failed++
		case o.Partial:
			s.Partial++
			s.Succeeded++
		default:
			s.Succeeded++
		}
		if o.CacheHit {
			s.CacheHits++
		}
	}
	if s.Total > 0 {
		s.PerFile = r.Duration / time.Duration(s.Total)
	}
	if r.Duration > 0 {
		s.FilesPerSec = float64(s.Total) / r.Duration.Seconds()
	}
	return s
}

// FormatResults formats the outcomes in the given format.
func (r *Result) FormatResults(format string, precision int) (string, error) {
	return formatResults(r.Outcomes, r.Paths, format, precision)
}

// SaveResults writes the formatted results to outputFile, or to w when no
// file is given.
func (r *Result) SaveResults(w io.Writer, format string, precision int, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format, precision)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
		}
		return nil
	}
	_, err = fmt.Fprint(w, output)
	return err
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer) {
	s := r.Stats()
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total files: %d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Succeeded: %d (partial: %d, cached: %d)\n", s.Succeeded, s.Partial, s.CacheHits)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", r.Workers)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", s.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per file: %v\n", s.PerFile.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f files/sec\n", s.FilesPerSec)
}
