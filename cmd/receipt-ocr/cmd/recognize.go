package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"runtime"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/receipt-ocr/internal/batch"
	"github.com/MeKo-Tech/receipt-ocr/internal/config"
)

// recognizeCmd runs the pipeline over receipt files.
var recognizeCmd = &cobra.Command{
	Use:     "recognize [files or directories...]",
	Aliases: []string{"batch"},
	Short:   "Recognize text in receipt images and PDFs",
	Long: `Recognize text in one or more receipt files. Files are processed in parallel
and the outcomes are printed in input order.

Supported formats: JPEG, PNG, BMP, TIFF, WEBP, GIF, PDF (first page)

Examples:
  receipt-ocr recognize receipt.jpg
  receipt-ocr recognize a.png b.png --format json --output results.json
  receipt-ocr recognize scans/ --recursive --workers 8 --progress
  receipt-ocr recognize receipt.jpg --lang deu --deadline 3s --skip-cache`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runRecognizeCommand,
}

// configToBatchConfig maps centralized configuration to batch.Config.
// Flags override config file values when set.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) (batch.Config, error) {
	bc := batch.DefaultConfig()

	bc.Format = cfg.Output.Format
	if cmd.Flags().Changed("format") {
		bc.Format, _ = cmd.Flags().GetString("format")
	}
	if bc.Format == "" {
		bc.Format = "text"
	}
	if !slices.Contains(batch.Formats, bc.Format) {
		return bc, fmt.Errorf("unsupported format %q (want one of %s)", bc.Format, strings.Join(batch.Formats, ", "))
	}

	bc.OutputFile = cfg.Output.File
	if cmd.Flags().Changed("output") {
		bc.OutputFile, _ = cmd.Flags().GetString("output")
	}

	bc.Precision = cfg.Output.ConfidencePrecision
	if cmd.Flags().Changed("precision") {
		bc.Precision, _ = cmd.Flags().GetInt("precision")
	}

	bc.Workers, _ = cmd.Flags().GetInt("workers")
	if bc.Workers <= 0 {
		bc.Workers = runtime.NumCPU()
	}

	bc.Languages, _ = cmd.Flags().GetStringSlice("lang")
	bc.Deadline, _ = cmd.Flags().GetDuration("deadline")
	if bc.Deadline < 0 {
		return bc, fmt.Errorf("invalid deadline %v (must not be negative)", bc.Deadline)
	}
	bc.SkipCache, _ = cmd.Flags().GetBool("skip-cache")

	bc.Recursive, _ = cmd.Flags().GetBool("recursive")
	if cmd.Flags().Changed("include") {
		bc.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	}
	bc.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")

	bc.ShowProgress, _ = cmd.Flags().GetBool("progress")
	bc.Quiet, _ = cmd.Flags().GetBool("quiet")
	bc.ProgressInterval, _ = cmd.Flags().GetDuration("progress-interval")
	return bc, nil
}

func runRecognizeCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	bc, err := configToBatchConfig(cfg, cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	p, err := buildPipeline(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	var progress batch.ProgressCallback
	switch {
	case bc.ShowProgress && !bc.Quiet:
		progress = batch.NewConsoleProgressCallback(cmd.ErrOrStderr(), "").WithUpdateInterval(bc.ProgressInterval)
	case cfg.Verbose:
		progress = batch.NewLogProgressCallback(logger, 10)
	}

	result, err := batch.Process(ctx, p, args, bc, progress)
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	if err := result.SaveResults(cmd.OutOrStdout(), bc.Format, bc.Precision, bc.OutputFile, bc.Quiet); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	stats := result.Stats()
	if showStats, _ := cmd.Flags().GetBool("stats"); showStats && !bc.Quiet {
		result.PrintStats(cmd.ErrOrStderr())
	}
	if stats.Failed == stats.Total {
		return fmt.Errorf("all %d receipts failed", stats.Total)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	// Output flags
	recognizeCmd.Flags().StringP("format", "f", "text", "output format: "+strings.Join(batch.Formats, ", "))
	recognizeCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	recognizeCmd.Flags().Int("precision", 2, "confidence decimal places in text output")

	// Recognition flags
	recognizeCmd.Flags().StringSlice("lang", nil, "language hints (e.g. eng,deu or en,de)")
	recognizeCmd.Flags().Duration("deadline", 0, "overall deadline per receipt (0 = tier deadlines only)")
	recognizeCmd.Flags().Bool("skip-cache", false, "bypass the result cache lookup")

	// Parallel processing flags
	recognizeCmd.Flags().IntP("workers", "w", 0, fmt.Sprintf("number of parallel workers (default: %d)", runtime.NumCPU()))

	// File discovery flags
	recognizeCmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	recognizeCmd.Flags().StringSlice("include", batch.DefaultIncludePatterns(), "file patterns to include")
	recognizeCmd.Flags().StringSlice("exclude", []string{}, "file patterns to exclude")

	// Progress and monitoring flags
	recognizeCmd.Flags().Bool("progress", false, "show progress bar")
	recognizeCmd.Flags().Bool("quiet", false, "suppress progress output")
	recognizeCmd.Flags().Bool("stats", false, "show processing statistics")
	recognizeCmd.Flags().Duration("progress-interval", 500*time.Millisecond, "progress update interval")
}
