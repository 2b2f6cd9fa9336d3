package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/receipt-ocr/internal/config"
	"github.com/MeKo-Tech/receipt-ocr/internal/metrics"
	"github.com/MeKo-Tech/receipt-ocr/internal/queue"
	"github.com/MeKo-Tech/receipt-ocr/internal/server"
)

// workerCmd consumes recognition jobs from redis.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process receipt jobs from a redis queue",
	Long: `Run a long-lived worker that pops base64 receipt images from a redis list,
recognizes them and writes the outcomes to a redis hash keyed by job id.
Prometheus metrics and a health report are served on --metrics-addr.

The redis connection is the one configured under cache.redis.

Examples:
  receipt-ocr worker
  receipt-ocr worker --concurrency 4 --metrics-addr :9108
  receipt-ocr worker submit receipt.jpg
  receipt-ocr worker result 5f0c...`,
	SilenceUsage: true,
	RunE:         runWorkerCommand,
}

var workerSubmitCmd = &cobra.Command{
	Use:          "submit [files...]",
	Short:        "Push receipt files onto the job queue",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		client, err := dialRedis(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		langs, _ := cmd.Flags().GetStringSlice("lang")
		for _, path := range args {
			data, err := os.ReadFile(path) //nolint:gosec // G304: paths come from CLI arguments
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			job := queue.NewJob(data, filepath.Base(path))
			job.Languages = langs
			if err := queue.Enqueue(cmd.Context(), client, cfg.Worker.Queue, job); err != nil {
				return fmt.Errorf("failed to enqueue %s: %w", path, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", job.ID, path)
		}
		return nil
	},
}

var workerResultCmd = &cobra.Command{
	Use:          "result [job-id]",
	Short:        "Print the stored result of a job",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		client, err := dialRedis(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		rec, ok, err := queue.Lookup(cmd.Context(), client, cfg.Worker.ResultsKey, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no result for job %s (still queued or unknown)", args[0])
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func dialRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	r := cfg.Cache.Redis
	client := redis.NewClient(&redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", r.Addr, err)
	}
	return client, nil
}

func runWorkerCommand(cmd *cobra.Command, _ []string) error {
	cfg := GetConfig()
	wc := cfg.Worker
	if cmd.Flags().Changed("concurrency") {
		wc.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("metrics-addr") {
		wc.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	if cmd.Flags().Changed("queue") {
		wc.Queue, _ = cmd.Flags().GetString("queue")
	}
	if wc.Concurrency <= 0 {
		return fmt.Errorf("invalid concurrency: %d (must be positive)", wc.Concurrency)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	p, err := buildPipeline(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	client, err := dialRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	consumer, err := queue.NewConsumer(client, p, queue.Options{
		Queue:       wc.Queue,
		ResultsKey:  wc.ResultsKey,
		Concurrency: wc.Concurrency,
		JobTimeout:  time.Duration(wc.JobTimeoutMS) * time.Millisecond,
	}, logger, m)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	if wc.MetricsAddr != "" {
		ops := server.New(server.Config{Addr: wc.MetricsAddr}, reg, func() any { return p.Stats() }, logger)
		go func() {
			if err := ops.Run(ctx); err != nil {
				errCh <- err
				stop()
			}
		}()
	}

	if err := consumer.Run(ctx); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerSubmitCmd, workerResultCmd)

	workerCmd.Flags().Int("concurrency", 2, "number of jobs processed in parallel")
	workerCmd.Flags().String("metrics-addr", ":9108", "address for /metrics and /healthz (empty disables)")
	workerCmd.Flags().String("queue", "receipt-ocr:jobs", "redis list to consume")

	workerSubmitCmd.Flags().StringSlice("lang", nil, "language hints for the submitted jobs")
}
