// Package queue feeds receipt images from a redis list into the pipeline
// and stores the outcomes in a redis hash, so several worker processes can
// share one queue.
package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MeKo-Tech/receipt-ocr/internal/metrics"
	"github.com/MeKo-Tech/receipt-ocr/internal/pipeline"
)

// Job statuses as stored in result records and reported to metrics.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusInvalid   = "invalid"
)

const defaultPollTimeout = 5 * time.Second

// ErrInvalidJob marks payloads that cannot be decoded into a job.
var ErrInvalidJob = errors.New("invalid job")

// Job is the JSON document pushed onto the queue.
type Job struct {
	ID         string    `json:"id"`
	Image      string    `json:"image"` // base64, standard encoding
	Languages  []string  `json:"languages,omitempty"`
	DeadlineMS int       `json:"deadline_ms,omitempty"`
	SkipCache  bool      `json:"skip_cache,omitempty"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record is what a worker writes to the results hash under the job id.
type Record struct {
	JobID      string            `json:"job_id"`
	Status     string            `json:"status"`
	Source     string            `json:"source,omitempty"`
	Error      string            `json:"error,omitempty"`
	Outcome    *pipeline.Outcome `json:"outcome,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Recognizer is the part of *pipeline.Pipeline the consumer needs.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, opts pipeline.Options) pipeline.Outcome
}

// Options configures a Consumer.
type Options struct {
	Queue       string
	ResultsKey  string
	Concurrency int
	// JobTimeout bounds one recognition. Zero leaves the tier ladder as the only bound.
	JobTimeout time.Duration
	// PollTimeout is the BRPOP block time.
	PollTimeout time.Duration
}

// Consumer pops jobs with BRPOP and processes them concurrently.
type Consumer struct {
	client  redis.UniversalClient
	rec     Recognizer
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewConsumer creates a consumer. A nil logger uses slog.Default.
func NewConsumer(client redis.UniversalClient, rec Recognizer, opts Options, logger *slog.Logger,
	m *metrics.Metrics,
) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("queue: redis client is required")
	}
	if rec == nil {
		return nil, errors.New("queue: recognizer is required")
	}
	if opts.Queue == "" || opts.ResultsKey == "" {
		return nil, errors.New("queue: queue and results key are required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, rec: rec, opts: opts, logger: logger, metrics: m}, nil
}

// Run consumes jobs until ctx is canceled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("queue consumer started",
		"queue", c.opts.Queue,
		"results_key", c.opts.ResultsKey,
		"concurrency", c.opts.Concurrency)

	var wg sync.WaitGroup
	for i := range c.opts.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, i)
		}()
	}
	wg.Wait()

	c.logger.Info("queue consumer stopped", "queue", c.opts.Queue)
	return nil
}

func (c *Consumer) worker(ctx context.Context, id int) {
	logger := c.logger.With("worker", id)
	for ctx.Err() == nil {
		res, err := c.client.BRPop(ctx, c.opts.PollTimeout, c.opts.Queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Warn("failed to fetch job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		case len(res) < 2:
			continue
		}

		rec := c.Process(ctx, []byte(res[1]))
		if err := c.store(ctx, rec); err != nil {
			logger.Error("failed to store job result", "job_id", rec.JobID, "error", err)
		}
	}
}

// Process decodes one payload and recognizes it. It never fails: problems
// are reported in the returned record.
func (c *Consumer) Process(ctx context.Context, payload []byte) Record {
	job, data, err := DecodeJob(payload)
	if err != nil {
		c.logger.Warn("dropping invalid job", "job_id", job.ID, "error", err)
		c.metrics.Job(StatusInvalid)
		return Record{JobID: job.ID, Status: StatusInvalid, Error: err.Error(), FinishedAt: time.Now().UTC()}
	}

	if c.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.JobTimeout)
		defer cancel()
	}

	out := c.rec.Recognize(ctx, data, pipeline.Options{
		Languages: job.Languages,
		Deadline:  time.Duration(job.DeadlineMS) * time.Millisecond,
		SkipCache: job.SkipCache,
		RequestID: job.ID,
	})

	rec := Record{JobID: job.ID, Source: job.Source, Outcome: &out, FinishedAt: time.Now().UTC()}
	switch {
	case !out.OK():
		rec.Status = StatusFailed
		rec.Error = out.Error
	case out.Partial:
		rec.Status = StatusPartial
	default:
		rec.Status = StatusCompleted
	}
	c.metrics.Job(rec.Status)
	c.logger.Info("job processed",
		"job_id", job.ID,
		"status", rec.Status,
		"tier", out.StrategyTierUsed,
		"confidence", out.Confidence,
		"duration_ms", out.Elapsed.Milliseconds())
	return rec
}

func (c *Consumer) store(ctx context.Context, rec Record) error {
	if rec.JobID == "" {
		return nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	// Results outlive a canceled consumer.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return c.client.HSet(ctx, c.opts.ResultsKey, rec.JobID, b).Err()
}

// DecodeJob parses a queue payload and its base64 image. A job without an
// id gets a fresh one; the id is returned even when decoding fails later.
func DecodeJob(payload []byte) (Job, []byte, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Image == "" {
		return job, nil, fmt.Errorf("%w: job %s has no image", ErrInvalidJob, job.ID)
	}
	if job.DeadlineMS < 0 {
		return job, nil, fmt.Errorf("%w: job %s has a negative deadline", ErrInvalidJob, job.ID)
	}
	data, err := base64.StdEncoding.DecodeString(job.Image)
	if err != nil {
		return job, nil, fmt.Errorf("%w: job %s image: %w", ErrInvalidJob, job.ID, err)
	}
	return job, data, nil
}

// NewJob builds a job for data with a fresh id.
func NewJob(data []byte, source string) Job {
	return Job{
		ID:        uuid.NewString(),
		Image:     base64.StdEncoding.EncodeToString(data),
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// Enqueue pushes job onto queue. Consumers pop from the other end, so jobs
// are processed in submission order.
func Enqueue(ctx context.Context, client redis.UniversalClient, queue string, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return client.LPush(ctx, queue, b).Err()
}

// Lookup reads the record of a job from the results hash.
func Lookup(ctx context.Context, client redis.UniversalClient, resultsKey, jobID string) (Record, bool, error) {
	b, err := client.HGet(ctx, resultsKey, jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to decode result of job %s: %w", jobID, err)
	}
	return rec, true, nil
}
