package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/receipt-ocr/internal/common"
	"github.com/MeKo-Tech/receipt-ocr/internal/metrics"
)

// ErrPartial marks an attempt that ran out of time after producing a usable
// but incomplete value. The ladder treats it as a timeout and keeps the value.
var ErrPartial = errors.New("partial result")

const (
	// DefaultWarnFraction is the share of a deadline above which an attempt
	// is reported as running close to its limit.
	DefaultWarnFraction = 0.8
	// DefaultCollectGrace is how long a timed-out attempt may take to hand
	// back what it collected before it is abandoned.
	DefaultCollectGrace = 50 * time.Millisecond
)

// TimeoutError is returned when every attempt of a ladder timed out.
type TimeoutError struct {
	Operation string
	Attempts  int
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: all %d attempts timed out after %v", e.Operation, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// Is lets errors.Is(err, context.DeadlineExceeded) match exhausted ladders.
func (e *TimeoutError) Is(target error) bool { return target == context.DeadlineExceeded }

// Attempt is one rung of a progressive ladder.
type Attempt[T any] struct {
	Name        string
	Deadline    time.Duration
	Description string
	Run         func(ctx context.Context) (T, error)
}

// ProgressiveOptions tune RunProgressive.
type ProgressiveOptions struct {
	Operation string
	// Budget caps the total run time. Each attempt gets min(deadline, remaining).
	Budget       time.Duration
	WarnFraction float64
	CollectGrace time.Duration
	// Admit is consulted before every attempt but the first. A non-nil error
	// skips the attempt.
	Admit   func(name string) error
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// ProgressiveResult is what a ladder produced.
type ProgressiveResult[T any] struct {
	Value T
	// Attempt is the name of the rung that produced Value.
	Attempt        string
	FailedAttempts int
	Partial        bool
	Reports        []AttemptReport
	Elapsed        time.Duration
}

// RunProgressive runs attempts in order until one succeeds within its own
// deadline. A timed-out attempt has its context cancelled and the next one
// starts. When every attempt fails, the most recent partial value is returned
// if there is one; otherwise a *TimeoutError, unless the last attempt failed
// with a non-timeout error, which is returned as is.
func RunProgressive[T any](ctx context.Context, opts ProgressiveOptions, attempts []Attempt[T]) (ProgressiveResult[T], error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WarnFraction <= 0 {
		opts.WarnFraction = DefaultWarnFraction
	}
	if opts.CollectGrace <= 0 {
		opts.CollectGrace = DefaultCollectGrace
	}

	var (
		res         ProgressiveResult[T]
		lastErr     error
		ran         int
		partial     T
		partialFrom string
		hasPartial  bool
	)
	start := time.Now()

	for i, a := range attempts {
		if err := ctx.Err(); err != nil {
			res.Reports = append(res.Reports, skippedReports(attempts[i:], "context done")...)
			if lastErr == nil || !isTimeout(err) {
				lastErr = err
			}
			break
		}

		deadline := a.Deadline
		if opts.Budget > 0 {
			remaining := opts.Budget - time.Since(start)
			if remaining <= 0 {
				res.Reports = append(res.Reports, skippedReports(attempts[i:], "deadline budget exhausted")...)
				break
			}
			deadline = min(deadline, remaining)
		}

		if i > 0 && opts.Admit != nil {
			if err := opts.Admit(a.Name); err != nil {
				opts.Logger.Warn("attempt skipped", "operation", opts.Operation, "tier", a.Name, "reason", err.Error())
				res.Reports = append(res.Reports, AttemptReport{
					Tier: a.Name, Status: StatusSkipped, Deadline: deadline, Error: err.Error(),
				})
				opts.Metrics.TierAttempt(a.Name, string(StatusSkipped), 0)
				continue
			}
		}

		timer := common.NewBudgetTimer(a.Name, deadline)
		value, err := runAttempt(ctx, a, deadline, opts.CollectGrace)
		elapsed := timer.Stop()
		ran++

		report := AttemptReport{Tier: a.Name, Deadline: deadline, Elapsed: elapsed}
		switch {
		case err == nil:
			report.Status = StatusSuccess
		case isTimeout(err):
			report.Status = StatusTimeout
			report.Error = err.Error()
		default:
			report.Status = StatusError
			report.Error = err.Error()
		}
		res.Reports = append(res.Reports, report)
		opts.Metrics.TierAttempt(a.Name, string(report.Status), elapsed)

		logArgs := []any{
			"operation", opts.Operation,
			"tier", a.Name,
			"status", report.Status,
			"elapsed_ms", elapsed.Milliseconds(),
			"deadline_ms", deadline.Milliseconds(),
		}
		if timer.Exceeds(opts.WarnFraction) {
			opts.Logger.Warn("attempt close to deadline", append(logArgs, "deadline_used", timer.Fraction())...)
			opts.Metrics.DeadlineWarning(a.Name)
		} else {
			opts.Logger.Info("attempt finished", logArgs...)
		}

		if err == nil {
			res.Value = value
			res.Attempt = a.Name
			res.Elapsed = time.Since(start)
			return res, nil
		}

		res.FailedAttempts++
		lastErr = err
		if errors.Is(err, ErrPartial) {
			partial, partialFrom, hasPartial = value, a.Name, true
		}
	}

	res.Elapsed = time.Since(start)
	if hasPartial {
		res.Value = partial
		res.Attempt = partialFrom
		res.Partial = true
		opts.Logger.Warn("returning partial result", "operation", opts.Operation, "tier", partialFrom)
		return res, nil
	}
	if lastErr == nil || isTimeout(lastErr) {
		return res, &TimeoutError{Operation: opts.Operation, Attempts: ran, Elapsed: res.Elapsed}
	}
	return res, lastErr
}

// runAttempt runs a.Run under its own deadline. The function runs in its own
// goroutine so an attempt that ignores cancellation is abandoned once the
// grace period after the deadline has passed.
func runAttempt[T any](ctx context.Context, a Attempt[T], deadline, grace time.Duration) (T, error) {
	actx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("attempt %s panicked: %v", a.Name, r)}
			}
		}()
		v, err := a.Run(actx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-actx.Done():
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case r := <-done:
		if r.err == nil {
			// Finished, but not within its own deadline.
			r.err = fmt.Errorf("%w: finished after deadline", ErrPartial)
		}
		return r.value, r.err
	case <-graceTimer.C:
		var zero T
		return zero, actx.Err()
	}
}

func isTimeout(err error) bool {
	var te *TimeoutError
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPartial) || errors.As(err, &te)
}

func skippedReports[T any](rest []Attempt[T], reason string) []AttemptReport {
	out := make([]AttemptReport, 0, len(rest))
	for _, a := range rest {
		out = append(out, AttemptReport{Tier: a.Name, Status: StatusSkipped, Deadline: a.Deadline, Error: reason})
	}
	return out
}
