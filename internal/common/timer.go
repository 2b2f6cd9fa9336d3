// Package common provides shared utilities including timing functionality.
package common

import (
	"fmt"
	"time"
)

// Timer measures a named operation, optionally against a deadline budget.
type Timer struct {
	start    time.Time
	name     string
	budget   time.Duration
	duration time.Duration
	stopped  bool
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer creates a new timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// NewBudgetTimer creates a named timer that reports usage relative to budget.
func NewBudgetTimer(name string, budget time.Duration) *Timer {
	return &Timer{
		name:   name,
		start:  time.Now(),
		budget: budget,
	}
}

// Stop stops the timer and returns the elapsed duration.
// Calling Stop more than once keeps the first measurement.
func (t *Timer) Stop() time.Duration {
	if !t.stopped {
		t.duration = time.Since(t.start)
		t.stopped = true
	}
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Elapsed returns the time since start, or the recorded duration once stopped.
func (t *Timer) Elapsed() time.Duration {
	if t.stopped {
		return t.duration
	}
	return time.Since(t.start)
}

// Name returns the timer name (empty string if unnamed).
func (t *Timer) Name() string {
	return t.name
}

// Budget returns the deadline budget the timer was created with.
func (t *Timer) Budget() time.Duration {
	return t.budget
}

// Fraction returns elapsed/budget. Zero when no budget is set.
func (t *Timer) Fraction() float64 {
	if t.budget <= 0 {
		return 0
	}
	return float64(t.Elapsed()) / float64(t.budget)
}

// Exceeds reports whether the elapsed time used at least the given share of the budget.
func (t *Timer) Exceeds(share float64) bool {
	return t.budget > 0 && t.Fraction() >= share
}

// String returns a formatted string representation of the timer.
func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return fmt.Sprintf("%v", t.duration)
}
