package pipeline

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/receipt-ocr/internal/mempool"
	"github.com/MeKo-Tech/receipt-ocr/internal/metrics"
)

// ResourceLimits bound memory and concurrency of recognition.
type ResourceLimits struct {
	// PerAttemptMemoryMB is the heap growth one tier attempt may cause before
	// a cleanup is triggered (0 = no limit).
	PerAttemptMemoryMB int `json:"per_attempt_memory_mb"`
	// GlobalProcessMemoryMB is the live heap above which expensive tiers are
	// not started (0 = no limit).
	GlobalProcessMemoryMB int `json:"global_process_memory_mb"`
	// MaxConcurrentEngines bounds engine goroutines across all requests (0 = no limit).
	MaxConcurrentEngines int `json:"max_concurrent_engines"`
}

// DefaultResourceLimits returns the default limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		PerAttemptMemoryMB:    256,
		GlobalProcessMemoryMB: 1024,
		MaxConcurrentEngines:  8,
	}
}

// inputBytesPerPixel is the in-memory size of one decoded RGBA pixel.
const inputBytesPerPixel = 4

// MaxInputPixels is the largest width*height accepted for decoding: the
// number of RGBA pixels that fit in the per-attempt ceiling. 0 means no limit.
func (l ResourceLimits) MaxInputPixels() int64 {
	if l.PerAttemptMemoryMB <= 0 {
		return 0
	}
	return int64(l.PerAttemptMemoryMB) * bytesPerMB / inputBytesPerPixel
}

// ResourceStats holds resource guard counters.
type ResourceStats struct {
	Attempts          int       `json:"attempts"`
	Breaches          int       `json:"breaches"`
	Cleanups          int       `json:"cleanups"`
	Refusals          int       `json:"refusals"`
	PeakAllocBytes    uint64    `json:"peak_alloc_bytes"`
	CurrentAllocBytes uint64    `json:"current_alloc_bytes"`
	LastDeltaBytes    int64     `json:"last_delta_bytes"`
	LastBreach        time.Time `json:"last_breach"`
}

// ResourceGuard snapshots memory around tier attempts, cleans up after
// attempts that grew the heap beyond their ceiling and refuses expensive
// tiers while the process is over its global ceiling. It never fails an
// attempt that already completed.
type ResourceGuard struct {
	limits  ResourceLimits
	sample  func() MemStats
	cleanup func()
	logger  *slog.Logger
	metrics *metrics.Metrics

	cleaning atomic.Bool
	wg       sync.WaitGroup

	statsMutex sync.Mutex
	stats      ResourceStats
}

// NewResourceGuard creates a guard. Nil sampler uses GetMemStats.
func NewResourceGuard(limits ResourceLimits, sampler func() MemStats, logger *slog.Logger, m *metrics.Metrics) *ResourceGuard {
	if sampler == nil {
		sampler = GetMemStats
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceGuard{
		limits:  limits,
		sample:  sampler,
		cleanup: releaseMemory,
		logger:  logger,
		metrics: m,
	}
}

// releaseMemory drops pooled pixel buffers and returns freed memory to the OS.
func releaseMemory() {
	mempool.Drain()
	runtime.GC()
	debug.FreeOSMemory()
}

// Budget is the resource scope of one tier attempt.
type Budget struct {
	Tier          string
	MemoryCeiling uint64
	Deadline      time.Duration

	guard *ResourceGuard
	start MemStats
	once  sync.Once
}

// Begin opens a budget for one tier attempt.
func (g *ResourceGuard) Begin(tier string, deadline time.Duration) *Budget {
	b := &Budget{
		Tier:          tier,
		MemoryCeiling: megabytes(g.limits.PerAttemptMemoryMB),
		Deadline:      deadline,
		guard:         g,
		start:         g.sample(),
	}
	g.statsMutex.Lock()
	g.stats.Attempts++
	g.statsMutex.Unlock()
	return b
}

// End closes the budget and reports the heap delta of the attempt and whether
// it breached the ceiling. A breach logs a warning and schedules an
// asynchronous cleanup. Calling End more than once has no further effect.
func (b *Budget) End() (delta int64, breached bool) {
	b.once.Do(func() {
		g := b.guard
		after := g.sample()
		delta = int64(after.AllocBytes) - int64(b.start.AllocBytes)
		breached = b.MemoryCeiling > 0 && delta > int64(b.MemoryCeiling)

		g.statsMutex.Lock()
		g.stats.LastDeltaBytes = delta
		g.stats.CurrentAllocBytes = after.AllocBytes
		if after.AllocBytes > g.stats.PeakAllocBytes {
			g.stats.PeakAllocBytes = after.AllocBytes
		}
		if breached {
			g.stats.Breaches++
			g.stats.LastBreach = time.Now()
		}
		g.statsMutex.Unlock()

		if breached {
			g.logger.Warn("attempt exceeded memory ceiling",
				"tier", b.Tier,
				"delta_mb", float64(delta)/bytesPerMB,
				"ceiling_mb", g.limits.PerAttemptMemoryMB)
			g.metrics.ResourceBreach(b.Tier)
			g.cleanupAsync()
		}
	})
	return delta, breached
}

// Admit decides whether a tier may start. Only expensive tiers are refused,
// and only while the live heap is above the global ceiling.
func (g *ResourceGuard) Admit(tier string, expensive bool) error {
	limit := megabytes(g.limits.GlobalProcessMemoryMB)
	if !expensive || limit == 0 {
		return nil
	}
	current := g.sample()
	if current.AllocBytes <= limit {
		return nil
	}

	g.statsMutex.Lock()
	g.stats.Refusals++
	stats := g.stats
	g.statsMutex.Unlock()

	g.logger.Warn("refusing expensive tier under memory pressure",
		"tier", tier, "alloc_mb", current.AllocMB(), "limit_mb", g.limits.GlobalProcessMemoryMB)
	g.metrics.Refusal(tier)
	g.cleanupAsync()

	err := NewMemoryLimitError(current.AllocBytes, limit)
	err.Stats = stats
	return err
}

// cleanupAsync runs at most one cleanup at a time in the background.
func (g *ResourceGuard) cleanupAsync() {
	if !g.cleaning.CompareAndSwap(false, true) {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.cleaning.Store(false)

		before := g.sample()
		g.cleanup()
		after := g.sample()

		g.statsMutex.Lock()
		g.stats.Cleanups++
		g.statsMutex.Unlock()
		g.metrics.Cleanup()
		g.logger.Debug("memory cleanup finished",
			"before_mb", before.AllocMB(), "after_mb", after.AllocMB())
	}()
}

// Wait blocks until background cleanups have finished.
func (g *ResourceGuard) Wait() { g.wg.Wait() }

// Stats returns a copy of the guard counters.
func (g *ResourceGuard) Stats() ResourceStats {
	g.statsMutex.Lock()
	defer g.statsMutex.Unlock()
	return g.stats
}

// ResourceError represents an error related to resource management.
type ResourceError struct {
	Type    string
	Message string
	Stats   ResourceStats
}

func (e ResourceError) Error() string {
	return fmt.Sprintf("resource error (%s): %s", e.Type, e.Message)
}

// NewMemoryLimitError creates a new memory limit error.
func NewMemoryLimitError(current, limit uint64) *ResourceError {
	return &ResourceError{
		Type:    "memory_limit",
		Message: fmt.Sprintf("memory usage %d bytes exceeds limit %d bytes", current, limit),
	}
}
