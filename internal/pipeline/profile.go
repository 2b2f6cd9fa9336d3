package pipeline

import (
	"sync/atomic"
)

// Profiler aggregates simple counters/timers across requests.
type Profiler struct {
	Requests     atomic.Int64
	CacheHits    atomic.Int64
	Failures     atomic.Int64
	Partials     atomic.Int64
	TierAttempts atomic.Int64
	ElapsedNs    atomic.Int64
}

// Record adds one outcome.
func (p *Profiler) Record(o Outcome) {
	p.Requests.Add(1)
	p.ElapsedNs.Add(o.Elapsed.Nanoseconds())
	p.TierAttempts.Add(int64(len(o.Attempts)))
	switch o.outcomeLabel() {
	case "cache_hit":
		p.CacheHits.Add(1)
	case "failure":
		p.Failures.Add(1)
	case "partial":
		p.Partials.Add(1)
	}
}

// Snapshot returns cumulative metrics in milliseconds for readability.
func (p *Profiler) Snapshot() map[string]any {
	reqs := p.Requests.Load()
	elapsed := p.ElapsedNs.Load()
	out := map[string]any{
		"requests":       reqs,
		"cache_hits":     p.CacheHits.Load(),
		"failures":       p.Failures.Load(),
		"partials":       p.Partials.Load(),
		"tier_attempts":  p.TierAttempts.Load(),
		"elapsed_ms_sum": elapsed / 1_000_000,
	}
	if reqs > 0 {
		out["elapsed_ms_per_request"] = float64(elapsed) / 1_000_000.0 / float64(reqs)
	}
	return out
}
