// Package metrics holds the prometheus collectors of the recognition
// pipeline. Collectors are registered on an injected registerer so tests and
// embedding applications keep their own registries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "receipt_ocr"

// Metrics is a set of pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	recognitions       *prometheus.CounterVec
	recognitionSeconds prometheus.Histogram
	cacheLookups       *prometheus.CounterVec
	tierAttempts       *prometheus.CounterVec
	tierSeconds        *prometheus.HistogramVec
	deadlineWarnings   *prometheus.CounterVec
	engineInvocations  *prometheus.CounterVec
	engineConfidence   *prometheus.HistogramVec
	votingMethods      *prometheus.CounterVec
	resourceBreaches   *prometheus.CounterVec
	cleanups           prometheus.Counter
	refusals           *prometheus.CounterVec
	jobs               *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		recognitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Recognition requests by outcome",
		}, []string{"outcome"}), // outcome: success, partial, failure, cache_hit

		recognitionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_duration_seconds",
			Help:      "Wall-clock time of a recognition request",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		}),

		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups",
		}, []string{"result"}), // result: hit, miss

		tierAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_attempts_total",
			Help:      "Strategy tier attempts by status",
		}, []string{"tier", "status"}),

		tierSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tier_duration_seconds",
			Help:      "Duration of strategy tier attempts",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"tier"}),

		deadlineWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadline_warnings_total",
			Help:      "Attempts that used at least 80% of their deadline",
		}, []string{"tier"}),

		engineInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_invocations_total",
			Help:      "Engine invocations by status",
		}, []string{"engine", "status"}), // status: ok, error, abandoned

		engineConfidence: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_confidence",
			Help:      "Normalized confidence of successful engine invocations",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"engine"}),

		votingMethods: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voting_methods_total",
			Help:      "Voting method of produced results",
		}, []string{"method"}),

		resourceBreaches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_breaches_total",
			Help:      "Tier attempts whose memory delta exceeded the per-attempt ceiling",
		}, []string{"tier"}),

		cleanups: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_cleanups_total",
			Help:      "Asynchronous memory cleanups run",
		}),

		refusals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_refusals_total",
			Help:      "Tiers not started because process memory exceeded the global ceiling",
		}, []string{"tier"}),

		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_total",
			Help:      "Queue jobs processed by status",
		}, []string{"status"}),
	}
}

// Recognition records a finished request.
func (m *Metrics) Recognition(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.recognitions.WithLabelValues(outcome).Inc()
	m.recognitionSeconds.Observe(d.Seconds())
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// TierAttempt records one tier attempt.
func (m *Metrics) TierAttempt(tier, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tierAttempts.WithLabelValues(tier, status).Inc()
	m.tierSeconds.WithLabelValues(tier).Observe(d.Seconds())
}

// DeadlineWarning records an attempt close to its deadline.
func (m *Metrics) DeadlineWarning(tier string) {
	if m == nil {
		return
	}
	m.deadlineWarnings.WithLabelValues(tier).Inc()
}

// EngineInvocation records one engine call. Confidence is observed only for
// status "ok".
func (m *Metrics) EngineInvocation(engine, status string, confidence float64) {
	if m == nil {
		return
	}
	m.engineInvocations.WithLabelValues(engine, status).Inc()
	if status == "ok" {
		m.engineConfidence.WithLabelValues(engine).Observe(confidence)
	}
}

// VotingMethod records how a result was produced.
func (m *Metrics) VotingMethod(method string) {
	if m == nil {
		return
	}
	m.votingMethods.WithLabelValues(method).Inc()
}

// ResourceBreach records a per-attempt memory ceiling breach.
func (m *Metrics) ResourceBreach(tier string) {
	if m == nil {
		return
	}
	m.resourceBreaches.WithLabelValues(tier).Inc()
}

// Cleanup records an asynchronous cleanup run.
func (m *Metrics) Cleanup() {
	if m == nil {
		return
	}
	m.cleanups.Inc()
}

// Refusal records a tier refused under memory pressure.
func (m *Metrics) Refusal(tier string) {
	if m == nil {
		return
	}
	m.refusals.WithLabelValues(tier).Inc()
}

// Job records a processed queue job.
func (m *Metrics) Job(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}
