package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Recognition("success", 120*time.Millisecond)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.TierAttempt("quick", "timeout", time.Second)
	m.TierAttempt("standard", "success", time.Second)
	m.DeadlineWarning("quick")
	m.EngineInvocation("tesseract", "ok", 0.8)
	m.EngineInvocation("vision", "error", 0)
	m.VotingMethod("weighted_voting")
	m.ResourceBreach("standard")
	m.Cleanup()
	m.Refusal("comprehensive")
	m.Job("done")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.recognitions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tierAttempts.WithLabelValues("quick", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadlineWarnings.WithLabelValues("quick")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.engineInvocations.WithLabelValues("vision", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.votingMethods.WithLabelValues("weighted_voting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cleanups))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refusals.WithLabelValues("comprehensive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("done")))

	// Failed invocations do not pollute the confidence histogram.
	assert.Equal(t, 1, testutil.CollectAndCount(m.engineConfidence))

	expected := `
# HELP receipt_ocr_resource_breaches_total Tier attempts whose memory delta exceeded the per-attempt ceiling
# TYPE receipt_ocr_resource_breaches_total counter
receipt_ocr_resource_breaches_total{tier="standard"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "receipt_ocr_resource_breaches_total"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Recognition("failure", time.Second)
		m.CacheLookup(true)
		m.TierAttempt("quick", "success", 0)
		m.DeadlineWarning("quick")
		m.EngineInvocation("x", "ok", 1)
		m.VotingMethod("no_results")
		m.ResourceBreach("quick")
		m.Cleanup()
		m.Refusal("quick")
		m.Job("failed")
	})
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
		New(nil)
	})
}
