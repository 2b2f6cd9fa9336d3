package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine/mock"
	"github.com/MeKo-Tech/receipt-ocr/internal/preprocess"
	"github.com/MeKo-Tech/receipt-ocr/internal/scoring"
)

var tierNames = []string{"quick", "standard", "comprehensive"}

// testTiers builds cheap tiers with the given deadlines.
func testTiers(deadlines ...time.Duration) []TierConfig {
	tiers := make([]TierConfig, len(deadlines))
	for i, d := range deadlines {
		tiers[i] = TierConfig{
			Name:     tierNames[i],
			Deadline: d,
			Recipe:   preprocess.Recipe{{Name: "grayscale"}},
		}
	}
	return tiers
}

type engineDef struct {
	spec    EngineSpec
	backend *mock.Backend
}

func eng(b *mock.Backend, weight, threshold float64) engineDef {
	return engineDef{spec: EngineSpec{Name: b.EngineName, Weight: weight, Threshold: threshold}, backend: b}
}

// testBuilder returns a builder without resource limits or scoring boost.
func testBuilder(tiers []TierConfig, engines ...engineDef) *Builder {
	b := NewBuilder().
		WithTiers(tiers...).
		WithResourceLimits(ResourceLimits{}).
		WithScoring(scoring.Config{Boost: 0}).
		WithCollectGrace(20 * time.Millisecond)
	for _, e := range engines {
		b.WithEngine(e.spec, e.backend)
	}
	return b
}

func mustBuild(t *testing.T, b *Builder) *Pipeline {
	t.Helper()
	p, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}
