package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/receipt-ocr/internal/pipeline"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	require.Len(t, cfg.Tiers, 3)
	assert.Equal(t, "quick", cfg.Tiers[0].Name)
	assert.Equal(t, 2000, cfg.Tiers[0].DeadlineMS)
	assert.True(t, cfg.Tiers[2].SkipUnderPressure)
	assert.Equal(t, []string{"tesseract"}, cfg.EnabledEngines())
	assert.Equal(t, 256, cfg.Cache.MaxEntries)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 1024, cfg.Resources.GlobalProcessMemoryMB)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Output.Format = "xml" }, "invalid output format"},
		{"precision", func(c *Config) { c.Output.ConfidencePrecision = 9 }, "confidence precision"},
		{"no tiers", func(c *Config) { c.Tiers = nil }, "at least one strategy tier"},
		{"duplicate tier", func(c *Config) { c.Tiers[1].Name = "quick" }, "duplicate tier"},
		{"zero deadline", func(c *Config) { c.Tiers[0].DeadlineMS = 0 }, "deadline must be positive"},
		{"shrinking deadline", func(c *Config) { c.Tiers[1].DeadlineMS = 1000 }, "shorter than the previous"},
		{"unknown step", func(c *Config) {
			c.Tiers[0].Recipe = append(c.Tiers[0].Recipe, c.Tiers[0].Recipe[0])
			c.Tiers[0].Recipe[len(c.Tiers[0].Recipe)-1].Name = "warp"
		}, "warp"},
		{"no engines", func(c *Config) {
			e := c.Engines["tesseract"]
			e.Enabled = false
			c.Engines["tesseract"] = e
		}, "no engine enabled"},
		{"negative weight", func(c *Config) {
			e := c.Engines["tesseract"]
			e.PriorityWeight = -1
			c.Engines["tesseract"] = e
		}, "priority_weight"},
		{"threshold", func(c *Config) {
			e := c.Engines["tesseract"]
			e.MinConfidenceThreshold = 1.5
			c.Engines["tesseract"] = e
		}, "min_confidence_threshold"},
		{"cache size", func(c *Config) { c.Cache.MaxEntries = 0 }, "cache max entries"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "invalid cache backend"},
		{"redis addr", func(c *Config) {
			c.Cache.Backend = CacheBackendRedis
			c.Cache.Redis.Addr = ""
		}, "cache.redis.addr"},
		{"memory limit", func(c *Config) { c.Resources.PerAttemptMemoryMB = -1 }, "must not be negative"},
		{"boost", func(c *Config) { c.Scoring.Boost = 0.5 }, "scoring boost"},
		{"worker", func(c *Config) { c.Worker.Concurrency = 0 }, "worker concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DisabledEngineNotChecked(t *testing.T) {
	cfg := DefaultConfig()
	e := cfg.Engines["openai"]
	e.MinConfidenceThreshold = 7
	cfg.Engines["openai"] = e
	assert.NoError(t, cfg.Validate())
}

func TestToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resources.MaxConcurrentEngines = 3
	cfg.Cache.MaxEntries = 10
	cfg.Scoring.Boost = 0.05

	pc := cfg.ToPipelineConfig()
	require.Len(t, pc.Tiers, 3)
	assert.Equal(t, pipeline.DefaultTiers(), pc.Tiers)
	assert.Equal(t, 3, pc.Limits.MaxConcurrentEngines)
	assert.Equal(t, 10, pc.CacheMaxEntries)
	assert.InDelta(t, 0.05, pc.Scoring.Boost, 1e-9)
	assert.Equal(t, pipeline.DefaultCollectGrace, pc.CollectGrace)
}

func TestEngineAccessors(t *testing.T) {
	cfg := DefaultConfig()
	spec := cfg.EngineSpec("openai")
	assert.Equal(t, pipeline.EngineSpec{Name: "openai", Weight: 0.6, Threshold: 0.4}, spec)

	s := cfg.EngineSettings("tesseract")
	assert.Equal(t, []string{"eng"}, s.Languages)
	assert.Equal(t, "gpt-4o-mini", cfg.EngineSettings("openai").Model)
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Redis.TTLSec = 60
	assert.Equal(t, time.Minute, cfg.RedisOptions().TTL)
	assert.Equal(t, 256, cfg.RedisOptions().MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout())
}
