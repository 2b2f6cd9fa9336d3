package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/MeKo-Tech/receipt-ocr/internal/cache"
	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
	"github.com/MeKo-Tech/receipt-ocr/internal/pipeline"
	"github.com/MeKo-Tech/receipt-ocr/internal/scoring"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

var (
	validLogLevels     = []string{"debug", "info", "warn", "error"}
	validFormats       = []string{"text", "json", "yaml", "csv"}
	validCacheBackends = []string{CacheBackendMemory, CacheBackendRedis}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	pc := pipeline.DefaultConfig()
	return Config{
		LogLevel:  "info",
		Tiers:     defaultTiers(),
		Engines:   defaultEngines(),
		Resources: defaultResourceLimits(),
		Cache: CacheConfig{
			MaxEntries: pc.CacheMaxEntries,
			Backend:    CacheBackendMemory,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: cache.DefaultKeyPrefix,
			},
		},
		Scoring: ScoringConfig{Boost: pc.Scoring.Boost, MinSignals: pc.Scoring.MinSignals},
		Output:  OutputConfig{Format: "text", ConfidencePrecision: 2},
		Worker: WorkerConfig{
			Queue:        "receipt-ocr:jobs",
			ResultsKey:   "receipt-ocr:results",
			Concurrency:  2,
			MetricsAddr:  ":9108",
			JobTimeoutMS: 30000,
		},
	}
}

func defaultTiers() []TierConfig {
	tiers := pipeline.DefaultTiers()
	out := make([]TierConfig, len(tiers))
	for i, t := range tiers {
		out[i] = TierConfig{
			Name:              t.Name,
			DeadlineMS:        int(t.Deadline / time.Millisecond),
			SkipUnderPressure: t.SkipUnderPressure,
			Recipe:            t.Recipe,
		}
	}
	return out
}

func defaultEngines() map[string]EngineConfig {
	return map[string]EngineConfig{
		"tesseract": {Enabled: true, PriorityWeight: 1.0, MinConfidenceThreshold: 0.3, Languages: []string{"eng"}},
		"vision":    {Enabled: false, PriorityWeight: 0.9, MinConfidenceThreshold: 0.3},
		"openai":    {Enabled: false, PriorityWeight: 0.6, MinConfidenceThreshold: 0.4, Model: "gpt-4o-mini"},
	}
}

func defaultResourceLimits() ResourceLimitsConfig {
	l := pipeline.DefaultResourceLimits()
	return ResourceLimitsConfig{
		PerAttemptMemoryMB:    l.PerAttemptMemoryMB,
		GlobalProcessMemoryMB: l.GlobalProcessMemoryMB,
		MaxConcurrentEngines:  l.MaxConcurrentEngines,
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if c.Output.ConfidencePrecision < 0 || c.Output.ConfidencePrecision > 6 {
		return fmt.Errorf("invalid confidence precision: %d (must be between 0 and 6)", c.Output.ConfidencePrecision)
	}

	// Tier ladder rules live with the pipeline.
	if err := c.ToPipelineConfig().Validate(); err != nil {
		return err
	}

	enabled := c.EnabledEngines()
	if len(enabled) == 0 {
		return fmt.Errorf("no engine enabled (configured: %s)", strings.Join(c.engineNames(), ", "))
	}
	for _, name := range enabled {
		e := c.Engines[name]
		if e.PriorityWeight < 0 {
			return fmt.Errorf("invalid engines.%s.priority_weight: %.2f (must not be negative)", name, e.PriorityWeight)
		}
		if err := validateThreshold(e.MinConfidenceThreshold, "engines."+name+".min_confidence_threshold"); err != nil {
			return err
		}
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("invalid cache max entries: %d (must be positive)", c.Cache.MaxEntries)
	}
	if !slices.Contains(validCacheBackends, c.Cache.Backend) {
		return fmt.Errorf("invalid cache backend: %s (must be one of: %s)", c.Cache.Backend, strings.Join(validCacheBackends, ", "))
	}
	if c.Cache.Backend == CacheBackendRedis && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required for the redis backend")
	}
	if c.Scoring.Boost < 0 || c.Scoring.Boost > scoring.MaxBoost {
		return fmt.Errorf("invalid scoring boost: %.2f (must be between 0 and %.2f)", c.Scoring.Boost, scoring.MaxBoost)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("invalid worker concurrency: %d (must be positive)", c.Worker.Concurrency)
	}
	if c.Worker.JobTimeoutMS < 0 {
		return fmt.Errorf("invalid worker job timeout: %d (must not be negative)", c.Worker.JobTimeoutMS)
	}
	return nil
}

// EnabledEngines returns the names of enabled engines in sorted order.
func (c *Config) EnabledEngines() []string {
	var names []string
	for name, e := range c.Engines {
		if e.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (c *Config) engineNames() []string {
	names := make([]string, 0, len(c.Engines))
	for name := range c.Engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.Tiers = make([]pipeline.TierConfig, len(c.Tiers))
	for i, t := range c.Tiers {
		pc.Tiers[i] = pipeline.TierConfig{
			Name:              t.Name,
			Deadline:          time.Duration(t.DeadlineMS) * time.Millisecond,
			Recipe:            t.Recipe,
			SkipUnderPressure: t.SkipUnderPressure,
		}
	}
	pc.Limits = pipeline.ResourceLimits{
		PerAttemptMemoryMB:    c.Resources.PerAttemptMemoryMB,
		GlobalProcessMemoryMB: c.Resources.GlobalProcessMemoryMB,
		MaxConcurrentEngines:  c.Resources.MaxConcurrentEngines,
	}
	pc.CacheMaxEntries = c.Cache.MaxEntries
	pc.Scoring = scoring.Config{Boost: c.Scoring.Boost, MinSignals: c.Scoring.MinSignals}
	return pc
}

// EngineSpec returns the voting parameters of the named engine.
func (c *Config) EngineSpec(name string) pipeline.EngineSpec {
	e := c.Engines[name]
	return pipeline.EngineSpec{
		Name:      name,
		Weight:    e.PriorityWeight,
		Threshold: e.MinConfidenceThreshold,
		Languages: e.Languages,
	}
}

// EngineSettings returns the backend settings of the named engine.
func (c *Config) EngineSettings(name string) engine.Settings {
	e := c.Engines[name]
	return engine.Settings{
		Languages:       e.Languages,
		Model:           e.Model,
		APIKey:          e.APIKey,
		BaseURL:         e.BaseURL,
		CredentialsFile: e.CredentialsFile,
		PageSegMode:     e.PageSegMode,
	}
}

// RedisOptions returns the cache store options.
func (c *Config) RedisOptions() cache.RedisOptions {
	return cache.RedisOptions{
		MaxEntries: c.Cache.MaxEntries,
		KeyPrefix:  c.Cache.Redis.KeyPrefix,
		TTL:        time.Duration(c.Cache.Redis.TTLSec) * time.Second,
	}
}

// JobTimeout returns the per-job timeout of the worker, zero meaning none.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutMS) * time.Millisecond
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
