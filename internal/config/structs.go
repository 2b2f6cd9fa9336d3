//nolint:lll
package config

import "github.com/MeKo-Tech/receipt-ocr/internal/preprocess"

// Config represents the complete configuration for receipt-ocr.
// It is loaded from configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Strategy ladder, cheapest tier first
	Tiers []TierConfig `mapstructure:"strategy_tiers" yaml:"strategy_tiers" json:"strategy_tiers"`

	// Engine settings keyed by engine name
	Engines map[string]EngineConfig `mapstructure:"engines" yaml:"engines" json:"engines"`

	Resources ResourceLimitsConfig `mapstructure:"resource_limits" yaml:"resource_limits" json:"resource_limits"`
	Cache     CacheConfig          `mapstructure:"cache" yaml:"cache" json:"cache"`
	Scoring   ScoringConfig        `mapstructure:"scoring" yaml:"scoring" json:"scoring"`
	Output    OutputConfig         `mapstructure:"output" yaml:"output" json:"output"`

	// Queue worker (for the worker command)
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker" json:"worker"`
}

// TierConfig is one strategy tier.
type TierConfig struct {
	Name              string            `mapstructure:"name" yaml:"name" json:"name"`
	DeadlineMS        int               `mapstructure:"deadline_ms" yaml:"deadline_ms" json:"deadline_ms"`
	SkipUnderPressure bool              `mapstructure:"skip_under_pressure" yaml:"skip_under_pressure,omitempty" json:"skip_under_pressure,omitempty"`
	Recipe            preprocess.Recipe `mapstructure:"recipe" yaml:"recipe" json:"recipe"`
}

// EngineConfig contains the settings of one recognition engine.
type EngineConfig struct {
	Enabled                bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	PriorityWeight         float64  `mapstructure:"priority_weight" yaml:"priority_weight" json:"priority_weight"`
	MinConfidenceThreshold float64  `mapstructure:"min_confidence_threshold" yaml:"min_confidence_threshold" json:"min_confidence_threshold"`
	Languages              []string `mapstructure:"languages" yaml:"languages,omitempty" json:"languages,omitempty"`

	// Backend specific
	Model           string `mapstructure:"model" yaml:"model,omitempty" json:"model,omitempty"`
	APIKey          string `mapstructure:"api_key" yaml:"api_key,omitempty" json:"-"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url,omitempty" json:"base_url,omitempty"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
	PageSegMode     int    `mapstructure:"page_seg_mode" yaml:"page_seg_mode,omitempty" json:"page_seg_mode,omitempty"`
}

// ResourceLimitsConfig contains resource guard settings. Zero disables a limit.
type ResourceLimitsConfig struct {
	PerAttemptMemoryMB    int `mapstructure:"per_attempt_memory_mb" yaml:"per_attempt_memory_mb" json:"per_attempt_memory_mb"`
	GlobalProcessMemoryMB int `mapstructure:"global_process_memory_mb" yaml:"global_process_memory_mb" json:"global_process_memory_mb"`
	MaxConcurrentEngines  int `mapstructure:"max_concurrent_engines" yaml:"max_concurrent_engines" json:"max_concurrent_engines"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	MaxEntries int         `mapstructure:"max_entries" yaml:"max_entries" json:"max_entries"`
	Backend    string      `mapstructure:"backend" yaml:"backend" json:"backend"`
	Redis      RedisConfig `mapstructure:"redis" yaml:"redis" json:"redis"`
}

// RedisConfig is shared by the redis cache and the job queue.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password  string `mapstructure:"password" yaml:"password,omitempty" json:"-"`
	DB        int    `mapstructure:"db" yaml:"db" json:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
	TTLSec    int    `mapstructure:"ttl_sec" yaml:"ttl_sec,omitempty" json:"ttl_sec,omitempty"`
}

// ScoringConfig controls the receipt plausibility boost.
type ScoringConfig struct {
	Boost      float64 `mapstructure:"boost" yaml:"boost" json:"boost"`
	MinSignals int     `mapstructure:"min_signals" yaml:"min_signals" json:"min_signals"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format              string `mapstructure:"format" yaml:"format" json:"format"`
	File                string `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
	ConfidencePrecision int    `mapstructure:"confidence_precision" yaml:"confidence_precision" json:"confidence_precision"`
}

// WorkerConfig contains queue worker settings.
type WorkerConfig struct {
	Queue        string `mapstructure:"queue" yaml:"queue" json:"queue"`
	ResultsKey   string `mapstructure:"results_key" yaml:"results_key" json:"results_key"`
	Concurrency  int    `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	MetricsAddr  string `mapstructure:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr"`
	JobTimeoutMS int    `mapstructure:"job_timeout_ms" yaml:"job_timeout_ms" json:"job_timeout_ms"`
}
