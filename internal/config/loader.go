package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "receipt-ocr"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "RECEIPT_OCR"

	// DotEnvFile is loaded into the environment before configuration is read.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v           *viper.Viper
	dotEnvFiles []string
}

// NewLoader creates a loader on the global viper instance so that flags bound
// by the root command take effect.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper(), dotEnvFiles: []string{DotEnvFile}}
}

// NewLoaderWithViper creates a loader on a private viper instance.
func NewLoaderWithViper(v *viper.Viper, dotEnvFiles ...string) *Loader {
	return &Loader{v: v, dotEnvFiles: dotEnvFiles}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithFile loads configuration from a specific file path. An empty path
// searches the standard locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is LoadWithFile without the validation step.
func (l *Loader) LoadWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile)
}

func (l *Loader) load(configFile string) (*Config, error) {
	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing file is fine when searching, defaults and env still apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = defaultTiers()
	}
	return &cfg, nil
}

// loadDotEnv exports variables from .env files. Variables already present in
// the environment win.
func (l *Loader) loadDotEnv() error {
	for _, f := range l.dotEnvFiles {
		err := godotenv.Load(f)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("error loading %s: %w", f, err)
	}
	return nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for flag binding.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
// engines.openai.api_key becomes RECEIPT_OCR_ENGINES_OPENAI_API_KEY.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for every scalar option. Tiers are a list
// and fall back to the defaults after unmarshaling instead.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	for name, e := range defaults.Engines {
		prefix := "engines." + name + "."
		l.v.SetDefault(prefix+"enabled", e.Enabled)
		l.v.SetDefault(prefix+"priority_weight", e.PriorityWeight)
		l.v.SetDefault(prefix+"min_confidence_threshold", e.MinConfidenceThreshold)
		l.v.SetDefault(prefix+"languages", e.Languages)
		l.v.SetDefault(prefix+"model", e.Model)
		l.v.SetDefault(prefix+"api_key", e.APIKey)
		l.v.SetDefault(prefix+"base_url", e.BaseURL)
		l.v.SetDefault(prefix+"credentials_file", e.CredentialsFile)
		l.v.SetDefault(prefix+"page_seg_mode", e.PageSegMode)
	}

	l.v.SetDefault("resource_limits.per_attempt_memory_mb", defaults.Resources.PerAttemptMemoryMB)
	l.v.SetDefault("resource_limits.global_process_memory_mb", defaults.Resources.GlobalProcessMemoryMB)
	l.v.SetDefault("resource_limits.max_concurrent_engines", defaults.Resources.MaxConcurrentEngines)

	l.v.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)
	l.v.SetDefault("cache.backend", defaults.Cache.Backend)
	l.v.SetDefault("cache.redis.addr", defaults.Cache.Redis.Addr)
	l.v.SetDefault("cache.redis.password", defaults.Cache.Redis.Password)
	l.v.SetDefault("cache.redis.db", defaults.Cache.Redis.DB)
	l.v.SetDefault("cache.redis.key_prefix", defaults.Cache.Redis.KeyPrefix)
	l.v.SetDefault("cache.redis.ttl_sec", defaults.Cache.Redis.TTLSec)

	l.v.SetDefault("scoring.boost", defaults.Scoring.Boost)
	l.v.SetDefault("scoring.min_signals", defaults.Scoring.MinSignals)

	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)
	l.v.SetDefault("output.confidence_precision", defaults.Output.ConfidencePrecision)

	l.v.SetDefault("worker.queue", defaults.Worker.Queue)
	l.v.SetDefault("worker.results_key", defaults.Worker.ResultsKey)
	l.v.SetDefault("worker.concurrency", defaults.Worker.Concurrency)
	l.v.SetDefault("worker.metrics_addr", defaults.Worker.MetricsAddr)
	l.v.SetDefault("worker.job_timeout_ms", defaults.Worker.JobTimeoutMS)
}

// WriteDefaultConfig writes the default configuration as YAML.
func WriteDefaultConfig(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defaults := DefaultConfig()
	if err := enc.Encode(&defaults); err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	return enc.Close()
}

// GenerateDefaultConfigFile generates a default configuration file. It
// refuses to overwrite an existing file.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // user-chosen path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := WriteDefaultConfig(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home, filepath.Join(home, ".config", ConfigFileName))
	}

	return append(paths, "/etc/"+ConfigFileName)
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", l.GetConfigFileUsed())
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}
