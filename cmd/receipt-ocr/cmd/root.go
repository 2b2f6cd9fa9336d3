package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/receipt-ocr/internal/config"
	"github.com/MeKo-Tech/receipt-ocr/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Error from the last configuration load, reported before any command runs.
	configErr error
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "receipt-ocr",
	Short: "Multi-engine receipt OCR with consensus voting",
	Long: `receipt-ocr reads text from receipt images and PDFs by running several OCR
engines in parallel and voting on their output line by line.

Each receipt goes through a ladder of strategy tiers. Cheap tiers run first
with short deadlines; more thorough image preparation is only tried when the
cheaper tiers fail or time out. Results are cached by content hash.

Examples:
  receipt-ocr recognize receipt.jpg
  receipt-ocr recognize scans/ --recursive --format json --workers 4
  receipt-ocr engines
  receipt-ocr worker --concurrency 4`,
	Version:       version.String(),
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $XDG_CONFIG_HOME/receipt-ocr, $HOME, $HOME/.config/receipt-ocr, /etc/receipt-ocr)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		if globalConfig == nil && configErr == nil {
			initConfig()
		}
		if configErr != nil {
			return fmt.Errorf("error loading configuration: %w", configErr)
		}

		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel(globalConfig),
		})))
		return nil
	}
}

func logLevel(cfg *config.Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initConfig reads in config file, .env and ENV variables if set.
func initConfig() {
	configLoader = config.NewLoader()
	globalConfig, configErr = configLoader.LoadWithFile(cfgFile)
}

// GetConfig returns the global configuration.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
	}
	return globalConfig
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
