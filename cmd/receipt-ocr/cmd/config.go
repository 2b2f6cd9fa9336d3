package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/receipt-ocr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and bootstrap configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration to a YAML file (receipt-ocr.yaml by default).
Existing files are never overwritten.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			filename = args[0]
		}
		if err := config.GenerateDefaultConfigFile(filename); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", filename)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the effective configuration",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(redacted(GetConfig())); err != nil {
			return err
		}
		return enc.Close()
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show where configuration is searched",
	Run: func(cmd *cobra.Command, _ []string) {
		GetConfigLoader().PrintConfigInfo(cmd.OutOrStdout())
	},
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	out.Engines = make(map[string]config.EngineConfig, len(cfg.Engines))
	for name, e := range cfg.Engines {
		if e.APIKey != "" {
			e.APIKey = "***"
		}
		out.Engines[name] = e
	}
	if out.Cache.Redis.Password != "" {
		out.Cache.Redis.Password = "***"
	}
	return out
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathsCmd)
}
