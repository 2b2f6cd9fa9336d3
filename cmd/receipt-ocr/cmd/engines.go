package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/receipt-ocr/internal/config"
)

// enginesCmd lists engines and whether they can be started.
var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List recognition engines and their availability",
	Long: `List every engine that is configured or compiled into the binary, with its
voting weight, confidence threshold and whether it can be started with the
current configuration and credentials.

Examples:
  receipt-ocr engines
  receipt-ocr engines --check=false`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		check, _ := cmd.Flags().GetBool("check")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		return listEngines(cmd.Context(), cmd.OutOrStdout(), GetConfig(), check, timeout)
	},
}

type engineStatus struct {
	Name      string
	Enabled   bool
	Weight    float64
	Threshold float64
	Status    string
}

func engineStatuses(ctx context.Context, cfg *config.Config, check bool, timeout time.Duration) []engineStatus {
	names := engineRegistry.Names()
	for name := range cfg.Engines {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]engineStatus, 0, len(names))
	for _, name := range names {
		e := cfg.Engines[name]
		st := engineStatus{Name: name, Enabled: e.Enabled, Weight: e.PriorityWeight, Threshold: e.MinConfidenceThreshold}
		switch {
		case !check:
			st.Status = "-"
		default:
			st.Status = probeEngine(ctx, cfg, name, timeout)
		}
		out = append(out, st)
	}
	return out
}

func probeEngine(ctx context.Context, cfg *config.Config, name string, timeout time.Duration) string {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	backend, err := engineRegistry.New(ctx, name, cfg.EngineSettings(name))
	if err != nil {
		return "unavailable: " + err.Error()
	}
	if c, ok := backend.(io.Closer); ok {
		_ = c.Close()
	}
	return "available"
}

func listEngines(ctx context.Context, w io.Writer, cfg *config.Config, check bool, timeout time.Duration) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ENGINE\tENABLED\tWEIGHT\tTHRESHOLD\tSTATUS")
	for _, st := range engineStatuses(ctx, cfg, check, timeout) {
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%.2f\t%.2f\t%s\n", st.Name, st.Enabled, st.Weight, st.Threshold, st.Status)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(enginesCmd)
	enginesCmd.Flags().Bool("check", true, "try to start each engine to report availability")
	enginesCmd.Flags().Duration("timeout", 5*time.Second, "per-engine startup timeout")
}
