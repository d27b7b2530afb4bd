package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/lead-sync/internal/model"
	"github.com/nhle/lead-sync/internal/store"
)

func openLedger(cmd *cobra.Command, opts *rootOptions) (*model.AppConfig, store.Ledger, error) {
	cfg, _, err := opts.load(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	if err := model.ValidateConfig(cfg, false); err != nil {
		return nil, nil, err
	}
	ledger, err := store.Open(cmd.Context(), cfg.Ledger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening ledger: %w", err)
	}
	return cfg, ledger, nil
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show processed-message ledger statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ledger, err := openLedger(cmd, opts)
			if err != nil {
				return err
			}
			defer ledger.Close()

			stats, err := ledger.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			return printStats(cmd.OutOrStdout(), stats)
		},
	}
}

func printStats(w io.Writer, stats *model.LedgerStats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total\t%d\n", stats.Total)
	fmt.Fprintf(tw, "Unique senders\t%d\n", stats.UniqueSenders)
	fmt.Fprintf(tw, "Succeeded\t%d\n", stats.SuccessCount)
	fmt.Fprintf(tw, "Failed\t%d\n", stats.FailureCount)

	platforms := make([]string, 0, len(stats.PlatformBreakdown))
	for p := range stats.PlatformBreakdown {
		platforms = append(platforms, string(p))
	}
	slices.Sort(platforms)
	for _, p := range platforms {
		fmt.Fprintf(tw, "  %s\t%d\n", p, stats.PlatformBreakdown[model.Platform(p)])
	}
	return tw.Flush()
}

func newCleanupCommand(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete ledger entries older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ledger, err := openLedger(cmd, opts)
			if err != nil {
				return err
			}
			defer ledger.Close()

			retention := cfg.Ledger.Retention
			if olderThan > 0 {
				retention = olderThan
			}
			n, err := ledger.CleanupOlderThan(cmd.Context(), retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries older than %s.\n", n, retention)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window (defaults to ledger.retention)")
	return cmd
}
