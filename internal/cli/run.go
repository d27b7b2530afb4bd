package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/lead-sync/internal/app"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the polling daemon",
		Long: `Run the polling daemon until interrupted. SIGUSR1 triggers an
immediate poll cycle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Ledger.Close()

			refresh := make(chan os.Signal, 1)
			signal.Notify(refresh, syscall.SIGUSR1)
			defer signal.Stop(refresh)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return a.Poller.Run(ctx)
			})
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-refresh:
						a.Poller.Trigger()
					}
				}
			})

			if err := g.Wait(); err != nil && err != context.Canceled {
				return fmt.Errorf("daemon stopped: %w", err)
			}
			return nil
		},
	}
}

func newOnceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single poll cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Poller.RunOnce(cmd.Context())
			a.Poller.LogMetrics(context.WithoutCancel(cmd.Context()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Check complete. Processed %d messages.\n", n)
			return nil
		},
	}
}
