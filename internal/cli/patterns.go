package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/lead-sync/internal/app"
)

func newPatternsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "Validate and print the platform pattern table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			table, err := app.LoadPatterns(cfg.Extraction)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), table.Describe())
			return nil
		},
	}
}
