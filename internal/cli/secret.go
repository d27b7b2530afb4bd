package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/lead-sync/internal/credential"
)

func validSecretKey(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	return credential.ValidateKey(args[0])
}

func newSecretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret read from stdin",
		Args:  validSecretKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			value := strings.TrimSpace(line)
			if value == "" {
				if err != nil {
					return fmt.Errorf("reading secret: %w", err)
				}
				return fmt.Errorf("empty secret")
			}
			store, err := credential.Open()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s.\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret",
		Args:  validSecretKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credential.Open()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
			return nil
		},
	})

	return cmd
}
