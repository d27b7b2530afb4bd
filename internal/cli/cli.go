// Package cli implements the leadsync command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/lead-sync/internal/app"
	"github.com/nhle/lead-sync/internal/credential"
	"github.com/nhle/lead-sync/internal/logging"
	"github.com/nhle/lead-sync/internal/model"
)

// Version is injected at build time via ldflags.
var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool
	noKeyring  bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "leadsync",
		Short: "Turn lead notification emails into CRM contacts",
		Long: `leadsync watches a mailbox for lead notifications from wedding
marketplaces, extracts the inquiry details and creates or updates the
matching contact in the CRM.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", model.DefaultConfigPath(), "Path to the config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Override log.format (json or console)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&opts.noKeyring, "no-keyring", false, "Do not read secrets from the OS keyring")

	root.AddCommand(
		newRunCommand(opts),
		newOnceCommand(opts),
		newStatsCommand(opts),
		newCleanupCommand(opts),
		newPatternsCommand(opts),
		newSecretCommand(),
	)
	return root
}

// Execute runs the CLI with ctx as the base context of every command.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

// load reads the configuration and builds the logger for a command.
func (o *rootOptions) load(stderr io.Writer) (*model.AppConfig, zerolog.Logger, error) {
	var lookup model.SecretLookup
	if !o.noKeyring {
		lookup = credential.Get
	}

	cfg, err := app.LoadConfig(o.configPath, lookup)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format, stderr), nil
}
