// Package app builds the pipeline components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nhle/lead-sync/internal/ai"
	"github.com/nhle/lead-sync/internal/crm"
	"github.com/nhle/lead-sync/internal/crm/ghl"
	"github.com/nhle/lead-sync/internal/extract"
	"github.com/nhle/lead-sync/internal/model"
	"github.com/nhle/lead-sync/internal/source/email"
	"github.com/nhle/lead-sync/internal/store"
	appsync "github.com/nhle/lead-sync/internal/sync"
)

// App owns every long-lived component of the daemon.
type App struct {
	Config  *model.AppConfig
	Log     zerolog.Logger
	Ledger  store.Ledger
	Mailbox *email.Manager
	Engine  *extract.Engine
	Syncer  *crm.Syncer
	Poller  *appsync.Poller
}

// LoadConfig reads the config file and fills missing secrets from lookup.
func LoadConfig(path string, lookup model.SecretLookup) (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	model.ResolveSecrets(cfg, lookup)
	return cfg, nil
}

// New validates cfg and wires the full pipeline. Only configuration
// problems are returned here; remote systems are contacted lazily.
func New(ctx context.Context, cfg *model.AppConfig, log zerolog.Logger) (*App, error) {
	if err := model.ValidateConfig(cfg, true); err != nil {
		return nil, err
	}

	table, err := LoadPatterns(cfg.Extraction)
	if err != nil {
		return nil, err
	}

	engine, err := NewEngine(cfg, table, log)
	if err != nil {
		return nil, err
	}

	ledger, err := store.Open(ctx, cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	mailbox := email.NewManager(cfg.IMAP, log)
	syncer := crm.NewSyncer(ghl.NewClient(cfg.CRM, log), log)

	poller := appsync.New(mailbox, engine, syncer, ledger, appsync.Options{
		Interval:        cfg.Poll.Interval,
		Idle:            cfg.Poll.Idle,
		IdleTimeout:     cfg.IMAP.IdleTimeout,
		MetricsInterval: cfg.Poll.MetricsInterval,
		Retention:       cfg.Ledger.Retention,
		CleanupInterval: cfg.Ledger.CleanupInterval,
	}, log)
	mailbox.OnSearchError(func(error) { poller.Metrics().SearchErrors.Add(1) })

	return &App{
		Config:  cfg,
		Log:     log,
		Ledger:  ledger,
		Mailbox: mailbox,
		Engine:  engine,
		Syncer:  syncer,
		Poller:  poller,
	}, nil
}

// Close releases the mailbox and the ledger.
func (a *App) Close() error {
	return errors.Join(a.Mailbox.Close(), a.Ledger.Close())
}

// LoadPatterns returns the configured pattern table, or the embedded one.
func LoadPatterns(cfg model.ExtractionConfig) (*extract.Table, error) {
	if cfg.PatternsFile == "" {
		return extract.DefaultTable()
	}
	table, err := extract.LoadTableFile(cfg.PatternsFile)
	if err != nil {
		return nil, fmt.Errorf("loading patterns: %w", err)
	}
	return table, nil
}

// NewGenerator builds the configured model backend behind a circuit
// breaker. It returns nil when model extraction is disabled.
func NewGenerator(cfg model.ModelConfig, log zerolog.Logger) (ai.Generator, error) {
	var gen ai.Generator
	switch cfg.Provider {
	case "":
		return nil, nil
	case "anthropic":
		gen = ai.NewAnthropic(cfg.APIKey, cfg.Name, cfg.BaseURL, cfg.Timeout)
	case "gemini":
		gen = ai.NewGemini(cfg.APIKey, cfg.Name, cfg.BaseURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	return ai.NewBreaker(gen, cfg.Provider, cfg.Breaker.Failures, cfg.Breaker.Cooldown, log), nil
}

// NewEngine composes the extraction strategy: the model with pattern
// fallback when a provider is configured, patterns alone otherwise.
func NewEngine(cfg *model.AppConfig, table *extract.Table, log zerolog.Logger) (*extract.Engine, error) {
	patterns := extract.NewPatternExtractor(table, cfg.Extraction.GenericFallback, log)

	gen, err := NewGenerator(cfg.Model, log)
	if err != nil {
		return nil, err
	}

	var extractor extract.Extractor = patterns
	if gen != nil {
		platforms := make([]model.Platform, 0, len(table.Platforms))
		for _, p := range table.Platforms {
			platforms = append(platforms, p.Platform)
		}
		modelExtractor := extract.NewModelExtractor(gen, extract.ModelOptions{
			Timeout:         cfg.Model.Timeout,
			MaxPromptChars:  cfg.Model.MaxPromptChars,
			MaxOutputTokens: cfg.Model.MaxOutputTokens,
			Platforms:       platforms,
		}, log)
		extractor = extract.NewFallbackExtractor(modelExtractor, patterns, log)
	}

	log.Info().
		Str("provider", cfg.Model.Provider).
		Bool("generic_fallback", cfg.Extraction.GenericFallback).
		Int("platforms", len(table.Platforms)).
		Msg("extraction engine ready")

	return extract.NewEngine(extract.NewClassifier(table), extractor, log), nil
}
