package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// IMAPConfig holds mailbox connection settings.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Folder   string `mapstructure:"folder" yaml:"folder"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`

	// MaxAttempts bounds connect retries before a ConnectionError surfaces.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the first backoff delay; attempt n waits BaseDelay*2^(n-1).
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`

	// Timeout applies to every individual IMAP command.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// IdleTimeout caps a single IDLE wait in low-latency mode.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// PollConfig controls the orchestrator loop.
type PollConfig struct {
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	Idle            bool          `mapstructure:"idle" yaml:"idle"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval" yaml:"metrics_interval"`
}

// BreakerConfig tunes the circuit breaker around the model backend.
type BreakerConfig struct {
	Failures int           `mapstructure:"failures" yaml:"failures"`
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// ModelConfig selects and tunes the generative extraction backend.
// An empty Provider disables model extraction entirely.
type ModelConfig struct {
	Provider        string        `mapstructure:"provider" yaml:"provider"`
	Name            string        `mapstructure:"name" yaml:"name"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxPromptChars  int           `mapstructure:"max_prompt_chars" yaml:"max_prompt_chars"`
	Breaker         BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// Enabled reports whether a model provider is configured.
func (c ModelConfig) Enabled() bool {
	return c.Provider != ""
}

// ExtractionConfig controls the pattern fallback.
type ExtractionConfig struct {
	// PatternsFile overrides the embedded pattern table when set.
	PatternsFile string `mapstructure:"patterns_file" yaml:"patterns_file"`

	// GenericFallback applies the generic pattern table to messages with
	// no recognized platform instead of failing extraction outright.
	GenericFallback bool `mapstructure:"generic_fallback" yaml:"generic_fallback"`
}

// LedgerConfig selects the processed-message ledger backend.
type LedgerConfig struct {
	Backend         string        `mapstructure:"backend" yaml:"backend"`
	Path            string        `mapstructure:"path" yaml:"path"`
	RedisURL        string        `mapstructure:"redis_url" yaml:"redis_url"`
	PostgresURL     string        `mapstructure:"postgres_url" yaml:"postgres_url"`
	Retention       time.Duration `mapstructure:"retention" yaml:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// CRMConfig holds the downstream CRM settings.
type CRMConfig struct {
	BaseURL          string        `mapstructure:"base_url" yaml:"base_url"`
	APIToken         string        `mapstructure:"api_token" yaml:"api_token"`
	LocationID       string        `mapstructure:"location_id" yaml:"location_id"`
	APIVersion       string        `mapstructure:"api_version" yaml:"api_version"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PipelineNames    []string      `mapstructure:"pipeline_names" yaml:"pipeline_names"`
	StageNames       []string      `mapstructure:"stage_names" yaml:"stage_names"`
	PipelineCacheTTL time.Duration `mapstructure:"pipeline_cache_ttl" yaml:"pipeline_cache_ttl"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP       IMAPConfig       `mapstructure:"imap" yaml:"imap"`
	Poll       PollConfig       `mapstructure:"poll" yaml:"poll"`
	Model      ModelConfig      `mapstructure:"model" yaml:"model"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Ledger     LedgerConfig     `mapstructure:"ledger" yaml:"ledger"`
	CRM        CRMConfig        `mapstructure:"crm" yaml:"crm"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// Secret keys shared by the config loader and the credential store.
const (
	SecretIMAPPassword = "imap_password"
	SecretModelAPIKey  = "model_api_key"
	SecretCRMAPIToken  = "crm_api_token"
)

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/leadsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "leadsync", "config.yaml")
}

// DefaultLedgerPath returns ~/.local/share/leadsync/processed_emails.db.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "processed_emails.db"
	}
	return filepath.Join(home, ".local", "share", "leadsync", "processed_emails.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imap.host", "imap.gmail.com")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.folder", "INBOX")
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.max_attempts", 5)
	v.SetDefault("imap.base_delay", "2s")
	v.SetDefault("imap.timeout", "30s")
	v.SetDefault("imap.idle_timeout", "10m")

	v.SetDefault("poll.interval", "60s")
	v.SetDefault("poll.idle", false)
	v.SetDefault("poll.metrics_interval", "15m")

	v.SetDefault("model.provider", "")
	v.SetDefault("model.name", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.max_output_tokens", 2000)
	v.SetDefault("model.timeout", "30s")
	v.SetDefault("model.max_prompt_chars", 8000)
	v.SetDefault("model.breaker.failures", 5)
	v.SetDefault("model.breaker.cooldown", "1m")

	v.SetDefault("extraction.patterns_file", "")
	v.SetDefault("extraction.generic_fallback", false)

	v.SetDefault("ledger.backend", "sqlite")
	v.SetDefault("ledger.path", DefaultLedgerPath())
	v.SetDefault("ledger.redis_url", "")
	v.SetDefault("ledger.postgres_url", "")
	v.SetDefault("ledger.retention", "2160h")
	v.SetDefault("ledger.cleanup_interval", "24h")

	v.SetDefault("crm.base_url", "https://services.leadconnectorhq.com")
	v.SetDefault("crm.api_token", "")
	v.SetDefault("crm.location_id", "")
	v.SetDefault("crm.api_version", "2021-07-28")
	v.SetDefault("crm.timeout", "30s")
	v.SetDefault("crm.pipeline_names", []string{"1. SALES", "SALES", "Sales"})
	v.SetDefault("crm.stage_names", []string{"New Leads", "New Lead"})
	v.SetDefault("crm.pipeline_cache_ttl", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file is not an error: defaults and LEADSYNC_* environment
// variables still apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LEADSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Ledger.Path = expandHome(cfg.Ledger.Path)
	cfg.Extraction.PatternsFile = expandHome(cfg.Extraction.PatternsFile)

	return cfg, nil
}

// SecretLookup fetches a named secret from an external store.
type SecretLookup func(key string) (string, error)

// ResolveSecrets fills empty secret fields from lookup. Lookup failures
// leave the field empty; ValidateConfig reports what is still missing.
func ResolveSecrets(cfg *AppConfig, lookup SecretLookup) {
	if lookup == nil {
		return
	}

	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if val, err := lookup(key); err == nil {
			*dst = val
		}
	}

	fill(&cfg.IMAP.Password, SecretIMAPPassword)
	fill(&cfg.CRM.APIToken, SecretCRMAPIToken)
	if cfg.Model.Enabled() {
		fill(&cfg.Model.APIKey, SecretModelAPIKey)
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// ValidateConfig checks the settings needed to run the pipeline. When
// requireCRM is false (e.g. for ledger maintenance commands) the mailbox
// and CRM credentials are not checked.
func ValidateConfig(cfg *AppConfig, requireCRM bool) error {
	var problems []string

	if requireCRM {
		if cfg.IMAP.Host == "" {
			problems = append(problems, "imap.host is required")
		}
		if cfg.IMAP.Username == "" {
			problems = append(problems, "imap.username is required")
		}
		if cfg.IMAP.Password == "" {
			problems = append(problems, "imap.password is required")
		}
		if cfg.CRM.APIToken == "" {
			problems = append(problems, "crm.api_token is required")
		}
		if cfg.CRM.LocationID == "" {
			problems = append(problems, "crm.location_id is required")
		}
	}

	if cfg.IMAP.MaxAttempts < 1 {
		problems = append(problems, "imap.max_attempts must be at least 1")
	}
	if cfg.Poll.Interval <= 0 {
		problems = append(problems, "poll.interval must be positive")
	}

	switch cfg.Model.Provider {
	case "":
	case "gemini", "anthropic":
		if cfg.Model.APIKey == "" {
			problems = append(problems, "model.api_key is required when model.provider is set")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown model.provider %q", cfg.Model.Provider))
	}

	switch cfg.Ledger.Backend {
	case "sqlite":
		if cfg.Ledger.Path == "" {
			problems = append(problems, "ledger.path is required for the sqlite backend")
		}
	case "redis":
		if cfg.Ledger.RedisURL == "" {
			problems = append(problems, "ledger.redis_url is required for the redis backend")
		}
	case "postgres":
		if cfg.Ledger.PostgresURL == "" {
			problems = append(problems, "ledger.postgres_url is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown ledger.backend %q", cfg.Ledger.Backend))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
