package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "imap.gmail.com", cfg.IMAP.Host)
	assert.Equal(t, 993, cfg.IMAP.Port)
	assert.Equal(t, 5, cfg.IMAP.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.IMAP.BaseDelay)
	assert.Equal(t, 60*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 8000, cfg.Model.MaxPromptChars)
	assert.False(t, cfg.Model.Enabled())
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, 90*24*time.Hour, cfg.Ledger.Retention)
	assert.Equal(t, []string{"1. SALES", "SALES", "Sales"}, cfg.CRM.PipelineNames)
	assert.Equal(t, 5*time.Minute, cfg.CRM.PipelineCacheTTL)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
imap:
  host: mail.example.com
  username: leads@example.com
  base_delay: 500ms
poll:
  interval: 2m
model:
  provider: anthropic
  name: claude-sonnet-4-20250514
ledger:
  backend: redis
  redis_url: redis://localhost:6379/0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("LEADSYNC_IMAP_PASSWORD", "hunter2")
	t.Setenv("LEADSYNC_MODEL_API_KEY", "sk-test")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com", cfg.IMAP.Host)
	assert.Equal(t, "leads@example.com", cfg.IMAP.Username)
	assert.Equal(t, "hunter2", cfg.IMAP.Password)
	assert.Equal(t, 500*time.Millisecond, cfg.IMAP.BaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.Poll.Interval)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, "redis", cfg.Ledger.Backend)
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("imap: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestResolveSecrets(t *testing.T) {
	cfg := &AppConfig{
		IMAP:  IMAPConfig{Password: "from-config"},
		Model: ModelConfig{Provider: "gemini"},
	}

	store := map[string]string{
		SecretIMAPPassword: "from-keyring",
		SecretCRMAPIToken:  "crm-token",
		SecretModelAPIKey:  "model-key",
	}
	ResolveSecrets(cfg, func(key string) (string, error) {
		v, ok := store[key]
		if !ok {
			return "", errors.New("not found")
		}
		return v, nil
	})

	assert.Equal(t, "from-config", cfg.IMAP.Password)
	assert.Equal(t, "crm-token", cfg.CRM.APIToken)
	assert.Equal(t, "model-key", cfg.Model.APIKey)
}

func TestValidateConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	err = ValidateConfig(cfg, true)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems, "imap.username is required")
	assert.Contains(t, verr.Problems, "crm.api_token is required")

	require.NoError(t, ValidateConfig(cfg, false))

	cfg.IMAP.Username = "u"
	cfg.IMAP.Password = "p"
	cfg.CRM.APIToken = "t"
	cfg.CRM.LocationID = "loc"
	require.NoError(t, ValidateConfig(cfg, true))

	cfg.Model.Provider = "gemini"
	require.Error(t, ValidateConfig(cfg, true))

	cfg.Model.Provider = "openai"
	cfg.Model.APIKey = "k"
	require.Error(t, ValidateConfig(cfg, true))
}
