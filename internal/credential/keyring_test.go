package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/lead-sync/internal/model"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))

	require.NoError(t, s.Set(model.SecretCRMAPIToken, "tok"))

	got, err := s.Get(model.SecretCRMAPIToken)
	require.NoError(t, err)
	assert.Equal(t, "tok", got)

	require.NoError(t, s.Delete(model.SecretCRMAPIToken))
	_, err = s.Get(model.SecretCRMAPIToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRejectsUnknownKeys(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))

	assert.ErrorContains(t, s.Set("smtp_password", "x"), "unknown secret")
	assert.ErrorContains(t, s.Delete("smtp_password"), "unknown secret")
	assert.ErrorContains(t, s.Set(model.SecretIMAPPassword, ""), "empty value")
}

func TestLookupFeedsResolveSecrets(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring([]keyring.Item{
		{Key: model.SecretIMAPPassword, Data: []byte("imap-pass")},
	}))

	cfg := &model.AppConfig{}
	model.ResolveSecrets(cfg, s.Lookup())

	assert.Equal(t, "imap-pass", cfg.IMAP.Password)
	assert.Empty(t, cfg.CRM.APIToken)
}
