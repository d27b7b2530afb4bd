// Package credential keeps the daemon's secrets in the OS keyring as a
// fallback for values missing from the config file and environment.
package credential

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/99designs/keyring"

	"github.com/nhle/lead-sync/internal/model"
)

const serviceName = "leadsync"

// Keys lists the secrets the daemon knows how to resolve.
var Keys = []string{
	model.SecretIMAPPassword,
	model.SecretModelAPIKey,
	model.SecretCRMAPIToken,
}

// ErrNotFound is returned when the keyring holds no value for a key.
var ErrNotFound = errors.New("credential not found")

// ValidateKey rejects names outside Keys.
func ValidateKey(key string) error {
	if !slices.Contains(Keys, key) {
		return fmt.Errorf("unknown secret %q (want one of %s)", key, strings.Join(Keys, ", "))
	}
	return nil
}

// Store reads and writes secrets in a keyring.
type Store struct {
	ring keyring.Keyring
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open returns a Store backed by the first available OS keyring backend.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/leadsync/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("leadsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// Get returns the secret stored under key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting secret %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores value under key. Only names in Keys are accepted.
func (s *Store) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("empty value for secret %q", key)
	}

	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting secret %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key reports ErrNotFound.
func (s *Store) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	err := s.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting secret %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting secret %q: %w", key, err)
	}
	return nil
}

// Lookup adapts the store to model.SecretLookup.
func (s *Store) Lookup() model.SecretLookup {
	return s.Get
}

// Get opens the OS keyring and reads key from it.
func Get(key string) (string, error) {
	s, err := Open()
	if err != nil {
		return "", err
	}
	return s.Get(key)
}
