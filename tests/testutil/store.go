package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nhle/lead-sync/internal/store"
)

// NewTestLedger creates an in-memory SQLiteLedger with all migrations applied.
// It automatically closes the ledger when the test completes.
func NewTestLedger(t *testing.T) *store.SQLiteLedger {
	t.Helper()

	l, err := store.NewSQLiteLedger(":memory:")
	if err != nil {
		t.Fatalf("creating test ledger: %v", err)
	}

	t.Cleanup(func() {
		if err := l.Close(); err != nil {
			t.Errorf("closing test ledger: %v", err)
		}
	})

	return l
}

// NewTestRedisLedger starts a miniredis server and returns a ledger on it.
func NewTestRedisLedger(t *testing.T) (*store.RedisLedger, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	l := store.NewRedisLedger(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { l.Close() })

	return l, mr
}
