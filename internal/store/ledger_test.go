package store_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/lead-sync/internal/model"
	"github.com/nhle/lead-sync/internal/store"
	"github.com/nhle/lead-sync/tests/testutil"
)

// ledgers returns every backend available in the test environment.
func ledgers(t *testing.T) map[string]store.Ledger {
	t.Helper()

	redisLedger, _ := testutil.NewTestRedisLedger(t)
	out := map[string]store.Ledger{
		"sqlite": testutil.NewTestLedger(t),
		"redis":  redisLedger,
	}

	if dsn := os.Getenv("LEADSYNC_TEST_POSTGRES_URL"); dsn != "" {
		pg, err := store.NewPostgresLedger(context.Background(), dsn)
		require.NoError(t, err)
		ctx := context.Background()
		_, err = pg.CleanupOlderThan(ctx, -time.Hour)
		require.NoError(t, err)
		t.Cleanup(func() { pg.Close() })
		out["postgres"] = pg
	}
	return out
}

func forEachLedger(t *testing.T, fn func(t *testing.T, l store.Ledger)) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) { fn(t, l) })
	}
}

func TestLedgerMarkAndCheck(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l store.Ledger) {
		ctx := context.Background()

		ok, err := l.IsProcessed(ctx, "101")
		require.NoError(t, err)
		assert.False(t, ok)

		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, l.MarkProcessed(ctx, model.LedgerEntry{
			MessageID:   "101",
			ProcessedAt: at,
			Sender:      "notifications@weddingwire.com",
			Subject:     "New Inquiry",
			ContactID:   "c-1",
			Platform:    model.PlatformWeddingWire,
			Status:      model.StatusSuccess,
		}))

		ok, err = l.IsProcessed(ctx, "101")
		require.NoError(t, err)
		assert.True(t, ok)

		entry, err := l.Get(ctx, "101")
		require.NoError(t, err)
		assert.Equal(t, "c-1", entry.ContactID)
		assert.Equal(t, model.PlatformWeddingWire, entry.Platform)
		assert.True(t, at.Equal(entry.ProcessedAt))
	})
}

func TestLedgerUpsertOverwrites(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l store.Ledger) {
		ctx := context.Background()

		require.NoError(t, l.MarkProcessed(ctx, model.LedgerEntry{
			MessageID: "7", Sender: "a@b.com", Status: model.StatusCreateFailed,
		}))
		require.NoError(t, l.MarkProcessed(ctx, model.LedgerEntry{
			MessageID: "7", Sender: "a@b.com", ContactID: "c-9", Status: model.StatusSuccess,
		}))

		entry, err := l.Get(ctx, "7")
		require.NoError(t, err)
		assert.Equal(t, model.StatusSuccess, entry.Status)
		assert.Equal(t, "c-9", entry.ContactID)
		assert.False(t, entry.ProcessedAt.IsZero())

		stats, err := l.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total)
	})
}

func TestLedgerGetMissing(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l store.Ledger) {
		_, err := l.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestLedgerCleanupOlderThan(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l store.Ledger) {
		ctx := context.Background()
		now := time.Now().UTC()

		require.NoError(t, l.MarkProcessed(ctx, model.LedgerEntry{
			MessageID: "old", ProcessedAt: now.Add(-40 * 24 * time.Hour), Status: model.StatusSuccess,
		}))
		require.NoError(t, l.MarkProcessed(ctx, model.LedgerEntry{
			MessageID: "new", ProcessedAt: now.Add(-time.Hour), Status: model.StatusSuccess,
		}))

		removed, err := l.CleanupOlderThan(ctx, 30*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		ok, err := l.IsProcessed(ctx, "old")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = l.IsProcessed(ctx, "new")
		require.NoError(t, err)
		assert.True(t, ok)

		removed, err = l.CleanupOlderThan(ctx, 30*24*time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestLedgerStats(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l store.Ledger) {
		ctx := context.Background()

		stats, err := l.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Total)
		assert.Empty(t, stats.PlatformBreakdown)

		entries := []model.LedgerEntry{
			{MessageID: "1", Sender: "a@x.com", Platform: model.PlatformTheKnot, Status: model.StatusSuccess},
			{MessageID: "2", Sender: "a@x.com", Platform: model.PlatformTheKnot, Status: model.StatusSuccess},
			{MessageID: "3", Sender: "b@x.com", Platform: model.PlatformZola, Status: model.StatusCreateFailed},
			{MessageID: "4", Sender: "c@x.com", Status: model.StatusExtractionFailed},
		}
		for _, e := range entries {
			require.NoError(t, l.MarkProcessed(ctx, e))
		}

		stats, err = l.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Total)
		assert.Equal(t, 3, stats.UniqueSenders)
		assert.Equal(t, 2, stats.SuccessCount)
		assert.Equal(t, 2, stats.FailureCount)
		assert.Equal(t, map[model.Platform]int{
			model.PlatformTheKnot: 2,
			model.PlatformZola:    1,
		}, stats.PlatformBreakdown)
	})
}

func TestLedgerConcurrentMarks(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l store.Ledger) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				status := model.StatusSuccess
				if i%2 == 0 {
					status = model.StatusUpdateFailed
				}
				assert.NoError(t, l.MarkProcessed(ctx, model.LedgerEntry{
					MessageID: "same", Sender: "a@b.com", Status: status,
				}))
			}(i)
		}
		wg.Wait()

		stats, err := l.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total)
	})
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/ledger.db"

	l, err := store.Open(context.Background(), model.LedgerConfig{Backend: "sqlite", Path: path})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.MarkProcessed(context.Background(), model.LedgerEntry{
		MessageID: "1", Status: model.StatusSuccess,
	}))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenRedisFromURL(t *testing.T) {
	_, mr := testutil.NewTestRedisLedger(t)

	l, err := store.Open(context.Background(), model.LedgerConfig{
		Backend:  "redis",
		RedisURL: "redis://" + mr.Addr() + "/0",
	})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.MarkProcessed(context.Background(), model.LedgerEntry{
		MessageID: "1", Status: model.StatusSuccess,
	}))
	assert.True(t, mr.Exists("leadsync:ledger:1"))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := store.Open(context.Background(), model.LedgerConfig{Backend: "mongo"})
	assert.Error(t, err)
}
