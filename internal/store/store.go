package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nhle/lead-sync/internal/model"
)

// ErrNotFound is returned by Get when no entry exists for an id.
var ErrNotFound = errors.New("ledger entry not found")

// Ledger is the durable idempotency store keyed by message identifier.
// Implementations must make MarkProcessed an atomic upsert and must be
// safe for concurrent use.
type Ledger interface {
	// IsProcessed reports whether an entry has been committed for id.
	IsProcessed(ctx context.Context, id string) (bool, error)

	// MarkProcessed upserts the outcome for entry.MessageID. A zero
	// ProcessedAt is stamped with the current time.
	MarkProcessed(ctx context.Context, entry model.LedgerEntry) error

	// Get returns the entry for id or ErrNotFound.
	Get(ctx context.Context, id string) (*model.LedgerEntry, error)

	// CleanupOlderThan deletes entries processed before now-retention and
	// returns how many were removed.
	CleanupOlderThan(ctx context.Context, retention time.Duration) (int, error)

	// Stats aggregates the ledger contents.
	Stats(ctx context.Context) (*model.LedgerStats, error)

	Close() error
}

// Open creates the ledger backend selected by cfg.Backend.
func Open(ctx context.Context, cfg model.LedgerConfig) (Ledger, error) {
	switch cfg.Backend {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.Path); cfg.Path != ":memory:" && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating ledger directory %s: %w", dir, err)
			}
		}
		return NewSQLiteLedger(cfg.Path)
	case "redis":
		return NewRedisLedgerFromURL(ctx, cfg.RedisURL)
	case "postgres":
		return NewPostgresLedger(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// stampEntry fills ProcessedAt and normalizes it to UTC.
func stampEntry(entry model.LedgerEntry, now time.Time) model.LedgerEntry {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = now
	}
	entry.ProcessedAt = entry.ProcessedAt.UTC()
	return entry
}

// statsAccumulator builds LedgerStats from individual entries for
// backends without server-side aggregation.
type statsAccumulator struct {
	stats   model.LedgerStats
	senders map[string]struct{}
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{
		stats:   model.LedgerStats{PlatformBreakdown: make(map[model.Platform]int)},
		senders: make(map[string]struct{}),
	}
}

func (a *statsAccumulator) add(e model.LedgerEntry) {
	a.stats.Total++
	a.senders[e.Sender] = struct{}{}
	if e.Platform != "" {
		a.stats.PlatformBreakdown[e.Platform]++
	}
	if e.Status.IsFailure() {
		a.stats.FailureCount++
	} else {
		a.stats.SuccessCount++
	}
}

func (a *statsAccumulator) result() *model.LedgerStats {
	a.stats.UniqueSenders = len(a.senders)
	return &a.stats
}
