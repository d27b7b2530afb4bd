package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/lead-sync/internal/model"
)

// timeLayout is fixed-width so lexical order of processed_at matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SQLiteLedger implements Ledger on a local SQLite database.
type SQLiteLedger struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteLedger opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	l := &SQLiteLedger{db: db, now: time.Now}
	if err := l.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return l, nil
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (l *SQLiteLedger) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := l.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = l.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := l.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// IsProcessed reports whether a ledger row exists for id.
func (l *SQLiteLedger) IsProcessed(ctx context.Context, id string) (bool, error) {
	var n int
	err := l.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM processed_emails WHERE message_id = ?", id)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", id, err)
	}
	return n > 0, nil
}

// MarkProcessed upserts the outcome for entry.MessageID.
func (l *SQLiteLedger) MarkProcessed(ctx context.Context, entry model.LedgerEntry) error {
	entry = stampEntry(entry, l.now())

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_emails (
			message_id, processed_at, sender, subject, contact_id, platform, status
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			processed_at = excluded.processed_at,
			sender       = excluded.sender,
			subject      = excluded.subject,
			contact_id   = excluded.contact_id,
			platform     = excluded.platform,
			status       = excluded.status`,
		entry.MessageID, entry.ProcessedAt.Format(timeLayout),
		entry.Sender, entry.Subject, entry.ContactID,
		string(entry.Platform), string(entry.Status),
	)
	if err != nil {
		return fmt.Errorf("marking message %s processed: %w", entry.MessageID, err)
	}
	return nil
}

// Get returns the ledger entry for id.
func (l *SQLiteLedger) Get(ctx context.Context, id string) (*model.LedgerEntry, error) {
	row := l.db.QueryRowxContext(ctx, `
		SELECT message_id, processed_at, sender, subject, contact_id, platform, status
		FROM processed_emails WHERE message_id = ?`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return &entry, nil
}

// CleanupOlderThan deletes rows processed before now-retention.
func (l *SQLiteLedger) CleanupOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := l.now().Add(-retention).UTC().Format(timeLayout)

	res, err := l.db.ExecContext(ctx,
		"DELETE FROM processed_emails WHERE processed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting entries older than %s: %w", retention, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted entries: %w", err)
	}
	return int(n), nil
}

// Stats aggregates the ledger contents with SQL.
func (l *SQLiteLedger) Stats(ctx context.Context) (*model.LedgerStats, error) {
	stats := &model.LedgerStats{PlatformBreakdown: make(map[model.Platform]int)}

	err := l.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT sender),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status <> 'success' THEN 1 ELSE 0 END), 0)
		FROM processed_emails`).Scan(
		&stats.Total, &stats.UniqueSenders, &stats.SuccessCount, &stats.FailureCount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating ledger: %w", err)
	}

	rows, err := l.db.QueryxContext(ctx, `
		SELECT platform, COUNT(*) FROM processed_emails
		WHERE platform <> '' GROUP BY platform`)
	if err != nil {
		return nil, fmt.Errorf("querying platform breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			platform string
			count    int
		)
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, fmt.Errorf("scanning platform row: %w", err)
		}
		stats.PlatformBreakdown[model.Platform(platform)] = count
	}

	return stats, rows.Err()
}

// scanEntry scans a single processed_emails row.
func scanEntry(row *sqlx.Row) (model.LedgerEntry, error) {
	var (
		entry       model.LedgerEntry
		processedAt string
		platform    string
		status      string
	)

	err := row.Scan(
		&entry.MessageID, &processedAt, &entry.Sender, &entry.Subject,
		&entry.ContactID, &platform, &status,
	)
	if err != nil {
		return model.LedgerEntry{}, err
	}

	t, err := time.Parse(timeLayout, processedAt)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("parsing processed_at %q: %w", processedAt, err)
	}
	entry.ProcessedAt = t
	entry.Platform = model.Platform(platform)
	entry.Status = model.LedgerStatus(status)

	return entry, nil
}
