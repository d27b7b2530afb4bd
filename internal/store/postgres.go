package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nhle/lead-sync/internal/model"
)

// PostgresLedger implements Ledger on a shared Postgres database so
// several pollers can coordinate on one ledger.
type PostgresLedger struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresLedger connects to dsn and ensures the schema exists.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	l := &PostgresLedger{pool: pool, now: time.Now}
	if err := l.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return l, nil
}

func (l *PostgresLedger) ensureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS processed_emails (
			message_id   TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL,
			sender       TEXT NOT NULL DEFAULT '',
			subject      TEXT NOT NULL DEFAULT '',
			contact_id   TEXT NOT NULL DEFAULT '',
			platform     TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_processed_emails_processed_at ON processed_emails(processed_at);
		CREATE INDEX IF NOT EXISTS idx_processed_emails_platform ON processed_emails(platform);
	`)
	return err
}

// Close releases the pool.
func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}

func (l *PostgresLedger) IsProcessed(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_emails WHERE message_id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", id, err)
	}
	return exists, nil
}

func (l *PostgresLedger) MarkProcessed(ctx context.Context, entry model.LedgerEntry) error {
	entry = stampEntry(entry, l.now())

	_, err := l.pool.Exec(ctx, `
		INSERT INTO processed_emails
			(message_id, processed_at, sender, subject, contact_id, platform, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE SET
			processed_at = EXCLUDED.processed_at,
			sender       = EXCLUDED.sender,
			subject      = EXCLUDED.subject,
			contact_id   = EXCLUDED.contact_id,
			platform     = EXCLUDED.platform,
			status       = EXCLUDED.status
	`, entry.MessageID, entry.ProcessedAt, entry.Sender, entry.Subject,
		entry.ContactID, string(entry.Platform), string(entry.Status))
	if err != nil {
		return fmt.Errorf("marking message %s processed: %w", entry.MessageID, err)
	}
	return nil
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (*model.LedgerEntry, error) {
	var (
		entry    model.LedgerEntry
		platform string
		status   string
	)
	err := l.pool.QueryRow(ctx, `
		SELECT message_id, processed_at, sender, subject, contact_id, platform, status
		FROM processed_emails WHERE message_id = $1
	`, id).Scan(&entry.MessageID, &entry.ProcessedAt, &entry.Sender, &entry.Subject,
		&entry.ContactID, &platform, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	entry.ProcessedAt = entry.ProcessedAt.UTC()
	entry.Platform = model.Platform(platform)
	entry.Status = model.LedgerStatus(status)
	return &entry, nil
}

func (l *PostgresLedger) CleanupOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	tag, err := l.pool.Exec(ctx,
		`DELETE FROM processed_emails WHERE processed_at < $1`, l.now().Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting entries older than %s: %w", retention, err)
	}
	return int(tag.RowsAffected()), nil
}

func (l *PostgresLedger) Stats(ctx context.Context) (*model.LedgerStats, error) {
	stats := &model.LedgerStats{PlatformBreakdown: make(map[model.Platform]int)}

	err := l.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT sender),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status <> 'success')
		FROM processed_emails
	`).Scan(&stats.Total, &stats.UniqueSenders, &stats.SuccessCount, &stats.FailureCount)
	if err != nil {
		return nil, fmt.Errorf("aggregating ledger: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT platform, COUNT(*) FROM processed_emails
		WHERE platform <> '' GROUP BY platform
	`)
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
