package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nhle/lead-sync/internal/model"
)

const (
	redisEntryPrefix = "leadsync:ledger:"
	redisAgeIndex    = "leadsync:ledger_by_time"
	redisSweepBatch  = 500
)

// RedisLedger stores one hash per message plus a sorted set scored by
// processing time, used for retention sweeps and stats scans.
type RedisLedger struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisLedgerFromURL connects to redisURL and verifies the connection.
func NewRedisLedgerFromURL(ctx context.Context, redisURL string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisLedger(rdb), nil
}

// NewRedisLedger wraps an existing client.
func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb, now: time.Now}
}

func entryKey(id string) string { return redisEntryPrefix + id }

// Close closes the client.
func (l *RedisLedger) Close() error {
	return l.rdb.Close()
}

// IsProcessed reports whether a hash exists for id.
func (l *RedisLedger) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := l.rdb.Exists(ctx, entryKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", id, err)
	}
	return n > 0, nil
}

// MarkProcessed writes the hash and age index in one MULTI/EXEC.
func (l *RedisLedger) MarkProcessed(ctx context.Context, entry model.LedgerEntry) error {
	entry = stampEntry(entry, l.now())
	key := entryKey(entry.MessageID)

	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"message_id":   entry.MessageID,
			"processed_at": entry.ProcessedAt.UnixMicro(),
			"sender":       entry.Sender,
			"subject":      entry.Subject,
			"contact_id":   entry.ContactID,
			"platform":     string(entry.Platform),
			"status":       string(entry.Status),
		})
		pipe.ZAdd(ctx, redisAgeIndex, redis.Z{
			Score:  float64(entry.ProcessedAt.UnixMicro()),
			Member: entry.MessageID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("marking message %s processed: %w", entry.MessageID, err)
	}
	return nil
}

// Get returns the entry for id.
func (l *RedisLedger) Get(ctx context.Context, id string) (*model.LedgerEntry, error) {
	fields, err := l.rdb.HGetAll(ctx, entryKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	entry, err := entryFromHash(fields)
	if err != nil {
		return nil, fmt.Errorf("decoding message %s: %w", id, err)
	}
	return &entry, nil
}

// CleanupOlderThan removes entries scored before the cutoff in batches.
func (l *RedisLedger) CleanupOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := l.now().Add(-retention).UnixMicro()
	max := "(" + strconv.FormatInt(cutoff, 10)

	removed := 0
	for {
		ids, err := l.rdb.ZRangeByScore(ctx, redisAgeIndex, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   max,
			Count: redisSweepBatch,
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("scanning age index: %w", err)
		}
		if len(ids) == 0 {
			return removed, nil
		}

		keys := make([]string, len(ids))
		members := make([]any, len(ids))
		for i, id := range ids {
			keys[i] = entryKey(id)
			members[i] = id
		}

		var del *redis.IntCmd
		_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, redisAgeIndex, members...)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("deleting expired entries: %w", err)
		}
		removed += int(del.Val())

		if len(ids) < redisSweepBatch {
			return removed, nil
		}
	}
}

// Stats walks the age index and aggregates each entry.
func (l *RedisLedger) Stats(ctx context.Context) (*model.LedgerStats, error) {
	ids, err := l.rdb.ZRange(ctx, redisAgeIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}

	acc := newStatsAccumulator()
	for start := 0; start < len(ids); start += redisSweepBatch {
		end := min(start+redisSweepBatch, len(ids))

		cmds := make([]*redis.MapStringStringCmd, 0, end-start)
		_, err := l.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids[start:end] {
				cmds = append(cmds, pipe.HGetAll(ctx, entryKey(id)))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reading ledger entries: %w", err)
		}

		for _, cmd := range cmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				continue
			}
			entry, err := entryFromHash(fields)
			if err != nil {
				return nil, err
			}
			acc.add(entry)
		}
	}

	return acc.result(), nil
}

func entryFromHash(fields map[string]string) (model.LedgerEntry, error) {
	micros, err := strconv.ParseInt(fields["processed_at"], 10, 64)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("parsing processed_at %q: %w", fields["processed_at"], err)
	}
	return model.LedgerEntry{
		MessageID:   fields["message_id"],
		ProcessedAt: time.UnixMicro(micros).UTC(),
		Sender:      fields["sender"],
		Subject:     fields["subject"],
		ContactID:   fields["contact_id"],
		Platform:    model.Platform(fields["platform"]),
		Status:      model.LedgerStatus(fields["status"]),
	}, nil
}
