package email

import (
	"context"
	"time"

	"github.com/emersion/go-imap/v2"
)

// session is the subset of an IMAP connection the Manager drives.
// imapSession implements it over go-imap; tests substitute fakes.
type session interface {
	Noop() error
	SearchUnseen() ([]imap.UID, error)
	FetchRaw(uid imap.UID) ([]byte, error)
	MarkSeen(uid imap.UID) error
	Idle(ctx context.Context, timeout time.Duration) (bool, error)
	Close() error
}

// dialFunc opens a new authenticated session with the folder selected.
type dialFunc func(ctx context.Context) (session, error)

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
