package email

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rs/zerolog"

	"github.com/nhle/lead-sync/internal/model"
	"github.com/nhle/lead-sync/internal/source"
)

// Manager owns the single long-lived mailbox session and hides its
// lifecycle: every operation reconnects transparently, and connection
// failures only surface as *source.ConnectionError once the retry
// budget is spent.
//
// A Manager is driven by a single goroutine and is not safe for
// concurrent use.
type Manager struct {
	cfg   model.IMAPConfig
	log   zerolog.Logger
	dial  dialFunc
	sleep sleepFunc

	sess session

	onSearchError func(error)
}

// NewManager creates a Manager for the configured mailbox. It does not
// connect until the first operation.
func NewManager(cfg model.IMAPConfig, log zerolog.Logger) *Manager {
	return newManager(cfg, log, dialIMAP(cfg), sleepContext)
}

func newManager(cfg model.IMAPConfig, log zerolog.Logger, dial dialFunc, sleep sleepFunc) *Manager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Manager{
		cfg:   cfg,
		log:   log.With().Str("component", "imap").Str("host", cfg.Host).Logger(),
		dial:  dial,
		sleep: sleep,
	}
}

// OnSearchError registers fn to observe unseen searches that failed and
// were reported as an empty result.
func (m *Manager) OnSearchError(fn func(error)) {
	m.onSearchError = fn
}

// backoff returns the delay after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1).
func (m *Manager) backoff(attempt int) time.Duration {
	return m.cfg.BaseDelay * time.Duration(1<<(attempt-1))
}

// Connect establishes a session, retrying with exponential backoff. It is
// a no-op when the current session answers a NOOP.
func (m *Manager) Connect(ctx context.Context) error {
	if m.sess != nil {
		if err := m.sess.Noop(); err == nil {
			return nil
		}
		m.log.Warn().Msg("liveness probe failed, reconnecting")
		m.drop()
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		sess, err := m.dial(ctx)
		if err == nil {
			m.sess = sess
			m.log.Info().
				Int("attempt", attempt).
				Str("folder", m.cfg.Folder).
				Msg("connected to mailbox")
			return nil
		}
		lastErr = err

		if attempt == m.cfg.MaxAttempts {
			break
		}

		delay := m.backoff(attempt)
		m.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", m.cfg.MaxAttempts).
			Dur("retry_in", delay).
			Msg("mailbox connection failed")

		if err := m.sleep(ctx, delay); err != nil {
			return &source.ConnectionError{
				SourceType: source.SourceTypeEmail,
				Attempts:   attempt,
				Err:        err,
			}
		}
	}

	m.log.Error().
		Err(lastErr).
		Int("attempts", m.cfg.MaxAttempts).
		Msg("mailbox connection attempts exhausted")

	return &source.ConnectionError{
		SourceType: source.SourceTypeEmail,
		Attempts:   m.cfg.MaxAttempts,
		Err:        lastErr,
	}
}

// EnsureConnected probes the session and reconnects if it is gone.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	return m.Connect(ctx)
}

// ListUnseen returns the identifiers of unread messages in the selected
// folder, in server order. A failed search is logged, triggers a
// reconnect, and yields an empty result.
func (m *Manager) ListUnseen(ctx context.Context) ([]string, error) {
	if err := m.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	uids, err := m.sess.SearchUnseen()
	if err != nil {
		m.log.Warn().Err(err).Msg("unseen search failed")
		if m.onSearchError != nil {
			m.onSearchError(err)
		}
		m.drop()
		if err := m.Connect(ctx); err != nil {
			m.log.Warn().Err(err).Msg("reconnect after failed search")
		}
		return nil, nil
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, formatUID(uid))
	}
	return ids, nil
}

// Fetch retrieves and parses one message. It returns source.ErrNotFound
// when the identifier no longer resolves and source.ErrMalformed when the
// message cannot be parsed.
func (m *Manager) Fetch(ctx context.Context, id string) (*model.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = m.withSession(ctx, "fetch", func(s session) error {
		var fetchErr error
		raw, fetchErr = s.FetchRaw(uid)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("message %s: %w", id, source.ErrNotFound)
	}

	msg, err := ParseMessage(id, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", source.ErrMalformed, err)
	}
	return msg, nil
}

// MarkSeen sets the \Seen flag on a message.
func (m *Manager) MarkSeen(ctx context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	return m.withSession(ctx, "mark seen", func(s session) error {
		return s.MarkSeen(uid)
	})
}

// WaitForActivity blocks until the server signals new mail or timeout
// elapses, then returns the unseen identifiers (empty on timeout). An
// aborted wait reconnects and returns an empty result.
func (m *Manager) WaitForActivity(ctx context.Context, timeout time.Duration) ([]string, error) {
	if err := m.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	signaled, err := m.sess.Idle(ctx, timeout)
	if err != nil {
		m.log.Warn().Err(err).Msg("idle wait aborted")
		m.drop()
		if err := m.Connect(ctx); err != nil {
			m.log.Warn().Err(err).Msg("reconnect after aborted idle")
		}
		return nil, nil
	}

	if !signaled {
		return nil, nil
	}

	m.log.Debug().Msg("new mail signaled")
	return m.ListUnseen(ctx)
}

// Close releases the session. It is idempotent and never fails.
func (m *Manager) Close() error {
	if m.sess == nil {
		return nil
	}
	m.drop()
	m.log.Info().Msg("mailbox session closed")
	return nil
}

// withSession runs fn against a live session. A transport failure drops
// the session and fn is retried once on a fresh connection; a second
// failure is a *source.ConnectionError. A status response from the server
// is returned as is.
func (m *Manager) withSession(ctx context.Context, op string, fn func(session) error) error {
	if err := m.EnsureConnected(ctx); err != nil {
		return err
	}

	err := fn(m.sess)
	if err == nil {
		return nil
	}
	if isStatusError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.log.Warn().Err(err).Str("op", op).Msg("mailbox operation failed, retrying on new session")
	m.drop()

	if err := m.Connect(ctx); err != nil {
		return err
	}

	if err := fn(m.sess); err != nil {
		if isStatusError(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		m.drop()
		return &source.ConnectionError{
			SourceType: source.SourceTypeEmail,
			Attempts:   2,
			Err:        fmt.Errorf("%s: %w", op, err),
		}
	}
	return nil
}

// isStatusError reports whether err is a NO or BAD reply. The session is
// still usable after one.
func isStatusError(err error) bool {
	var imapErr *imap.Error
	return errors.As(err, &imapErr)
}

func (m *Manager) drop() {
	if m.sess == nil {
		return
	}
	_ = m.sess.Close()
	m.sess = nil
}

func formatUID(uid imap.UID) string {
	return strconv.FormatUint(uint64(uid), 10)
}

var errInvalidID = errors.New("invalid message id")

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidID, id)
	}
	return imap.UID(n), nil
}
