package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"

	"github.com/nhle/lead-sync/internal/model"
	"github.com/nhle/lead-sync/internal/source"
)

// imapSession is one authenticated IMAP connection with a selected folder.
// Every command runs under a per-command deadline on the underlying conn.
type imapSession struct {
	conn    net.Conn
	client  *imapclient.Client
	timeout time.Duration

	// newMail receives a signal whenever the server reports a new
	// message count for the selected mailbox.
	newMail chan struct{}
}

// dialIMAP returns a dialFunc that connects, authenticates, and selects
// cfg.Folder.
func dialIMAP(cfg model.IMAPConfig) dialFunc {
	return func(ctx context.Context) (session, error) {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

		dialer := net.Dialer{Timeout: cfg.Timeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}

		s := &imapSession{
			conn:    conn,
			timeout: cfg.Timeout,
			newMail: make(chan struct{}, 1),
		}

		opts := &imapclient.Options{
			WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
			TLSConfig:   &tls.Config{ServerName: cfg.Host},
			UnilateralDataHandler: &imapclient.UnilateralDataHandler{
				Mailbox: func(data *imapclient.UnilateralDataMailbox) {
					if data.NumMessages != nil {
						s.signalNewMail()
					}
				},
			},
		}

		s.setDeadline(cfg.Timeout)

		if cfg.TLS {
			s.client = imapclient.New(tls.Client(conn, opts.TLSConfig), opts)
		} else {
			client, err := imapclient.NewStartTLS(conn, opts)
			if err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("starting TLS with %s: %w", addr, err)
			}
			s.client = client
		}

		if err := s.client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
			_ = s.client.Close()
			return nil, loginError(cfg.Username, addr, err)
		}

		if _, err := s.client.Select(cfg.Folder, nil).Wait(); err != nil {
			_ = s.client.Close()
			return nil, fmt.Errorf("selecting %s: %w", cfg.Folder, err)
		}

		s.clearDeadline()
		return s, nil
	}
}

// loginError classifies a failed LOGIN. Only a status reply from the
// server means the credentials were rejected; anything else (a TLS
// handshake or a dropped connection) is a transport failure.
func loginError(username, addr string, err error) error {
	if !isStatusError(err) {
		return fmt.Errorf("logging in to %s: %w", addr, err)
	}
	return &source.AuthError{
		SourceType: source.SourceTypeEmail,
		Message:    fmt.Sprintf("authentication failed for %s: %v", username, err),
	}
}

func (s *imapSession) signalNewMail() {
	select {
	case s.newMail <- struct{}{}:
	default:
	}
}

func (s *imapSession) setDeadline(d time.Duration) {
	if d > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(d))
	}
}

func (s *imapSession) clearDeadline() {
	_ = s.conn.SetDeadline(time.Time{})
}

// Noop is the liveness probe.
func (s *imapSession) Noop() error {
	s.setDeadline(s.timeout)
	defer s.clearDeadline()

	return s.client.Noop().Wait()
}

// SearchUnseen returns the UIDs of messages without the \Seen flag.
func (s *imapSession) SearchUnseen() ([]imap.UID, error) {
	s.setDeadline(s.timeout)
	defer s.clearDeadline()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	return data.AllUIDs(), nil
}

// FetchRaw returns the full RFC 5322 message for uid without setting
// \Seen. A nil slice with a nil error means the UID no longer exists.
func (s *imapSession) FetchRaw(uid imap.UID) ([]byte, error) {
	s.setDeadline(s.timeout)
	defer s.clearDeadline()

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, fmt.Errorf("fetching UID %d: %w", uid, err)
		}
		return nil, nil
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting UID %d: %w", uid, err)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch: %w", err)
	}

	return buf.FindBodySection(bodySection), nil
}

// MarkSeen adds the \Seen flag to uid.
func (s *imapSession) MarkSeen(uid imap.UID) error {
	s.setDeadline(s.timeout)
	defer s.clearDeadline()

	storeCmd := s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	return storeCmd.Close()
}

// Idle blocks in IDLE until the server reports new mail, timeout
// elapses, or ctx is done. It reports whether new mail was signaled.
func (s *imapSession) Idle(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case <-s.newMail:
		return true, nil
	default:
	}

	s.setDeadline(timeout + s.timeout)
	defer s.clearDeadline()

	idleCmd, err := s.client.Idle()
	if err != nil {
		return false, fmt.Errorf("starting IDLE: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- idleCmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	signaled := false
	select {
	case <-s.newMail:
		signaled = true
	case <-timer.C:
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			return false, fmt.Errorf("IDLE aborted: %w", err)
		}
		return false, nil
	}

	if err := idleCmd.Close(); err != nil {
		return signaled, fmt.Errorf("stopping IDLE: %w", err)
	}
	if err := <-done; err != nil {
		return signaled, fmt.Errorf("IDLE aborted: %w", err)
	}

	return signaled, nil
}

// Close logs out and closes the connection. Errors are ignored
// since the connection may already be dead.
func (s *imapSession) Close() error {
	s.setDeadline(s.timeout)
	_ = s.client.Logout().Wait()
	_ = s.client.Close()
	return nil
}
