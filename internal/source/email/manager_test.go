package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/lead-sync/internal/model"
	"github.com/nhle/lead-sync/internal/source"
)

type fakeSession struct {
	noopErr   error
	searchErr error
	fetchErr  error
	idleErr   error
	signaled  bool
	unseen    []imap.UID
	messages  map[imap.UID][]byte
	seen      []imap.UID
	closed    int
}

func (f *fakeSession) Noop() error { return f.noopErr }

func (f *fakeSession) SearchUnseen() ([]imap.UID, error) {
	return f.unseen, f.searchErr
}

func (f *fakeSession) FetchRaw(uid imap.UID) ([]byte, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.messages[uid], nil
}

func (f *fakeSession) MarkSeen(uid imap.UID) error {
	f.seen = append(f.seen, uid)
	return nil
}

func (f *fakeSession) Idle(context.Context, time.Duration) (bool, error) {
	return f.signaled, f.idleErr
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

// scriptedDialer fails the first failures dials, then hands out sessions.
type scriptedDialer struct {
	failures int
	calls    int
	sessions []*fakeSession
}

func (d *scriptedDialer) dial(context.Context) (session, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("connection refused")
	}
	s := &fakeSession{messages: map[imap.UID][]byte{}}
	if n := len(d.sessions); n > 0 {
		s = d.sessions[0]
		d.sessions = d.sessions[1:]
	}
	return s, nil
}

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func (r *recordingSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

func testConfig() model.IMAPConfig {
	return model.IMAPConfig{
		Host:        "imap.example.com",
		Port:        993,
		Folder:      "INBOX",
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Timeout:     time.Second,
	}
}

func TestConnectBacksOffExponentially(t *testing.T) {
	dialer := &scriptedDialer{failures: 4}
	sleeper := &recordingSleeper{}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, sleeper.sleep)

	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, 5, dialer.calls)
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, sleeper.delays)
	assert.Equal(t, 15*time.Second, sleeper.total())
}

func TestConnectExhaustsAttempts(t *testing.T) {
	dialer := &scriptedDialer{failures: 10}
	sleeper := &recordingSleeper{}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, sleeper.sleep)

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, source.IsConnectionError(err))

	var connErr *source.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 5, connErr.Attempts)
	assert.Equal(t, 5, dialer.calls)
	assert.Len(t, sleeper.delays, 4)
}

func TestConnectStopsWhenContextCancelled(t *testing.T) {
	dialer := &scriptedDialer{failures: 10}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, sleepContext)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Connect(ctx)
	require.Error(t, err)
	assert.True(t, source.IsConnectionError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, dialer.calls)
}

func TestConnectIsNoopWhenAlive(t *testing.T) {
	dialer := &scriptedDialer{}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, dialer.calls)
}

func TestEnsureConnectedReconnectsAfterFailedProbe(t *testing.T) {
	dead := &fakeSession{noopErr: errors.New("broken pipe")}
	dialer := &scriptedDialer{sessions: []*fakeSession{dead, {}}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.EnsureConnected(context.Background()))

	assert.Equal(t, 2, dialer.calls)
	assert.Equal(t, 1, dead.closed)
}

func TestListUnseen(t *testing.T) {
	sess := &fakeSession{unseen: []imap.UID{3, 7, 12}}
	dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	ids, err := m.ListUnseen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "7", "12"}, ids)
}

func TestListUnseenSearchFailureReturnsEmptyAndReconnects(t *testing.T) {
	broken := &fakeSession{searchErr: errors.New("BAD search")}
	dialer := &scriptedDialer{sessions: []*fakeSession{broken}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	ids, err := m.ListUnseen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 2, dialer.calls)
	assert.Equal(t, 1, broken.closed)
}

func TestListUnseenSurfacesConnectionError(t *testing.T) {
	dialer := &scriptedDialer{failures: 100}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	_, err := m.ListUnseen(context.Background())
	assert.True(t, source.IsConnectionError(err))
}

const rawLead = "From: WeddingWire <leads@weddingwire.com>\r\n" +
	"To: vendor@example.com\r\n" +
	"Subject: New lead\r\n" +
	"Date: Mon, 02 Jun 2025 10:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Name: Sarah Johnson\r\n"

func TestFetch(t *testing.T) {
	sess := &fakeSession{messages: map[imap.UID][]byte{42: []byte(rawLead)}}
	dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	msg, err := m.Fetch(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", msg.ID)
	assert.Equal(t, "leads@weddingwire.com", msg.From)
	assert.Equal(t, "New lead", msg.Subject)
}

func TestFetchNotFound(t *testing.T) {
	dialer := &scriptedDialer{}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	_, err := m.Fetch(context.Background(), "99")
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestFetchRejectsInvalidID(t *testing.T) {
	m := newManager(testConfig(), zerolog.Nop(), (&scriptedDialer{}).dial, (&recordingSleeper{}).sleep)

	_, err := m.Fetch(context.Background(), "abc")
	assert.ErrorIs(t, err, errInvalidID)
}

func TestFetchRetriesOnFreshSession(t *testing.T) {
	flaky := &fakeSession{fetchErr: errors.New("i/o timeout")}
	good := &fakeSession{messages: map[imap.UID][]byte{42: []byte(rawLead)}}
	dialer := &scriptedDialer{sessions: []*fakeSession{flaky, good}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	msg, err := m.Fetch(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", msg.ID)
	assert.Equal(t, 1, flaky.closed)
}

func TestFetchMalformedMessage(t *testing.T) {
	sess := &fakeSession{messages: map[imap.UID][]byte{7: []byte("this is not a header\r\n\r\nbody")}}
	dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	_, err := m.Fetch(context.Background(), "7")
	assert.ErrorIs(t, err, source.ErrMalformed)
	assert.Equal(t, 1, dialer.calls)
}

func TestFetchStatusErrorKeepsSession(t *testing.T) {
	sess := &fakeSession{fetchErr: &imap.Error{Type: imap.StatusResponseTypeNo, Text: "no such message"}}
	dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	_, err := m.Fetch(context.Background(), "42")
	require.Error(t, err)
	assert.False(t, source.IsConnectionError(err))
	assert.Equal(t, 1, dialer.calls)
	assert.Zero(t, sess.closed)
}

func TestFetchFailsTwiceIsConnectionError(t *testing.T) {
	first := &fakeSession{fetchErr: errors.New("i/o timeout")}
	second := &fakeSession{fetchErr: errors.New("broken pipe")}
	dialer := &scriptedDialer{sessions: []*fakeSession{first, second}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	_, err := m.Fetch(context.Background(), "42")
	var connErr *source.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 2, connErr.Attempts)
	assert.ErrorContains(t, err, "broken pipe")
	assert.Equal(t, 1, second.closed)
}

func TestListUnseenReportsSearchFailures(t *testing.T) {
	sess := &fakeSession{searchErr: errors.New("BAD search")}
	dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	var reported []error
	m.OnSearchError(func(err error) { reported = append(reported, err) })

	ids, err := m.ListUnseen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0], "BAD search")
}

func TestLoginErrorClassification(t *testing.T) {
	rejected := loginError("leads@example.com", "imap.example.com:993",
		&imap.Error{Type: imap.StatusResponseTypeNo, Text: "invalid credentials"})
	assert.True(t, source.IsAuthError(rejected))

	handshake := loginError("leads@example.com", "imap.example.com:993",
		errors.New("tls: failed to verify certificate"))
	assert.False(t, source.IsAuthError(handshake))
	assert.ErrorContains(t, handshake, "logging in to imap.example.com:993")
}

func TestMarkSeen(t *testing.T) {
	sess := &fakeSession{}
	dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	require.NoError(t, m.MarkSeen(context.Background(), "5"))
	assert.Equal(t, []imap.UID{5}, sess.seen)
}

func TestWaitForActivity(t *testing.T) {
	t.Run("signaled", func(t *testing.T) {
		sess := &fakeSession{signaled: true, unseen: []imap.UID{9}}
		dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
		m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

		ids, err := m.WaitForActivity(context.Background(), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, []string{"9"}, ids)
	})

	t.Run("timeout", func(t *testing.T) {
		sess := &fakeSession{unseen: []imap.UID{9}}
		dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
		m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

		ids, err := m.WaitForActivity(context.Background(), time.Minute)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("aborted", func(t *testing.T) {
		sess := &fakeSession{idleErr: errors.New("connection reset")}
		dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
		m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

		ids, err := m.WaitForActivity(context.Background(), time.Minute)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Equal(t, 2, dialer.calls)
	})
}

func TestCloseIsIdempotent(t *testing.T) {
	sess := &fakeSession{}
	dialer := &scriptedDialer{sessions: []*fakeSession{sess}}
	m := newManager(testConfig(), zerolog.Nop(), dialer.dial, (&recordingSleeper{}).sleep)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, sess.closed)
}
