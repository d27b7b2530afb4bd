package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/lead-sync/internal/crm"
	"github.com/nhle/lead-sync/internal/model"
	"github.com/nhle/lead-sync/internal/source"
	"github.com/nhle/lead-sync/internal/store"
)

// Mailbox is the connection manager surface the poller drives.
type Mailbox interface {
	EnsureConnected(ctx context.Context) error
	ListUnseen(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, id string) (*model.Message, error)
	MarkSeen(ctx context.Context, id string) error
	WaitForActivity(ctx context.Context, timeout time.Duration) ([]string, error)
	Close() error
}

// LeadExtractor turns a message into a lead.
type LeadExtractor interface {
	Extract(ctx context.Context, msg *model.Message) (*model.Lead, error)
}

// LeadSyncer pushes a lead downstream.
type LeadSyncer interface {
	SyncLead(ctx context.Context, lead *model.Lead) (crm.SyncResult, error)
}

// State is the poller's position in the cycle state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListing
	StateProcessing
	StateSyncing
	StateRecording
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListing:
		return "listing"
	case StateProcessing:
		return "processing"
	case StateSyncing:
		return "syncing"
	case StateRecording:
		return "recording"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status holds the poller's current state.
type Status struct {
	State     State
	LastCycle time.Time
	Error     error
}

// Outcome is what ProcessMessage did with one message.
type Outcome string

const (
	OutcomeSkipped          Outcome = "skipped"
	OutcomeGone             Outcome = "gone"
	OutcomeExtractionFailed Outcome = "extraction_failed"
	OutcomeCreated          Outcome = "created"
	OutcomeUpdated          Outcome = "updated"
	OutcomeSyncFailed       Outcome = "sync_failed"
)

// Options tunes the loop.
type Options struct {
	Interval        time.Duration
	Idle            bool
	IdleTimeout     time.Duration
	MetricsInterval time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
}

// Poller runs the poll cycle: connect, list unseen, and for each message
// not yet in the ledger fetch, extract, sync and record the outcome.
type Poller struct {
	mailbox   Mailbox
	extractor LeadExtractor
	syncer    LeadSyncer
	ledger    store.Ledger
	opts      Options
	log       zerolog.Logger
	metrics   *Metrics
	now       func() time.Time

	triggerCh chan struct{}

	mu          gosync.Mutex
	status      Status
	lastCleanup time.Time
	lastMetrics time.Time
}

// New creates a Poller.
func New(
	mailbox Mailbox,
	extractor LeadExtractor,
	syncer LeadSyncer,
	ledger store.Ledger,
	opts Options,
	log zerolog.Logger,
) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	now := time.Now
	return &Poller{
		mailbox:     mailbox,
		extractor:   extractor,
		syncer:      syncer,
		ledger:      ledger,
		opts:        opts,
		log:         log.With().Str("component", "poller").Logger(),
		metrics:     newMetrics(now()),
		now:         now,
		triggerCh:   make(chan struct{}, 1),
		lastCleanup: now(),
		lastMetrics: now(),
	}
}

// Metrics returns the live counters.
func (p *Poller) Metrics() *Metrics {
	return p.metrics
}

// Status returns a copy of the current status.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = s
}

func (p *Poller) finishCycle(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastCycle = p.now()
	p.status.Error = err
}

// Trigger requests an immediate cycle. It never blocks.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled. Cancellation is observed at the top
// of each cycle, between messages and while sleeping; an in-flight
// message always runs to completion. Cycle errors are logged and never
// end the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().
		Dur("interval", p.opts.Interval).
		Bool("idle", p.opts.Idle).
		Msg("poller starting")

	defer func() {
		p.setState(StateStopped)
		p.LogMetrics(context.WithoutCancel(ctx))
		if err := p.mailbox.Close(); err != nil {
			p.log.Warn().Err(err).Msg("closing mailbox")
		}
		p.log.Info().Msg("poller stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := p.RunOnce(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("poll cycle failed")
		}
		if n > 0 {
			p.LogMetrics(ctx)
		}
		p.housekeeping(ctx)

		if ctx.Err() != nil {
			return nil
		}
		p.setState(StateSleeping)
		p.sleep(ctx, err)
	}
}

// sleep waits for the next cycle: IDLE in low-latency mode when the
// connection is healthy, otherwise the fixed interval. An IDLE wait that
// ends early with nothing new (an aborted wait or a server without IDLE)
// is followed by the interval, so a broken IDLE never spins.
func (p *Poller) sleep(ctx context.Context, cycleErr error) {
	if p.opts.Idle && cycleErr == nil {
		started := p.now()
		ids, err := p.mailbox.WaitForActivity(ctx, p.opts.IdleTimeout)
		switch {
		case err != nil:
			p.log.Warn().Err(err).Msg("idle wait failed, falling back to interval")
		case len(ids) > 0:
			p.log.Debug().Int("unseen", len(ids)).Msg("new mail signalled")
			return
		case ctx.Err() != nil || p.now().Sub(started) >= p.opts.IdleTimeout:
			return
		default:
			p.log.Warn().Msg("idle wait ended early, falling back to interval")
		}
	}

	t := time.NewTimer(p.opts.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-p.triggerCh:
		p.log.Info().Msg("manual refresh requested")
	}
}

// RunOnce runs a single cycle and returns how many messages were handled
// (skips excluded). A ConnectionError ends the cycle early.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	log := p.log.With().Str("cycle_id", uuid.NewString()).Logger()
	p.metrics.Cycles.Add(1)
	p.metrics.lastCheck.Store(p.now().UnixNano())

	p.setState(StateConnecting)
	if err := p.mailbox.EnsureConnected(ctx); err != nil {
		if source.IsConnectionError(err) {
			p.metrics.ConnectionErrors.Add(1)
		}
		p.finishCycle(err)
		p.setState(StateIdle)
		return 0, fmt.Errorf("connecting to mailbox: %w", err)
	}

	p.setState(StateListing)
	ids, err := p.mailbox.ListUnseen(ctx)
	if err != nil {
		p.finishCycle(err)
		p.setState(StateIdle)
		return 0, fmt.Errorf("listing unseen messages: %w", err)
	}
	if len(ids) == 0 {
		log.Debug().Msg("no new messages")
		p.finishCycle(nil)
		p.setState(StateIdle)
		return 0, nil
	}
	log.Info().Int("unseen", len(ids)).Msg("found unseen messages")

	handled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			log.Info().Msg("shutdown requested, stopping between messages")
			break
		}

		// The message finishes even if shutdown arrives mid-way.
		outcome, err := p.processMessage(context.WithoutCancel(ctx), log, id)
		if err != nil {
			log.Error().Err(err).Str("uid", id).Msg("message left for next cycle")
			continue
		}
		if outcome != OutcomeSkipped && outcome != OutcomeGone {
			handled++
		}
	}

	p.finishCycle(nil)
	p.setState(StateIdle)
	return handled, nil
}

// ProcessMessage runs the per-message pipeline for id.
func (p *Poller) ProcessMessage(ctx context.Context, id string) (Outcome, error) {
	return p.processMessage(ctx, p.log, id)
}

func (p *Poller) processMessage(ctx context.Context, log zerolog.Logger, id string) (Outcome, error) {
	log = log.With().Str("uid", id).Logger()
	p.setState(StateProcessing)

	done, err := p.ledger.IsProcessed(ctx, id)
	if err != nil {
		p.metrics.LedgerErrors.Add(1)
		return "", fmt.Errorf("checking ledger: %w", err)
	}
	if done {
		p.metrics.Skipped.Add(1)
		log.Debug().Msg("already processed, skipping")
		return OutcomeSkipped, nil
	}

	msg, err := p.mailbox.Fetch(ctx, id)
	switch {
	case errors.Is(err, source.ErrNotFound):
		log.Warn().Msg("message disappeared before fetch")
		return OutcomeGone, nil
	case errors.Is(err, source.ErrMalformed):
		p.metrics.ExtractionFailures.Add(1)
		log.Warn().Err(err).Msg("message cannot be parsed")
		entry := model.LedgerEntry{MessageID: id, Status: model.StatusExtractionFailed}
		if err := p.record(ctx, log, entry); err != nil {
			return "", err
		}
		return OutcomeExtractionFailed, nil
	case err != nil:
		p.metrics.FetchErrors.Add(1)
		return "", fmt.Errorf("fetching message: %w", err)
	}
	log.Info().Str("subject", msg.Subject).Msg("processing message")

	entry := model.LedgerEntry{
		MessageID: id,
		Sender:    msg.From,
		Subject:   msg.Subject,
	}

	lead, err := p.extractor.Extract(ctx, msg)
	if err != nil || !lead.IsValid() {
		p.metrics.ExtractionFailures.Add(1)
		ev := log.Warn()
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("no valid lead extracted")

		entry.Status = model.StatusExtractionFailed
		if lead != nil {
			entry.Platform = lead.SourcePlatform
		}
		if err := p.record(ctx, log, entry); err != nil {
			return "", err
		}
		return OutcomeExtractionFailed, nil
	}
	entry.Platform = lead.SourcePlatform

	p.setState(StateSyncing)
	outcome := OutcomeSyncFailed
	result, err := p.syncer.SyncLead(ctx, lead)
	switch {
	case err != nil:
		p.metrics.CRMFailures.Add(1)
		entry.Status = crm.FailureStatus(err)
		var se *crm.SyncError
		if errors.As(err, &se) {
			entry.ContactID = se.ContactID
		}
		log.Error().Err(err).Msg("crm sync failed")
	case result.Action == crm.ActionUpdated:
		p.metrics.LeadsUpdated.Add(1)
		entry.Status = model.StatusSuccess
		entry.ContactID = result.ContactID
		outcome = OutcomeUpdated
	default:
		p.metrics.LeadsCreated.Add(1)
		entry.Status = model.StatusSuccess
		entry.ContactID = result.ContactID
		outcome = OutcomeCreated
	}

	if err := p.record(ctx, log, entry); err != nil {
		return "", err
	}
	p.metrics.EmailsProcessed.Add(1)

	log.Info().
		Str("outcome", string(outcome)).
		Str("contact_id", entry.ContactID).
		Str("platform", string(entry.Platform)).
		Msg("message processed")
	return outcome, nil
}

// record commits the ledger entry, then flags the message seen.
func (p *Poller) record(ctx context.Context, log zerolog.Logger, entry model.LedgerEntry) error {
	p.setState(StateRecording)
	if err := p.ledger.MarkProcessed(ctx, entry); err != nil {
		p.metrics.LedgerErrors.Add(1)
		return fmt.Errorf("recording %s: %w", entry.Status, err)
	}
	if err := p.mailbox.MarkSeen(ctx, entry.MessageID); err != nil {
		log.Warn().Err(err).Msg("could not flag message seen")
	}
	return nil
}

// housekeeping runs the periodic retention sweep and metrics report.
func (p *Poller) housekeeping(ctx context.Context) {
	now := p.now()

	if p.opts.CleanupInterval > 0 && p.opts.Retention > 0 && now.Sub(p.lastCleanup) >= p.opts.CleanupInterval {
		p.lastCleanup = now
		n, err := p.ledger.CleanupOlderThan(ctx, p.opts.Retention)
		if err != nil {
			p.log.Warn().Err(err).Msg("ledger cleanup failed")
		} else {
			p.metrics.CleanedUp.Add(int64(n))
			p.log.Info().Int("removed", n).Dur("retention", p.opts.Retention).Msg("ledger cleanup")
		}
	}

	if p.opts.MetricsInterval > 0 && now.Sub(p.lastMetrics) >= p.opts.MetricsInterval {
		p.LogMetrics(ctx)
	}
}

// LogMetrics logs the counters and the ledger stats.
func (p *Poller) LogMetrics(ctx context.Context) {
	p.lastMetrics = p.now()
	p.log.Info().Object("metrics", p.metrics.Snapshot(p.now())).Msg("metrics")

	stats, err := p.ledger.Stats(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("could not fetch ledger stats")
		return
	}
	platforms := zerolog.Dict()
	for k, v := range stats.PlatformBreakdown {
		platforms.Int(string(k), v)
	}
	p.log.Info().
		Int("total", stats.Total).
		Int("unique_senders", stats.UniqueSenders).
		Int("success", stats.SuccessCount).
		Int("failure", stats.FailureCount).
		Dict("platforms", platforms).
		Msg("ledger stats")
}
