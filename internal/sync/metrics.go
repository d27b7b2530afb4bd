package sync

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics counts pipeline outcomes. All fields are safe for concurrent use.
type Metrics struct {
	startedAt time.Time

	Cycles             atomic.Int64
	EmailsProcessed    atomic.Int64
	Skipped            atomic.Int64
	LeadsCreated       atomic.Int64
	LeadsUpdated       atomic.Int64
	ExtractionFailures atomic.Int64
	CRMFailures        atomic.Int64
	ConnectionErrors   atomic.Int64
	SearchErrors       atomic.Int64
	FetchErrors        atomic.Int64
	LedgerErrors       atomic.Int64
	CleanedUp          atomic.Int64
	lastCheck          atomic.Int64
}

func newMetrics(now time.Time) *Metrics {
	return &Metrics{startedAt: now}
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Cycles             int64         `json:"cycles"`
	EmailsProcessed    int64         `json:"emails_processed"`
	Skipped            int64         `json:"skipped"`
	LeadsCreated       int64         `json:"leads_created"`
	LeadsUpdated       int64         `json:"leads_updated"`
	ExtractionFailures int64         `json:"extraction_failures"`
	CRMFailures        int64         `json:"crm_failures"`
	ConnectionErrors   int64         `json:"connection_errors"`
	SearchErrors       int64         `json:"search_errors"`
	FetchErrors        int64         `json:"fetch_errors"`
	LedgerErrors       int64         `json:"ledger_errors"`
	CleanedUp          int64         `json:"cleaned_up"`
	StartedAt          time.Time     `json:"started_at"`
	LastCheck          time.Time     `json:"last_check"`
	Uptime             time.Duration `json:"uptime"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot(now time.Time) MetricsSnapshot {
	s := MetricsSnapshot{
		Cycles:             m.Cycles.Load(),
		EmailsProcessed:    m.EmailsProcessed.Load(),
		Skipped:            m.Skipped.Load(),
		LeadsCreated:       m.LeadsCreated.Load(),
		LeadsUpdated:       m.LeadsUpdated.Load(),
		ExtractionFailures: m.ExtractionFailures.Load(),
		CRMFailures:        m.CRMFailures.Load(),
		ConnectionErrors:   m.ConnectionErrors.Load(),
		SearchErrors:       m.SearchErrors.Load(),
		FetchErrors:        m.FetchErrors.Load(),
		LedgerErrors:       m.LedgerErrors.Load(),
		CleanedUp:          m.CleanedUp.Load(),
		StartedAt:          m.startedAt,
		Uptime:             now.Sub(m.startedAt),
	}
	if ns := m.lastCheck.Load(); ns != 0 {
		s.LastCheck = time.Unix(0, ns).UTC()
	}
	return s
}

// MarshalZerologObject lets a snapshot be logged with Object().
func (s MetricsSnapshot) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("cycles", s.Cycles).
		Int64("processed", s.EmailsProcessed).
		Int64("skipped", s.Skipped).
		Int64("created", s.LeadsCreated).
		Int64("updated", s.LeadsUpdated).
		Int64("extraction_failures", s.ExtractionFailures).
		Int64("crm_failures", s.CRMFailures).
		Int64("connection_errors", s.ConnectionErrors).
		Int64("search_errors", s.SearchErrors).
		Int64("fetch_errors", s.FetchErrors).
		Int64("ledger_errors", s.LedgerErrors).
		Int64("cleaned_up", s.CleanedUp).
		Dur("uptime", s.Uptime.Truncate(time.Second))
}
