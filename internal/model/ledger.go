package model

import "time"

// LedgerStatus is the outcome recorded for a processed message.
type LedgerStatus string

const (
	StatusSuccess          LedgerStatus = "success"
	StatusExtractionFailed LedgerStatus = "extraction_failed"
	StatusCreateFailed     LedgerStatus = "create_failed"
	StatusUpdateFailed     LedgerStatus = "update_failed"
)

// IsFailure reports whether the status records a failed outcome.
func (s LedgerStatus) IsFailure() bool {
	return s != StatusSuccess
}

// LedgerEntry records the outcome of processing one inbound message.
type LedgerEntry struct {
	MessageID   string       `db:"message_id" json:"message_id"`
	ProcessedAt time.Time    `db:"processed_at" json:"processed_at"`
	Sender      string       `db:"sender" json:"sender"`
	Subject     string       `db:"subject" json:"subject"`
	ContactID   string       `db:"contact_id" json:"contact_id,omitempty"`
	Platform    Platform     `db:"platform" json:"platform,omitempty"`
	Status      LedgerStatus `db:"status" json:"status"`
}

// LedgerStats is an aggregate view over the ledger.
type LedgerStats struct {
	Total             int              `json:"total"`
	UniqueSenders     int              `json:"unique_senders"`
	PlatformBreakdown map[Platform]int `json:"platform_breakdown"`
	SuccessCount      int              `json:"success_count"`
	FailureCount      int              `json:"failure_count"`
}
