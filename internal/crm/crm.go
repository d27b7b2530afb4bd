// Package crm syncs extracted leads into a CRM: it looks up an existing
// contact, then creates or updates it and opens a pipeline record.
package crm

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/lead-sync/internal/model"
)

// Contact is the subset of a CRM contact the syncer inspects.
type Contact struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// NewContact is the payload for creating a contact.
type NewContact struct {
	Email        string
	FirstName    string
	LastName     string
	Phone        string
	CustomFields []model.CustomField
}

// Client is the CRM collaborator contract.
type Client interface {
	SearchContacts(ctx context.Context, query string) ([]Contact, error)
	CreateContact(ctx context.Context, c NewContact) (string, error)
	UpdateContact(ctx context.Context, contactID string, fields []model.CustomField) error

	// FindOrCreatePipelineRecord must not fail when a matching record
	// already exists.
	FindOrCreatePipelineRecord(ctx context.Context, contactID, title string) error
}

// Action names what the syncer did with a lead.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// SyncResult describes a successful sync.
type SyncResult struct {
	Action    Action
	ContactID string
	// MatchedBy is "email", "phone" or "name_date" for updates.
	MatchedBy string
}

// SyncError is a downstream failure scoped to one lead.
type SyncError struct {
	Action    Action
	ContactID string
	Err       error
}

func (e *SyncError) Error() string {
	if e.Action == ActionUpdated {
		return fmt.Sprintf("updating contact %s: %v", e.ContactID, e.Err)
	}
	return fmt.Sprintf("creating contact: %v", e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Status maps the failure to the ledger status recorded for it.
func (e *SyncError) Status() model.LedgerStatus {
	if e.Action == ActionUpdated {
		return model.StatusUpdateFailed
	}
	return model.StatusCreateFailed
}

// FailureStatus returns the ledger status for a SyncLead error.
func FailureStatus(err error) model.LedgerStatus {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Status()
	}
	return model.StatusCreateFailed
}
