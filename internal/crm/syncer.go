package crm

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/lead-sync/internal/model"
)

const placeholderDomain = "placeholder.invalid"

// Syncer pushes leads through a Client.
type Syncer struct {
	client Client
	log    zerolog.Logger
	newID  func() string
}

// NewSyncer creates a Syncer.
func NewSyncer(client Client, log zerolog.Logger) *Syncer {
	return &Syncer{
		client: client,
		log:    log.With().Str("component", "crm").Logger(),
		newID:  uuid.NewString,
	}
}

// SyncLead finds an existing contact by email, then phone, then name and
// wedding date. A match is updated with the lead's custom fields; otherwise
// a contact is created. Either way a pipeline record is ensured, and its
// failure is only logged. Contact failures return a *SyncError.
func (s *Syncer) SyncLead(ctx context.Context, lead *model.Lead) (SyncResult, error) {
	fields := lead.CustomFields()

	existing, matchedBy := s.FindExisting(ctx, lead)
	if existing != nil {
		if err := s.client.UpdateContact(ctx, existing.ID, fields); err != nil {
			return SyncResult{}, &SyncError{Action: ActionUpdated, ContactID: existing.ID, Err: err}
		}
		s.log.Info().
			Str("contact_id", existing.ID).
			Str("matched_by", matchedBy).
			Msg("updated contact")

		s.ensurePipelineRecord(ctx, lead, existing.ID)
		return SyncResult{Action: ActionUpdated, ContactID: existing.ID, MatchedBy: matchedBy}, nil
	}

	first, last := lead.SplitName()
	email := lead.Email
	if email == "" {
		email = "noemail-" + s.newID() + "@" + placeholderDomain
	}
	phone := ""
	if lead.Phone != "" {
		phone = lead.PhoneE164()
	}

	id, err := s.client.CreateContact(ctx, NewContact{
		Email:        email,
		FirstName:    first,
		LastName:     last,
		Phone:        phone,
		CustomFields: fields,
	})
	if err != nil {
		return SyncResult{}, &SyncError{Action: ActionCreated, Err: err}
	}
	s.log.Info().Str("contact_id", id).Msg("created contact")

	s.ensurePipelineRecord(ctx, lead, id)
	return SyncResult{Action: ActionCreated, ContactID: id}, nil
}

// FindExisting runs the three-tier contact lookup. Search failures are
// logged and the next tier is tried.
func (s *Syncer) FindExisting(ctx context.Context, lead *model.Lead) (*Contact, string) {
	if lead.Email != "" {
		contacts := s.search(ctx, "email", lead.Email)
		for i := range contacts {
			if strings.EqualFold(contacts[i].Email, lead.Email) {
				return &contacts[i], "email"
			}
		}
	}

	if lead.Phone != "" {
		if contacts := s.search(ctx, "phone", lead.Phone); len(contacts) > 0 {
			return &contacts[0], "phone"
		}
	}

	if lead.Name != "" && lead.WeddingDate != "" {
		query := lead.Name + " " + lead.WeddingDate
		if contacts := s.search(ctx, "name_date", query); len(contacts) > 0 {
			return &contacts[0], "name_date"
		}
	}

	return nil, ""
}

func (s *Syncer) search(ctx context.Context, tier, query string) []Contact {
	contacts, err := s.client.SearchContacts(ctx, query)
	if err != nil {
		s.log.Warn().Err(err).Str("tier", tier).Msg("contact search failed")
		return nil
	}
	return contacts
}

func (s *Syncer) ensurePipelineRecord(ctx context.Context, lead *model.Lead, contactID string) {
	title := OpportunityTitle(lead)
	if err := s.client.FindOrCreatePipelineRecord(ctx, contactID, title); err != nil {
		s.log.Warn().Err(err).
			Str("contact_id", contactID).
			Str("title", title).
			Msg("could not ensure pipeline record")
	}
}

// OpportunityTitle names the pipeline record for a lead.
func OpportunityTitle(lead *model.Lead) string {
	first := firstToken(lead.Name)
	if first == "" {
		return "New Wedding Inquiry"
	}
	if partner := firstToken(lead.PartnerName); partner != "" {
		return first + " & " + partner + "'s Wedding"
	}
	return first + "'s Wedding"
}

func firstToken(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
