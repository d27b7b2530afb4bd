package ghl

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nhle/lead-sync/internal/crm"
	"github.com/nhle/lead-sync/internal/model"
)

var _ crm.Client = (*Client)(nil)

// SearchContacts runs a free-text contact search in the location.
func (c *Client) SearchContacts(ctx context.Context, query string) ([]crm.Contact, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("locationId", c.locationID)

	var resp contactSearchResponse
	if err := c.get(ctx, "/contacts/?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("searching contacts: %w", err)
	}
	return resp.Contacts, nil
}

// CreateContact creates a contact and returns its id.
func (c *Client) CreateContact(ctx context.Context, nc crm.NewContact) (string, error) {
	req := createContactRequest{
		Email:        nc.Email,
		LocationID:   c.locationID,
		FirstName:    nc.FirstName,
		LastName:     nc.LastName,
		Phone:        nc.Phone,
		CustomFields: nc.CustomFields,
	}

	var resp contactResponse
	if err := c.post(ctx, "/contacts/", req, &resp); err != nil {
		return "", fmt.Errorf("creating contact: %w", err)
	}
	if resp.Contact.ID == "" {
		return "", fmt.Errorf("creating contact: response has no contact id")
	}
	return resp.Contact.ID, nil
}

// UpdateContact replaces the contact's custom field values.
func (c *Client) UpdateContact(ctx context.Context, contactID string, fields []model.CustomField) error {
	path := "/contacts/" + url.PathEscape(contactID)
	if err := c.put(ctx, path, updateContactRequest{CustomFields: fields}, nil); err != nil {
		return fmt.Errorf("updating contact %s: %w", contactID, err)
	}
	return nil
}
