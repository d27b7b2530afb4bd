package model

import (
	"net/textproto"
	"time"
)

// Message is a normalized inbound email as fetched from the mailbox.
// It is never mutated after the parser returns it.
type Message struct {
	// ID is the mailbox-unique identifier (IMAP UID) of the message.
	ID string `json:"id"`

	// Subject is the decoded Subject header.
	Subject string `json:"subject"`

	// From is the sender address (addr-spec only, no display name).
	From string `json:"from"`

	// To is the first recipient address.
	To string `json:"to"`

	// Date is when the message was sent, falling back to fetch time
	// when the Date header is missing or malformed.
	Date time.Time `json:"date"`

	// Body is the plain-text body. For HTML-only messages it holds
	// the text derived from the HTML part.
	Body string `json:"body"`

	// HTMLText is the text derived from the text/html part, if any.
	HTMLText string `json:"html_text,omitempty"`

	// Headers maps canonical header keys to their first decoded value.
	Headers map[string]string `json:"headers"`
}

// Header returns the value of the named header using a case-insensitive
// lookup, or "" if the header is absent.
func (m *Message) Header(key string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[textproto.CanonicalMIMEHeaderKey(key)]
}
