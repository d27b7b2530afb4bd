package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	// Register charset decoders (windows-1252, iso-8859-*, ...).
	_ "github.com/emersion/go-message/charset"

	"github.com/nhle/lead-sync/internal/model"
)

// ParseMessage decodes a raw RFC 5322 message into a model.Message.
// Unknown charsets are tolerated; a missing or malformed Date header
// falls back to the current time.
func ParseMessage(id string, raw []byte) (*model.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && (mr == nil || !message.IsUnknownCharset(err)) {
		return nil, fmt.Errorf("parsing message %s: %w", id, err)
	}
	defer mr.Close()

	msg := &model.Message{
		ID:      id,
		Headers: collectHeaders(mr.Header),
	}

	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}

	msg.From = firstAddress(mr.Header, "From")
	msg.To = firstAddress(mr.Header, "To")

	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		msg.Date = date.UTC()
	} else {
		msg.Date = time.Now().UTC()
	}

	textBody, htmlBody := readBodies(mr)
	if htmlBody != "" {
		md, err := htmltomarkdown.ConvertString(htmlBody)
		if err != nil {
			md = htmlBody
		}
		msg.HTMLText = strings.TrimSpace(md)
	}

	msg.Body = strings.TrimSpace(textBody)
	if msg.Body == "" {
		msg.Body = msg.HTMLText
	}

	return msg, nil
}

// collectHeaders keeps the first decoded value of every header field.
func collectHeaders(h mail.Header) map[string]string {
	headers := make(map[string]string)

	fields := h.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		if _, seen := headers[key]; seen {
			continue
		}
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		headers[key] = value
	}

	return headers
}

// firstAddress returns the addr-spec of the first address in the named
// header, or the raw header value when it does not parse.
func firstAddress(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return strings.TrimSpace(h.Get(key))
}

// readBodies walks the MIME tree and concatenates the text/plain and
// text/html inline parts. Attachments are skipped.
func readBodies(mr *mail.Reader) (textBody, htmlBody string) {
	var text, html strings.Builder

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && (part == nil || !message.IsUnknownCharset(err)) {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/html"):
			appendPart(&html, body)
		case strings.HasPrefix(contentType, "text/plain"), contentType == "":
			appendPart(&text, body)
		}
	}

	return text.String(), html.String()
}

func appendPart(b *strings.Builder, body []byte) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.Write(body)
}
