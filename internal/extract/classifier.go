package extract

import (
	"net/textproto"
	"strings"

	"github.com/nhle/lead-sync/internal/model"
)

// Classifier identifies the platform that produced a message.
type Classifier struct {
	table *Table
}

// NewClassifier creates a Classifier over the table's platform order.
func NewClassifier(table *Table) *Classifier {
	return &Classifier{table: table}
}

// Classify matches platform signatures against text plus the From and
// Subject headers. The first platform in table order with any matching
// signature wins; "" means no platform was recognized.
func (c *Classifier) Classify(text string, headers map[string]string) model.Platform {
	combined := text + " " + lookup(headers, "From") + " " + lookup(headers, "Subject")

	for _, p := range c.table.Platforms {
		for _, sig := range p.Signatures {
			if sig.MatchString(combined) {
				return p.Platform
			}
		}
	}
	return ""
}

func lookup(headers map[string]string, key string) string {
	if v, ok := headers[textproto.CanonicalMIMEHeaderKey(key)]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
