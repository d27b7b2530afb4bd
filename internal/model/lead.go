package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Platform identifies the vendor marketplace that generated a lead email.
type Platform string

const (
	PlatformWeddingWire   Platform = "WeddingWire"
	PlatformTheKnot       Platform = "TheKnot"
	PlatformZola          Platform = "Zola"
	PlatformStyleMePretty Platform = "StyleMePretty"
)

// ExtractionMethod records which strategy produced a lead.
type ExtractionMethod string

const (
	MethodAI      ExtractionMethod = "ai"
	MethodPattern ExtractionMethod = "pattern"
)

// Raw field names shared by the model prompt, the pattern tables and NewLead.
const (
	FieldName           = "name"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldWeddingDate    = "wedding_date"
	FieldLocation       = "location"
	FieldPartnerName    = "partner_name"
	FieldServices       = "services_interested"
	FieldBudget         = "budget"
	FieldMessage        = "message"
	FieldSourcePlatform = "source_platform"
)

// LeadFields lists the ten extractable fields in schema order.
var LeadFields = []string{
	FieldName, FieldEmail, FieldPhone, FieldWeddingDate, FieldLocation,
	FieldPartnerName, FieldServices, FieldBudget, FieldMessage, FieldSourcePlatform,
}

// Lead is the structured record extracted from a lead notification email.
// Empty strings mean the field is absent. Normalized fields (email, phone,
// wedding date, platform) are either canonical or empty.
type Lead struct {
	Name               string           `json:"name,omitempty"`
	Email              string           `json:"email,omitempty"`
	Phone              string           `json:"phone,omitempty"`
	WeddingDate        string           `json:"wedding_date,omitempty"`
	Location           string           `json:"location,omitempty"`
	PartnerName        string           `json:"partner_name,omitempty"`
	ServicesInterested string           `json:"services_interested,omitempty"`
	Budget             string           `json:"budget,omitempty"`
	Message            string           `json:"message,omitempty"`
	SourcePlatform     Platform         `json:"source_platform,omitempty"`
	ExtractedAt        time.Time        `json:"extracted_at"`
	ExtractionMethod   ExtractionMethod `json:"extraction_method"`
}

// NewLead builds a Lead from a raw field map, applying every normalizer.
func NewLead(fields map[string]string, method ExtractionMethod, at time.Time) *Lead {
	get := func(key string) string {
		return strings.TrimSpace(fields[key])
	}

	return &Lead{
		Name:               get(FieldName),
		Email:              NormalizeEmail(get(FieldEmail)),
		Phone:              NormalizePhone(get(FieldPhone)),
		WeddingDate:        NormalizeDate(get(FieldWeddingDate)),
		Location:           get(FieldLocation),
		PartnerName:        get(FieldPartnerName),
		ServicesInterested: get(FieldServices),
		Budget:             get(FieldBudget),
		Message:            get(FieldMessage),
		SourcePlatform:     NormalizePlatform(get(FieldSourcePlatform)),
		ExtractedAt:        at.UTC(),
		ExtractionMethod:   method,
	}
}

// IsValid reports whether the lead has at least one durable contact
// channel: a well-formed email or phone.
func (l *Lead) IsValid() bool {
	if l == nil {
		return false
	}
	return NormalizeEmail(l.Email) != "" || NormalizePhone(l.Phone) != ""
}

// Confidence returns the fraction of the ten lead fields that are populated.
func (l *Lead) Confidence() float64 {
	values := []string{
		l.Name, l.Email, l.Phone, l.WeddingDate, l.Location,
		l.PartnerName, l.ServicesInterested, l.Budget, l.Message,
		string(l.SourcePlatform),
	}
	filled := 0
	for _, v := range values {
		if v != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(values))
}

// SplitName splits Name into a first name (first token) and a last name
// (the remaining tokens).
func (l *Lead) SplitName() (first, last string) {
	parts := strings.Fields(l.Name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// PhoneE164 renders the normalized phone in E.164 form, assuming a
// North American number when exactly ten digits are stored.
func (l *Lead) PhoneE164() string {
	switch {
	case l.Phone == "":
		return ""
	case len(l.Phone) == 10:
		return "+1" + l.Phone
	default:
		return "+" + l.Phone
	}
}

// CustomField is a single key/value pair in the CRM custom-field payload.
type CustomField struct {
	Key   string `json:"key"`
	Value string `json:"field_value"`
}

// CustomFields maps the lead onto the CRM custom-field key table. Absent
// fields are skipped; the extraction metadata keys are always present.
func (l *Lead) CustomFields() []CustomField {
	mapping := []struct {
		key   string
		value string
	}{
		{"wedding_date", l.WeddingDate},
		{"event_location", l.Location},
		{"partner_name", l.PartnerName},
		{"services_interested", l.ServicesInterested},
		{"budget", l.Budget},
		{"lead_message", l.Message},
		{"lead_source", string(l.SourcePlatform)},
	}

	fields := make([]CustomField, 0, len(mapping)+2)
	for _, m := range mapping {
		if m.value == "" {
			continue
		}
		fields = append(fields, CustomField{Key: m.key, Value: m.value})
	}

	fields = append(fields,
		CustomField{Key: "lead_extracted_at", Value: l.ExtractedAt.Format(time.RFC3339)},
		CustomField{Key: "lead_extraction_method", Value: string(l.ExtractionMethod)},
	)
	return fields
}

func (l *Lead) String() string {
	return fmt.Sprintf(
		"Lead(name=%s, email=%s, phone=%s, platform=%s, date=%s)",
		l.Name, l.Email, l.Phone, l.SourcePlatform, l.WeddingDate,
	)
}

var (
	emailPattern     = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
	nonDigitPattern  = regexp.MustCompile(`\D`)
	isoDatePattern   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	slashDatePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	longDatePattern  = regexp.MustCompile(`^([A-Za-z]+)\s+(\d{1,2}),?\s*(\d{4})$`)
)

var monthNames = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,
}

// NormalizeEmail trims and lowercases an address, returning "" unless the
// result has a local@domain.tld shape.
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return ""
	}
	return email
}

// NormalizePhone strips non-digits. Ten or more digits are kept as-is;
// anything shorter is rejected.
func NormalizePhone(phone string) string {
	digits := nonDigitPattern.ReplaceAllString(phone, "")
	if len(digits) < 10 {
		return ""
	}
	return digits
}

// NormalizeDate converts YYYY-MM-DD, M/D/YYYY (month first) or
// "Month D, YYYY" into YYYY-MM-DD. Unparseable or impossible calendar
// dates yield "".
func NormalizeDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return ""
	}

	if m := isoDatePattern.FindStringSubmatch(date); m != nil {
		return formatDate(m[1], m[2], m[3])
	}

	if m := slashDatePattern.FindStringSubmatch(date); m != nil {
		return formatDate(m[3], m[1], m[2])
	}

	if m := longDatePattern.FindStringSubmatch(date); m != nil {
		month, ok := monthNames[strings.ToLower(m[1])]
		if !ok {
			return ""
		}
		return formatDate(m[3], strconv.Itoa(month), m[2])
	}

	return ""
}

// formatDate validates the calendar date and renders it zero-padded.
func formatDate(year, month, day string) string {
	y, errY := strconv.Atoi(year)
	mo, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil {
		return ""
	}

	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return ""
	}
	return t.Format("2006-01-02")
}

var platformAliases = map[string]Platform{
	"weddingwire":     PlatformWeddingWire,
	"wedding wire":    PlatformWeddingWire,
	"the knot":        PlatformTheKnot,
	"theknot":         PlatformTheKnot,
	"zola":            PlatformZola,
	"style me pretty": PlatformStyleMePretty,
	"stylemepretty":   PlatformStyleMePretty,
}

// NormalizePlatform maps known aliases to canonical platform tags.
// Unknown names are title-cased and passed through.
func NormalizePlatform(platform string) Platform {
	key := strings.ToLower(strings.TrimSpace(platform))
	if key == "" {
		return ""
	}
	if p, ok := platformAliases[key]; ok {
		return p
	}
	return Platform(cases.Title(language.English).String(key))
}
