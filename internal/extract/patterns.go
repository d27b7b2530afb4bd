package extract

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nhle/lead-sync/internal/model"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// FieldPatterns maps a lead field name to its ordered regex alternatives.
type FieldPatterns map[string][]*regexp.Regexp

// PlatformPatterns holds the signatures and field patterns of one platform.
type PlatformPatterns struct {
	Platform   model.Platform
	Signatures []*regexp.Regexp
	Fields     FieldPatterns
}

// Table is the compiled platform/pattern configuration. Platform order
// is significant: the classifier picks the first matching platform.
type Table struct {
	Platforms []PlatformPatterns
	Generic   FieldPatterns
}

type rawPlatform struct {
	Name       string              `yaml:"name"`
	Signatures []string            `yaml:"signatures"`
	Fields     map[string][]string `yaml:"fields"`
}

type rawTable struct {
	Platforms []rawPlatform       `yaml:"platforms"`
	Generic   map[string][]string `yaml:"generic"`
}

// DefaultTable returns the embedded pattern table.
func DefaultTable() (*Table, error) {
	return LoadTable(defaultPatterns)
}

// LoadTableFile reads and compiles a pattern table from path.
func LoadTableFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern table %s: %w", path, err)
	}
	return LoadTable(data)
}

// LoadTable parses, compiles, and validates a YAML pattern table.
func LoadTable(data []byte) (*Table, error) {
	var raw rawTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing pattern table: %w", err)
	}

	table := &Table{}
	for _, rp := range raw.Platforms {
		pp := PlatformPatterns{Platform: model.Platform(rp.Name)}

		for _, sig := range rp.Signatures {
			re, err := regexp.Compile("(?i)" + sig)
			if err != nil {
				return nil, fmt.Errorf("platform %s: signature %q: %w", rp.Name, sig, err)
			}
			pp.Signatures = append(pp.Signatures, re)
		}

		fields, err := compileFields(rp.Fields)
		if err != nil {
			return nil, fmt.Errorf("platform %s: %w", rp.Name, err)
		}
		pp.Fields = fields

		table.Platforms = append(table.Platforms, pp)
	}

	generic, err := compileFields(raw.Generic)
	if err != nil {
		return nil, fmt.Errorf("generic patterns: %w", err)
	}
	table.Generic = generic

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

func compileFields(raw map[string][]string) (FieldPatterns, error) {
	fields := make(FieldPatterns, len(raw))
	for field, patterns := range raw {
		if !slices.Contains(model.LeadFields, field) {
			return nil, fmt.Errorf("unknown field %q", field)
		}
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("field %s: pattern %q: %w", field, p, err)
			}
			if re.NumSubexp() != 1 {
				return nil, fmt.Errorf("field %s: pattern %q must have exactly one capture group", field, p)
			}
			fields[field] = append(fields[field], re)
		}
	}
	return fields, nil
}

// ErrInvalidTable is wrapped by every Validate failure.
var ErrInvalidTable = errors.New("invalid pattern table")

// Validate checks that every platform has a name and at least one
// signature, and that every pattern set can recover a contact channel
// (an email or phone pattern).
func (t *Table) Validate() error {
	if len(t.Platforms) == 0 {
		return fmt.Errorf("%w: no platforms defined", ErrInvalidTable)
	}

	seen := make(map[model.Platform]bool)
	for _, p := range t.Platforms {
		if p.Platform == "" {
			return fmt.Errorf("%w: platform without a name", ErrInvalidTable)
		}
		if seen[p.Platform] {
			return fmt.Errorf("%w: duplicate platform %s", ErrInvalidTable, p.Platform)
		}
		seen[p.Platform] = true

		if len(p.Signatures) == 0 {
			return fmt.Errorf("%w: platform %s has no signatures", ErrInvalidTable, p.Platform)
		}
		if !p.Fields.hasContact() {
			return fmt.Errorf("%w: platform %s needs an email or phone pattern", ErrInvalidTable, p.Platform)
		}
	}

	if !t.Generic.hasContact() {
		return fmt.Errorf("%w: generic patterns need an email or phone pattern", ErrInvalidTable)
	}
	return nil
}

func (f FieldPatterns) hasContact() bool {
	return len(f[model.FieldEmail]) > 0 || len(f[model.FieldPhone]) > 0
}

// FieldsFor returns the field patterns for platform, or the generic
// set when the platform has no entry.
func (t *Table) FieldsFor(platform model.Platform) FieldPatterns {
	for _, p := range t.Platforms {
		if p.Platform == platform {
			return p.Fields
		}
	}
	return t.Generic
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Apply runs every field's alternatives against text and returns the
// first capture of the first matching alternative, whitespace-collapsed.
func (f FieldPatterns) Apply(text string) map[string]string {
	out := make(map[string]string)
	for field, alternatives := range f {
		for _, re := range alternatives {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			value := strings.TrimSpace(whitespaceRun.ReplaceAllString(m[1], " "))
			if value == "" {
				continue
			}
			out[field] = value
			break
		}
	}
	return out
}

// Describe renders a human-readable summary of the table.
func (t *Table) Describe() string {
	var b strings.Builder
	for _, p := range t.Platforms {
		fmt.Fprintf(&b, "%s (%d signatures)\n", p.Platform, len(p.Signatures))
		describeFields(&b, p.Fields)
	}
	b.WriteString("Generic\n")
	describeFields(&b, t.Generic)
	return b.String()
}

func describeFields(b *strings.Builder, f FieldPatterns) {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, "  %-20s %d alternatives\n", name, len(f[name]))
	}
}
