package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/lead-sync/internal/model"
)

func TestDefaultTableLoads(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	var names []model.Platform
	for _, p := range table.Platforms {
		names = append(names, p.Platform)
	}
	assert.Equal(t, []model.Platform{
		model.PlatformWeddingWire, model.PlatformTheKnot,
		model.PlatformZola, model.PlatformStyleMePretty,
	}, names)
	assert.NotEmpty(t, table.Generic[model.FieldEmail])
	assert.Contains(t, table.Describe(), "StyleMePretty")
}

func TestLoadTableRejectsInvalidTables(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "no contact pattern",
			yaml: `
platforms:
  - name: Acme
    signatures: ['acme\.com']
    fields:
      name: ['Name: (\w+)']
generic:
  email: ['([\w.]+@[\w.]+)']
`,
		},
		{
			name: "unknown field",
			yaml: `
platforms:
  - name: Acme
    signatures: ['acme\.com']
    fields:
      shoe_size: ['(\d+)']
      email: ['([\w.]+@[\w.]+)']
generic:
  email: ['([\w.]+@[\w.]+)']
`,
		},
		{
			name: "bad regex",
			yaml: `
platforms:
  - name: Acme
    signatures: ['acme\.com']
    fields:
      email: ['([\w.]+@[\w.]+']
generic:
  email: ['([\w.]+@[\w.]+)']
`,
		},
		{
			name: "two capture groups",
			yaml: `
platforms:
  - name: Acme
    signatures: ['acme\.com']
    fields:
      email: ['(\w+)@(\w+)']
generic:
  email: ['([\w.]+@[\w.]+)']
`,
		},
		{
			name: "no signatures",
			yaml: `
platforms:
  - name: Acme
    fields:
      email: ['([\w.]+@[\w.]+)']
generic:
  email: ['([\w.]+@[\w.]+)']
`,
		},
		{
			name: "generic without contact",
			yaml: `
platforms:
  - name: Acme
    signatures: ['acme\.com']
    fields:
      email: ['([\w.]+@[\w.]+)']
generic:
  name: ['Name: (\w+)']
`,
		},
		{
			name: "no platforms",
			yaml: `
generic:
  email: ['([\w.]+@[\w.]+)']
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTable([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestFieldPatternsApplyFirstAlternativeWins(t *testing.T) {
	table, err := LoadTable([]byte(`
platforms:
  - name: Acme
    signatures: ['acme\.com']
    fields:
      email:
        - 'Reply-to: ([\w.]+@[\w.]+)'
        - '([\w.]+@[\w.]+)'
      message:
        - 'Note: (.+)'
generic:
  email: ['([\w.]+@[\w.]+)']
`))
	require.NoError(t, err)

	fields := table.FieldsFor("Acme").Apply("noreply@acme.com\nReply-to: jo@example.com\nNote:   lots   of\tspace")
	assert.Equal(t, "jo@example.com", fields[model.FieldEmail])
	assert.Equal(t, "lots of space", fields[model.FieldMessage])

	fields = table.FieldsFor("Unknown").Apply("write to a@b.co")
	assert.Equal(t, "a@b.co", fields[model.FieldEmail])
}
