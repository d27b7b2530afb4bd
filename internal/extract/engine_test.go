package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/lead-sync/internal/ai"
	"github.com/nhle/lead-sync/internal/model"
)

const weddingWireBody = `New inquiry from WeddingWire

Name: Sarah Johnson
Email: sarah.johnson@email.com
Phone: (555) 123-4567

Wedding Date: June 15, 2025
Location: Austin, TX

Message:
Hi, we are looking for a photographer and videographer for our wedding.
We are also interested in drone services.

Thanks,
Sarah`

func weddingWireMessage() *model.Message {
	return &model.Message{
		ID:      "101",
		Subject: "New Inquiry from WeddingWire",
		From:    "notifications@weddingwire.com",
		Body:    weddingWireBody,
		Headers: map[string]string{
			"From":    "WeddingWire <notifications@weddingwire.com>",
			"Subject": "New Inquiry from WeddingWire",
		},
	}
}

func unknownMessage() *model.Message {
	return &model.Message{
		ID:      "202",
		Subject: "Quote request",
		From:    "jane@example.com",
		Body:    "Hello! Could you send pricing for an October event?\nEmail: jane@example.com\nPhone: 555-987-6543",
		Headers: map[string]string{
			"From":    "Jane Doe <jane@example.com>",
			"Subject": "Quote request",
		},
	}
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	table, err := DefaultTable()
	require.NoError(t, err)
	return table
}

func newPatternEngine(t *testing.T, genericFallback bool) *Engine {
	t.Helper()
	table := newTestTable(t)
	return NewEngine(
		NewClassifier(table),
		NewPatternExtractor(table, genericFallback, zerolog.Nop()),
		zerolog.Nop(),
	)
}

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func newModelEngine(t *testing.T, gen ai.Generator) *Engine {
	t.Helper()
	table := newTestTable(t)
	extractor := NewFallbackExtractor(
		NewModelExtractor(gen, ModelOptions{MaxOutputTokens: 2000}, zerolog.Nop()),
		NewPatternExtractor(table, false, zerolog.Nop()),
		zerolog.Nop(),
	)
	return NewEngine(NewClassifier(table), extractor, zerolog.Nop())
}

func TestEnginePatternPathWeddingWire(t *testing.T) {
	engine := newPatternEngine(t, false)

	lead, err := engine.Extract(context.Background(), weddingWireMessage())
	require.NoError(t, err)

	assert.Equal(t, "Sarah Johnson", lead.Name)
	assert.Equal(t, "sarah.johnson@email.com", lead.Email)
	assert.Equal(t, "5551234567", lead.Phone)
	assert.Equal(t, "2025-06-15", lead.WeddingDate)
	assert.Equal(t, "Austin, TX", lead.Location)
	assert.Equal(t, model.PlatformWeddingWire, lead.SourcePlatform)
	assert.Equal(t, model.MethodPattern, lead.ExtractionMethod)
	assert.True(t, strings.HasPrefix(lead.Message, "Hi, we are looking for a photographer"))
	assert.NotContains(t, lead.Message, "Thanks")
	assert.True(t, lead.IsValid())
}

func TestEngineUnknownPlatformWithoutModelFails(t *testing.T) {
	engine := newPatternEngine(t, false)

	lead, err := engine.Extract(context.Background(), unknownMessage())
	assert.Nil(t, lead)
	assert.ErrorIs(t, err, ErrNoLead)
}

func TestEngineGenericFallback(t *testing.T) {
	engine := newPatternEngine(t, true)

	lead, err := engine.Extract(context.Background(), unknownMessage())
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", lead.Email)
	assert.Equal(t, "5559876543", lead.Phone)
	assert.Empty(t, lead.SourcePlatform)

	_, err = engine.Extract(context.Background(), &model.Message{ID: "1", Body: "nothing useful here"})
	assert.ErrorIs(t, err, ErrNoLead)
}

func TestEngineModelPath(t *testing.T) {
	gen := &fakeGenerator{response: "Here you go:\n```json\n" + `{
  "name": "Emma Stone",
  "email": "EMMA@example.com",
  "phone": "(512) 555-0100",
  "wedding_date": "3/1/2026",
  "location": null,
  "partner_name": "Liam Hart",
  "services_interested": ["photography", "drone"],
  "budget": 6500,
  "message": "Love your work!",
  "source_platform": null
}` + "\n```"}
	engine := newModelEngine(t, gen)

	lead, err := engine.Extract(context.Background(), weddingWireMessage())
	require.NoError(t, err)

	assert.Equal(t, model.MethodAI, lead.ExtractionMethod)
	assert.Equal(t, "Emma Stone", lead.Name)
	assert.Equal(t, "emma@example.com", lead.Email)
	assert.Equal(t, "5125550100", lead.Phone)
	assert.Equal(t, "2026-03-01", lead.WeddingDate)
	assert.Equal(t, "Liam Hart", lead.PartnerName)
	assert.Equal(t, "photography, drone", lead.ServicesInterested)
	assert.Equal(t, "6500", lead.Budget)
	assert.Empty(t, lead.Location)
	// The classified platform fills in what the model left null.
	assert.Equal(t, model.PlatformWeddingWire, lead.SourcePlatform)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Name: Sarah Johnson")
	assert.Contains(t, gen.prompts[0], "From: notifications@weddingwire.com")
}

func TestEngineModelSoftFailuresFallBackToPatterns(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"network error", &fakeGenerator{err: errors.New("dial tcp: timeout")}},
		{"not json", &fakeGenerator{response: "I could not find a lead."}},
		{"json array", &fakeGenerator{response: `["Sarah"]`}},
		{"empty object", &fakeGenerator{response: `{"name": null}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newModelEngine(t, tt.gen)

			lead, err := engine.Extract(context.Background(), weddingWireMessage())
			require.NoError(t, err)
			assert.Equal(t, model.MethodPattern, lead.ExtractionMethod)
			assert.Equal(t, "sarah.johnson@email.com", lead.Email)
			assert.Len(t, tt.gen.prompts, 1)
		})
	}
}

func TestEngineModelFailureAndUnknownPlatform(t *testing.T) {
	engine := newModelEngine(t, &fakeGenerator{err: errors.New("boom")})

	_, err := engine.Extract(context.Background(), unknownMessage())
	assert.ErrorIs(t, err, ErrNoLead)
}

func TestEngineInvalidLeadIsStillReturned(t *testing.T) {
	engine := newPatternEngine(t, false)

	msg := &model.Message{
		ID:      "5",
		Body:    "Inquiry from Zola\nName: Ava Brooks\nDesired day: May 2, 2026",
		Headers: map[string]string{"From": "hello@zola.com"},
	}

	lead, err := engine.Extract(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, lead.IsValid())
	assert.Equal(t, "Ava Brooks", lead.Name)
	assert.Equal(t, "2026-05-02", lead.WeddingDate)
	assert.Equal(t, model.PlatformZola, lead.SourcePlatform)
}

func TestEngineStampsExtractionTime(t *testing.T) {
	engine := newPatternEngine(t, false)
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	lead, err := engine.Extract(context.Background(), weddingWireMessage())
	require.NoError(t, err)
	assert.Equal(t, fixed, lead.ExtractedAt)
}
