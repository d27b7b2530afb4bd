package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/lead-sync/internal/ai"
	"github.com/nhle/lead-sync/internal/model"
)

const defaultMaxPromptChars = 8000

const promptTemplate = `You extract structured lead data from wedding vendor inquiry emails.
Read the email below and return the lead details. Use null for anything
that is not stated.

Email body:
%s

Email headers:
From: %s
Subject: %s

Respond with ONLY a JSON object using exactly these keys:
{
  "name": "full name of the person inquiring",
  "email": "their email address",
  "phone": "their phone number, digits only",
  "wedding_date": "event date as YYYY-MM-DD",
  "location": "venue name or city/state",
  "partner_name": "partner or fiance name, if given",
  "services_interested": "services requested, e.g. photography, videography, drone",
  "budget": "budget, if given",
  "message": "the main inquiry text",
  "source_platform": "one of: %s"
}

Rules:
- Convert dates such as "June 15, 2025" or "6/15/2025" to "2025-06-15".
- Strip everything but digits from phone numbers (e.g. "5551234567").
- Identify the platform from the email content, sender and signature.
- Use null for missing fields.
- Output the JSON object only, with no commentary.`

// ModelExtractor asks a generative model for the lead fields. Any
// failure is reported as ErrSoftFailure; it never retries.
type ModelExtractor struct {
	gen       ai.Generator
	log       zerolog.Logger
	timeout   time.Duration
	maxChars  int
	maxTokens int
	platforms []model.Platform
}

// ModelOptions configures a ModelExtractor.
type ModelOptions struct {
	Timeout         time.Duration
	MaxPromptChars  int
	MaxOutputTokens int
	Platforms       []model.Platform
}

// NewModelExtractor creates a ModelExtractor around gen.
func NewModelExtractor(gen ai.Generator, opts ModelOptions, log zerolog.Logger) *ModelExtractor {
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = defaultMaxPromptChars
	}
	if len(opts.Platforms) == 0 {
		opts.Platforms = []model.Platform{
			model.PlatformWeddingWire, model.PlatformTheKnot,
			model.PlatformZola, model.PlatformStyleMePretty,
		}
	}

	return &ModelExtractor{
		gen:       gen,
		log:       log.With().Str("component", "model_extractor").Logger(),
		timeout:   opts.Timeout,
		maxChars:  opts.MaxPromptChars,
		maxTokens: opts.MaxOutputTokens,
		platforms: opts.Platforms,
	}
}

// BuildPrompt renders the extraction prompt with the body truncated to
// the configured character budget.
func (e *ModelExtractor) BuildPrompt(msg *model.Message) string {
	names := make([]string, len(e.platforms))
	for i, p := range e.platforms {
		names[i] = string(p)
	}

	return fmt.Sprintf(promptTemplate,
		truncateRunes(msg.Body, e.maxChars),
		msg.From,
		msg.Subject,
		strings.Join(names, ", "),
	)
}

// Extract implements Extractor.
func (e *ModelExtractor) Extract(ctx context.Context, msg *model.Message, _ model.Platform) (*Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	text, err := e.gen.Generate(ctx, e.BuildPrompt(msg), ai.GenerateOptions{
		Temperature:     0,
		MaxOutputTokens: e.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: model call: %v", ErrSoftFailure, err)
	}

	fields, err := parseModelResponse(text)
	if err != nil {
		e.log.Debug().Str("response", truncateRunes(text, 500)).Msg("unusable model response")
		return nil, fmt.Errorf("%w: %v", ErrSoftFailure, err)
	}

	e.log.Info().Str("uid", msg.ID).Int("fields", len(fields)).Msg("model extraction succeeded")
	return &Result{Fields: fields, Method: model.MethodAI}, nil
}

// parseModelResponse strips code fences and decodes a JSON object into
// string fields. Nulls and empty values are dropped; arrays are joined.
func parseModelResponse(text string) (map[string]string, error) {
	content := stripCodeFence(text)

	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is a JSON %T, not an object", decoded)
	}

	fields := make(map[string]string, len(obj))
	for key, raw := range obj {
		if value := stringify(raw); value != "" {
			fields[key] = value
		}
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("response object has no values")
	}
	return fields, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		return ""
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// stripCodeFence returns the content of the first ``` fenced block,
// preferring a ```json block, or the trimmed text when there is none.
func stripCodeFence(text string) string {
	for _, fence := range []string{"```json", "```"} {
		idx := strings.Index(text, fence)
		if idx < 0 {
			continue
		}
		rest := text[idx+len(fence):]
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(text)
}

func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
