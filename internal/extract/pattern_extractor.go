package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nhle/lead-sync/internal/model"
)

// PatternExtractor applies the per-platform regular expressions of a
// Table.
type PatternExtractor struct {
	table           *Table
	genericFallback bool
	log             zerolog.Logger
}

// NewPatternExtractor creates a PatternExtractor. With genericFallback
// set, messages with no recognized platform are run through the generic
// pattern set instead of failing outright.
func NewPatternExtractor(table *Table, genericFallback bool, log zerolog.Logger) *PatternExtractor {
	return &PatternExtractor{
		table:           table,
		genericFallback: genericFallback,
		log:             log.With().Str("component", "pattern_extractor").Logger(),
	}
}

// Extract implements Extractor. The classified platform is always
// stamped into the result.
func (e *PatternExtractor) Extract(_ context.Context, msg *model.Message, platform model.Platform) (*Result, error) {
	text := strings.ReplaceAll(msg.Body, "\r\n", "\n")

	if platform == "" {
		if !e.genericFallback {
			return nil, fmt.Errorf("%w: platform unknown, pattern fallback unavailable", ErrNoLead)
		}

		fields := e.table.Generic.Apply(text)
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: generic patterns matched nothing", ErrNoLead)
		}

		e.log.Info().Str("uid", msg.ID).Int("fields", len(fields)).Msg("generic pattern extraction")
		return &Result{Fields: fields, Method: model.MethodPattern}, nil
	}

	fields := e.table.FieldsFor(platform).Apply(text)
	fields[model.FieldSourcePlatform] = string(platform)

	e.log.Info().
		Str("uid", msg.ID).
		Str("platform", string(platform)).
		Int("fields", len(fields)).
		Msg("pattern extraction")

	return &Result{Fields: fields, Method: model.MethodPattern}, nil
}
