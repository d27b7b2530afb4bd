// Package extract turns normalized lead emails into structured leads.
//
// Two strategies implement Extractor: ModelExtractor asks a generative
// model for a fixed-schema JSON object, PatternExtractor applies the
// per-platform regular expressions of a Table. FallbackExtractor composes
// them, and Engine adds platform classification and normalization.
package extract

import (
	"context"
	"errors"

	"github.com/nhle/lead-sync/internal/model"
)

var (
	// ErrSoftFailure marks an attempt that produced nothing usable but
	// should fall through to the next strategy.
	ErrSoftFailure = errors.New("extraction soft failure")

	// ErrNoLead means no strategy could produce a lead for the message.
	// It is terminal for that message.
	ErrNoLead = errors.New("no lead extracted")
)

// Result is the raw field map produced by one strategy.
type Result struct {
	Fields map[string]string
	Method model.ExtractionMethod
}

// Extractor produces raw lead fields from a message whose platform has
// already been classified ("" when unknown).
type Extractor interface {
	Extract(ctx context.Context, msg *model.Message, platform model.Platform) (*Result, error)
}
