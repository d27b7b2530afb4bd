package extract

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/nhle/lead-sync/internal/model"
)

// FallbackExtractor tries Primary and falls through to Secondary when
// Primary reports ErrSoftFailure. Other errors are returned as-is.
type FallbackExtractor struct {
	Primary   Extractor
	Secondary Extractor
	log       zerolog.Logger
}

// NewFallbackExtractor composes two strategies.
func NewFallbackExtractor(primary, secondary Extractor, log zerolog.Logger) *FallbackExtractor {
	return &FallbackExtractor{
		Primary:   primary,
		Secondary: secondary,
		log:       log.With().Str("component", "fallback_extractor").Logger(),
	}
}

// Extract implements Extractor.
func (f *FallbackExtractor) Extract(ctx context.Context, msg *model.Message, platform model.Platform) (*Result, error) {
	res, err := f.Primary.Extract(ctx, msg, platform)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrSoftFailure) {
		return nil, err
	}

	f.log.Warn().Err(err).Str("uid", msg.ID).Msg("primary extraction failed, falling back")
	return f.Secondary.Extract(ctx, msg, platform)
}
