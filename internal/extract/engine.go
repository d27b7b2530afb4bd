package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/lead-sync/internal/model"
)

// Engine classifies a message, runs the configured Extractor, and
// normalizes the result into a model.Lead.
type Engine struct {
	classifier *Classifier
	extractor  Extractor
	log        zerolog.Logger
	now        func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(classifier *Classifier, extractor Extractor, log zerolog.Logger) *Engine {
	return &Engine{
		classifier: classifier,
		extractor:  extractor,
		log:        log.With().Str("component", "extract").Logger(),
		now:        time.Now,
	}
}

// Classify exposes the engine's platform classification.
func (e *Engine) Classify(msg *model.Message) model.Platform {
	return e.classifier.Classify(msg.Body, msg.Headers)
}

// Extract produces a lead for msg. Every failure wraps ErrNoLead. An
// invalid lead (no email or phone) is still returned; the caller decides
// what to do with it.
func (e *Engine) Extract(ctx context.Context, msg *model.Message) (*model.Lead, error) {
	platform := e.Classify(msg)
	if platform == "" {
		e.log.Warn().Str("uid", msg.ID).Msg("could not detect platform")
	}

	res, err := e.extractor.Extract(ctx, msg, platform)
	if err != nil {
		if !errors.Is(err, ErrNoLead) {
			err = fmt.Errorf("%w: %w", ErrNoLead, err)
		}
		return nil, err
	}

	if res.Fields == nil {
		res.Fields = make(map[string]string)
	}
	if platform != "" && res.Fields[model.FieldSourcePlatform] == "" {
		res.Fields[model.FieldSourcePlatform] = string(platform)
	}

	lead := model.NewLead(res.Fields, res.Method, e.now())

	event := e.log.Info()
	if !lead.IsValid() {
		event = e.log.Warn()
	}
	event.
		Str("uid", msg.ID).
		Str("platform", string(lead.SourcePlatform)).
		Str("method", string(lead.ExtractionMethod)).
		Float64("confidence", lead.Confidence()).
		Bool("valid", lead.IsValid()).
		Msg("lead extracted")

	return lead, nil
}
