package ghl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrPipelineNotFound is returned when none of the configured pipeline
// names matches a pipeline in the location.
var ErrPipelineNotFound = errors.New("sales pipeline not found")

// pipelineCache holds the location's pipelines until expiresAt and
// refreshes them on the next lookup after that.
type pipelineCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	pipelines []Pipeline
	expiresAt time.Time
	fetch     func(ctx context.Context) ([]Pipeline, error)
	now       func() time.Time
}

func newPipelineCache(ttl time.Duration, fetch func(ctx context.Context) ([]Pipeline, error)) *pipelineCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &pipelineCache{ttl: ttl, fetch: fetch, now: time.Now}
}

func (pc *pipelineCache) get(ctx context.Context) ([]Pipeline, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.pipelines != nil && pc.now().Before(pc.expiresAt) {
		return pc.pipelines, nil
	}

	pipelines, err := pc.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if pipelines == nil {
		pipelines = []Pipeline{}
	}
	pc.pipelines = pipelines
	pc.expiresAt = pc.now().Add(pc.ttl)
	return pipelines, nil
}

func (c *Client) fetchPipelines(ctx context.Context) ([]Pipeline, error) {
	params := url.Values{}
	params.Set("locationId", c.locationID)

	var resp pipelinesResponse
	if err := c.get(ctx, "/opportunities/pipelines?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("listing pipelines: %w", err)
	}
	c.log.Debug().Int("count", len(resp.Pipelines)).Msg("refreshed pipeline cache")
	return resp.Pipelines, nil
}

// SalesPipeline resolves the configured pipeline and its intake stage.
// Names are tried in order, matching case-insensitively as substrings;
// when no stage name matches, the first stage is used.
func (c *Client) SalesPipeline(ctx context.Context) (Pipeline, Stage, error) {
	pipelines, err := c.pipelines.get(ctx)
	if err != nil {
		return Pipeline{}, Stage{}, err
	}

	p, ok := matchPipeline(pipelines, c.pipelineNames)
	if !ok {
		return Pipeline{}, Stage{}, fmt.Errorf("%w (tried %s)", ErrPipelineNotFound, strings.Join(c.pipelineNames, ", "))
	}

	for _, name := range c.stageNames {
		for _, s := range p.Stages {
			if containsFold(s.Name, name) {
				return p, s, nil
			}
		}
	}
	if len(p.Stages) == 0 {
		return Pipeline{}, Stage{}, fmt.Errorf("pipeline %q has no stages", p.Name)
	}
	c.log.Info().Str("pipeline", p.Name).Str("stage", p.Stages[0].Name).Msg("using first stage as fallback")
	return p, p.Stages[0], nil
}

func matchPipeline(pipelines []Pipeline, names []string) (Pipeline, bool) {
	for _, name := range names {
		for _, p := range pipelines {
			if strings.EqualFold(p.Name, name) {
				return p, true
			}
		}
		for _, p := range pipelines {
			if containsFold(p.Name, name) {
				return p, true
			}
		}
	}
	return Pipeline{}, false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// FindOrCreatePipelineRecord opens an opportunity named title for the
// contact in the sales pipeline unless one already exists. A duplicate
// rejection from the API counts as success.
func (c *Client) FindOrCreatePipelineRecord(ctx context.Context, contactID, title string) error {
	pipeline, stage, err := c.SalesPipeline(ctx)
	if err != nil {
		return err
	}

	existing, err := c.searchOpportunities(ctx, contactID, pipeline.ID)
	if err != nil {
		c.log.Warn().Err(err).Str("contact_id", contactID).Msg("opportunity search failed, creating anyway")
	}
	for _, o := range existing {
		if strings.EqualFold(o.Name, title) {
			c.log.Debug().Str("opportunity_id", o.ID).Msg("opportunity already exists")
			return nil
		}
	}

	req := createOpportunityRequest{
		PipelineID: pipeline.ID,
		StageID:    stage.ID,
		ContactID:  contactID,
		Name:       title,
		Status:     "open",
		LocationID: c.locationID,
	}
	var resp opportunityResponse
	if err := c.post(ctx, "/opportunities/", req, &resp); err != nil {
		if isDuplicate(err) {
			c.log.Debug().Str("contact_id", contactID).Msg("opportunity rejected as duplicate")
			return nil
		}
		return fmt.Errorf("creating opportunity for contact %s: %w", contactID, err)
	}

	c.log.Info().
		Str("opportunity_id", resp.Opportunity.ID).
		Str("title", title).
		Str("pipeline", pipeline.Name).
		Msg("created opportunity")
	return nil
}

func (c *Client) searchOpportunities(ctx context.Context, contactID, pipelineID string) ([]Opportunity, error) {
	params := url.Values{}
	params.Set("location_id", c.locationID)
	params.Set("contact_id", contactID)
	params.Set("pipeline_id", pipelineID)

	var resp opportunitySearchResponse
	if err := c.get(ctx, "/opportunities/search?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("searching opportunities: %w", err)
	}
	return resp.Opportunities, nil
}
