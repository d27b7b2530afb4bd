package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/lead-sync/internal/model"
	"github.com/nhle/lead-sync/internal/source"
)

// Client is a thin HTTP client for the LeadConnector REST API.
// It handles Bearer token authentication, the Version header, JSON
// marshaling, and retry with exponential backoff on 429 and 5xx.
type Client struct {
	baseURL    string
	token      string
	version    string
	locationID string
	httpClient *http.Client
	maxRetries int
	wait       func(ctx context.Context, d time.Duration) error
	log        zerolog.Logger

	pipelineNames []string
	stageNames    []string
	pipelines     *pipelineCache
}

// NewClient creates a client from the CRM configuration.
func NewClient(cfg model.CRMConfig, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		version:    cfg.APIVersion,
		locationID: cfg.LocationID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:    3,
		wait:          waitContext,
		log:           log.With().Str("component", "ghl").Logger(),
		pipelineNames: cfg.PipelineNames,
		stageNames:    cfg.StageNames,
	}
	c.pipelines = newPipelineCache(cfg.PipelineCacheTTL, c.fetchPipelines)
	return c
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm API error (%d) on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Message)
}

// IsDuplicate reports whether the API rejected a write because the
// record already exists.
func (e *APIError) IsDuplicate() bool {
	if e.StatusCode != http.StatusBadRequest &&
		e.StatusCode != http.StatusConflict &&
		e.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}

func isDuplicate(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsDuplicate()
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) put(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPut, path, body, result)
}

// do builds the request, handles auth, retries throttling and (for
// idempotent methods) server errors with backoff, and (de)serializes JSON.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	url := c.baseURL + path

	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if data != nil {
			bodyReader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Version", c.version)
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if retryable(method, resp.StatusCode) {
			lastErr = apiError(resp.StatusCode, method, path, respBody)
			if attempt == c.maxRetries {
				break
			}
			wait := retryAfterDuration(resp, attempt)
			c.log.Debug().
				Int("status", resp.StatusCode).
				Dur("wait", wait).
				Str("path", path).
				Msg("retrying crm request")
			if err := c.wait(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &source.AuthError{
				SourceType: source.SourceTypeCRM,
				Message:    fmt.Sprintf("%d on %s %s: check the API token", resp.StatusCode, method, path),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apiError(resp.StatusCode, method, path, respBody)
		}

		// No content to parse (e.g. 204).
		if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}

		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryable reports whether a response may be retried. A 429 was never
// processed, so any method is retried. A 5xx may follow a committed
// write, so only idempotent methods are.
func retryable(method string, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status < 500 {
		return false
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func apiError(status int, method, path string, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Message != nil {
		switch m := er.Message.(type) {
		case string:
			msg = m
		case []any:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			msg = strings.Join(parts, "; ")
		}
	}
	return &APIError{StatusCode: status, Method: method, Path: path, Message: msg}
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
