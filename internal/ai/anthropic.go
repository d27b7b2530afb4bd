package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultAnthropicURL   = "https://api.anthropic.com"
	anthropicAPIVersion   = "2023-06-01"
)

// Anthropic calls the Claude Messages API.
type Anthropic struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropic creates a Claude-backed Generator. Empty modelName and
// baseURL fall back to defaults.
func NewAnthropic(apiKey, modelName, baseURL string, timeout time.Duration) *Anthropic {
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}

	return &Anthropic{
		apiKey:  apiKey,
		model:   modelName,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate sends prompt as a single user message and returns the
// concatenated text blocks of the reply.
func (a *Anthropic) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	reqBody := anthropicRequest{
		Model:       a.model,
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: opts.Temperature,
		Messages: []anthropicMessage{
			{
				Role:    "user",
				Content: []anthropicContentBlock{{Type: "text", Text: prompt}},
			},
		},
	}

	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}

	var resp anthropicResponse
	err := postJSON(ctx, a.client, "anthropic", a.baseURL+"/v1/messages", headers, reqBody, &resp, anthropicErrorMessage)
	if err != nil {
		return "", err
	}

	var textParts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}

	text := strings.Join(textParts, "")
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func anthropicErrorMessage(body []byte) string {
	var apiErr anthropicErrorResponse
	if json.Unmarshal(body, &apiErr) == nil {
		return apiErr.Error.Message
	}
	return ""
}

// --- Claude API types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
