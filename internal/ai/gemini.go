package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGeminiModel = "gemini-2.0-flash"
	defaultGeminiURL   = "https://generativelanguage.googleapis.com"
)

// Gemini calls the Generative Language generateContent endpoint.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGemini creates a Gemini-backed Generator.
func NewGemini(apiKey, modelName, baseURL string, timeout time.Duration) *Gemini {
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	if baseURL == "" {
		baseURL = defaultGeminiURL
	}

	return &Gemini{
		apiKey:  apiKey,
		model:   modelName,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate returns the text parts of the first candidate.
func (g *Gemini) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}

	endpoint := g.baseURL + "/v1beta/models/" + url.PathEscape(g.model) + ":generateContent"
	headers := map[string]string{"x-goog-api-key": g.apiKey}

	var resp geminiResponse
	if err := postJSON(ctx, g.client, "gemini", endpoint, headers, reqBody, &resp, geminiErrorMessage); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}

	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func geminiErrorMessage(body []byte) string {
	var apiErr struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		return apiErr.Error.Message
	}
	return ""
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}
