package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	maxResponseBytes     = 4 << 20
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

// Gemini completes prompts with the Google Generative Language REST API.
type Gemini struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
}

// GeminiOption customizes a Gemini adapter.
type GeminiOption func(*Gemini)

// WithBaseURL points the adapter at another endpoint root.
func WithBaseURL(u string) GeminiOption {
	return func(g *Gemini) { g.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) { g.client = c }
}

// NewGemini creates a Gemini adapter.
func NewGemini(apiKey, model string, maxTokens int, opts ...GeminiOption) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	g := &Gemini{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		baseURL:   defaultGeminiBaseURL,
		client:    &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name identifies the provider in logs and metrics.
func (g *Gemini) Name() string { return "gemini" }

// Complete sends prompt to generateContent and returns the first candidate.
func (g *Gemini) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: g.maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", classifyTransport(redactKey(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(respBody, "error.message").String()
		return "", statusFailure(resp.StatusCode, msg)
	}

	if !gjson.ValidBytes(respBody) {
		return "", malformed("response is not JSON")
	}
	parsed := gjson.ParseBytes(respBody)
	if reason := parsed.Get("promptFeedback.blockReason").String(); reason != "" {
		return "", malformed("prompt blocked: " + reason)
	}

	var sb strings.Builder
	for _, part := range parsed.Get("candidates.0.content.parts").Array() {
		sb.WriteString(part.Get("text").String())
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", malformed("empty completion")
	}
	return text, nil
}

// redactKey strips the API key from a *url.Error so it never reaches logs.
func redactKey(err error) error {
	ue, ok := err.(*url.Error)
	if !ok {
		return err
	}
	if u, perr := url.Parse(ue.URL); perr == nil {
		q := u.Query()
		if q.Has("key") {
			q.Set("key", "REDACTED")
			u.RawQuery = q.Encode()
			ue.URL = u.String()
		}
	}
	return ue
}
