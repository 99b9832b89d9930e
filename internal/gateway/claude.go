package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultClaudeModel = "claude-sonnet-4-5-20250929"
	defaultMaxTokens   = 1024
)

// Claude completes prompts with the Anthropic Messages API.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaude creates a Claude adapter. SDK retries are disabled; the
// pipeline owns the retry policy. Extra options are passed to the SDK
// client, which tests use to point it at a local server.
func NewClaude(apiKey, model string, maxTokens int, opts ...option.RequestOption) *Claude {
	if model == "" {
		model = defaultClaudeModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)

	return &Claude{
		client:    anthropic.NewClient(all...),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

// Name identifies the provider in logs and metrics.
func (c *Claude) Name() string { return "claude" }

// Complete sends prompt as a single user message.
func (c *Claude) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			f := statusFailure(apiErr.StatusCode, "")
			f.Err = err
			return "", f
		}
		return "", classifyTransport(err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "")
	if strings.TrimSpace(text) == "" {
		return "", malformed("empty completion")
	}
	return text, nil
}
