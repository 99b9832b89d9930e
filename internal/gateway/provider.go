package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
)

// New builds the configured provider adapter, instrumented and throttled.
func New(cfg model.GatewayConfig, apiKey string, m *metrics.Metrics, log *zap.Logger) (Gateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider %q", cfg.Provider)
	}

	var base Gateway
	switch cfg.Provider {
	case "claude", "anthropic":
		base = NewClaude(apiKey, cfg.Model, cfg.MaxTokens)
	case "gemini", "":
		base = NewGemini(apiKey, cfg.Model, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}

	name := cfg.Provider
	if name == "" {
		name = "gemini"
	}
	return NewThrottled(NewInstrumented(base, name, m, log), cfg.MinInterval()), nil
}
