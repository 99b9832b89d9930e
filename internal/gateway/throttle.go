package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nhle/mail-triage/internal/metrics"
)

// Throttled spaces calls to the wrapped gateway at least minInterval apart.
type Throttled struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewThrottled wraps next. A non-positive minInterval disables throttling.
func NewThrottled(next Gateway, minInterval time.Duration) *Throttled {
	lim := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		lim = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return &Throttled{next: next, limiter: lim}
}

func (t *Throttled) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for gateway slot: %w", err)
	}
	return t.next.Complete(ctx, prompt, timeout)
}

// Instrumented records latency and outcome of every call and logs failures.
type Instrumented struct {
	next     Gateway
	provider string
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewInstrumented wraps next. m may be nil.
func NewInstrumented(next Gateway, provider string, m *metrics.Metrics, log *zap.Logger) *Instrumented {
	if log == nil {
		log = zap.NewNop()
	}
	return &Instrumented{next: next, provider: provider, metrics: m, log: log}
}

func (g *Instrumented) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	start := time.Now()
	text, err := g.next.Complete(ctx, prompt, timeout)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if kind, ok := KindOf(err); ok {
			outcome = kind.String()
		}
		g.log.Warn("gateway call failed",
			zap.String("provider", g.provider),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	} else {
		g.log.Debug("gateway call",
			zap.String("provider", g.provider),
			zap.Int("prompt_len", len(prompt)),
			zap.Int("reply_len", len(text)),
			zap.Duration("elapsed", elapsed),
		)
	}
	g.metrics.ObserveGatewayCall(g.provider, outcome, elapsed)
	return text, err
}
