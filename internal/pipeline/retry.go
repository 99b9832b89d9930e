package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nhle/mail-triage/internal/gateway"
)

// retryPolicy decides the wait before the next gateway attempt from the
// kind of the last failure. Rate limits back off exponentially with jitter;
// a network failure is retried once immediately; anything else stops.
type retryPolicy struct {
	exp         *backoff.ExponentialBackOff
	maxAttempts int

	attempts       int
	lastKind       gateway.Kind
	networkRetried bool
}

func newRetryPolicy(maxAttempts int, base, max time.Duration) *retryPolicy {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.MaxInterval = max
	exp.MaxElapsedTime = 0
	exp.RandomizationFactor = 0.5
	exp.Multiplier = 2
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &retryPolicy{exp: exp, maxAttempts: maxAttempts}
}

func (p *retryPolicy) record(kind gateway.Kind) {
	p.attempts++
	p.lastKind = kind
}

func (p *retryPolicy) NextBackOff() time.Duration {
	if p.attempts >= p.maxAttempts {
		return backoff.Stop
	}
	switch p.lastKind {
	case gateway.RateLimited:
		return p.exp.NextBackOff()
	case gateway.NetworkFailure:
		if p.networkRetried {
			return backoff.Stop
		}
		p.networkRetried = true
		return 0
	}
	return backoff.Stop
}

func (p *retryPolicy) Reset() {
	p.exp.Reset()
	p.attempts = 0
	p.lastKind = 0
	p.networkRetried = false
}

// complete calls the gateway under the retry policy. Gateway calls run
// detached from ctx cancellation with their own timeout; ctx only cuts
// backoff waits short. It returns the reply, the number of attempts made
// and the last error.
func (p *Pipeline) complete(ctx context.Context, prompt string) (string, int, error) {
	policy := newRetryPolicy(p.cfg.MaxAttempts, p.cfg.BaseBackoff, p.cfg.MaxBackoff)
	callCtx := context.WithoutCancel(ctx)

	var reply string
	op := func() error {
		text, err := p.gw.Complete(callCtx, prompt, p.cfg.Timeout)
		if err == nil {
			policy.record(0)
			reply = text
			return nil
		}
		kind, ok := gateway.KindOf(err)
		if !ok {
			kind = gateway.NetworkFailure
		}
		policy.record(kind)
		if kind == gateway.MalformedResponse {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	return reply, policy.attempts, err
}
