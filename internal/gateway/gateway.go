// Package gateway is the boundary to the generative text services. Every
// adapter reports failures as *Failure so callers can pick a retry policy
// from the Kind alone.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gateway completes a single prompt.
type Gateway interface {
	// Complete sends prompt and returns the reply text. timeout bounds the
	// call; zero means no limit beyond ctx.
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// Func adapts a plain function to Gateway.
type Func func(ctx context.Context, prompt string, timeout time.Duration) (string, error)

func (f Func) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return f(ctx, prompt, timeout)
}

// Kind classifies a gateway failure.
type Kind int

const (
	// RateLimited means the service asked us to slow down.
	RateLimited Kind = iota + 1
	// NetworkFailure covers transport errors, timeouts and 5xx answers.
	NetworkFailure
	// MalformedResponse means the service answered but the answer is
	// unusable. Retrying does not help.
	MalformedResponse
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case NetworkFailure:
		return "network_failure"
	case MalformedResponse:
		return "malformed_response"
	}
	return "unknown"
}

// Failure is the error returned by every adapter.
type Failure struct {
	Kind   Kind
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	switch {
	case f.Detail != "" && f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	case f.Detail != "":
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return f.Kind.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf returns the Kind of the first Failure in err's chain.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

func malformed(detail string) *Failure {
	return &Failure{Kind: MalformedResponse, Detail: detail}
}
