package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// KindForStatus maps an HTTP status of a failed call to a Kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests, code == 529: // 529: provider overloaded
		return RateLimited
	case code >= 500:
		return NetworkFailure
	case code == http.StatusRequestTimeout:
		return NetworkFailure
	}
	return MalformedResponse
}

// classifyTransport wraps an error that happened before any HTTP status was
// received.
func classifyTransport(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: NetworkFailure, Detail: "timeout", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Failure{Kind: NetworkFailure, Detail: "canceled", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Failure{Kind: NetworkFailure, Detail: "timeout", Err: err}
		}
		return &Failure{Kind: NetworkFailure, Err: err}
	}

	return &Failure{Kind: NetworkFailure, Err: err}
}

func statusFailure(code int, msg string) *Failure {
	detail := fmt.Sprintf("HTTP %d", code)
	if msg != "" {
		detail += ": " + msg
	}
	return &Failure{Kind: KindForStatus(code), Detail: detail}
}
