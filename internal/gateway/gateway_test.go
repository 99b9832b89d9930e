package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/metrics"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{http.StatusTooManyRequests, RateLimited},
		{529, RateLimited},
		{http.StatusInternalServerError, NetworkFailure},
		{http.StatusServiceUnavailable, NetworkFailure},
		{http.StatusRequestTimeout, NetworkFailure},
		{http.StatusBadRequest, MalformedResponse},
		{http.StatusUnauthorized, MalformedResponse},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForStatus(tt.code))
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("categorize: %w", &Failure{Kind: RateLimited, Detail: "slow down"})
	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, RateLimited, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)

	assert.Equal(t, "rate_limited: slow down", (&Failure{Kind: RateLimited, Detail: "slow down"}).Error())
}

func TestClassifyTransport(t *testing.T) {
	f := classifyTransport(fmt.Errorf("post: %w", context.DeadlineExceeded))
	assert.Equal(t, NetworkFailure, f.Kind)
	assert.Equal(t, "timeout", f.Detail)

	orig := &Failure{Kind: MalformedResponse}
	assert.Same(t, orig, classifyTransport(orig))
}

type geminiServer struct {
	*httptest.Server
	lastPath  string
	lastQuery string
	lastBody  geminiRequest
}

func newGeminiServer(t *testing.T, status int, body string) *geminiServer {
	t.Helper()
	gs := &geminiServer{}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gs.lastPath = r.URL.Path
		gs.lastQuery = r.URL.Query().Get("key")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gs.lastBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(gs.Close)
	return gs
}

func TestGemini_Complete(t *testing.T) {
	srv := newGeminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"parts":[{"text":"Meet"},{"text":"ing"}],"role":"model"}}]}`)

	g := NewGemini("secret", "", 256, WithBaseURL(srv.URL))
	text, err := g.Complete(context.Background(), "classify this", time.Second)
	require.NoError(t, err)

	assert.Equal(t, "Meeting", text)
	assert.Equal(t, "/models/gemini-2.5-flash:generateContent", srv.lastPath)
	assert.Equal(t, "secret", srv.lastQuery)
	require.Len(t, srv.lastBody.Contents, 1)
	assert.Equal(t, "classify this", srv.lastBody.Contents[0].Parts[0].Text)
	assert.Equal(t, 256, srv.lastBody.GenerationConfig.MaxOutputTokens)
}

func TestGemini_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
		detail string
	}{
		{"rate limited", 429, `{"error":{"code":429,"message":"quota exceeded"}}`, RateLimited, "quota exceeded"},
		{"server error", 503, `{"error":{"message":"overloaded"}}`, NetworkFailure, "HTTP 503"},
		{"bad request", 400, `{"error":{"message":"bad key"}}`, MalformedResponse, "bad key"},
		{"no candidates", 200, `{"candidates":[]}`, MalformedResponse, "empty"},
		{"blocked", 200, `{"promptFeedback":{"blockReason":"SAFETY"}}`, MalformedResponse, "SAFETY"},
		{"not json", 200, `<html>`, MalformedResponse, "not JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newGeminiServer(t, tt.status, tt.body)
			g := NewGemini("k", "gemini-test", 0, WithBaseURL(srv.URL))

			_, err := g.Complete(context.Background(), "p", time.Second)
			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.want, f.Kind)
			assert.Contains(t, f.Error(), tt.detail)
		})
	}
}

func TestGemini_TimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	g := NewGemini("secret-key", "", 0, WithBaseURL(srv.URL))
	_, err := g.Complete(context.Background(), "p", 50*time.Millisecond)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NetworkFailure, kind)
	assert.NotContains(t, err.Error(), "secret-key")
}

func TestGemini_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewGemini("k", "", 0, WithBaseURL(url))
	_, err := g.Complete(context.Background(), "p", time.Second)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NetworkFailure, kind)
}

func claudeServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClaude_Complete(t *testing.T) {
	srv := claudeServer(t, http.StatusOK, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-5-20250929",
		"content": [{"type": "text", "text": "Tuesday works for me."}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 6}
	}`)

	c := NewClaude("test-key", "", 0, option.WithBaseURL(srv.URL))
	text, err := c.Complete(context.Background(), "draft a reply", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Tuesday works for me.", text)
}

func TestClaude_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"rate limited", 429, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, RateLimited},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`, RateLimited},
		{"server error", 500, `{"type":"error","error":{"type":"api_error","message":"oops"}}`, NetworkFailure},
		{"invalid request", 400, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`, MalformedResponse},
		{"empty content", 200, `{"id":"m","type":"message","role":"assistant","model":"x","content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":0}}`, MalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := claudeServer(t, tt.status, tt.body)
			c := NewClaude("test-key", "", 0, option.WithBaseURL(srv.URL))

			_, err := c.Complete(context.Background(), "p", time.Second)
			kind, ok := KindOf(err)
			require.True(t, ok, "want Failure, got %v", err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestThrottled_SpacesCalls(t *testing.T) {
	var calls atomic.Int32
	inner := Func(func(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
		calls.Add(1)
		return "ok", nil
	})

	g := NewThrottled(inner, 40*time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := g.Complete(context.Background(), "p", 0)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestThrottled_CanceledWait(t *testing.T) {
	inner := Func(func(context.Context, string, time.Duration) (string, error) { return "ok", nil })
	g := NewThrottled(inner, time.Hour)

	_, err := g.Complete(context.Background(), "p", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Complete(ctx, "p", 0)
	assert.Error(t, err)
}

func TestInstrumented_RecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	replies := []error{nil, &Failure{Kind: RateLimited}}
	i := 0
	inner := Func(func(context.Context, string, time.Duration) (string, error) {
		err := replies[i]
		i++
		if err != nil {
			return "", err
		}
		return "fine", nil
	})

	g := NewInstrumented(inner, "gemini", m, nil)
	text, err := g.Complete(context.Background(), "p", 0)
	require.NoError(t, err)
	assert.Equal(t, "fine", text)

	_, err = g.Complete(context.Background(), "p", 0)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayCalls.WithLabelValues("gemini", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayCalls.WithLabelValues("gemini", "rate_limited")))
}
