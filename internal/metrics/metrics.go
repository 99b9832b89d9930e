// Package metrics defines the Prometheus collectors of mailtriage and the
// optional /metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	GatewayLatency  *prometheus.HistogramVec
	GatewayCalls    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	EmailsProcessed *prometheus.CounterVec
	ChatSends       *prometheus.CounterVec
	MailsIngested   prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GatewayLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailtriage_gateway_call_duration_seconds",
				Help:    "Latency of completion calls by provider and outcome",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
			[]string{"provider", "outcome"},
		),
		GatewayCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_gateway_calls_total",
				Help: "Completion calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailtriage_stage_duration_seconds",
				Help:    "Wall time of one pipeline stage including retries",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"stage", "outcome"},
		),
		EmailsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_emails_processed_total",
				Help: "Emails that left the pipeline, by final status",
			},
			[]string{"status"},
		),
		ChatSends: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_chat_sends_total",
				Help: "Chat refinement sends by outcome",
			},
			[]string{"outcome"},
		),
		MailsIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "mailtriage_mails_ingested_total",
			Help: "New emails added by the mailbox poller",
		}),
	}
}

// ObserveGatewayCall records one completion call.
func (m *Metrics) ObserveGatewayCall(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayLatency.WithLabelValues(provider, outcome).Observe(d.Seconds())
	m.GatewayCalls.WithLabelValues(provider, outcome).Inc()
}

// ObserveStage records the duration of one stage run.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// IncEmailProcessed counts an email that reached status.
func (m *Metrics) IncEmailProcessed(status string) {
	if m == nil {
		return
	}
	m.EmailsProcessed.WithLabelValues(status).Inc()
}

// IncChatSend counts a chat send by outcome.
func (m *Metrics) IncChatSend(outcome string) {
	if m == nil {
		return
	}
	m.ChatSends.WithLabelValues(outcome).Inc()
}

// AddIngested counts n newly ingested emails.
func (m *Metrics) AddIngested(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MailsIngested.Add(float64(n))
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
