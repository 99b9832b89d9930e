package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveGatewayCall("gemini", "ok", 200*time.Millisecond)
	m.ObserveGatewayCall("gemini", "ok", 300*time.Millisecond)
	m.ObserveGatewayCall("gemini", "rate_limited", time.Second)
	m.IncEmailProcessed("draft_ready")
	m.IncChatSend("ok")
	m.AddIngested(3)
	m.AddIngested(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GatewayCalls.WithLabelValues("gemini", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayCalls.WithLabelValues("gemini", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsProcessed.WithLabelValues("draft_ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatSends.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MailsIngested))
	assert.Equal(t, 2, testutil.CollectAndCount(m.GatewayLatency))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGatewayCall("x", "ok", time.Second)
		m.ObserveStage("draft", "ok", time.Second)
		m.IncEmailProcessed("failed")
		m.IncChatSend("error")
		m.AddIngested(1)
	})
}
