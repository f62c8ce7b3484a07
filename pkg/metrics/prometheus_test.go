package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveStep("GATHER", "ok", 20*time.Millisecond)
	rec.ObserveStep("GATHER", "ok", 30*time.Millisecond)
	rec.ObserveStep("RETRIEVE", "failure", time.Millisecond)
	rec.IncCapabilityFailure("RETRIEVE", "transient")
	rec.ObserveSession("escalated", 3)
	rec.ObserveLLMRequest("gpt-5-mini", 120, 40, true, "", time.Second)
	rec.ObserveLLMRequest("gpt-5-mini", 0, 0, false, "rate_limit", time.Second)

	assert.InDelta(t, 2, testutil.ToFloat64(rec.stepsTotal.WithLabelValues("GATHER", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.failuresTotal.WithLabelValues("RETRIEVE", "transient")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.sessionsTotal.WithLabelValues("escalated")), 0)
	assert.InDelta(t, 120, testutil.ToFloat64(rec.llmTokensTotal.WithLabelValues("gpt-5-mini", "prompt")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.llmRequestsTotal.WithLabelValues("gpt-5-mini", "error", "rate_limit")), 0)
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)
	rec.ObserveSession("success", 1)

	path := filepath.Join(t.TempDir(), "nested", "supportflow.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `supportflow_sessions_total{status="success"} 1`)
	assert.Contains(t, string(data), "# TYPE supportflow_retrieval_attempts histogram")
}

func TestNopRecorder(_ *testing.T) {
	rec := Nop()
	rec.ObserveStep("LOG", "ok", 0)
	rec.ObserveLLMRequest("m", 1, 1, true, "", 0)
	rec.IncCapabilityFailure("GATHER", "timeout")
	rec.ObserveSession("failure", 0)
}
