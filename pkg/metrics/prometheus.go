package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "supportflow"

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	sessionsTotal      *prometheus.CounterVec
	stepsTotal         *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	failuresTotal      *prometheus.CounterVec
	retrievalAttempts  prometheus.Histogram
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensTotal     *prometheus.CounterVec
}

// NewPrometheusRecorder registers the orchestrator metrics on reg.
// A nil registerer gets a fresh private registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Finished support sessions by terminal status",
			},
			[]string{"status"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Executed steps by step name and outcome",
			},
			[]string{"step", "outcome"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of each executed step in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		failuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_failures_total",
				Help:      "Capability failures by step and failure kind",
			},
			[]string{"step", "kind"},
		),
		retrievalAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieval_attempts",
				Help:      "Retrieval attempts consumed per finished session",
				Buckets:   []float64{0, 1, 2, 3, 4, 6, 10},
			},
		),
		llmRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "LLM requests by model, status and error type",
			},
			[]string{"model", "status", "error_type"},
		),
		llmRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Duration of LLM requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		llmTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Estimated tokens used in LLM requests",
			},
			[]string{"model", "type"},
		),
	}
}

// ObserveLLMRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveLLMRequest(
	model string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}
	p.llmRequestsTotal.WithLabelValues(model, status, errorType).Inc()

	if success {
		p.llmTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
		p.llmTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	p.llmRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// ObserveStep records one executed step.
func (p *PrometheusRecorder) ObserveStep(step, outcome string, duration time.Duration) {
	p.stepsTotal.WithLabelValues(step, outcome).Inc()
	p.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// IncCapabilityFailure counts a capability failure.
func (p *PrometheusRecorder) IncCapabilityFailure(step, kind string) {
	p.failuresTotal.WithLabelValues(step, kind).Inc()
}

// ObserveSession records a finished session.
func (p *PrometheusRecorder) ObserveSession(status string, retrievalAttempts int) {
	p.sessionsTotal.WithLabelValues(status).Inc()
	p.retrievalAttempts.Observe(float64(retrievalAttempts))
}

// WriteTextfile dumps every metric family in gatherer to path using the
// Prometheus text exposition format. The file is replaced atomically so a
// node_exporter textfile collector never reads a partial write.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metrics-*")
	if err != nil {
		return fmt.Errorf("failed to create temp metrics file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, mf); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move metrics file into place: %w", err)
	}
	return nil
}
