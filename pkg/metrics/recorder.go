// Package metrics records session, step and LLM metrics for the orchestrator.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording orchestrator metrics.
type Recorder interface {
	// ObserveLLMRequest records metrics for a completed LLM request.
	ObserveLLMRequest(model string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration)

	// ObserveStep records one executed step and how it ended.
	ObserveStep(step, outcome string, duration time.Duration)

	// IncCapabilityFailure counts a capability failure by step and kind.
	IncCapabilityFailure(step, kind string)

	// ObserveSession records a finished session.
	ObserveSession(status string, retrievalAttempts int)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveLLMRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveLLMRequest(_ string, _, _ int, _ bool, _ string, _ time.Duration) {}

// ObserveStep does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveStep(_, _ string, _ time.Duration) {}

// IncCapabilityFailure does nothing in the no-op recorder.
func (n *NoopRecorder) IncCapabilityFailure(_, _ string) {}

// ObserveSession does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveSession(_ string, _ int) {}
