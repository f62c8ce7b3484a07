// Package metrics provides metrics middleware for LLM clients.
package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"supportflow/pkg/llm"
	"supportflow/pkg/llm/llmerrors"
	"supportflow/pkg/llm/middleware/circuit"
	"supportflow/pkg/logx"
	"supportflow/pkg/metrics"
	"supportflow/pkg/utils"
)

// UsageExtractor estimates token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor counts tokens with tiktoken since not every provider
// reports usage.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var prompt strings.Builder
	for i := range req.Messages {
		prompt.WriteString(req.Messages[i].Content)
		prompt.WriteByte('\n')
	}
	return utils.CountTokensSimple(prompt.String()), utils.CountTokensSimple(resp.Content)
}

// Middleware records latency, token usage and error types for each request.
func Middleware(recorder metrics.Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
				}
				errorType := ErrorType(err)
				recorder.ObserveLLMRequest(model, promptTokens, completionTokens, err == nil, errorType, duration)

				logx.Debug(ctx, "llm", "model=%s tokens=%d+%d error=%q duration=%dms",
					model, promptTokens, completionTokens, errorType, duration.Milliseconds())
				if err != nil && logger != nil {
					logger.Warn("LLM request failed: model=%s error_type=%s: %v", model, errorType, err)
				}
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

// ErrorType labels err for metrics.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, circuit.ErrOpen):
		return "circuit_breaker"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llmerrors.Classify(err).Type.String()
	}
}
