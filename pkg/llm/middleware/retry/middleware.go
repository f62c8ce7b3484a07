// Package retry provides retry middleware for LLM clients.
package retry

import (
	"context"
	"errors"

	"supportflow/pkg/llm"
	"supportflow/pkg/llm/llmerrors"
	"supportflow/pkg/resilience"
)

// Middleware returns a middleware that retries retryable failures with
// exponential backoff. When the budget is spent on a retryable error it
// returns a ServiceUnavailable error so the calling step reports a
// transient failure instead of retrying again.
func Middleware(cfg resilience.Config) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := resilience.Do(ctx, cfg, resilience.ShouldRetry,
					func(ctx context.Context) (llm.CompletionResponse, error) {
						return next.Complete(ctx, req)
					})
				return resp, exhausted(err, cfg.MaxAttempts)
			},
			next.GetModelName,
		)
	}
}

func exhausted(err error, attempts int) error {
	if err == nil || !errors.Is(err, resilience.ErrRetryExhausted) {
		return err
	}
	return llmerrors.NewServiceUnavailableError(err, attempts)
}
