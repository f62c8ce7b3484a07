package circuit

import (
	"context"
	"errors"

	"supportflow/pkg/llm"
)

// Middleware rejects requests while the breaker is OPEN. Cancellation by the
// caller is not counted against the upstream service.
func Middleware(breaker Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !breaker.Allow() {
					return llm.CompletionResponse{}, &Error{State: breaker.Current()}
				}
				resp, err := next.Complete(ctx, req)
				record(breaker, err)
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

func record(b Breaker, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	b.Record(err == nil)
}
