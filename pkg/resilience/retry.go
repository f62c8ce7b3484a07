// Package resilience provides the retry combinator shared by every
// capability call: LLM completions, vector searches and embeddings.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"supportflow/pkg/llm/llmerrors"
)

var (
	// ErrRetryExhausted indicates all retry attempts have been exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts  int           `koanf:"max_attempts" yaml:"max_attempts" validate:"min=1,max=10"` // Attempts including the first call
	InitialDelay time.Duration `koanf:"initial_delay" yaml:"initial_delay"`                       // Delay before the first retry
	MaxDelay     time.Duration `koanf:"max_delay" yaml:"max_delay"`                               // Cap on a single delay
	Jitter       bool          `koanf:"jitter" yaml:"jitter"`                                     // Spread retries of concurrent sessions
}

// DefaultConfig retries three times with 1s, 2s, 4s spacing.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: time.Second,
	MaxDelay:     8 * time.Second,
	Jitter:       true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier. Context errors are never retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return llmerrors.IsRetryable(err)
}

// Backoff builds the go-retry schedule for cfg.
func Backoff(cfg Config) retry.Backoff {
	base := cfg.InitialDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if cfg.MaxDelay > 0 {
		b = retry.WithCappedDuration(cfg.MaxDelay, b)
	}
	if cfg.Jitter {
		b = retry.WithJitterPercent(10, b)
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b) // #nosec G115 -- attempts is at least one
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. Exhaustion wraps both ErrRetryExhausted and the last error.
func Do[T any](ctx context.Context, cfg Config, classify Classifier, fn func(ctx context.Context) (T, error)) (T, error) {
	if classify == nil {
		classify = ShouldRetry
	}

	var (
		out      T
		attempts int
		lastErr  error
	)
	err := retry.Do(ctx, Backoff(cfg), func(ctx context.Context) error {
		attempts++
		v, callErr := fn(ctx)
		if callErr != nil {
			lastErr = callErr
			if classify(callErr) {
				return retry.RetryableError(callErr)
			}
			return callErr
		}
		out = v
		return nil
	})
	if err == nil {
		return out, nil
	}

	var zero T
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return zero, fmt.Errorf("retry cancelled after %d attempts: %w", attempts, ctxErr)
	}
	if lastErr != nil && classify(lastErr) {
		return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
	}
	return zero, err
}
