package capability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type callTimeoutKey struct{}

// WithCallTimeout bounds every service call (LLM or retrieval) made under ctx
// by d. Waits on the UserChannel are not bounded; they end only when ctx is
// cancelled or the user leaves.
func WithCallTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, callTimeoutKey{}, d)
}

// CallTimeout returns the bound set by WithCallTimeout.
func CallTimeout(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(callTimeoutKey{}).(time.Duration)
	return d, ok && d > 0
}

// Call runs fn under the call timeout of ctx. An error caused by that
// deadline wraps context.DeadlineExceeded even when fn reported it otherwise.
func Call[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	d, ok := CallTimeout(ctx)
	if !ok {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil && ctx.Err() == nil &&
		errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return v, err
}
