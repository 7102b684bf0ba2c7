package retry

import (
	"context"
	"sync"
)

// WithCallbackRetry retries an operation that reports through a callback
// instead of returning. Only the first callback invocation per attempt counts.
func WithCallbackRetry[T any](ctx context.Context, policy Policy, fn func(done func(T, error))) (T, error) {
	return WithRetry(ctx, policy, func(ctx context.Context) (T, error) {
		type outcome struct {
			value T
			err   error
		}
		results := make(chan outcome, 1)
		var once sync.Once
		fn(func(value T, err error) {
			once.Do(func() { results <- outcome{value: value, err: err} })
		})

		select {
		case result := <-results:
			return result.value, result.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	})
}
