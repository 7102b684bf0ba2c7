// Package retry re-runs QuickBooks calls that failed for transient reasons.
//
// Delays grow exponentially with jitter and are capped. A 429 response that
// names a Retry-After interval waits that long instead.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// jitterFraction is the largest share of the exponential delay added as jitter.
const jitterFraction = 0.3

// Policy configures WithRetry.
type Policy struct {
	// MaxRetries is the number of calls allowed after the first.
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	RetryableStatuses []int
	Logger            *slog.Logger
	// OnRetry runs before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy retries three times starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

func (p Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// delay returns the wait before retry number attempt (zero-based) given the
// error that triggered it. r is a jitter sample in [0, 1).
func (p Policy) delay(attempt int, err error, r float64) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultPolicy().MaxDelay
	}

	if StatusOf(err) == 429 {
		if wait, ok := retryAfterOf(err); ok {
			return min(wait, maxDelay)
		}
	}

	base := float64(p.InitialDelay) * math.Pow(2, float64(attempt))
	if base >= float64(maxDelay) {
		return maxDelay
	}
	wait := base + base*jitterFraction*r
	if wait >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(wait)
}

// policyBackOff adapts a Policy to backoff.BackOff. The operation records the
// last error so the next delay can honor Retry-After.
type policyBackOff struct {
	policy  Policy
	attempt int
	lastErr error
}

func (b *policyBackOff) NextBackOff() time.Duration {
	wait := b.policy.delay(b.attempt, b.lastErr, rand.Float64())
	b.attempt++
	return wait
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// WithRetry calls fn until it succeeds, returns a non-retryable error, or
// the retry budget runs out. The last error is returned unchanged.
func WithRetry[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	maxTries := uint(1)
	if policy.MaxRetries > 0 {
		maxTries += uint(policy.MaxRetries)
	}

	b := &policyBackOff{policy: policy}
	attempt := 0
	operation := func() (T, error) {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		b.lastErr = err
		if ctx.Err() != nil || !policy.IsRetryable(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}
	notify := func(err error, wait time.Duration) {
		attempt++
		attrs := []any{
			"attempt", attempt,
			"max_retries", policy.MaxRetries,
			"delay", wait,
			"error", err.Error(),
		}
		if status := StatusOf(err); status != 0 {
			attrs = append(attrs, "status", status)
		}
		if code := networkCode(err); code != "" {
			attrs = append(attrs, "code", code)
		}
		policy.logger().Warn("retrying qbo request", attrs...)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, wait)
		}
	}

	value, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	// The try limit is checked before permanent errors are unwrapped.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return value, err
}
