package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"testing"
	"time"
)

type statusError struct {
	status     int
	retryAfter time.Duration
	hasWait    bool
}

func (e *statusError) Error() string   { return fmt.Sprintf("qbo status %d", e.status) }
func (e *statusError) StatusCode() int { return e.status }
func (e *statusError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.hasWait
}

func fastPolicy(maxRetries int) Policy {
	policy := DefaultPolicy()
	policy.MaxRetries = maxRetries
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	policy.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return policy
}

func TestWithRetrySuccessFirstCall(t *testing.T) {
	calls := 0
	got, err := WithRetry(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Fatalf("got %q after %d calls, want ok after 1", got, calls)
	}
}

func TestWithRetryExhaustsAndReturnsLastError(t *testing.T) {
	calls := 0
	var last error
	_, err := WithRetry(context.Background(), fastPolicy(2), func(context.Context) (int, error) {
		calls++
		last = &statusError{status: 503}
		return 0, last
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if err != last {
		t.Fatalf("err = %v, want the last error unchanged", err)
	}
}

func TestWithRetryNonRetryableCallsOnce(t *testing.T) {
	calls := 0
	want := &statusError{status: 400}
	_, err := WithRetry(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, want
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if err != want {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestWithRetryRecoversAfterNetworkError(t *testing.T) {
	calls := 0
	got, err := WithRetry(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("read: %w", syscall.ECONNRESET)
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if got != 7 || calls != 3 {
		t.Fatalf("got %d after %d calls, want 7 after 3", got, calls)
	}
}

func TestWithRetryZeroRetries(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastPolicy(0), func(context.Context) (int, error) {
		calls++
		return 0, &statusError{status: 500}
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d err = %v, want 1 call and an error", calls, err)
	}
}

func TestWithRetryOnRetryCountsAttempts(t *testing.T) {
	policy := fastPolicy(2)
	var attempts []int
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		if delay <= 0 || delay > policy.MaxDelay {
			t.Errorf("delay = %v, want within (0, %v]", delay, policy.MaxDelay)
		}
	}
	_, _ = WithRetry(context.Background(), policy, func(context.Context) (int, error) {
		return 0, errors.New("Rate limit exceeded")
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("attempts = %v, want [1 2]", attempts)
	}
}

func TestWithRetryHonorsRetryAfter(t *testing.T) {
	policy := fastPolicy(3)
	policy.MaxDelay = 30 * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var observed time.Duration
	policy.OnRetry = func(_ int, _ error, delay time.Duration) {
		observed = delay
		cancel()
	}
	calls := 0
	_, _ = WithRetry(ctx, policy, func(context.Context) (int, error) {
		calls++
		return 0, &statusError{status: 429, retryAfter: 2 * time.Second, hasWait: true}
	})
	if observed != 2*time.Second {
		t.Fatalf("delay = %v, want 2s from Retry-After", observed)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 before cancellation", calls)
	}
}

func TestWithRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := WithRetry(ctx, fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, ctx.Err()
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDelay(t *testing.T) {
	policy := Policy{InitialDelay: time.Second, MaxDelay: 30 * time.Second}
	tests := []struct {
		name    string
		attempt int
		err     error
		r       float64
		want    time.Duration
	}{
		{name: "first", attempt: 0, want: time.Second},
		{name: "third", attempt: 2, want: 4 * time.Second},
		{name: "capped", attempt: 10, want: 30 * time.Second},
		{name: "huge attempt", attempt: 5000, want: 30 * time.Second},
		{
			name: "retry after",
			err:  &statusError{status: 429, retryAfter: 7 * time.Second, hasWait: true},
			want: 7 * time.Second,
		},
		{
			name: "retry after capped",
			err:  &statusError{status: 429, retryAfter: time.Hour, hasWait: true},
			want: 30 * time.Second,
		},
		{
			name:    "retry after ignored off 429",
			attempt: 1,
			err:     &statusError{status: 503, retryAfter: 7 * time.Second, hasWait: true},
			want:    2 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.delay(tt.attempt, tt.err, tt.r); got != tt.want {
				t.Fatalf("delay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayJitterBounds(t *testing.T) {
	policy := Policy{InitialDelay: time.Second, MaxDelay: 30 * time.Second}
	got := policy.delay(1, nil, 0.5)
	want := 2300 * time.Millisecond
	if diff := got - want; diff < -time.Microsecond || diff > time.Microsecond {
		t.Fatalf("delay = %v, want about %v", got, want)
	}
	if upper := policy.delay(1, nil, 0.999999); upper > 2600*time.Millisecond {
		t.Fatalf("delay = %v, want at most 30%% jitter", upper)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "429", err: &statusError{status: 429}, want: true},
		{name: "502", err: &statusError{status: 502}, want: true},
		{name: "400", err: &statusError{status: 400}, want: false},
		{name: "401", err: &statusError{status: 401}, want: false},
		{name: "reset", err: fmt.Errorf("dial: %w", syscall.ECONNRESET), want: true},
		{name: "refused", err: syscall.ECONNREFUSED, want: true},
		{name: "pipe", err: syscall.EPIPE, want: true},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}, want: true},
		{name: "code in message", err: errors.New("getaddrinfo EAI_AGAIN quickbooks"), want: true},
		{name: "throttled", err: errors.New("Request was THROTTLED"), want: true},
		{name: "too many", err: errors.New("too many requests"), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: fmt.Errorf("call: %w", context.Canceled), want: false},
		{name: "plain", err: errors.New("validation failed"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryableCustomStatuses(t *testing.T) {
	policy := Policy{RetryableStatuses: []int{409}}
	if !policy.IsRetryable(&statusError{status: 409}) {
		t.Fatal("expected 409 to be retryable under custom list")
	}
	if policy.IsRetryable(&statusError{status: 503}) {
		t.Fatal("expected 503 to be fatal under custom list")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value  string
		want   time.Duration
		wantOK bool
	}{
		{value: "", wantOK: false},
		{value: "5", want: 5 * time.Second, wantOK: true},
		{value: " 0 ", want: 0, wantOK: true},
		{value: "-1", wantOK: false},
		{value: "Sun, 01 Mar 2026 12:00:10 GMT", want: 10 * time.Second, wantOK: true},
		{value: "Sun, 01 Mar 2026 11:00:00 GMT", want: 0, wantOK: true},
		{value: "soon", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ParseRetryAfter(tt.value, now)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("ParseRetryAfter(%q) = (%v, %v), want (%v, %v)", tt.value, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestWithCallbackRetry(t *testing.T) {
	calls := 0
	got, err := WithCallbackRetry(context.Background(), fastPolicy(2), func(done func(string, error)) {
		calls++
		if calls == 1 {
			done("", &statusError{status: 500})
			return
		}
		go func() {
			done("async", nil)
			done("ignored", nil)
		}()
	})
	if err != nil {
		t.Fatalf("WithCallbackRetry: %v", err)
	}
	if got != "async" || calls != 2 {
		t.Fatalf("got %q after %d calls, want async after 2", got, calls)
	}
}

func TestWithCallbackRetryCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := WithCallbackRetry(ctx, fastPolicy(2), func(func(int, error)) {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
