// Package breaker fails QuickBooks calls fast while the upstream keeps failing.
//
// One Breaker guards one upstream dependency for the life of the process.
// State is never persisted.
//
// The lock is not held while the guarded call runs. Two callers that both
// observe an elapsed reset timeout may each run a trial call in HALF_OPEN;
// the first to finish decides the next state. At worst recovery costs one
// extra upstream call.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Defaults applied to zero Config fields.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// Config sets the trip threshold and cooldown.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// ErrOpen matches every rejection made while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned without calling the guarded function.
type OpenError struct {
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open; retry in %s", e.Remaining.Round(time.Millisecond))
}

// Is matches ErrOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithStateChange registers a hook called after every transition, outside
// the lock.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
	onChange     func(from, to State)

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
}

// New returns a closed breaker.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		threshold:    cfg.FailureThreshold,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
		logger:       slog.Default(),
		state:        Closed,
	}
	if b.threshold <= 0 {
		b.threshold = DefaultFailureThreshold
	}
	if b.resetTimeout <= 0 {
		b.resetTimeout = DefaultResetTimeout
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn unless the breaker is open and still cooling down.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn through b and returns its result. Errors from fn are
// returned unchanged.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := b.admit(); err != nil {
		return zero, err
	}

	value, err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return value, err
	}
	b.recordSuccess()
	return value, nil
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	if b.state != Open {
		b.mu.Unlock()
		return nil
	}
	elapsed := b.now().Sub(b.lastFailureAt)
	if elapsed < b.resetTimeout {
		remaining := b.resetTimeout - elapsed
		b.mu.Unlock()
		return &OpenError{Remaining: remaining}
	}
	from := b.transitionLocked(HalfOpen)
	b.mu.Unlock()
	b.notify(from, HalfOpen)
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	b.failures = 0
	from := b.transitionLocked(Closed)
	b.mu.Unlock()
	b.notify(from, Closed)
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	b.failures++
	b.lastFailureAt = b.now()
	from, to := b.state, b.state
	if b.failures >= b.threshold {
		to = Open
		from = b.transitionLocked(Open)
	}
	b.mu.Unlock()
	b.notify(from, to)
}

// transitionLocked sets the state and returns the previous one.
func (b *Breaker) transitionLocked(to State) State {
	from := b.state
	b.state = to
	return from
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	b.logger.Info("circuit breaker state change", "from", from.String(), "to", to.String())
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a point-in-time view for health reporting.
// TimeSinceLastFailureMs is nil before the first failure.
type Snapshot struct {
	State                  State  `json:"state"`
	FailureCount           int    `json:"failureCount"`
	FailureThreshold       int    `json:"failureThreshold"`
	TimeSinceLastFailureMs *int64 `json:"timeSinceLastFailureMs"`
	ResetTimeoutMs         int64  `json:"resetTimeoutMs"`
}

// Snapshot returns the current counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := Snapshot{
		State:            b.state,
		FailureCount:     b.failures,
		FailureThreshold: b.threshold,
		ResetTimeoutMs:   b.resetTimeout.Milliseconds(),
	}
	if !b.lastFailureAt.IsZero() {
		since := b.now().Sub(b.lastFailureAt).Milliseconds()
		snapshot.TimeSinceLastFailureMs = &since
	}
	return snapshot
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.lastFailureAt = time.Time{}
	from := b.transitionLocked(Closed)
	b.mu.Unlock()
	b.notify(from, Closed)
}
