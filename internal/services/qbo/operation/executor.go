// Package operation runs QBO entity operations through the resilience
// pipeline and reports every outcome as an Envelope.
//
// A call flows idempotency check, criteria normalization, circuit breaker,
// retry, upstream request. The breaker wraps the whole retry loop: an open
// circuit rejects before the first attempt, and a call whose retries are
// exhausted counts as a single failure.
package operation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/louisbranch/qbo-mcp/internal/platform/requestctx"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/auth"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/breaker"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/retry"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

// Config assembles an Executor.
type Config struct {
	Auth           auth.Provider
	Breaker        breaker.Config
	BreakerOptions []breaker.Option
	// OnBreakerChange observes breaker transitions.
	OnBreakerChange func(from, to breaker.State)
	Retry           retry.Policy
	// Idempotency defaults to an in-memory store.
	Idempotency    idempotency.Store
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	// AccountCacheTTL defaults to 15 minutes.
	AccountCacheTTL time.Duration
	Now             func() time.Time
}

// Executor is safe for concurrent use.
type Executor struct {
	auth    auth.Provider
	breaker *breaker.Breaker
	policy  retry.Policy
	store   idempotency.Store
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *instruments
	now     func() time.Time

	accounts accountCache
	flight   singleflight.Group
}

// New validates cfg and builds an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth provider is required")
	}
	metrics, err := newInstruments(cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("create operation instruments: %w", err)
	}

	e := &Executor{
		auth:    cfg.Auth,
		policy:  cfg.Retry,
		store:   cfg.Idempotency,
		logger:  cfg.Logger,
		tracer:  newTracer(cfg.TracerProvider),
		metrics: metrics,
		now:     cfg.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.store == nil {
		e.store = idempotency.NewMemoryStore(idempotency.DefaultTTL)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.policy.Logger == nil {
		e.policy.Logger = e.logger
	}
	onRetry := e.policy.OnRetry
	e.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.metrics.retries.Add(context.Background(), 1)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}
	e.accounts.ttl = cfg.AccountCacheTTL
	if e.accounts.ttl <= 0 {
		e.accounts.ttl = DefaultAccountCacheTTL
	}

	breakerOpts := append([]breaker.Option{
		breaker.WithLogger(e.logger),
		breaker.WithStateChange(func(from, to breaker.State) {
			e.metrics.breakerState(to)
			if cfg.OnBreakerChange != nil {
				cfg.OnBreakerChange(from, to)
			}
		}),
	}, cfg.BreakerOptions...)
	e.breaker = breaker.New(cfg.Breaker, breakerOpts...)
	e.metrics.breakerState(breaker.Closed)
	return e, nil
}

// Breaker exposes the shared breaker for health reporting.
func (e *Executor) Breaker() *breaker.Breaker {
	return e.breaker
}

// call authenticates then runs fn with the breaker around the retry loop.
// An exhausted retry counts as one breaker failure and returns the last
// upstream error.
func call[T any](ctx context.Context, e *Executor, fn func(ctx context.Context, api upstream.API) (T, error)) (T, error) {
	var zero T
	if err := e.auth.Authenticate(ctx); err != nil {
		return zero, err
	}
	api, err := e.auth.Client()
	if err != nil {
		return zero, err
	}
	return breaker.Execute(ctx, e.breaker, func(ctx context.Context) (T, error) {
		return retry.WithRetry(ctx, e.policy, func(ctx context.Context) (T, error) {
			return fn(ctx, api)
		})
	})
}

// span starts a traced, metered operation. The returned func finishes it.
func (e *Executor) span(ctx context.Context, operation, entity string) (context.Context, func(err error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("qbo.operation", operation),
		attribute.String("qbo.entity", entity),
	}
	logger := e.logger
	if inv, ok := requestctx.InvocationFromContext(ctx); ok {
		attrs = append(attrs,
			attribute.String("mcp.invocation_id", inv.ID),
			attribute.String("mcp.tool", inv.Tool),
		)
		logger = logger.With("invocation_id", inv.ID, "tool", inv.Tool)
	}
	ctx, span := e.tracer.Start(ctx, "qbo."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("qbo operation failed",
				"operation", operation,
				"entity", entity,
				"code", string(Classify(err)),
				"error", err.Error(),
			)
		}
		e.metrics.record(ctx, operation, entity, start, err != nil)
		span.End()
	}
}

func lookupEntity(name string) (upstream.Entity, error) {
	entity, ok := upstream.Lookup(name)
	if !ok {
		return upstream.Entity{}, validation("unknown entity %q", name)
	}
	return entity, nil
}

func writableEntity(name string) (upstream.Entity, error) {
	entity, err := lookupEntity(name)
	if err != nil {
		return upstream.Entity{}, err
	}
	if entity.ReadOnly {
		return upstream.Entity{}, validation("%s is read-only", entity.Name)
	}
	return entity, nil
}

func stringID(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
