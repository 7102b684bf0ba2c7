package operation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/breaker"
)

const instrumentationName = "github.com/louisbranch/qbo-mcp/internal/services/qbo/operation"

type instruments struct {
	operations     metric.Int64Counter
	duration       metric.Float64Histogram
	retries        metric.Int64Counter
	idempotentHits metric.Int64Counter
	circuitState   metric.Int64Gauge
}

func newInstruments(provider metric.MeterProvider) (*instruments, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	var (
		inst instruments
		err  error
	)
	if inst.operations, err = meter.Int64Counter("qbo_operations",
		metric.WithDescription("QBO operations by entity, operation and outcome.")); err != nil {
		return nil, err
	}
	if inst.duration, err = meter.Float64Histogram("qbo_operation_duration",
		metric.WithDescription("QBO operation latency including retries."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if inst.retries, err = meter.Int64Counter("qbo_retries",
		metric.WithDescription("Retries of transient QBO failures.")); err != nil {
		return nil, err
	}
	if inst.idempotentHits, err = meter.Int64Counter("qbo_idempotent_hits",
		metric.WithDescription("Creates answered from the idempotency store.")); err != nil {
		return nil, err
	}
	if inst.circuitState, err = meter.Int64Gauge("qbo_circuit_state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 open, 2 half-open.")); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (i *instruments) record(ctx context.Context, operation, entity string, start time.Time, failed bool) {
	outcome := "success"
	if failed {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("entity", entity),
		attribute.String("outcome", outcome),
	)
	i.operations.Add(ctx, 1, attrs)
	i.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (i *instruments) breakerState(state breaker.State) {
	i.circuitState.Record(context.Background(), int64(state))
}

func newTracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(instrumentationName)
}
