package otel

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the meter provider and the scrape handler backed by it.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// Handler serves the Prometheus text exposition. It is nil when metrics are
// disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return nil
	}
	return m.handler
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// SetupMetrics registers a global meter provider exporting to a dedicated
// Prometheus registry.
//
// Metrics are on by default; QBO_MCP_METRICS_ENABLED=false leaves the global
// no-op provider in place and returns a Metrics with a nil handler.
func SetupMetrics(ctx context.Context, serviceName string) (*Metrics, error) {
	if strings.EqualFold(os.Getenv("QBO_MCP_METRICS_ENABLED"), "false") {
		return &Metrics{}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("create metrics resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return &Metrics{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}
