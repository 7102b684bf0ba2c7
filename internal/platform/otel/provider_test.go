package otel_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/louisbranch/qbo-mcp/internal/platform/otel"
	gootel "go.opentelemetry.io/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("QBO_MCP_OTEL_ENDPOINT", "")
	t.Setenv("QBO_MCP_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("QBO_MCP_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("QBO_MCP_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no export happens.
	t.Setenv("QBO_MCP_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("QBO_MCP_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupMetrics_DisabledHasNoHandler(t *testing.T) {
	t.Setenv("QBO_MCP_METRICS_ENABLED", "false")

	metrics, err := otel.SetupMetrics(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics.Handler() != nil {
		t.Fatal("expected nil handler when disabled")
	}
	if err := metrics.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupMetrics_ExposesRecordedCounter(t *testing.T) {
	t.Setenv("QBO_MCP_METRICS_ENABLED", "")

	metrics, err := otel.SetupMetrics(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer metrics.Shutdown(context.Background())

	counter, err := gootel.Meter("test").Int64Counter("qbo_test_events_total")
	if err != nil {
		t.Fatalf("create counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(recorder.Result().Body)
	if !strings.Contains(string(body), "qbo_test_events") {
		t.Fatalf("expected counter in scrape output, got:\n%s", body)
	}
}
