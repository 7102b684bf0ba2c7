// Package cmd holds the shared startup path for the server binaries.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/louisbranch/qbo-mcp/internal/platform/otel"
	"github.com/louisbranch/qbo-mcp/internal/platform/timeouts"
)

// Service identifiers for startup telemetry and CLI naming consistency.
const (
	ServiceMCP         = "qbo-mcp"
	ServiceHealthProbe = "qbo-mcp-healthprobe"
)

// RunOptions controls shared entrypoint behavior for service commands.
type RunOptions struct {
	// ShutdownTimeout sets the timeout used when stopping telemetry.
	ShutdownTimeout time.Duration
}

// Telemetry is what a run loop receives from the entrypoint.
type Telemetry struct {
	Metrics *otel.Metrics
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry configures tracing and metrics and executes a service run loop.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context, Telemetry) error) error {
	return RunWithTelemetryAndOptions(ctx, service, RunOptions{}, run)
}

// RunWithTelemetryAndOptions configures tracing and metrics and executes a service run loop.
func RunWithTelemetryAndOptions(ctx context.Context, service string, options RunOptions, run func(context.Context, Telemetry) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdownTimeout := options.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = timeouts.TelemetryShutdown
	}

	shutdownTracing, err := otel.Setup(ctx, service)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownWith(service, "tracing", shutdownTimeout, shutdownTracing)

	metrics, err := otel.SetupMetrics(ctx, service)
	if err != nil {
		return fmt.Errorf("setup metrics: %w", err)
	}
	defer shutdownWith(service, "metrics", shutdownTimeout, metrics.Shutdown)

	return run(ctx, Telemetry{Metrics: metrics})
}

func shutdownWith(service, what string, timeout time.Duration, shutdown func(context.Context) error) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "service", service, "component", what, "error", err)
	}
}
