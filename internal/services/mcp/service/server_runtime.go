package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/operation"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Run builds the server and serves it on the configured transport until ctx
// ends.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	if cfg.Transport != TransportStdio && cfg.Transport != TransportHTTP {
		return fmt.Errorf("transport %q is not supported", cfg.Transport)
	}

	server, err := New(cfg.Operations, cfg.Logger)
	if err != nil {
		return err
	}

	healthCtx, healthCancel := context.WithCancel(ctx)
	defer healthCancel()
	go server.monitorHealth(healthCtx, cfg.HealthInterval)

	if cfg.Transport == TransportHTTP {
		return server.serveHTTP(ctx, cfg)
	}
	return server.Serve(ctx)
}

// monitorHealth logs health transitions. It never stops the transport;
// individual tool calls report their own failures.
func (s *Server) monitorHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	previous := operation.StatusHealthy
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			previous = s.observeHealth(previous)
		}
	}
}

// observeHealth logs when the status differs from previous and returns the
// current status.
func (s *Server) observeHealth(previous string) string {
	health := s.ops.Health()
	if health.Status == previous {
		return previous
	}
	attrs := []any{
		"status", health.Status,
		"previous", previous,
		"circuit_state", health.Breaker.State.String(),
		"failure_count", health.Breaker.FailureCount,
	}
	if health.Auth != nil {
		attrs = append(attrs, "authenticated", health.Auth.Authenticated)
	}
	if health.Status == operation.StatusHealthy {
		s.logger.Info("qbo health recovered", attrs...)
	} else {
		s.logger.Warn("qbo health changed", attrs...)
	}
	return health.Status
}

// Serve runs the MCP server on stdio and blocks until it stops or ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.serveWithTransport(ctx, &mcp.StdioTransport{})
}

// serveWithTransport runs the MCP server on transport. Context cancellation
// is a clean exit.
func (s *Server) serveWithTransport(ctx context.Context, transport mcp.Transport) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.logger.Info("serving MCP", "transport", fmt.Sprintf("%T", transport))
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}
