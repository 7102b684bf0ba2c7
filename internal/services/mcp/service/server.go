package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/louisbranch/qbo-mcp/internal/platform/logging"
	"github.com/louisbranch/qbo-mcp/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverName = "qbo-mcp"

// serverVersion is overridden at link time.
var serverVersion = "dev"

const serverInstructions = "Tools for one QuickBooks Online company. Results are envelopes with result, isError and error. " +
	"Pass an idempotencyKey on create calls you might retry. Errors prefixed [CIRCUIT_OPEN] mean QBO is failing; wait before retrying."

// TransportKind identifies the MCP transport implementation.
type TransportKind string

const (
	// TransportStdio uses standard input/output for MCP.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP runs MCP over streamable HTTP.
	TransportHTTP TransportKind = "http"
)

const (
	defaultHTTPAddr       = "localhost:8081"
	defaultHealthInterval = 30 * time.Second
)

// Config configures the MCP server.
type Config struct {
	Operations domain.Operations
	Transport  TransportKind
	// HTTPAddr defaults to localhost:8081.
	HTTPAddr string
	// AllowedHosts extends the loopback-only Host and Origin allowlist.
	AllowedHosts []string
	// Metrics is served on /metrics when set.
	Metrics        http.Handler
	HealthInterval time.Duration
	Logger         *slog.Logger
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *mcp.Server
	ops       domain.Operations
	logger    *slog.Logger
}

// New creates an MCP server exposing the QBO tools backed by ops.
func New(ops domain.Operations, logger *slog.Logger) (*Server, error) {
	if ops == nil {
		return nil, errors.New("operations are required")
	}
	logger = logging.OrDefault(logger)

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, &mcp.ServerOptions{
		Instructions: serverInstructions,
	})
	for _, module := range newMCPRegistrationModules(ops) {
		if err := module.register(mcpServerRegistrationAdapter{server: mcpServer}); err != nil {
			return nil, fmt.Errorf("register MCP module %q: %w", module.name, err)
		}
	}
	return &Server{mcpServer: mcpServer, ops: ops, logger: logger}, nil
}
