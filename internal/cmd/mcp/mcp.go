// Package mcp parses MCP command configuration and wires the QBO tool server.
package mcp

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	platformcmd "github.com/louisbranch/qbo-mcp/internal/platform/cmd"
	"github.com/louisbranch/qbo-mcp/internal/platform/config"
	platformgrpc "github.com/louisbranch/qbo-mcp/internal/platform/grpc"
	"github.com/louisbranch/qbo-mcp/internal/platform/logging"
	"github.com/louisbranch/qbo-mcp/internal/services/mcp/service"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/auth"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/breaker"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency"
	badgerstore "github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency/badger"
	sqlitestore "github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency/sqlite"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/operation"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/retry"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
	"golang.org/x/sync/errgroup"
)

// Idempotency backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config holds MCP command configuration.
type Config struct {
	Transport      string        `env:"QBO_MCP_TRANSPORT"       envDefault:"stdio"`
	HTTPAddr       string        `env:"QBO_MCP_HTTP_ADDR"       envDefault:"localhost:8081"`
	AllowedHosts   []string      `env:"QBO_MCP_ALLOWED_HOSTS"   envSeparator:","`
	HealthAddr     string        `env:"QBO_MCP_HEALTH_ADDR"`
	RequestTimeout time.Duration `env:"QBO_MCP_REQUEST_TIMEOUT" envDefault:"30s"`

	BreakerFailureThreshold int           `env:"QBO_MCP_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerResetTimeout     time.Duration `env:"QBO_MCP_BREAKER_RESET_TIMEOUT"     envDefault:"60s"`

	RetryMax          int           `env:"QBO_MCP_RETRY_MAX"           envDefault:"3"`
	RetryInitialDelay time.Duration `env:"QBO_MCP_RETRY_INITIAL_DELAY" envDefault:"1s"`
	RetryMaxDelay     time.Duration `env:"QBO_MCP_RETRY_MAX_DELAY"     envDefault:"30s"`

	IdempotencyBackend       string        `env:"QBO_MCP_IDEMPOTENCY_BACKEND"        envDefault:"memory"`
	IdempotencyPath          string        `env:"QBO_MCP_IDEMPOTENCY_PATH"`
	IdempotencyTTL           time.Duration `env:"QBO_MCP_IDEMPOTENCY_TTL"            envDefault:"24h"`
	IdempotencySweepInterval time.Duration `env:"QBO_MCP_IDEMPOTENCY_SWEEP_INTERVAL" envDefault:"5m"`

	Log logging.Config
	QBO auth.Credentials
}

// ParseConfig parses environment and flags into a Config. A nil environ
// reads the process environment.
func ParseConfig(fs *flag.FlagSet, args []string, environ map[string]string) (Config, error) {
	var cfg Config
	var err error
	if environ == nil {
		err = config.ParseEnv(&cfg)
	} else {
		err = config.ParseEnvFrom(&cfg, environ)
	}
	if err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport type: stdio or http")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server address (for HTTP transport)")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health server address; empty disables it")
	fs.StringVar(&cfg.IdempotencyBackend, "idempotency-backend", cfg.IdempotencyBackend, "idempotency store: memory, sqlite or badger")
	fs.StringVar(&cfg.IdempotencyPath, "idempotency-path", cfg.IdempotencyPath, "idempotency database path (sqlite file or badger directory)")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn or error")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot start a server.
func (c Config) Validate() error {
	var errs []error
	switch service.TransportKind(c.Transport) {
	case service.TransportStdio, service.TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("transport %q is not supported", c.Transport))
	}
	switch c.IdempotencyBackend {
	case BackendMemory, BackendBadger:
	case BackendSQLite:
		if strings.TrimSpace(c.IdempotencyPath) == "" {
			errs = append(errs, errors.New("QBO_MCP_IDEMPOTENCY_PATH is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("idempotency backend %q is not supported", c.IdempotencyBackend))
	}
	if c.BreakerFailureThreshold <= 0 {
		errs = append(errs, errors.New("breaker failure threshold must be positive"))
	}
	if c.RetryMax < 0 {
		errs = append(errs, errors.New("retry max must not be negative"))
	}
	if c.RetryInitialDelay <= 0 || c.RetryMaxDelay < c.RetryInitialDelay {
		errs = append(errs, errors.New("retry delays must be positive and max must not be below initial"))
	}
	return errors.Join(errs...)
}

// Run starts the MCP server and its supporting services until ctx ends or
// the stdio client disconnects.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.Setup(cfg.Log, platformcmd.ServiceMCP)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceMCP, func(ctx context.Context, telemetry platformcmd.Telemetry) error {
		return run(ctx, cfg, logger, telemetry)
	})
}

func run(ctx context.Context, cfg Config, logger *slog.Logger, telemetry platformcmd.Telemetry) error {
	store, err := openIdempotencyStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closer, ok := store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Warn("close idempotency store", "error", err)
			}
		}
	}()

	// Assigned once the executor exists; SetServing is nil-safe.
	var health *platformgrpc.HealthServer

	provider := auth.NewOAuthProvider(cfg.QBO,
		auth.WithLogger(logger),
		auth.WithClientOptions(upstream.WithRequestTimeout(cfg.RequestTimeout)),
	)
	executor, err := operation.New(operation.Config{
		Auth: provider,
		Breaker: breaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			ResetTimeout:     cfg.BreakerResetTimeout,
		},
		OnBreakerChange: func(_, to breaker.State) {
			health.SetServing(platformcmd.ServiceMCP, to != breaker.Open)
		},
		Retry:       retryPolicy(cfg),
		Idempotency: store,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build operation executor: %w", err)
	}
	if cfg.HealthAddr != "" {
		health = platformgrpc.NewHealthServer(logger, platformcmd.ServiceMCP)
		if _, err := health.Listen(cfg.HealthAddr); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(groupCtx)
	defer stop()

	group.Go(func() error {
		defer stop()
		return service.Run(runCtx, service.Config{
			Operations:   executor,
			Transport:    service.TransportKind(cfg.Transport),
			HTTPAddr:     cfg.HTTPAddr,
			AllowedHosts: cfg.AllowedHosts,
			Metrics:      telemetry.Metrics.Handler(),
			Logger:       logger,
		})
	})
	if sweeper, ok := store.(idempotency.Sweeper); ok {
		group.Go(func() error {
			idempotency.RunSweeper(runCtx, sweeper, cfg.IdempotencySweepInterval, logger)
			return nil
		})
	}
	if health != nil {
		group.Go(func() error {
			return health.Serve(runCtx)
		})
	}
	return group.Wait()
}

func retryPolicy(cfg Config) retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.RetryMax
	policy.InitialDelay = cfg.RetryInitialDelay
	policy.MaxDelay = cfg.RetryMaxDelay
	return policy
}

// openIdempotencyStore builds the configured backend. Stores that hold
// resources implement io.Closer.
func openIdempotencyStore(ctx context.Context, cfg Config, logger *slog.Logger) (idempotency.Store, error) {
	switch cfg.IdempotencyBackend {
	case "", BackendMemory:
		return idempotency.NewMemoryStore(cfg.IdempotencyTTL), nil
	case BackendSQLite:
		store, err := sqlitestore.Open(ctx, cfg.IdempotencyPath, cfg.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite idempotency store: %w", err)
		}
		return store, nil
	case BackendBadger:
		store, err := badgerstore.Open(badgerstore.Config{
			Path:   cfg.IdempotencyPath,
			TTL:    cfg.IdempotencyTTL,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger idempotency store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("idempotency backend %q is not supported", cfg.IdempotencyBackend)
	}
}
