// Package main is the entry point for the copydesk workflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/copydesk/internal/catalog"
	"github.com/pitabwire/copydesk/internal/config"
	"github.com/pitabwire/copydesk/internal/db"
	"github.com/pitabwire/copydesk/internal/idempotency"
	"github.com/pitabwire/copydesk/internal/observability"
	"github.com/pitabwire/copydesk/internal/openapi"
	"github.com/pitabwire/copydesk/internal/transport"
	"github.com/pitabwire/copydesk/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// backend is a store holding both workflows and their audit entries.
type backend interface {
	workflow.WorkflowStore
	workflow.AuditStore
	observability.HealthChecker
}

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "copydesk", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.InitMetrics(registry)

	// Step 4: Load the request schema.
	schema, err := openapi.Load()
	if err != nil {
		logger.Error("request schema load failed", zap.Error(err))
		return 1
	}

	// Step 5: Initialize the workflow store.
	store, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("workflow store initialization failed", zap.Error(err))
		return 1
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	// Step 6: Initialize the idempotency store.
	idemStore, idemCloser, err := buildIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}
	if idemCloser != nil {
		defer idemCloser()
	}

	// Step 7: Build the engine.
	loc, err := cfg.Search.Location()
	if err != nil {
		logger.Error("invalid search timezone", zap.Error(err))
		return 1
	}
	engineOpts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics),
		workflow.WithLocation(loc),
		workflow.WithLimits(cfg.Search.DefaultLimit, cfg.Search.MaxLimit),
		workflow.WithFanOut(cfg.Search.FanOut),
	}

	readiness := observability.ReadinessChecks{
		SchemaLoaded:  func() bool { return len(schema.OperationIDs()) > 0 },
		WorkflowStore: store,
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}

	if cfg.Catalog.BaseURL != "" {
		client, err := catalog.NewClient(ctx, cfg.Catalog,
			catalog.WithMetrics(metrics),
			catalog.WithLogger(logger))
		if err != nil {
			logger.Error("catalog client initialization failed", zap.Error(err))
			return 1
		}
		engineOpts = append(engineOpts, workflow.WithCatalog(client))
		readiness.Catalog = client
	} else {
		logger.Info("style catalog not configured, brand and title are taken from requests only")
	}

	engine := workflow.NewEngine(store, store, engineOpts...)

	// Step 8: Build HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	deps := transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Engine:       engine,
		Schema:       schema,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Metrics:      metrics,
		Gatherer:     registry,
		Readiness:    readiness,
	}
	if idemStore != nil {
		deps.Idempotency = idemStore
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           transport.NewRouter(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	// Step 9: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the workflow and audit store based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (backend, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory workflow store")
		return workflow.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("workflow store: %s environment variable not set", cfg.DSNEnv)
		}

		if cfg.MigrateOnStart {
			if err := db.Migrate(dsn); err != nil {
				return nil, nil, err
			}
			logger.Info("database migrations applied")
		}

		pool, err := db.NewPool(ctx, dsn, cfg)
		if err != nil {
			return nil, nil, err
		}
		return workflow.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported workflow store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// It returns a nil store when idempotency keys are disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.Store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("idempotency store: ping: %w", err)
		}
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return idempotency.NewRedisStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}
