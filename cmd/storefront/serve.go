package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/catalog"
	"github.com/pitabwire/storefront/internal/config"
	"github.com/pitabwire/storefront/internal/idempotency"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/internal/relation"
	"github.com/pitabwire/storefront/internal/schema"
	"github.com/pitabwire/storefront/internal/transport"
)

func newServeCommand(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  "Start the HTTP server and block until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*path)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	secret, err := cfg.Identity.Secret()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "storefront", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	repo, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	registry := schema.Default()

	opts := []catalog.Option{
		catalog.WithLogger(logger),
		catalog.WithMetrics(metrics),
		catalog.WithPagination(cfg.Pagination.DefaultPageSize, cfg.Pagination.MaxPageSize),
		catalog.WithManagerPolicy(relation.Policy{
			EmptyMeansNoop: cfg.Relations.Managers.EmptyMeansNoop,
		}),
	}

	readiness := observability.ReadinessChecks{
		SchemasLoaded: func() bool { return len(registry.Resources()) > 0 },
		Store:         repo,
	}

	idem, idemCloser, err := buildIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		return err
	}
	if idem != nil {
		opts = append(opts, catalog.WithIdempotency(idem, cfg.Idempotency.TTL))
		readiness.IdempotencyStore = observability.CheckFunc(idem.Ping)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Catalog:      catalog.NewService(repo, registry, opts...),
		Logger:       logger,
		Metrics:      metrics,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, secret),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("storage", cfg.Storage.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		serveErr = err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if idemCloser != nil {
		idemCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return serveErr
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Driver {
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Addr(),
			DB:   cfg.DB,
		})
		logger.Info("using redis idempotency store", zap.Int("db", cfg.DB))
		return idempotency.NewRedisStore(client), func() { client.Close() }, nil
	case config.DriverMemory, "":
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency driver: %q", cfg.Driver)
	}
}
