// Package main provides the entry point for the study session service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CS196Illinois/FA25-Group8/internal/config"
	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/handler"
	"github.com/CS196Illinois/FA25-Group8/internal/health"
	"github.com/CS196Illinois/FA25-Group8/internal/logging"
	"github.com/CS196Illinois/FA25-Group8/internal/metrics"
	"github.com/CS196Illinois/FA25-Group8/internal/seed"
	"github.com/CS196Illinois/FA25-Group8/internal/server"
	"github.com/CS196Illinois/FA25-Group8/internal/service"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"github.com/CS196Illinois/FA25-Group8/internal/txn"
	"github.com/CS196Illinois/FA25-Group8/internal/validation"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting study session service",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Int("max_retries", cfg.Transaction.MaxRetries))

	ctx := context.Background()

	documentStore, err := newDocumentStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize document store", zap.Error(err))
	}
	defer documentStore.Close()

	var idempotencyStore store.IdempotencyStore
	var idempotency *service.IdempotencyService
	if cfg.Idempotency.Enabled {
		idempotencyStore, err = newIdempotencyStore(cfg, logger)
		if err != nil {
			logger.Fatal("failed to initialize idempotency store", zap.Error(err))
		}
		defer idempotencyStore.Close()
		idempotency = service.NewIdempotencyService(idempotencyStore, cfg.Idempotency.TTL, logger)
	}

	m := metrics.NewMetrics()
	m.SetHealthStatus(true)

	txnCfg := txn.Config{
		MaxRetries: cfg.Transaction.MaxRetries,
		Backoff:    cfg.Transaction.Backoff,
	}
	validator := validation.NewValidator()
	attendance := service.NewAttendanceService(documentStore, txnCfg, validator, m, logger)
	ratings := service.NewRatingService(documentStore, txnCfg, validator, m, logger)

	if cfg.Seed.File != "" {
		fixture, err := seed.LoadFile(cfg.Seed.File)
		if err != nil {
			logger.Fatal("failed to load seed file", zap.String("file", cfg.Seed.File), zap.Error(err))
		}
		if _, err := seed.Apply(ctx, fixture, attendance, ratings, logger); err != nil {
			logger.Fatal("failed to apply seed file", zap.String("file", cfg.Seed.File), zap.Error(err))
		}
	}

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	errorHandler := apperrors.NewHandler(logger)
	handlers := handler.NewHandlers(attendance, ratings, idempotency, errorHandler, m, logger)
	healthCheck := health.NewHealthChecker(documentStore, idempotencyStore, m, logger)
	httpServer := server.NewServer(cfg, handlers, healthCheck, errorHandler, m, logger)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("initiating graceful shutdown")
	m.SetHealthStatus(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("study session service shutdown complete")
}

// newDocumentStore opens the configured versioned document store backend.
func newDocumentStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.DocumentStore, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		var (
			pg  *store.PostgresDocumentStore
			err error
		)
		if cfg.Database.DSN != "" {
			pg, err = store.NewPostgresDocumentStoreFromDSN(ctx, cfg.Database.DSN, logger)
		} else {
			pg, err = store.NewPostgresDocumentStore(
				cfg.Database.Host,
				cfg.Database.Port,
				cfg.Database.Database,
				cfg.Database.User,
				cfg.Database.Password,
				cfg.Database.MaxConnections,
				cfg.Database.MinConnections,
				logger,
			)
		}
		if err != nil {
			return nil, err
		}
		if cfg.Database.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		logger.Info("connected to PostgreSQL document store")
		return pg, nil

	case config.BackendRedis:
		client, err := store.NewRedisClient(redisOptions(cfg))
		if err != nil {
			return nil, err
		}
		logger.Info("connected to Redis document store", zap.String("key_prefix", cfg.Redis.KeyPrefix))
		return store.NewRedisDocumentStore(client, cfg.Redis.KeyPrefix, logger), nil

	default:
		logger.Warn("using in-memory document store; data is lost on restart")
		return store.NewMemoryDocumentStore(logger), nil
	}
}

// newIdempotencyStore opens the configured idempotency backend on its own
// connection, so closing it never affects the document store.
func newIdempotencyStore(cfg *config.Config, logger *zap.Logger) (store.IdempotencyStore, error) {
	if cfg.Idempotency.Backend == config.BackendRedis {
		client, err := store.NewRedisClient(redisOptions(cfg))
		if err != nil {
			return nil, err
		}
		return store.NewRedisIdempotencyStore(client, cfg.Redis.KeyPrefix, logger), nil
	}
	return store.NewMemoryIdempotencyStore(cfg.Idempotency.MaxSize, logger), nil
}

func redisOptions(cfg *config.Config) store.RedisOptions {
	return store.RedisOptions{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}
}
