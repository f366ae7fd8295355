package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/repairflow/internal/app"
	"github.com/odyssey-erp/repairflow/internal/catalog"
	"github.com/odyssey-erp/repairflow/internal/delivery"
	"github.com/odyssey-erp/repairflow/internal/location"
	"github.com/odyssey-erp/repairflow/internal/observability"
	"github.com/odyssey-erp/repairflow/internal/platform/cache"
	"github.com/odyssey-erp/repairflow/internal/platform/db"
	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/store"
	"github.com/odyssey-erp/repairflow/internal/work"
	"github.com/odyssey-erp/repairflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var catalogCache *catalog.Cache
	redisClient, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Warn("redis unavailable, catalog cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		catalogCache = catalog.NewCache(redisClient, cfg.CatalogCacheTTL)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	catalogService := catalog.NewService(catalog.NewRepository(pool), catalogCache, logger)
	locationService := location.NewService(location.NewRepository(pool))

	notifier := jobs.NewClient(redisOpts, cfg.NotifyQueue)
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	workService := work.NewService(work.NewRepository(pool), work.ServiceDeps{
		Locations: locationService,
		Names:     catalogService,
		Notifier:  notifier,
		Audit:     auditLogger,
		Metrics:   metrics,
		Logger:    logger,
	}, work.ServiceConfig{DisplayPrefix: cfg.DisplayCodePrefix})

	storeService := store.NewService(store.NewRepository(pool), store.ServiceDeps{
		Idempotency: idempotency,
		Audit:       auditLogger,
		Metrics:     metrics,
		Logger:      logger,
	}, store.ServiceConfig{AllowNegativeStock: cfg.StockAllowNegative})

	deliveryService := delivery.NewService(delivery.NewRepository(pool), delivery.ServiceDeps{
		Audit:   auditLogger,
		Metrics: metrics,
		Logger:  logger,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("queue inspector close", slog.Any("error", err))
		}
	}()

	readiness := map[string]app.Pinger{"postgres": pool}
	if redisClient != nil {
		readiness["redis"] = app.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		WorkHandler:     work.NewHandler(logger, workService),
		StoreHandler:    store.NewHandler(logger, storeService),
		DeliveryHandler: delivery.NewHandler(logger, deliveryService),
		CatalogHandler:  catalog.NewHandler(logger, catalogService),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Readiness:       readiness,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
