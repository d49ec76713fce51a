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
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sweetline-erp/sweetline-erp/internal/app"
	"github.com/sweetline-erp/sweetline-erp/internal/catalog"
	"github.com/sweetline-erp/sweetline-erp/internal/fulfillment"
	"github.com/sweetline-erp/sweetline-erp/internal/fulfillment/readypool"
	"github.com/sweetline-erp/sweetline-erp/internal/inventory"
	"github.com/sweetline-erp/sweetline-erp/internal/observability"
	"github.com/sweetline-erp/sweetline-erp/internal/platform/cache"
	"github.com/sweetline-erp/sweetline-erp/internal/platform/db"
	"github.com/sweetline-erp/sweetline-erp/internal/rbac"
	"github.com/sweetline-erp/sweetline-erp/internal/shared"
	"github.com/sweetline-erp/sweetline-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	rbacMiddleware := rbac.Middleware{Logger: logger}
	metrics := observability.NewMetrics()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewNotifier(queueClient, logger)

	catalogRepo := catalog.NewRepository(pool)
	ledger := inventory.NewLedger()

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, ledger, auditLogger)
	inventoryHandler := inventory.NewHandler(inventoryService, rbacMiddleware)

	ready := readypool.New(redisClient)
	fulfillmentRepo := fulfillment.NewRepository(pool)
	fulfillmentService := fulfillment.NewService(
		fulfillmentRepo, ledger, catalogRepo, auditLogger,
		notifier, ready, metrics, logger,
	)
	fulfillmentHandler := fulfillment.NewHandler(fulfillmentService, rbacMiddleware, idempotencyStore)

	if err := fulfillmentService.RebuildReadyPool(ctx); err != nil {
		logger.Warn("ready pool rebuild", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		FulfillmentHandler: fulfillmentHandler,
		InventoryHandler:   inventoryHandler,
		JobHandler:         jobHandler,
		Pool:               pool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}
