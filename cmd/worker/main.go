package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/craftline-mfg/craftline/internal/app"
	jobmetrics "github.com/craftline-mfg/craftline/internal/jobs"
	"github.com/craftline-mfg/craftline/internal/ledger"
	"github.com/craftline-mfg/craftline/internal/materials"
	"github.com/craftline-mfg/craftline/internal/observability"
	"github.com/craftline-mfg/craftline/internal/platform/cache"
	"github.com/craftline-mfg/craftline/internal/platform/db"
	"github.com/craftline-mfg/craftline/internal/production"
	"github.com/craftline-mfg/craftline/internal/products"
	"github.com/craftline-mfg/craftline/internal/recipes"
	"github.com/craftline-mfg/craftline/internal/shared"
	"github.com/craftline-mfg/craftline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	metrics := observability.NewMetrics()
	notifier := shared.NewLogNotifier(logger)
	locker := redislock.New(redisClient)

	stockLedger := ledger.NewLedger(pool, logger, metrics)
	materialsRepo := materials.NewRepository(pool)
	productsRepo := products.NewRepository(pool)
	productionRepo := production.NewRepository(pool)
	recipesRepo := recipes.NewRepository(pool)

	recipeService := recipes.NewService(recipesRepo, productionRepo)
	productionService := production.NewService(
		productionRepo, recipeService, materialsRepo, productsRepo, stockLedger,
		shared.NewAuditLogger(pool), notifier, metrics, logger, locker,
		production.ServiceConfig{
			RetailMarkup:    cfg.RetailMarkup,
			WholesaleMarkup: cfg.WholesaleMarkup,
			SyncLockTTL:     cfg.SyncLockTTL,
		})

	taskMetrics := jobmetrics.NewMetrics(nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSyncOrders, Handler: jobs.NewSyncOrdersHandler(productionService, taskMetrics, logger)},
			{Type: jobs.TaskTypeLowStockScan, Handler: jobs.NewLowStockScanHandler(materialsRepo, taskMetrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SyncCron, Task: jobs.NewSyncOrdersTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 6 * * *", Task: jobs.NewLowStockScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
