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

	"github.com/bsm/redislock"
	"golang.org/x/sync/errgroup"

	"github.com/craftline-mfg/craftline/internal/app"
	"github.com/craftline-mfg/craftline/internal/ledger"
	"github.com/craftline-mfg/craftline/internal/materials"
	"github.com/craftline-mfg/craftline/internal/observability"
	"github.com/craftline-mfg/craftline/internal/platform/cache"
	"github.com/craftline-mfg/craftline/internal/platform/db"
	"github.com/craftline-mfg/craftline/internal/production"
	"github.com/craftline-mfg/craftline/internal/products"
	"github.com/craftline-mfg/craftline/internal/recipes"
	"github.com/craftline-mfg/craftline/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	auditLogger := shared.NewAuditLogger(pool)
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
		auditLogger, notifier, metrics, logger, locker,
		production.ServiceConfig{
			RetailMarkup:    cfg.RetailMarkup,
			WholesaleMarkup: cfg.WholesaleMarkup,
			SyncLockTTL:     cfg.SyncLockTTL,
		})
	productService := products.NewService(
		productsRepo, recipeService, productionService, stockLedger,
		auditLogger, notifier, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		MaterialsHandler:  materials.NewHandler(logger, materialsRepo, stockLedger),
		RecipesHandler:    recipes.NewHandler(logger, recipeService),
		ProductionHandler: production.NewHandler(logger, productionService),
		ProductsHandler:   products.NewHandler(logger, productsRepo, productService),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
