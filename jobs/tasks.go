package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/craftline-mfg/craftline/internal/jobs"
	"github.com/craftline-mfg/craftline/internal/materials"
	"github.com/craftline-mfg/craftline/internal/production"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSyncOrders reconciles completed production orders into the
	// product catalog.
	TaskTypeSyncOrders = "production:sync_completed"
	// TaskTypeLowStockScan reports materials below their reorder level.
	TaskTypeLowStockScan = "materials:low_stock_scan"
)

// OrderSyncer runs the completed-order reconciliation batch.
type OrderSyncer interface {
	SyncCompletedOrders(ctx context.Context) (production.SyncReport, error)
}

// NewSyncOrdersTask constructs the reconciliation task. It carries no payload.
func NewSyncOrdersTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSyncOrders, nil)
}

// NewSyncOrdersHandler builds the Asynq handler for TaskTypeSyncOrders. A run
// rejected because another is in flight is treated as done, not retried.
func NewSyncOrdersHandler(syncer OrderSyncer, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track("sync_completed_orders")
		report, err := syncer.SyncCompletedOrders(ctx)
		if err != nil {
			if errors.Is(err, production.ErrSyncRunning) {
				logger.Info("order sync skipped, another run in flight")
				_ = tracker.End(nil)
				return nil
			}
			logger.Error("order sync failed", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddSyncedOrders(report.Synced)
		logger.Info("order sync finished",
			slog.Int("scanned", report.Scanned),
			slog.Int("synced", report.Synced),
			slog.Int("skus_migrated", report.SKUsMigrated))
		return tracker.End(nil)
	}
}

// LowStockLister reports materials whose available stock is at or below a
// threshold.
type LowStockLister interface {
	ListLowStock(ctx context.Context, threshold float64) ([]materials.Material, error)
}

// NewLowStockScanTask constructs the low-stock scan task.
func NewLowStockScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeLowStockScan, nil)
}

// NewLowStockScanHandler builds the Asynq handler for TaskTypeLowStockScan.
func NewLowStockScanHandler(lister LowStockLister, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track("low_stock_scan")
		depleted, err := lister.ListLowStock(ctx, 0)
		if err != nil {
			logger.Error("low stock scan failed", slog.Any("error", err))
			return tracker.End(err)
		}
		for _, m := range depleted {
			logger.Warn("material depleted",
				slog.String("material", m.Name),
				slog.Float64("available", m.AvailableQty()))
		}
		return tracker.End(nil)
	}
}
