package production

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/bsm/redislock"

	"github.com/craftline-mfg/craftline/internal/products"
	"github.com/craftline-mfg/craftline/internal/shared"
)

const syncLockKey = "craftline:sync:completed-orders"

// SyncCompletedOrders reconciles COMPLETED orders into the canonical catalog:
// non-canonical recipe SKUs are migrated to minted date codes, the owning
// product follows, and the order moves to SYNCED. A run already in flight,
// locally or on another instance, rejects the call with ErrSyncRunning.
func (s *Service) SyncCompletedOrders(ctx context.Context) (SyncReport, error) {
	select {
	case s.syncGuard <- struct{}{}:
		defer func() { <-s.syncGuard }()
	default:
		s.metrics.ObserveSyncRun("locked")
		return SyncReport{}, ErrSyncRunning
	}

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, syncLockKey, s.cfg.SyncLockTTL, nil)
		if err != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				s.metrics.ObserveSyncRun("locked")
				return SyncReport{}, ErrSyncRunning
			}
			s.metrics.ObserveSyncRun("error")
			return SyncReport{}, err
		}
		defer func() { _ = lock.Release(ctx) }()
	}

	report, err := s.syncCompletedOrders(ctx)
	if err != nil {
		s.metrics.ObserveSyncRun("error")
		return report, err
	}
	s.metrics.ObserveSyncRun("success")
	return report, nil
}

func (s *Service) syncCompletedOrders(ctx context.Context) (SyncReport, error) {
	orders, err := s.repo.ListByStatus(ctx, StatusCompleted)
	if err != nil {
		return SyncReport{}, err
	}
	var report SyncReport
	if len(orders) == 0 {
		return report, nil
	}

	skus, err := s.products.AllSKUs(ctx)
	if err != nil {
		return report, err
	}
	known := products.SKUSet(skus)

	for _, order := range orders {
		report.Scanned++
		if err := s.syncOrder(ctx, order, known, &report); err != nil {
			// One stuck order must not stall the batch.
			s.logger.Warn("order sync skipped",
				slog.Int64("order_id", order.ID), slog.Any("error", err))
			continue
		}
		report.Synced++
	}

	s.recordAudit(ctx, "ORDER_SYNC", 0, map[string]any{
		"scanned":       report.Scanned,
		"synced":        report.Synced,
		"skus_migrated": report.SKUsMigrated,
	})
	if s.notifier != nil && report.Synced > 0 {
		s.notifier.Notify(ctx, shared.NotifyInfo,
			shared.Printer.Sprintf("Synced %d of %d completed orders (%d SKUs migrated)",
				report.Synced, report.Scanned, report.SKUsMigrated))
	}
	return report, nil
}

func (s *Service) syncOrder(ctx context.Context, order Order, known map[string]struct{}, report *SyncReport) error {
	bom, err := s.recipes.Get(ctx, order.RecipeID)
	if err != nil {
		return err
	}

	if !products.IsCanonicalSKU(bom.ProductSKU) {
		canonical := products.EnsureCanonical(bom.ProductSKU, known, time.Now().UTC())
		// Migrate the product identity first so recipe and product never
		// disagree about which SKU is live.
		p, err := s.findProduct(ctx, bom.ProductSKU, bom.ProductName)
		switch {
		case err == nil:
			if err := s.products.UpdateSKU(ctx, p.ID, canonical); err != nil {
				return err
			}
		case !errors.Is(err, shared.ErrNotFound):
			return err
		}
		if err := s.recipes.UpdateSKU(ctx, order.RecipeID, canonical); err != nil {
			return err
		}
		known[canonical] = struct{}{}
		report.SKUsMigrated++
		s.logger.Info("sku migrated",
			slog.Int64("recipe_id", order.RecipeID),
			slog.String("from", bom.ProductSKU),
			slog.String("to", canonical))
	}

	return s.repo.UpdateStatus(ctx, order.ID, StatusCompleted, StatusSynced)
}
