package products

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/craftline-mfg/craftline/internal/ledger"
	"github.com/craftline-mfg/craftline/internal/shared"
)

// RepositoryPort abstracts product persistence for the service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Product, error)
	Delete(ctx context.Context, id int64) error
}

// Service drives deletion impact analysis and the cascading reclamation
// sequence for finished products.
type Service struct {
	repo     RepositoryPort
	recipes  RecipePort
	orders   OrderPort
	ledger   LedgerPort
	audit    AuditPort
	notifier shared.Notifier
	logger   *slog.Logger
}

// NewService builds Service. Audit and notifier may be nil.
func NewService(repo RepositoryPort, recipes RecipePort, orders OrderPort, ledgerPort LedgerPort, audit AuditPort, notifier shared.Notifier, logger *slog.Logger) *Service {
	return &Service{repo: repo, recipes: recipes, orders: orders, ledger: ledgerPort, audit: audit, notifier: notifier, logger: logger}
}

// Analyze computes the deletion impact for a product without mutating
// anything.
func (s *Service) Analyze(ctx context.Context, p Product) (DeletionImpact, error) {
	impact, _, _, err := s.analyze(ctx, p)
	return impact, err
}

func (s *Service) analyze(ctx context.Context, p Product) (DeletionImpact, []RecipeRef, []OrderRef, error) {
	impact := DeletionImpact{CanDelete: true, Action: ActionSafe}

	recipeRefs, err := s.recipes.ListForProduct(ctx, p.Name, p.SKU)
	if err != nil {
		return DeletionImpact{}, nil, nil, fmt.Errorf("products: list recipes: %w", err)
	}
	for _, ref := range recipeRefs {
		impact.Warnings = append(impact.Warnings, fmt.Sprintf("recipe %q produces this product and will be orphaned", ref.Name))
	}

	var orderRefs []OrderRef
	if len(recipeRefs) > 0 {
		ids := make([]int64, 0, len(recipeRefs))
		for _, ref := range recipeRefs {
			ids = append(ids, ref.ID)
		}
		orderRefs, err = s.orders.ListByRecipes(ctx, ids)
		if err != nil {
			return DeletionImpact{}, nil, nil, fmt.Errorf("products: list orders: %w", err)
		}
	}
	for _, o := range orderRefs {
		if o.Active {
			impact.CanDelete = false
			impact.BlockingOrders = append(impact.BlockingOrders, o.ID)
			impact.Blockers = append(impact.Blockers, fmt.Sprintf("order %d is %s and references this product's recipe", o.ID, o.Status))
		} else {
			impact.Warnings = append(impact.Warnings, fmt.Sprintf("order %d (%s) recorded production history for this product", o.ID, o.Status))
		}
	}

	switch {
	case len(impact.Blockers) > 0:
		impact.Action = ActionBlocked
	case len(impact.Warnings) > 0:
		impact.Action = ActionWarning
	}
	return impact, recipeRefs, orderRefs, nil
}

// ExecuteDeletion removes qty units of the product, driving the reclamation
// sequence selected by opts. Blockers are a hard gate unless explicitly
// overridden or resolved by cancelling/completing the blocking orders first.
func (s *Service) ExecuteDeletion(ctx context.Context, productID int64, opts DeleteOptions, qty float64) (DeletionResult, error) {
	p, err := s.repo.Get(ctx, productID)
	if err != nil {
		return DeletionResult{}, err
	}
	impact, recipeRefs, orderRefs, err := s.analyze(ctx, p)
	if err != nil {
		return DeletionResult{}, err
	}

	var result DeletionResult

	if !impact.CanDelete {
		switch {
		case opts.CompleteActiveOrders:
			for _, id := range impact.BlockingOrders {
				if err := s.orders.Complete(ctx, id); err != nil {
					return result, fmt.Errorf("products: complete blocking order %d: %w", id, err)
				}
				result.OrdersCompleted = append(result.OrdersCompleted, id)
			}
		case opts.CancelActiveOrders:
			for _, id := range impact.BlockingOrders {
				if err := s.orders.Cancel(ctx, id); err != nil {
					return result, fmt.Errorf("products: cancel blocking order %d: %w", id, err)
				}
				result.OrdersCancelled = append(result.OrdersCancelled, id)
			}
		case opts.ForceDelete && opts.Acknowledged:
			// Caller accepted orphaning the active orders.
		default:
			return result, ErrDeletionBlocked
		}

		// Completing an order absorbs finished stock into the product and
		// settles the blocker into a terminal state. The snapshots taken
		// during analysis are stale for both, so re-read before deciding
		// between decrement and full removal.
		if len(result.OrdersCompleted) > 0 || len(result.OrdersCancelled) > 0 {
			if p, err = s.repo.Get(ctx, productID); err != nil {
				return result, err
			}
			ids := make([]int64, 0, len(recipeRefs))
			for _, ref := range recipeRefs {
				ids = append(ids, ref.ID)
			}
			if orderRefs, err = s.orders.ListByRecipes(ctx, ids); err != nil {
				return result, fmt.Errorf("products: list orders: %w", err)
			}
		}
	}

	if p.StockQty > 0 {
		if qty < 1 {
			qty = 1
		}
		if qty > p.StockQty {
			qty = p.StockQty
		}
	} else {
		qty = 0
	}
	result.QtyRemoved = qty

	if opts.ReturnMaterials && qty > 0 && len(recipeRefs) > 0 {
		result.MaterialsReturns = s.returnMaterials(ctx, p, recipeRefs[0], qty)
	}

	remaining := p.StockQty - qty
	if remaining <= 0 {
		// Prevent a later reconciliation pass from re-absorbing stock for a
		// product that no longer exists.
		for _, o := range orderRefs {
			if o.Active || o.Status == "CANCELLED" {
				continue
			}
			if err := s.orders.ForceCancel(ctx, o.ID); err != nil {
				return result, fmt.Errorf("products: revoke order %d: %w", o.ID, err)
			}
			result.OrdersCancelled = append(result.OrdersCancelled, o.ID)
		}
		if err := s.repo.Delete(ctx, p.ID); err != nil {
			return result, err
		}
		result.Deleted = true
		result.RemainingStock = 0
	} else {
		ref := ledger.Ref{Kind: ledger.KindProduct, ID: p.ID, Name: p.Name}
		if _, err := s.ledger.Adjust(ctx, ref, -qty, fmt.Sprintf("product-delete:%d", p.ID)); err != nil {
			return result, err
		}
		result.RemainingStock = remaining
	}

	s.recordAudit(ctx, p, result)
	if s.notifier != nil {
		s.notifier.Notify(ctx, shared.NotifyInfo,
			shared.Printer.Sprintf("Removed %v unit(s) of %s; %v remaining", qty, p.Name, result.RemainingStock))
	}
	return result, nil
}

// returnMaterials puts recipe-required materials for qty units back into
// stock. A partial failure leaves the successful returns in place and is
// reported to the caller.
func (s *Service) returnMaterials(ctx context.Context, p Product, recipe RecipeRef, qty float64) []ReturnFailure {
	lines, err := s.recipes.Requirements(ctx, recipe.ID, qty)
	if err != nil {
		s.logger.Error("compute material returns", slog.Int64("recipe_id", recipe.ID), slog.Any("error", err))
		return []ReturnFailure{{Err: err}}
	}
	var failures []ReturnFailure
	for _, line := range lines {
		ref := ledger.Ref{Kind: ledger.KindMaterial, ID: line.MaterialID, Name: line.Name}
		if _, err := s.ledger.Adjust(ctx, ref, line.Qty, fmt.Sprintf("product-delete:%d:return", p.ID)); err != nil {
			s.logger.Error("material return failed",
				slog.Int64("material_id", line.MaterialID), slog.Float64("qty", line.Qty), slog.Any("error", err))
			failures = append(failures, ReturnFailure{MaterialID: line.MaterialID, Name: line.Name, Qty: line.Qty, Err: err})
		}
	}
	return failures
}

func (s *Service) recordAudit(ctx context.Context, p Product, result DeletionResult) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   "PRODUCT_DELETE",
		Entity:   "finished_product",
		EntityID: fmt.Sprintf("%d", p.ID),
		Meta: map[string]any{
			"sku":       p.SKU,
			"qty":       result.QtyRemoved,
			"remaining": result.RemainingStock,
			"deleted":   result.Deleted,
		},
	})
}
