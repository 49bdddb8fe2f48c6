package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"

	"github.com/craftline-mfg/craftline/internal/ledger"
	"github.com/craftline-mfg/craftline/internal/materials"
	"github.com/craftline-mfg/craftline/internal/observability"
	"github.com/craftline-mfg/craftline/internal/products"
	"github.com/craftline-mfg/craftline/internal/recipes"
	"github.com/craftline-mfg/craftline/internal/shared"
)

// RepositoryPort abstracts order persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, order Order) (int64, error)
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context) ([]Order, error)
	ListByStatus(ctx context.Context, status Status) ([]Order, error)
	ListByRecipes(ctx context.Context, recipeIDs []int64) ([]Order, error)
	CountActiveByRecipe(ctx context.Context, recipeID int64) (int, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	SetCompleted(ctx context.Context, id int64, from Status, at time.Time) error
	ForceStatus(ctx context.Context, id int64, to Status) error
}

// RecipePort exposes the recipe operations completions need.
type RecipePort interface {
	Get(ctx context.Context, id int64) (recipes.BOM, error)
	Resolve(ctx context.Context, id int64, qty float64) ([]recipes.Requirement, error)
	UpdateSKU(ctx context.Context, id int64, sku string) error
}

// MaterialPort reads material snapshots for pre-checks and cost estimates.
type MaterialPort interface {
	ListByIDs(ctx context.Context, ids []int64) ([]materials.Material, error)
}

// ProductPort exposes finished-product persistence.
type ProductPort interface {
	FindBySKU(ctx context.Context, sku string) (products.Product, error)
	FindByName(ctx context.Context, name string) (products.Product, error)
	Upsert(ctx context.Context, p products.Product) (products.Product, error)
	UpdateSKU(ctx context.Context, id int64, sku string) error
	AllSKUs(ctx context.Context) ([]string, error)
}

// LedgerPort performs atomic stock adjustments.
type LedgerPort interface {
	Adjust(ctx context.Context, ref ledger.Ref, delta float64, reason string) (float64, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Locker guards the reconciliation batch across processes.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// ServiceConfig groups tunables.
type ServiceConfig struct {
	RetailMarkup    float64
	WholesaleMarkup float64
	SyncLockTTL     time.Duration
}

// Service orchestrates the production order lifecycle: creation, status
// transitions, the atomic completion sequence and batch reconciliation.
type Service struct {
	repo      RepositoryPort
	recipes   RecipePort
	materials MaterialPort
	products  ProductPort
	ledger    LedgerPort
	audit     AuditPort
	notifier  shared.Notifier
	metrics   *observability.Metrics
	logger    *slog.Logger
	locker    Locker
	cfg       ServiceConfig

	syncGuard chan struct{}
}

// NewService builds Service. Audit, notifier, metrics and locker may be nil.
func NewService(repo RepositoryPort, recipePort RecipePort, materialPort MaterialPort, productPort ProductPort, ledgerPort LedgerPort, audit AuditPort, notifier shared.Notifier, metrics *observability.Metrics, logger *slog.Logger, locker Locker, cfg ServiceConfig) *Service {
	if cfg.RetailMarkup < 1 {
		cfg.RetailMarkup = 1.6
	}
	if cfg.WholesaleMarkup < 1 {
		cfg.WholesaleMarkup = 1.25
	}
	if cfg.SyncLockTTL <= 0 {
		cfg.SyncLockTTL = 5 * time.Minute
	}
	return &Service{
		repo:      repo,
		recipes:   recipePort,
		materials: materialPort,
		products:  productPort,
		ledger:    ledgerPort,
		audit:     audit,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
		locker:    locker,
		cfg:       cfg,
		syncGuard: make(chan struct{}, 1),
	}
}

// AddOrderInput describes a new production order.
type AddOrderInput struct {
	RecipeID        int64
	Qty             float64
	AdditionalCosts []CostLine
}

// AddOrder creates a PENDING order with a materials cost estimate. No stock
// is touched.
func (s *Service) AddOrder(ctx context.Context, input AddOrderInput) (Order, error) {
	if input.Qty <= 0 {
		return Order{}, fmt.Errorf("production: quantity must be positive: %w", shared.ErrValidation)
	}
	if _, err := s.recipes.Get(ctx, input.RecipeID); err != nil {
		return Order{}, err
	}
	reqs, err := s.recipes.Resolve(ctx, input.RecipeID, input.Qty)
	if err != nil {
		return Order{}, err
	}
	byID, err := s.materialSnapshot(ctx, reqs)
	if err != nil {
		return Order{}, err
	}

	materialsCost := decimal.Zero
	for _, req := range reqs {
		mat, ok := byID[req.MaterialID]
		if !ok {
			return Order{}, fmt.Errorf("production: material %d: %w", req.MaterialID, shared.ErrNotFound)
		}
		materialsCost = materialsCost.Add(mat.PurchaseUnitCost.Mul(decimal.NewFromFloat(req.Qty)))
	}
	total := materialsCost
	for _, line := range input.AdditionalCosts {
		total = total.Add(line.Amount)
	}

	order := Order{
		RecipeID:        input.RecipeID,
		Qty:             input.Qty,
		Status:          StatusPending,
		MaterialsCost:   materialsCost,
		AdditionalCosts: input.AdditionalCosts,
		TotalCost:       total,
	}
	id, err := s.repo.Create(ctx, order)
	if err != nil {
		return Order{}, err
	}
	order.ID = id
	order.CreatedAt = time.Now().UTC()
	s.recordAudit(ctx, "ORDER_CREATE", id, map[string]any{"recipe_id": input.RecipeID, "qty": input.Qty})
	return order, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns all orders.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.repo.List(ctx)
}

// TransitionStatus moves an order along the lifecycle. Completion is routed
// through CompleteOrder so stock can never move without its guards.
func (s *Service) TransitionStatus(ctx context.Context, id int64, next Status) error {
	if !next.Valid() {
		return fmt.Errorf("production: unknown status %q: %w", next, shared.ErrValidation)
	}
	if next == StatusCompleted {
		_, err := s.CompleteOrder(ctx, id)
		return err
	}
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(order.Status, next) {
		return fmt.Errorf("production: %s -> %s not allowed: %w", order.Status, next, shared.ErrStatusConflict)
	}
	if err := s.repo.UpdateStatus(ctx, id, order.Status, next); err != nil {
		return err
	}
	s.recordAudit(ctx, "ORDER_STATUS", id, map[string]any{"from": string(order.Status), "to": string(next)})
	return nil
}

// CompleteOrder runs the completion sequence: pre-check, ordered deductions
// with rollback on partial failure, status transition, finished-good upsert.
// Completing an already-terminal order is rejected without touching stock.
func (s *Service) CompleteOrder(ctx context.Context, orderID int64) (CompletionEvent, error) {
	evt, err := s.completeOrder(ctx, orderID)
	switch {
	case err == nil:
		s.metrics.ObserveCompletion("success")
	case errors.Is(err, shared.ErrStatusConflict):
		s.metrics.ObserveCompletion("conflict")
	default:
		var insufficient *InsufficientStockError
		var rollback *RollbackError
		switch {
		case errors.As(err, &insufficient):
			s.metrics.ObserveCompletion("insufficient_stock")
		case errors.As(err, &rollback):
			s.metrics.ObserveCompletion("rollback_failed")
		default:
			s.metrics.ObserveCompletion("error")
		}
	}
	return evt, err
}

func (s *Service) completeOrder(ctx context.Context, orderID int64) (CompletionEvent, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return CompletionEvent{}, err
	}
	if !order.Status.Active() {
		return CompletionEvent{}, fmt.Errorf("production: order %d is %s: %w", orderID, order.Status, shared.ErrStatusConflict)
	}
	if order.Qty <= 0 {
		return CompletionEvent{}, fmt.Errorf("production: order %d has non-positive quantity: %w", orderID, shared.ErrValidation)
	}

	bom, err := s.recipes.Get(ctx, order.RecipeID)
	if err != nil {
		return CompletionEvent{}, err
	}
	reqs, err := s.recipes.Resolve(ctx, order.RecipeID, order.Qty)
	if err != nil {
		return CompletionEvent{}, err
	}
	byID, err := s.materialSnapshot(ctx, reqs)
	if err != nil {
		return CompletionEvent{}, err
	}

	// Pre-check pass against the latest snapshot. Purely read-only.
	for _, req := range reqs {
		mat, ok := byID[req.MaterialID]
		if !ok {
			return CompletionEvent{}, fmt.Errorf("production: material %d: %w", req.MaterialID, shared.ErrNotFound)
		}
		if mat.StockQty-req.Qty < 0 {
			return CompletionEvent{}, &InsufficientStockError{
				MaterialID: mat.ID,
				Name:       mat.Name,
				Available:  mat.StockQty,
				Required:   req.Qty,
			}
		}
	}

	// Apply pass, in recipe line order so rollback order is well-defined.
	reason := fmt.Sprintf("order:%d:complete", order.ID)
	rollbackReason := fmt.Sprintf("order:%d:rollback", order.ID)
	applied := make([]AppliedDelta, 0, len(reqs))
	for _, req := range reqs {
		ref := ledger.Ref{Kind: ledger.KindMaterial, ID: req.MaterialID, Name: byID[req.MaterialID].Name}
		if _, err := s.ledger.Adjust(ctx, ref, -req.Qty, reason); err != nil {
			if rbErr := s.rollback(ctx, applied, rollbackReason); rbErr != nil {
				return CompletionEvent{}, rbErr
			}
			return CompletionEvent{}, err
		}
		applied = append(applied, AppliedDelta{Ref: ref, Delta: -req.Qty})
	}

	// The order must never keep its deductions without reaching COMPLETED.
	if err := s.repo.SetCompleted(ctx, order.ID, order.Status, time.Now().UTC()); err != nil {
		if rbErr := s.rollback(ctx, applied, rollbackReason); rbErr != nil {
			return CompletionEvent{}, rbErr
		}
		return CompletionEvent{}, err
	}

	evt, err := s.absorbIntoProduct(ctx, order, bom)
	if err != nil {
		if rbErr := s.rollback(ctx, applied, rollbackReason); rbErr != nil {
			return CompletionEvent{}, rbErr
		}
		if revertErr := s.repo.ForceStatus(ctx, order.ID, order.Status); revertErr != nil {
			s.logger.Error("status revert failed after product upsert failure",
				slog.Int64("order_id", order.ID), slog.Any("error", revertErr))
		}
		return CompletionEvent{}, err
	}

	s.recordAudit(ctx, "ORDER_COMPLETE", order.ID, map[string]any{
		"recipe_id": order.RecipeID,
		"qty":       order.Qty,
		"sku":       evt.ProductSKU,
	})
	if s.notifier != nil {
		s.notifier.Notify(ctx, shared.NotifyInfo, evt.Summary())
	}
	return evt, nil
}

// rollback reverses applied deltas in reverse order of application. A
// compensating adjustment that itself fails is escalated as a RollbackError;
// it is never retried here.
func (s *Service) rollback(ctx context.Context, applied []AppliedDelta, reason string) error {
	if len(applied) == 0 {
		return nil
	}
	s.metrics.ObserveRollback()
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		if _, err := s.ledger.Adjust(ctx, d.Ref, -d.Delta, reason); err != nil {
			outstanding := make([]AppliedDelta, i+1)
			copy(outstanding, applied[:i+1])
			rbErr := &RollbackError{Applied: outstanding, Cause: err}
			s.logger.Error("compensating rollback failed, inventory inconsistent, manual intervention required",
				slog.String("item", d.Ref.String()), slog.Any("error", err))
			if s.notifier != nil {
				s.notifier.Notify(ctx, shared.NotifyError, rbErr.Error())
			}
			return rbErr
		}
	}
	return nil
}

// absorbIntoProduct locates or creates the finished product for the recipe
// and folds the order's stock and cost into it.
func (s *Service) absorbIntoProduct(ctx context.Context, order Order, bom recipes.BOM) (CompletionEvent, error) {
	p, err := s.findProduct(ctx, bom.ProductSKU, bom.ProductName)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return CompletionEvent{}, err
		}
		p = products.Product{Name: bom.ProductName, SKU: bom.ProductSKU}
	}
	if p.SKU == "" {
		skus, err := s.products.AllSKUs(ctx)
		if err != nil {
			return CompletionEvent{}, err
		}
		p.SKU = products.EnsureCanonical("", products.SKUSet(skus), time.Now().UTC())
	}

	evt := CompletionEvent{
		OrderID:     order.ID,
		ProductName: p.Name,
		ProductSKU:  p.SKU,
		QtyProduced: order.Qty,
		OldStock:    p.StockQty,
		OldUnitCost: p.UnitCost,
	}
	newUnit := AbsorbCost(p.StockQty, p.UnitCost, order.Qty, order.TotalCost)
	p.StockQty += order.Qty
	p.UnitCost = newUnit
	p.RetailPrice = DefaultPrice(p.RetailPrice, newUnit, s.cfg.RetailMarkup)
	p.WholesalePrice = DefaultPrice(p.WholesalePrice, newUnit, s.cfg.WholesaleMarkup)

	p, err = s.products.Upsert(ctx, p)
	if err != nil {
		return CompletionEvent{}, err
	}
	evt.NewStock = p.StockQty
	evt.NewUnitCost = p.UnitCost
	return evt, nil
}

func (s *Service) findProduct(ctx context.Context, sku, name string) (products.Product, error) {
	if sku != "" {
		p, err := s.products.FindBySKU(ctx, sku)
		if err == nil || !errors.Is(err, shared.ErrNotFound) {
			return p, err
		}
	}
	if name != "" {
		return s.products.FindByName(ctx, name)
	}
	return products.Product{}, shared.ErrNotFound
}

func (s *Service) materialSnapshot(ctx context.Context, reqs []recipes.Requirement) (map[int64]materials.Material, error) {
	ids := make([]int64, 0, len(reqs))
	for _, req := range reqs {
		ids = append(ids, req.MaterialID)
	}
	mats, err := s.materials.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]materials.Material, len(mats))
	for _, mat := range mats {
		byID[mat.ID] = mat
	}
	return byID, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "production_order",
		EntityID: fmt.Sprintf("%d", orderID),
		Meta:     meta,
	})
}

// CountActiveByRecipe implements the recipe deletion guard.
func (s *Service) CountActiveByRecipe(ctx context.Context, recipeID int64) (int, error) {
	return s.repo.CountActiveByRecipe(ctx, recipeID)
}

// ListByRecipes implements the product deletion analyzer's order lookup.
func (s *Service) ListByRecipes(ctx context.Context, recipeIDs []int64) ([]products.OrderRef, error) {
	orders, err := s.repo.ListByRecipes(ctx, recipeIDs)
	if err != nil {
		return nil, err
	}
	refs := make([]products.OrderRef, 0, len(orders))
	for _, order := range orders {
		refs = append(refs, products.OrderRef{ID: order.ID, Status: string(order.Status), Active: order.Status.Active()})
	}
	return refs, nil
}

// Cancel transitions an active order to CANCELLED.
func (s *Service) Cancel(ctx context.Context, orderID int64) error {
	return s.TransitionStatus(ctx, orderID, StatusCancelled)
}

// ForceCancel performs the compensating cancellation of a terminal order,
// used when the finished product it produced is being reclaimed.
func (s *Service) ForceCancel(ctx context.Context, orderID int64) error {
	if err := s.repo.ForceStatus(ctx, orderID, StatusCancelled); err != nil {
		return err
	}
	s.recordAudit(ctx, "ORDER_FORCE_CANCEL", orderID, nil)
	return nil
}

// Complete implements the product deletion port by completing the order.
func (s *Service) Complete(ctx context.Context, orderID int64) error {
	_, err := s.CompleteOrder(ctx, orderID)
	return err
}
