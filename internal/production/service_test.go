package production

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/craftline-mfg/craftline/internal/ledger"
	"github.com/craftline-mfg/craftline/internal/materials"
	"github.com/craftline-mfg/craftline/internal/products"
	"github.com/craftline-mfg/craftline/internal/recipes"
	"github.com/craftline-mfg/craftline/internal/shared"
)

type memOrders struct {
	mu               sync.Mutex
	seq              int64
	orders           map[int64]*Order
	failSetCompleted bool
	forced           []int64
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[int64]*Order{}}
}

func (m *memOrders) add(order Order) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	order.ID = m.seq
	order.CreatedAt = time.Now().UTC()
	m.orders[order.ID] = &order
	return order.ID
}

func (m *memOrders) Create(_ context.Context, order Order) (int64, error) {
	return m.add(order), nil
}

func (m *memOrders) Get(_ context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return Order{}, shared.ErrNotFound
	}
	return *order, nil
}

func (m *memOrders) List(_ context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, order := range m.orders {
		out = append(out, *order)
	}
	return out, nil
}

func (m *memOrders) ListByStatus(_ context.Context, status Status) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, order := range m.orders {
		if order.Status == status {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (m *memOrders) ListByRecipes(_ context.Context, recipeIDs []int64) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, order := range m.orders {
		for _, id := range recipeIDs {
			if order.RecipeID == id {
				out = append(out, *order)
			}
		}
	}
	return out, nil
}

func (m *memOrders) CountActiveByRecipe(_ context.Context, recipeID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, order := range m.orders {
		if order.RecipeID == recipeID && order.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id int64, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	if order.Status != from {
		return shared.ErrStatusConflict
	}
	order.Status = to
	return nil
}

func (m *memOrders) SetCompleted(_ context.Context, id int64, from Status, at time.Time) error {
	if m.failSetCompleted {
		return errors.New("boom: orders table unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	if order.Status != from {
		return shared.ErrStatusConflict
	}
	order.Status = StatusCompleted
	order.CompletedAt = &at
	return nil
}

func (m *memOrders) ForceStatus(_ context.Context, id int64, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	order.Status = to
	m.forced = append(m.forced, id)
	return nil
}

type memRecipes struct {
	boms map[int64]recipes.BOM
}

func (m *memRecipes) Get(_ context.Context, id int64) (recipes.BOM, error) {
	bom, ok := m.boms[id]
	if !ok {
		return recipes.BOM{}, shared.ErrNotFound
	}
	return bom, nil
}

func (m *memRecipes) Resolve(_ context.Context, id int64, qty float64) ([]recipes.Requirement, error) {
	bom, ok := m.boms[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	reqs := make([]recipes.Requirement, 0, len(bom.Lines))
	for _, line := range bom.Lines {
		reqs = append(reqs, recipes.Requirement{MaterialID: line.MaterialID, Qty: line.QtyPerUnit * qty})
	}
	return reqs, nil
}

func (m *memRecipes) UpdateSKU(_ context.Context, id int64, sku string) error {
	bom, ok := m.boms[id]
	if !ok {
		return shared.ErrNotFound
	}
	bom.ProductSKU = sku
	m.boms[id] = bom
	return nil
}

type memMaterials struct {
	mu   sync.Mutex
	mats map[int64]*materials.Material
}

func (m *memMaterials) ListByIDs(_ context.Context, ids []int64) ([]materials.Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []materials.Material
	for _, id := range ids {
		if mat, ok := m.mats[id]; ok {
			out = append(out, *mat)
		}
	}
	return out, nil
}

func (m *memMaterials) stock(id int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mats[id].StockQty
}

type memProducts struct {
	mu         sync.Mutex
	seq        int64
	prods      map[int64]*products.Product
	failUpsert bool
}

func newMemProducts() *memProducts {
	return &memProducts{prods: map[int64]*products.Product{}}
}

func (m *memProducts) FindBySKU(_ context.Context, sku string) (products.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prods {
		if p.SKU == sku {
			return *p, nil
		}
	}
	return products.Product{}, shared.ErrNotFound
}

func (m *memProducts) FindByName(_ context.Context, name string) (products.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prods {
		if p.Name == name {
			return *p, nil
		}
	}
	return products.Product{}, shared.ErrNotFound
}

func (m *memProducts) Upsert(_ context.Context, p products.Product) (products.Product, error) {
	if m.failUpsert {
		return products.Product{}, errors.New("boom: products table unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.prods {
		if existing.SKU == p.SKU {
			p.ID = existing.ID
			*existing = p
			return p, nil
		}
	}
	m.seq++
	p.ID = m.seq
	stored := p
	m.prods[p.ID] = &stored
	return p, nil
}

func (m *memProducts) UpdateSKU(_ context.Context, id int64, sku string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prods[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.SKU = sku
	return nil
}

func (m *memProducts) AllSKUs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var skus []string
	for _, p := range m.prods {
		skus = append(skus, p.SKU)
	}
	return skus, nil
}

// memLedger adjusts the fake materials store and records every call so tests
// can assert on apply and rollback order.
type memLedger struct {
	mats   *memMaterials
	mu     sync.Mutex
	calls  []string
	failOn func(ref ledger.Ref, delta float64) error
}

func (m *memLedger) Adjust(_ context.Context, ref ledger.Ref, delta float64, _ string) (float64, error) {
	m.mu.Lock()
	m.calls = append(m.calls, fmt.Sprintf("%s%+g", ref.String(), delta))
	m.mu.Unlock()
	if m.failOn != nil {
		if err := m.failOn(ref, delta); err != nil {
			return 0, err
		}
	}
	m.mats.mu.Lock()
	defer m.mats.mu.Unlock()
	mat, ok := m.mats.mats[ref.ID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	next := mat.StockQty + delta
	if next < 0 {
		return 0, &ledger.AdjustmentError{Ref: ref, Err: ledger.ErrInsufficientStock}
	}
	mat.StockQty = next
	return next, nil
}

type fixture struct {
	svc    *Service
	orders *memOrders
	rcp    *memRecipes
	mats   *memMaterials
	prods  *memProducts
	ledg   *memLedger
}

func newFixture() *fixture {
	mats := &memMaterials{mats: map[int64]*materials.Material{
		1: {ID: 1, Name: "flour", StockQty: 10, PurchaseUnitCost: decimal.NewFromInt(2)},
		2: {ID: 2, Name: "sugar", StockQty: 5, PurchaseUnitCost: decimal.NewFromInt(3)},
		3: {ID: 3, Name: "butter", StockQty: 8, PurchaseUnitCost: decimal.NewFromInt(5)},
	}}
	rcp := &memRecipes{boms: map[int64]recipes.BOM{
		7: {ID: 7, ProductName: "Shortbread", ProductSKU: "FG-20260101-001", Lines: []recipes.Line{
			{MaterialID: 1, QtyPerUnit: 2},
			{MaterialID: 2, QtyPerUnit: 1},
		}},
	}}
	orders := newMemOrders()
	prods := newMemProducts()
	ledg := &memLedger{mats: mats}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(orders, rcp, mats, prods, ledg, nil, nil, nil, logger, nil, ServiceConfig{})
	return &fixture{svc: svc, orders: orders, rcp: rcp, mats: mats, prods: prods, ledg: ledg}
}

func (f *fixture) pendingOrder(qty float64, totalCost int64) int64 {
	return f.orders.add(Order{
		RecipeID:  7,
		Qty:       qty,
		Status:    StatusPending,
		TotalCost: decimal.NewFromInt(totalCost),
	})
}

func TestCompleteOrderDeductsAndAbsorbs(t *testing.T) {
	f := newFixture()
	id := f.pendingOrder(3, 60)

	evt, err := f.svc.CompleteOrder(context.Background(), id)
	require.NoError(t, err)

	require.Equal(t, 4.0, f.mats.stock(1), "flour: 10 - 3*2")
	require.Equal(t, 2.0, f.mats.stock(2), "sugar: 5 - 3*1")

	order, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, order.Status)
	require.NotNil(t, order.CompletedAt)

	p, err := f.prods.FindBySKU(context.Background(), "FG-20260101-001")
	require.NoError(t, err)
	require.Equal(t, 3.0, p.StockQty)
	require.True(t, p.UnitCost.Equal(decimal.NewFromInt(20)), "60 over 3 units, got %s", p.UnitCost)
	require.True(t, p.RetailPrice.Equal(decimal.NewFromInt(32)), "markup 1.6, got %s", p.RetailPrice)
	require.Equal(t, 3.0, evt.NewStock)
}

func TestCompleteOrderIsIdempotent(t *testing.T) {
	f := newFixture()
	id := f.pendingOrder(3, 60)

	_, err := f.svc.CompleteOrder(context.Background(), id)
	require.NoError(t, err)

	_, err = f.svc.CompleteOrder(context.Background(), id)
	require.ErrorIs(t, err, shared.ErrStatusConflict)

	require.Equal(t, 4.0, f.mats.stock(1), "second call must not deduct again")
	p, err := f.prods.FindBySKU(context.Background(), "FG-20260101-001")
	require.NoError(t, err)
	require.Equal(t, 3.0, p.StockQty)
}

func TestCompleteOrderInsufficientStock(t *testing.T) {
	f := newFixture()
	id := f.pendingOrder(6, 120) // needs 12 flour, only 10

	_, err := f.svc.CompleteOrder(context.Background(), id)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(1), insufficient.MaterialID)
	require.Equal(t, 10.0, insufficient.Available)
	require.Equal(t, 12.0, insufficient.Required)

	require.Empty(t, f.ledg.calls, "pre-check failure must not touch the ledger")
	order, _ := f.orders.Get(context.Background(), id)
	require.Equal(t, StatusPending, order.Status)
}

func TestCompleteOrderPartialFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.rcp.boms[7] = recipes.BOM{ID: 7, ProductName: "Shortbread", ProductSKU: "FG-20260101-001", Lines: []recipes.Line{
		{MaterialID: 1, QtyPerUnit: 2},
		{MaterialID: 2, QtyPerUnit: 1},
		{MaterialID: 3, QtyPerUnit: 1},
	}}
	injected := errors.New("boom: connection reset")
	f.ledg.failOn = func(ref ledger.Ref, delta float64) error {
		if ref.ID == 3 && delta < 0 {
			return injected
		}
		return nil
	}
	id := f.pendingOrder(2, 40)

	_, err := f.svc.CompleteOrder(context.Background(), id)
	require.ErrorIs(t, err, injected)

	require.Equal(t, 10.0, f.mats.stock(1), "flour restored")
	require.Equal(t, 5.0, f.mats.stock(2), "sugar restored")
	require.Equal(t, 8.0, f.mats.stock(3), "butter untouched")

	// Deductions in line order, compensations in reverse.
	require.Equal(t, []string{
		"material:1-4", "material:2-2", "material:3-2",
		"material:2+2", "material:1+4",
	}, f.ledg.calls)

	order, _ := f.orders.Get(context.Background(), id)
	require.Equal(t, StatusPending, order.Status)
}

func TestCompleteOrderReversesAtEveryFailurePosition(t *testing.T) {
	injected := errors.New("boom: connection reset")
	for _, failID := range []int64{1, 2, 3} {
		f := newFixture()
		f.rcp.boms[7] = recipes.BOM{ID: 7, ProductName: "Shortbread", ProductSKU: "FG-20260101-001", Lines: []recipes.Line{
			{MaterialID: 1, QtyPerUnit: 2},
			{MaterialID: 2, QtyPerUnit: 1},
			{MaterialID: 3, QtyPerUnit: 1},
		}}
		f.ledg.failOn = func(ref ledger.Ref, delta float64) error {
			if ref.ID == failID && delta < 0 {
				return injected
			}
			return nil
		}
		id := f.pendingOrder(2, 40)

		_, err := f.svc.CompleteOrder(context.Background(), id)
		require.ErrorIs(t, err, injected, "fail at material %d", failID)

		require.Equal(t, 10.0, f.mats.stock(1), "fail at material %d", failID)
		require.Equal(t, 5.0, f.mats.stock(2), "fail at material %d", failID)
		require.Equal(t, 8.0, f.mats.stock(3), "fail at material %d", failID)
		order, _ := f.orders.Get(context.Background(), id)
		require.Equal(t, StatusPending, order.Status, "fail at material %d", failID)
	}
}

func TestCompleteOrderRollbackFailureEscalates(t *testing.T) {
	f := newFixture()
	applyErr := errors.New("boom: apply failed")
	rollbackErr := errors.New("boom: rollback failed")
	f.ledg.failOn = func(ref ledger.Ref, delta float64) error {
		if ref.ID == 2 && delta < 0 {
			return applyErr
		}
		if ref.ID == 1 && delta > 0 {
			return rollbackErr
		}
		return nil
	}
	id := f.pendingOrder(2, 40)

	_, err := f.svc.CompleteOrder(context.Background(), id)
	var rb *RollbackError
	require.ErrorAs(t, err, &rb)
	require.ErrorIs(t, rb.Cause, rollbackErr)
	require.Len(t, rb.Applied, 1, "one delta left outstanding")
	require.Equal(t, int64(1), rb.Applied[0].Ref.ID)
}

func TestCompleteOrderStatusWriteFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.orders.failSetCompleted = true
	id := f.pendingOrder(3, 60)

	_, err := f.svc.CompleteOrder(context.Background(), id)
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrStatusConflict)

	require.Equal(t, 10.0, f.mats.stock(1))
	require.Equal(t, 5.0, f.mats.stock(2))
	order, _ := f.orders.Get(context.Background(), id)
	require.Equal(t, StatusPending, order.Status)
}

func TestCompleteOrderProductFailureRevertsStatus(t *testing.T) {
	f := newFixture()
	f.prods.failUpsert = true
	id := f.pendingOrder(3, 60)

	_, err := f.svc.CompleteOrder(context.Background(), id)
	require.Error(t, err)

	require.Equal(t, 10.0, f.mats.stock(1), "deductions undone")
	require.Equal(t, 5.0, f.mats.stock(2))
	order, _ := f.orders.Get(context.Background(), id)
	require.Equal(t, StatusPending, order.Status, "status reverted after upsert failure")
	require.Contains(t, f.orders.forced, id)
}

func TestCompleteOrderAbsorbsIntoExistingStock(t *testing.T) {
	f := newFixture()
	_, err := f.prods.Upsert(context.Background(), products.Product{
		Name:     "Shortbread",
		SKU:      "FG-20260101-001",
		StockQty: 10,
		UnitCost: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	id := f.pendingOrder(5, 600)

	_, err = f.svc.CompleteOrder(context.Background(), id)
	require.NoError(t, err)

	p, err := f.prods.FindBySKU(context.Background(), "FG-20260101-001")
	require.NoError(t, err)
	require.Equal(t, 15.0, p.StockQty)
	// (10*10 + 600) / 15
	require.True(t, p.UnitCost.Equal(decimal.RequireFromString("46.666667")), "got %s", p.UnitCost)
}

func TestAddOrderEstimatesMaterialsCost(t *testing.T) {
	f := newFixture()

	order, err := f.svc.AddOrder(context.Background(), AddOrderInput{
		RecipeID: 7,
		Qty:      3,
		AdditionalCosts: []CostLine{
			{Label: "packaging", Amount: decimal.NewFromInt(5)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, order.Status)
	// 3 * (2 flour * 2.00 + 1 sugar * 3.00) = 21
	require.True(t, order.MaterialsCost.Equal(decimal.NewFromInt(21)), "got %s", order.MaterialsCost)
	require.True(t, order.TotalCost.Equal(decimal.NewFromInt(26)), "got %s", order.TotalCost)

	require.Empty(t, f.ledg.calls, "creation reserves nothing")
}

func TestAddOrderRejectsNonPositiveQty(t *testing.T) {
	f := newFixture()
	_, err := f.svc.AddOrder(context.Background(), AddOrderInput{RecipeID: 7, Qty: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransitionStatusFollowsLifecycle(t *testing.T) {
	f := newFixture()
	id := f.pendingOrder(1, 20)
	ctx := context.Background()

	require.NoError(t, f.svc.TransitionStatus(ctx, id, StatusInProgress))

	err := f.svc.TransitionStatus(ctx, id, StatusSynced)
	require.ErrorIs(t, err, shared.ErrStatusConflict, "IN_PROGRESS cannot jump to SYNCED")

	err = f.svc.TransitionStatus(ctx, id, Status("SHIPPED"))
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, f.svc.TransitionStatus(ctx, id, StatusCancelled))
	err = f.svc.TransitionStatus(ctx, id, StatusInProgress)
	require.ErrorIs(t, err, shared.ErrStatusConflict, "CANCELLED is terminal")
}

func TestTransitionToCompletedRunsCompletion(t *testing.T) {
	f := newFixture()
	id := f.pendingOrder(3, 60)

	require.NoError(t, f.svc.TransitionStatus(context.Background(), id, StatusCompleted))
	require.Equal(t, 4.0, f.mats.stock(1), "completion path deducts materials")
}
