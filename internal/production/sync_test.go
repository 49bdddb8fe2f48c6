package production

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/craftline-mfg/craftline/internal/products"
	"github.com/craftline-mfg/craftline/internal/recipes"
)

func newSyncFixture(t *testing.T) (*fixture, *redislock.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := redislock.New(client)

	f := newFixture()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.orders, f.rcp, f.mats, f.prods, f.ledg, nil, nil, nil, logger, locker, ServiceConfig{SyncLockTTL: time.Minute})
	return f, locker
}

func completedOrder(f *fixture, recipeID int64) int64 {
	return f.orders.add(Order{
		RecipeID:  recipeID,
		Qty:       2,
		Status:    StatusCompleted,
		TotalCost: decimal.NewFromInt(40),
	})
}

func TestSyncMigratesLegacySKUs(t *testing.T) {
	f, _ := newSyncFixture(t)
	f.rcp.boms[8] = recipes.BOM{ID: 8, ProductName: "Gingerbread", ProductSKU: "gingerbread-old"}
	_, err := f.prods.Upsert(context.Background(), products.Product{
		Name: "Gingerbread", SKU: "gingerbread-old", StockQty: 2, UnitCost: decimal.NewFromInt(20),
	})
	require.NoError(t, err)
	id := completedOrder(f, 8)

	report, err := f.svc.SyncCompletedOrders(context.Background())
	require.NoError(t, err)
	require.Equal(t, SyncReport{Scanned: 1, Synced: 1, SKUsMigrated: 1}, report)

	bom := f.rcp.boms[8]
	require.True(t, products.IsCanonicalSKU(bom.ProductSKU), "recipe carries %q", bom.ProductSKU)

	p, err := f.prods.FindBySKU(context.Background(), bom.ProductSKU)
	require.NoError(t, err, "product follows the recipe's new SKU")
	require.Equal(t, 2.0, p.StockQty, "stock survives the identity migration")
	require.True(t, p.UnitCost.Equal(decimal.NewFromInt(20)), "cost is not re-absorbed")

	order, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusSynced, order.Status)
}

func TestSyncKeepsCanonicalSKUs(t *testing.T) {
	f, _ := newSyncFixture(t)
	id := completedOrder(f, 7) // recipe 7 already carries a canonical SKU

	report, err := f.svc.SyncCompletedOrders(context.Background())
	require.NoError(t, err)
	require.Equal(t, SyncReport{Scanned: 1, Synced: 1, SKUsMigrated: 0}, report)
	require.Equal(t, "FG-20260101-001", f.rcp.boms[7].ProductSKU)

	order, _ := f.orders.Get(context.Background(), id)
	require.Equal(t, StatusSynced, order.Status)
}

func TestSyncMintedSKUsNeverCollide(t *testing.T) {
	f, _ := newSyncFixture(t)
	today := time.Now().UTC().Format("20060102")
	taken := "FG-" + today + "-001"
	_, err := f.prods.Upsert(context.Background(), products.Product{Name: "Existing", SKU: taken})
	require.NoError(t, err)

	f.rcp.boms[9] = recipes.BOM{ID: 9, ProductName: "Biscotti", ProductSKU: "biscotti-v2"}
	completedOrder(f, 9)

	_, err = f.svc.SyncCompletedOrders(context.Background())
	require.NoError(t, err)

	minted := f.rcp.boms[9].ProductSKU
	require.True(t, products.IsCanonicalSKU(minted))
	require.NotEqual(t, taken, minted)
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	f, locker := newSyncFixture(t)
	completedOrder(f, 7)

	lock, err := locker.Obtain(context.Background(), syncLockKey, time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = lock.Release(context.Background()) }()

	_, err = f.svc.SyncCompletedOrders(context.Background())
	require.ErrorIs(t, err, ErrSyncRunning)

	order, _ := f.orders.Get(context.Background(), 1)
	require.Equal(t, StatusCompleted, order.Status, "rejected run must not touch orders")
}

func TestSyncRejectsReentrantRun(t *testing.T) {
	f, _ := newSyncFixture(t)
	completedOrder(f, 7)

	f.svc.syncGuard <- struct{}{}
	defer func() { <-f.svc.syncGuard }()

	_, err := f.svc.SyncCompletedOrders(context.Background())
	require.ErrorIs(t, err, ErrSyncRunning)
}

func TestSyncSkipsBrokenOrders(t *testing.T) {
	f, _ := newSyncFixture(t)
	good := completedOrder(f, 7)
	f.orders.add(Order{RecipeID: 999, Qty: 1, Status: StatusCompleted}) // recipe missing

	report, err := f.svc.SyncCompletedOrders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Scanned)
	require.Equal(t, 1, report.Synced)

	order, _ := f.orders.Get(context.Background(), good)
	require.Equal(t, StatusSynced, order.Status, "healthy orders still sync")
}
