package products

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/craftline-mfg/craftline/internal/ledger"
	"github.com/craftline-mfg/craftline/internal/shared"
)

// Product is a finished good. UnitCost is a running weighted average; SKU is
// the primary identity, with name as a fallback lookup key during migration.
type Product struct {
	ID             int64
	Name           string
	SKU            string
	StockQty       float64
	UnitCost       decimal.Decimal
	RetailPrice    decimal.Decimal
	WholesalePrice decimal.Decimal
}

// ImpactAction classifies the recommended handling of a deletion request.
type ImpactAction string

const (
	// ActionSafe means nothing references the product.
	ActionSafe ImpactAction = "safe"
	// ActionWarning means related records exist but none block deletion.
	ActionWarning ImpactAction = "warning"
	// ActionBlocked means active orders reference the product's recipes.
	ActionBlocked ImpactAction = "blocked"
)

// DeletionImpact summarises what deleting a product would affect. It is a
// computed value, never persisted.
type DeletionImpact struct {
	CanDelete      bool
	Blockers       []string
	Warnings       []string
	BlockingOrders []int64
	Action         ImpactAction
}

// DeleteOptions controls the reclamation sequence of ExecuteDeletion.
type DeleteOptions struct {
	// ForceDelete with Acknowledged set overrides blockers. Both flags are
	// required so a caller cannot stumble past the gate.
	ForceDelete  bool
	Acknowledged bool

	CancelActiveOrders   bool
	CompleteActiveOrders bool
	ReturnMaterials      bool
}

// ErrDeletionBlocked is returned when blockers exist and the caller has not
// explicitly overridden them.
var ErrDeletionBlocked = errors.New("products: deletion blocked by active orders")

// ReturnFailure captures a material return that could not be applied. Partial
// returns are reported, never silently swallowed.
type ReturnFailure struct {
	MaterialID int64
	Name       string
	Qty        float64
	Err        error
}

// DeletionResult reports what ExecuteDeletion actually did.
type DeletionResult struct {
	QtyRemoved       float64
	RemainingStock   float64
	Deleted          bool
	OrdersCancelled  []int64
	OrdersCompleted  []int64
	MaterialsReturns []ReturnFailure
}

// RecipeRef identifies a recipe tied to a product.
type RecipeRef struct {
	ID   int64
	Name string
	SKU  string
}

// ReturnLine is a material quantity owed back to stock for a reclaimed
// quantity of finished product.
type ReturnLine struct {
	MaterialID int64
	Name       string
	Qty        float64
}

// RecipePort exposes the recipe lookups the deletion analyzer needs.
type RecipePort interface {
	ListForProduct(ctx context.Context, name, sku string) ([]RecipeRef, error)
	Requirements(ctx context.Context, recipeID int64, qty float64) ([]ReturnLine, error)
}

// OrderRef is the analyzer's view of a production order.
type OrderRef struct {
	ID     int64
	Status string
	// Active marks orders that have not reached a terminal state.
	Active bool
}

// OrderPort exposes the production order operations the reclamation sequence
// drives.
type OrderPort interface {
	ListByRecipes(ctx context.Context, recipeIDs []int64) ([]OrderRef, error)
	Cancel(ctx context.Context, orderID int64) error
	// ForceCancel performs the compensating transition of an already-terminal
	// order, used when the product it produced is being removed.
	ForceCancel(ctx context.Context, orderID int64) error
	Complete(ctx context.Context, orderID int64) error
}

// LedgerPort performs atomic stock adjustments.
type LedgerPort interface {
	Adjust(ctx context.Context, ref ledger.Ref, delta float64, reason string) (float64, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}
