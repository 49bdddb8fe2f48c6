package production

import (
	"github.com/shopspring/decimal"

	"github.com/craftline-mfg/craftline/internal/shared"
)

// CompletionEvent summarises a successful order completion for notification
// sinks. Observable side effect, not a correctness requirement.
type CompletionEvent struct {
	OrderID     int64
	ProductName string
	ProductSKU  string
	QtyProduced float64
	OldStock    float64
	NewStock    float64
	OldUnitCost decimal.Decimal
	NewUnitCost decimal.Decimal
}

// Summary renders the event for a toast-style notification.
func (e CompletionEvent) Summary() string {
	return shared.Printer.Sprintf("Order %d completed: %s stock %v -> %v, unit cost %s -> %s",
		e.OrderID, e.ProductName, e.OldStock, e.NewStock, e.OldUnitCost.StringFixed(2), e.NewUnitCost.StringFixed(2))
}

// SyncReport summarises a completed-order reconciliation run.
type SyncReport struct {
	Scanned      int `json:"scanned"`
	Synced       int `json:"synced"`
	SKUsMigrated int `json:"skus_migrated"`
}
