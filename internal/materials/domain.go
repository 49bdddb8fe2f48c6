package materials

import "github.com/shopspring/decimal"

// Material is a tracked raw material. Stock quantities are mutated only
// through the stock ledger; this package reads them.
type Material struct {
	ID               int64
	Name             string
	SKU              string
	Unit             string
	PurchaseUnitCost decimal.Decimal
	StockQty         float64
	CommittedQty     float64
}

// AvailableQty is the stock not reserved by pending orders. Computed, never
// persisted as ground truth.
func (m Material) AvailableQty() float64 {
	return m.StockQty - m.CommittedQty
}
