package production

import "github.com/shopspring/decimal"

// AbsorbCost folds a completed order's total cost into the existing stock and
// returns the new weighted-average unit cost. When the combined quantity is
// not positive the existing unit cost is retained so a persisted cost can
// never become NaN or infinite.
func AbsorbCost(existingQty float64, existingUnitCost decimal.Decimal, incomingQty float64, incomingTotalCost decimal.Decimal) decimal.Decimal {
	denom := existingQty + incomingQty
	if denom <= 0 {
		return existingUnitCost
	}
	existingValue := existingUnitCost.Mul(decimal.NewFromFloat(existingQty))
	return existingValue.Add(incomingTotalCost).DivRound(decimal.NewFromFloat(denom), 6)
}

// DefaultPrice keeps an explicitly set price verbatim and otherwise derives
// one from unit cost and the configured markup.
func DefaultPrice(existing, unitCost decimal.Decimal, markup float64) decimal.Decimal {
	if !existing.IsZero() {
		return existing
	}
	return unitCost.Mul(decimal.NewFromFloat(markup)).Round(2)
}
