package production

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAbsorbCost(t *testing.T) {
	cases := []struct {
		name         string
		existingQty  float64
		existingCost string
		incomingQty  float64
		incomingTot  string
		want         string
	}{
		{"weighted average", 10, "100", 5, "600", "106.666667"},
		{"first batch", 0, "0", 4, "100", "25"},
		{"equal weights", 2, "10", 2, "40", "15"},
		{"fractional quantities", 1.5, "8", 0.5, "6", "9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AbsorbCost(tc.existingQty, decimal.RequireFromString(tc.existingCost),
				tc.incomingQty, decimal.RequireFromString(tc.incomingTot))
			require.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestAbsorbCostZeroDenominator(t *testing.T) {
	existing := decimal.RequireFromString("12.50")
	got := AbsorbCost(0, existing, 0, decimal.NewFromInt(100))
	require.True(t, got.Equal(existing), "existing cost retained, got %s", got)
}

func TestDefaultPrice(t *testing.T) {
	unit := decimal.RequireFromString("10.00")

	derived := DefaultPrice(decimal.Zero, unit, 1.6)
	require.True(t, derived.Equal(decimal.NewFromInt(16)), "got %s", derived)

	set := decimal.RequireFromString("14.99")
	kept := DefaultPrice(set, unit, 1.6)
	require.True(t, kept.Equal(set), "explicit price must win, got %s", kept)
}
