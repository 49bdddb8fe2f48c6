package products

import (
	"fmt"
	"regexp"
	"time"
)

// Canonical finished-good SKUs are date-coded with a sequence suffix, e.g.
// FG-20260830-007.
var canonicalSKU = regexp.MustCompile(`^FG-\d{8}-\d{3,}$`)

// IsCanonicalSKU reports whether sku already matches the canonical format.
func IsCanonicalSKU(sku string) bool {
	return canonicalSKU.MatchString(sku)
}

// EnsureCanonical returns sku unchanged when it is already canonical,
// otherwise mints the next unused sequence for the given date. The result is
// deterministic for a given input set and never collides with a member of
// known.
func EnsureCanonical(sku string, known map[string]struct{}, date time.Time) string {
	if IsCanonicalSKU(sku) {
		return sku
	}
	code := date.Format("20060102")
	for seq := 1; ; seq++ {
		candidate := fmt.Sprintf("FG-%s-%03d", code, seq)
		if _, taken := known[candidate]; !taken {
			return candidate
		}
	}
}

// SKUSet builds a lookup set from a list of codes.
func SKUSet(skus []string) map[string]struct{} {
	set := make(map[string]struct{}, len(skus))
	for _, s := range skus {
		set[s] = struct{}{}
	}
	return set
}
