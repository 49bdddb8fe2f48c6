package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ItemKind selects which inventory collection an adjustment targets.
type ItemKind string

const (
	// KindMaterial targets raw material stock.
	KindMaterial ItemKind = "material"
	// KindProduct targets finished product stock.
	KindProduct ItemKind = "product"
)

// Ref identifies a single inventory item for adjustment.
type Ref struct {
	Kind ItemKind
	ID   int64
	Name string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Entry is an immutable stock-history record appended after a successful
// adjustment. History is diagnostic: a failed append never rolls back the
// movement it describes.
type Entry struct {
	ID        string
	Kind      ItemKind
	ItemID    int64
	Delta     float64
	QtyBefore float64
	QtyAfter  float64
	Reason    string
	Actor     string
	At        time.Time
}

// ErrInsufficientStock is returned when an adjustment would drive stock
// negative. Stock is left unchanged.
var ErrInsufficientStock = errors.New("ledger: insufficient stock")

// AdjustmentError wraps a failed adjustment with the item it targeted.
type AdjustmentError struct {
	Ref Ref
	Err error
}

func (e *AdjustmentError) Error() string {
	return fmt.Sprintf("ledger: adjust %s: %v", e.Ref, e.Err)
}

func (e *AdjustmentError) Unwrap() error {
	return e.Err
}
