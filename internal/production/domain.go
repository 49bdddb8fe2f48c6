package production

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/craftline-mfg/craftline/internal/ledger"
)

// Status enumerates the production order lifecycle.
type Status string

const (
	// StatusPending means the order is created and materials are reserved
	// only as an estimate. No stock has been touched.
	StatusPending Status = "PENDING"
	// StatusInProgress means production is underway. No stock has been
	// touched yet.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCompleted means materials were deducted exactly once and the
	// finished good absorbed the order's cost. Terminal for stock purposes.
	StatusCompleted Status = "COMPLETED"
	// StatusSynced means the finished good's SKU and stock were reconciled
	// into the canonical catalog. Reachable only from COMPLETED.
	StatusSynced Status = "SYNCED"
	// StatusCancelled is terminal. Also used as a compensating transition
	// when a later operation invalidates an already-completed order.
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusSynced},
}

// CanTransition reports whether the move from one status to another is part
// of the normal lifecycle. Compensating cancellation of terminal orders goes
// through ForceCancel instead.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether the order still occupies a non-terminal state.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusSynced, StatusCancelled:
		return true
	}
	return false
}

// CostLine is a labelled additional cost attached to an order.
type CostLine struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// Order is a production order.
type Order struct {
	ID              int64
	RecipeID        int64
	Qty             float64
	Status          Status
	MaterialsCost   decimal.Decimal
	AdditionalCosts []CostLine
	TotalCost       decimal.Decimal
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// AppliedDelta records one successfully applied stock deduction, in apply
// order, so a rollback can reverse them precisely.
type AppliedDelta struct {
	Ref   ledger.Ref
	Delta float64
}

// InsufficientStockError reports a pre-check failure. Nothing was mutated and
// the operation is safe to retry after restocking.
type InsufficientStockError struct {
	MaterialID int64
	Name       string
	Available  float64
	Required   float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("production: insufficient stock of %s (material %d): available %g, required %g",
		e.Name, e.MaterialID, e.Available, e.Required)
}

// RollbackError reports that a compensating adjustment itself failed, leaving
// inventory in a known-inconsistent state. Callers must escalate it for
// manual intervention rather than retry.
type RollbackError struct {
	Applied []AppliedDelta
	Cause   error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("production: rollback failed with %d deltas outstanding: %v", len(e.Applied), e.Cause)
}

func (e *RollbackError) Unwrap() error {
	return e.Cause
}

// ErrSyncRunning indicates a reconciliation batch is already in flight. The
// second invocation is rejected, not queued.
var ErrSyncRunning = errors.New("production: reconciliation already running")
