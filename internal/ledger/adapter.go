package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/craftline-mfg/craftline/internal/observability"
	"github.com/craftline-mfg/craftline/internal/shared"
)

// Postgres error codes the adapter reacts to.
const (
	codeCheckViolation    = "23514"
	codeUndefinedFunction = "42883"
	codeUndefinedTable    = "42P01"
)

// casAttempts bounds the optimistic retry loop in degraded mode.
const casAttempts = 3

// Querier is the subset of *pgxpool.Pool the ledger touches.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Ledger performs atomic signed stock adjustments against PostgreSQL.
//
// The preferred path calls the adjust_stock server-side function, which adds
// the delta and rejects negative results in a single statement. When the
// function is missing from the installation the adapter drops into a degraded
// compare-and-swap mode. The degraded path is not equivalent under heavy
// concurrency and is surfaced through logs and metrics every time it runs.
type Ledger struct {
	pool     Querier
	logger   *slog.Logger
	metrics  *observability.Metrics
	degraded atomic.Bool
}

// NewLedger constructs a Ledger.
func NewLedger(pool Querier, logger *slog.Logger, metrics *observability.Metrics) *Ledger {
	return &Ledger{pool: pool, logger: logger, metrics: metrics}
}

// Degraded reports whether the adapter has fallen back to the non-atomic path.
func (l *Ledger) Degraded() bool {
	return l.degraded.Load()
}

// Adjust atomically adds delta to the item's stock and returns the new
// quantity. The adjustment is rejected with ErrInsufficientStock when the
// result would be negative, leaving stock untouched.
func (l *Ledger) Adjust(ctx context.Context, ref Ref, delta float64, reason string) (float64, error) {
	if ref.ID == 0 {
		return 0, &AdjustmentError{Ref: ref, Err: shared.ErrValidation}
	}

	var (
		before, after float64
		err           error
	)
	if l.degraded.Load() {
		before, after, err = l.adjustFallback(ctx, ref, delta)
	} else {
		before, after, err = l.adjustAtomic(ctx, ref, delta)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == codeUndefinedFunction || pgErr.Code == codeUndefinedTable) {
			l.logger.Warn("atomic stock adjustment unavailable, entering degraded mode",
				slog.String("item", ref.String()), slog.String("code", pgErr.Code))
			l.degraded.Store(true)
			before, after, err = l.adjustFallback(ctx, ref, delta)
		}
	}
	if err != nil {
		return 0, &AdjustmentError{Ref: ref, Err: err}
	}

	l.appendHistory(ctx, Entry{
		ID:        uuid.NewString(),
		Kind:      ref.Kind,
		ItemID:    ref.ID,
		Delta:     delta,
		QtyBefore: before,
		QtyAfter:  after,
		Reason:    reason,
		Actor:     shared.ActorFromContext(ctx),
		At:        time.Now().UTC(),
	})
	return after, nil
}

func (l *Ledger) adjustAtomic(ctx context.Context, ref Ref, delta float64) (float64, float64, error) {
	var newQty *float64
	err := l.pool.QueryRow(ctx, `SELECT adjust_stock($1, $2, $3)`, string(ref.Kind), ref.ID, delta).Scan(&newQty)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeCheckViolation {
			return 0, 0, ErrInsufficientStock
		}
		return 0, 0, err
	}
	if newQty == nil {
		return 0, 0, shared.ErrNotFound
	}
	return *newQty - delta, *newQty, nil
}

// adjustFallback reads the current quantity and writes the new value guarded
// by a compare-and-swap predicate. Not safe as a general replacement for the
// atomic path: a writer racing between attempts forces a bounded retry, and
// exhausting the retries fails the adjustment.
func (l *Ledger) adjustFallback(ctx context.Context, ref Ref, delta float64) (float64, float64, error) {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return 0, 0, err
	}
	l.metrics.ObserveDegradedAdjustment()
	l.logger.Warn("stock adjustment using degraded read-modify-write path",
		slog.String("item", ref.String()), slog.Float64("delta", delta))

	for attempt := 0; attempt < casAttempts; attempt++ {
		var current float64
		err := l.pool.QueryRow(ctx, `SELECT stock_qty FROM `+table+` WHERE id = $1`, ref.ID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, 0, shared.ErrNotFound
			}
			return 0, 0, err
		}
		next := current + delta
		if next < 0 {
			return 0, 0, ErrInsufficientStock
		}
		tag, err := l.pool.Exec(ctx, `UPDATE `+table+` SET stock_qty = $1, updated_at = NOW() WHERE id = $2 AND stock_qty = $3`, next, ref.ID, current)
		if err != nil {
			return 0, 0, err
		}
		if tag.RowsAffected() == 1 {
			return current, next, nil
		}
	}
	return 0, 0, fmt.Errorf("ledger: concurrent update, gave up after %d attempts", casAttempts)
}

func (l *Ledger) appendHistory(ctx context.Context, entry Entry) {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO stock_history (id, item_kind, item_id, delta, qty_before, qty_after, reason, actor, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, string(entry.Kind), entry.ItemID, entry.Delta, entry.QtyBefore, entry.QtyAfter, entry.Reason, entry.Actor, entry.At)
	if err != nil {
		l.logger.Warn("stock history append failed",
			slog.String("item", fmt.Sprintf("%s:%d", entry.Kind, entry.ItemID)),
			slog.Any("error", err))
	}
}

// ListHistory returns the most recent history entries for an item.
func (l *Ledger) ListHistory(ctx context.Context, ref Ref, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, item_kind, item_id, delta, qty_before, qty_after, reason, actor, occurred_at
		 FROM stock_history WHERE item_kind = $1 AND item_id = $2
		 ORDER BY occurred_at DESC LIMIT $3`,
		string(ref.Kind), ref.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.ItemID, &e.Delta, &e.QtyBefore, &e.QtyAfter, &e.Reason, &e.Actor, &e.At); err != nil {
			return nil, err
		}
		e.Kind = ItemKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func tableFor(kind ItemKind) (string, error) {
	switch kind {
	case KindMaterial:
		return "materials", nil
	case KindProduct:
		return "finished_products", nil
	default:
		return "", fmt.Errorf("ledger: unknown item kind %q", kind)
	}
}
