package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/craftline-mfg/craftline/internal/observability"
	"github.com/craftline-mfg/craftline/internal/shared"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeStore scripts the handful of statements the ledger issues. Stock is
// keyed by item id; the adjust_stock function can be made to fail the way a
// half-migrated database would.
type fakeStore struct {
	stock map[int64]float64

	fnErr      error // returned by the adjust_stock call
	casMisses  int   // CAS writes that report zero rows before one lands
	historyErr error

	atomicCalls int
	readCalls   int
	casWrites   int
	historyRows int
}

func (f *fakeStore) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.HasPrefix(sql, "SELECT adjust_stock"):
		f.atomicCalls++
		return fakeRow{scan: func(dest ...any) error {
			if f.fnErr != nil {
				return f.fnErr
			}
			id, delta := args[1].(int64), args[2].(float64)
			out := dest[0].(**float64)
			cur, ok := f.stock[id]
			if !ok {
				*out = nil
				return nil
			}
			next := cur + delta
			if next < 0 {
				return &pgconn.PgError{Code: "23514"}
			}
			f.stock[id] = next
			*out = &next
			return nil
		}}
	case strings.HasPrefix(sql, "SELECT stock_qty"):
		f.readCalls++
		return fakeRow{scan: func(dest ...any) error {
			cur, ok := f.stock[args[0].(int64)]
			if !ok {
				return pgx.ErrNoRows
			}
			*dest[0].(*float64) = cur
			return nil
		}}
	default:
		return fakeRow{scan: func(...any) error {
			return errors.New("unexpected query: " + sql)
		}}
	}
}

func (f *fakeStore) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.HasPrefix(sql, "UPDATE"):
		f.casWrites++
		if f.casMisses > 0 {
			f.casMisses--
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		f.stock[args[1].(int64)] = args[0].(float64)
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.HasPrefix(sql, "INSERT INTO stock_history"):
		if f.historyErr != nil {
			return pgconn.CommandTag{}, f.historyErr
		}
		f.historyRows++
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	default:
		return pgconn.CommandTag{}, errors.New("unexpected exec: " + sql)
	}
}

func (f *fakeStore) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query: " + sql)
}

func newTestLedger(store *fakeStore) *Ledger {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedger(store, logger, observability.NewMetrics())
}

func TestAdjustUsesAtomicFunction(t *testing.T) {
	store := &fakeStore{stock: map[int64]float64{1: 10}}
	l := newTestLedger(store)

	after, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 1, Name: "flour"}, -4, "test")
	require.NoError(t, err)
	require.Equal(t, 6.0, after)
	require.Equal(t, 1, store.atomicCalls)
	require.Zero(t, store.readCalls, "healthy path never read-modify-writes")
	require.False(t, l.Degraded())
	require.Equal(t, 1, store.historyRows)
}

func TestAdjustRejectsNegativeResult(t *testing.T) {
	store := &fakeStore{stock: map[int64]float64{1: 3}}
	l := newTestLedger(store)

	_, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 1}, -5, "test")
	require.ErrorIs(t, err, ErrInsufficientStock)
	var adjErr *AdjustmentError
	require.ErrorAs(t, err, &adjErr)
	require.Equal(t, 3.0, store.stock[1], "rejected adjustment leaves stock untouched")
	require.Zero(t, store.historyRows)
}

func TestAdjustUnknownItem(t *testing.T) {
	store := &fakeStore{stock: map[int64]float64{}}
	l := newTestLedger(store)

	_, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 9}, 1, "test")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustFallsBackWhenFunctionMissing(t *testing.T) {
	for _, code := range []string{"42883", "42P01"} {
		t.Run(code, func(t *testing.T) {
			store := &fakeStore{
				stock: map[int64]float64{1: 10},
				fnErr: &pgconn.PgError{Code: code},
			}
			l := newTestLedger(store)

			after, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 1}, -4, "test")
			require.NoError(t, err)
			require.Equal(t, 6.0, after)
			require.True(t, l.Degraded(), "missing server-side function flips the sticky flag")
			require.Equal(t, 1, store.atomicCalls)
			require.Equal(t, 1, store.readCalls)

			// Once degraded, stays degraded: no second probe of the function.
			_, err = l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 1}, -1, "test")
			require.NoError(t, err)
			require.Equal(t, 1, store.atomicCalls)
			require.Equal(t, 2, store.readCalls)
			require.Equal(t, 5.0, store.stock[1])
		})
	}
}

func TestAdjustDoesNotDegradeOnOtherErrors(t *testing.T) {
	store := &fakeStore{
		stock: map[int64]float64{1: 10},
		fnErr: errors.New("connection reset"),
	}
	l := newTestLedger(store)

	_, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 1}, -1, "test")
	require.Error(t, err)
	require.False(t, l.Degraded())
	require.Zero(t, store.readCalls)
}

func TestFallbackRejectsNegativeBeforeWriting(t *testing.T) {
	store := &fakeStore{stock: map[int64]float64{1: 3}}
	l := newTestLedger(store)
	l.degraded.Store(true)

	_, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 1}, -5, "test")
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Zero(t, store.casWrites)
	require.Equal(t, 3.0, store.stock[1])
}

func TestFallbackRetriesAfterRace(t *testing.T) {
	store := &fakeStore{stock: map[int64]float64{1: 10}, casMisses: 1}
	l := newTestLedger(store)
	l.degraded.Store(true)

	after, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 1}, -2, "test")
	require.NoError(t, err)
	require.Equal(t, 8.0, after)
	require.Equal(t, 2, store.casWrites, "one lost race, one landed write")
}

func TestFallbackGivesUpAfterBoundedRetries(t *testing.T) {
	store := &fakeStore{stock: map[int64]float64{1: 10}, casMisses: casAttempts}
	l := newTestLedger(store)
	l.degraded.Store(true)

	_, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 1}, -2, "test")
	require.ErrorContains(t, err, "gave up")
	require.Equal(t, casAttempts, store.casWrites)
	require.Equal(t, 10.0, store.stock[1])
}

func TestHistoryAppendIsBestEffort(t *testing.T) {
	store := &fakeStore{
		stock:      map[int64]float64{1: 10},
		historyErr: errors.New("history table locked"),
	}
	l := newTestLedger(store)

	after, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 1}, -1, "test")
	require.NoError(t, err, "a failed history append never fails the adjustment")
	require.Equal(t, 9.0, after)
}

func TestAdjustRejectsZeroID(t *testing.T) {
	l := newTestLedger(&fakeStore{stock: map[int64]float64{}})

	_, err := l.Adjust(context.Background(), Ref{Kind: KindMaterial, ID: 0}, 1, "test")
	require.ErrorIs(t, err, shared.ErrValidation)
}

