package materials

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftline-mfg/craftline/internal/shared"
)

// Repository reads material records from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const materialColumns = `id, name, sku, unit, purchase_unit_cost, stock_qty, committed_qty`

// Get returns a single material by id.
func (r *Repository) Get(ctx context.Context, id int64) (Material, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = $1`, id)
	m, err := scanMaterial(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, shared.ErrNotFound
		}
		return Material{}, err
	}
	return m, nil
}

// List returns all materials ordered by name.
func (r *Repository) List(ctx context.Context) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+materialColumns+` FROM materials ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMaterials(rows)
}

// ListByIDs returns the materials matching ids. Missing ids are simply absent
// from the result; callers decide whether that is fatal.
func (r *Repository) ListByIDs(ctx context.Context, ids []int64) ([]Material, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMaterials(rows)
}

// ListLowStock returns materials whose available stock is at or below the
// threshold.
func (r *Repository) ListLowStock(ctx context.Context, threshold float64) ([]Material, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+materialColumns+` FROM materials WHERE stock_qty - committed_qty <= $1 ORDER BY stock_qty - committed_qty`,
		threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMaterials(rows)
}

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	if err := row.Scan(&m.ID, &m.Name, &m.SKU, &m.Unit, &m.PurchaseUnitCost, &m.StockQty, &m.CommittedQty); err != nil {
		return Material{}, err
	}
	return m, nil
}

func collectMaterials(rows pgx.Rows) ([]Material, error) {
	var result []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
