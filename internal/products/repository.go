package products

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftline-mfg/craftline/internal/shared"
)

// Repository persists finished products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, name, sku, stock_qty, unit_cost, retail_price, wholesale_price`

// Get returns a product by id.
func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	return r.one(ctx, `SELECT `+productColumns+` FROM finished_products WHERE id = $1`, id)
}

// FindBySKU returns the product carrying sku.
func (r *Repository) FindBySKU(ctx context.Context, sku string) (Product, error) {
	return r.one(ctx, `SELECT `+productColumns+` FROM finished_products WHERE sku = $1`, sku)
}

// FindByName returns the product by name, the migration fallback when a
// recipe's SKU has not been canonicalised yet.
func (r *Repository) FindByName(ctx context.Context, name string) (Product, error) {
	return r.one(ctx, `SELECT `+productColumns+` FROM finished_products WHERE name = $1`, name)
}

func (r *Repository) one(ctx context.Context, query string, arg any) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, query, arg).Scan(&p.ID, &p.Name, &p.SKU, &p.StockQty, &p.UnitCost, &p.RetailPrice, &p.WholesalePrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// List returns all products ordered by name.
func (r *Repository) List(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM finished_products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.StockQty, &p.UnitCost, &p.RetailPrice, &p.WholesalePrice); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// AllSKUs returns every known product SKU, used to deduplicate minted codes.
func (r *Repository) AllSKUs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT sku FROM finished_products`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skus []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		skus = append(skus, s)
	}
	return skus, rows.Err()
}

// Upsert inserts the product or updates it in place, keyed by SKU.
func (r *Repository) Upsert(ctx context.Context, p Product) (Product, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO finished_products (name, sku, stock_qty, unit_cost, retail_price, wholesale_price)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (sku) DO UPDATE SET
		   name = EXCLUDED.name,
		   stock_qty = EXCLUDED.stock_qty,
		   unit_cost = EXCLUDED.unit_cost,
		   retail_price = EXCLUDED.retail_price,
		   wholesale_price = EXCLUDED.wholesale_price,
		   updated_at = NOW()
		 RETURNING id`,
		p.Name, p.SKU, p.StockQty, p.UnitCost, p.RetailPrice, p.WholesalePrice).Scan(&p.ID)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// UpdateSKU rewrites a product's SKU in place, keeping its id. The upsert
// cannot do this because it conflicts on the SKU itself.
func (r *Repository) UpdateSKU(ctx context.Context, id int64, sku string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE finished_products SET sku = $2, updated_at = NOW() WHERE id = $1`, id, sku)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes the product record.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM finished_products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
