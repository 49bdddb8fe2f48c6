package recipes

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftline-mfg/craftline/internal/platform/db"
	"github.com/craftline-mfg/craftline/internal/shared"
)

// Repository persists recipes in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the recipe with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (BOM, error) {
	var bom BOM
	err := r.pool.QueryRow(ctx,
		`SELECT id, product_name, product_sku, notes FROM recipes WHERE id = $1`, id).
		Scan(&bom.ID, &bom.ProductName, &bom.ProductSKU, &bom.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BOM{}, shared.ErrNotFound
		}
		return BOM{}, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT material_id, qty_per_unit FROM recipe_lines WHERE recipe_id = $1 ORDER BY id`, id)
	if err != nil {
		return BOM{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.MaterialID, &line.QtyPerUnit); err != nil {
			return BOM{}, err
		}
		bom.Lines = append(bom.Lines, line)
	}
	return bom, rows.Err()
}

// LineDetails returns the recipe lines joined with material fields, in line
// order. Line order is the deterministic apply order for completions.
func (r *Repository) LineDetails(ctx context.Context, id int64) ([]LineDetail, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT l.material_id, m.name, m.unit, l.qty_per_unit
		 FROM recipe_lines l JOIN materials m ON m.id = l.material_id
		 WHERE l.recipe_id = $1 ORDER BY l.id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []LineDetail
	for rows.Next() {
		var d LineDetail
		if err := rows.Scan(&d.MaterialID, &d.MaterialName, &d.Unit, &d.QtyPerUnit); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// List returns all recipes without lines.
func (r *Repository) List(ctx context.Context) ([]BOM, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_name, product_sku, notes FROM recipes ORDER BY product_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BOM
	for rows.Next() {
		var bom BOM
		if err := rows.Scan(&bom.ID, &bom.ProductName, &bom.ProductSKU, &bom.Notes); err != nil {
			return nil, err
		}
		result = append(result, bom)
	}
	return result, rows.Err()
}

// ListForProduct returns recipes whose product identity matches by SKU or,
// as a migration fallback, by name.
func (r *Repository) ListForProduct(ctx context.Context, name, sku string) ([]BOM, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, product_name, product_sku, notes FROM recipes WHERE product_sku = $1 OR product_name = $2`,
		sku, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BOM
	for rows.Next() {
		var bom BOM
		if err := rows.Scan(&bom.ID, &bom.ProductName, &bom.ProductSKU, &bom.Notes); err != nil {
			return nil, err
		}
		result = append(result, bom)
	}
	return result, rows.Err()
}

// Upsert writes the recipe header and replaces its lines in one transaction.
func (r *Repository) Upsert(ctx context.Context, bom BOM) (BOM, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if bom.ID == 0 {
			if err := tx.QueryRow(ctx,
				`INSERT INTO recipes (product_name, product_sku, notes) VALUES ($1, $2, $3) RETURNING id`,
				bom.ProductName, bom.ProductSKU, bom.Notes).Scan(&bom.ID); err != nil {
				return err
			}
		} else {
			tag, err := tx.Exec(ctx,
				`UPDATE recipes SET product_name = $1, product_sku = $2, notes = $3, updated_at = NOW() WHERE id = $4`,
				bom.ProductName, bom.ProductSKU, bom.Notes, bom.ID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return shared.ErrNotFound
			}
			if _, err := tx.Exec(ctx, `DELETE FROM recipe_lines WHERE recipe_id = $1`, bom.ID); err != nil {
				return err
			}
		}
		for _, line := range bom.Lines {
			if _, err := tx.Exec(ctx,
				`INSERT INTO recipe_lines (recipe_id, material_id, qty_per_unit) VALUES ($1, $2, $3)`,
				bom.ID, line.MaterialID, line.QtyPerUnit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BOM{}, err
	}
	return bom, nil
}

// UpdateSKU migrates the recipe's product SKU to a canonical code.
func (r *Repository) UpdateSKU(ctx context.Context, id int64, sku string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE recipes SET product_sku = $1, updated_at = NOW() WHERE id = $2`, sku, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes the recipe and its lines.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recipe_lines WHERE recipe_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM recipes WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}
