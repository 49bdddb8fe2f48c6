package production

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftline-mfg/craftline/internal/shared"
)

// Repository persists production orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, recipe_id, qty, status, materials_cost, additional_costs, total_cost, created_at, completed_at`

// Create inserts a new order and returns its id.
func (r *Repository) Create(ctx context.Context, order Order) (int64, error) {
	extras, err := json.Marshal(order.AdditionalCosts)
	if err != nil {
		return 0, fmt.Errorf("production: marshal cost lines: %w", err)
	}
	var id int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO production_orders (recipe_id, qty, status, materials_cost, additional_costs, total_cost)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		order.RecipeID, order.Qty, string(order.Status), order.MaterialsCost, extras, order.TotalCost).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns an order by id.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM production_orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.ErrNotFound
		}
		return Order{}, err
	}
	return order, nil
}

// ListByStatus returns orders in the given status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM production_orders WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// List returns all orders, newest first.
func (r *Repository) List(ctx context.Context) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM production_orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListByRecipes returns orders referencing any of the recipe ids.
func (r *Repository) ListByRecipes(ctx context.Context, recipeIDs []int64) ([]Order, error) {
	if len(recipeIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM production_orders WHERE recipe_id = ANY($1) ORDER BY created_at`, recipeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// CountActiveByRecipe counts non-terminal orders referencing the recipe.
func (r *Repository) CountActiveByRecipe(ctx context.Context, recipeID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM production_orders WHERE recipe_id = $1 AND status IN ($2, $3)`,
		recipeID, string(StatusPending), string(StatusInProgress)).Scan(&count)
	return count, err
}

// UpdateStatus moves the order from one status to another. The predicate on
// the current status makes concurrent transitions lose cleanly: zero rows
// affected means someone else moved the order first.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE production_orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("production: order %d no longer %s: %w", id, from, shared.ErrStatusConflict)
	}
	return nil
}

// SetCompleted transitions to COMPLETED and stamps the completion time, with
// the same current-status predicate as UpdateStatus.
func (r *Repository) SetCompleted(ctx context.Context, id int64, from Status, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE production_orders SET status = $1, completed_at = $2, updated_at = NOW() WHERE id = $3 AND status = $4`,
		string(StatusCompleted), at, id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("production: order %d no longer %s: %w", id, from, shared.ErrStatusConflict)
	}
	return nil
}

// ForceStatus writes the status unconditionally. Reserved for compensating
// transitions after an upstream failure or a product reclamation.
func (r *Repository) ForceStatus(ctx context.Context, id int64, to Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE production_orders SET status = $1, updated_at = NOW() WHERE id = $2`, string(to), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		order  Order
		status string
		extras []byte
	)
	if err := row.Scan(&order.ID, &order.RecipeID, &order.Qty, &status, &order.MaterialsCost, &extras, &order.TotalCost, &order.CreatedAt, &order.CompletedAt); err != nil {
		return Order{}, err
	}
	order.Status = Status(status)
	if len(extras) > 0 {
		if err := json.Unmarshal(extras, &order.AdditionalCosts); err != nil {
			return Order{}, fmt.Errorf("production: unmarshal cost lines: %w", err)
		}
	}
	return order, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var result []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	return result, rows.Err()
}
