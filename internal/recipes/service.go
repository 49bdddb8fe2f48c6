package recipes

import (
	"context"
	"fmt"

	"github.com/craftline-mfg/craftline/internal/products"
	"github.com/craftline-mfg/craftline/internal/shared"
)

// RepositoryPort abstracts recipe persistence for the service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (BOM, error)
	LineDetails(ctx context.Context, id int64) ([]LineDetail, error)
	List(ctx context.Context) ([]BOM, error)
	ListForProduct(ctx context.Context, name, sku string) ([]BOM, error)
	Upsert(ctx context.Context, bom BOM) (BOM, error)
	UpdateSKU(ctx context.Context, id int64, sku string) error
	Delete(ctx context.Context, id int64) error
}

// OrderCounter reports how many active production orders reference a recipe.
type OrderCounter interface {
	CountActiveByRecipe(ctx context.Context, recipeID int64) (int, error)
}

// Service owns recipe reads, writes and resolution.
type Service struct {
	repo   RepositoryPort
	orders OrderCounter
}

// NewService builds Service. The order counter may be nil, in which case
// deletes skip the active-order guard.
func NewService(repo RepositoryPort, orders OrderCounter) *Service {
	return &Service{repo: repo, orders: orders}
}

// Get returns a recipe by id.
func (s *Service) Get(ctx context.Context, id int64) (BOM, error) {
	return s.repo.Get(ctx, id)
}

// List returns all recipe headers.
func (s *Service) List(ctx context.Context) ([]BOM, error) {
	return s.repo.List(ctx)
}

// Resolve expands the recipe into material requirements for qty produced
// units, in line order. A recipe without lines resolves to an empty list.
func (s *Service) Resolve(ctx context.Context, recipeID int64, qty float64) ([]Requirement, error) {
	bom, err := s.repo.Get(ctx, recipeID)
	if err != nil {
		return nil, fmt.Errorf("recipes: resolve %d: %w", recipeID, err)
	}
	reqs := make([]Requirement, 0, len(bom.Lines))
	for _, line := range bom.Lines {
		reqs = append(reqs, Requirement{MaterialID: line.MaterialID, Qty: line.QtyPerUnit * qty})
	}
	return reqs, nil
}

// Upsert validates and persists a recipe.
func (s *Service) Upsert(ctx context.Context, bom BOM) (BOM, error) {
	if bom.ProductName == "" {
		return BOM{}, fmt.Errorf("recipes: product name required: %w", shared.ErrValidation)
	}
	for _, line := range bom.Lines {
		if line.MaterialID == 0 || line.QtyPerUnit <= 0 {
			return BOM{}, fmt.Errorf("recipes: line requires material and positive quantity: %w", shared.ErrValidation)
		}
	}
	return s.repo.Upsert(ctx, bom)
}

// UpdateSKU migrates the recipe's product SKU.
func (s *Service) UpdateSKU(ctx context.Context, id int64, sku string) error {
	return s.repo.UpdateSKU(ctx, id, sku)
}

// Delete removes a recipe unless active orders still reference it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if s.orders != nil {
		active, err := s.orders.CountActiveByRecipe(ctx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: %d active orders: %w", ErrRecipeInUse, active, shared.ErrStatusConflict)
		}
	}
	return s.repo.Delete(ctx, id)
}

// ListForProduct implements the product deletion analyzer's recipe lookup.
func (s *Service) ListForProduct(ctx context.Context, name, sku string) ([]products.RecipeRef, error) {
	boms, err := s.repo.ListForProduct(ctx, name, sku)
	if err != nil {
		return nil, err
	}
	refs := make([]products.RecipeRef, 0, len(boms))
	for _, bom := range boms {
		refs = append(refs, products.RecipeRef{ID: bom.ID, Name: bom.ProductName, SKU: bom.ProductSKU})
	}
	return refs, nil
}

// Requirements returns the materials owed back to stock when qty finished
// units are reclaimed.
func (s *Service) Requirements(ctx context.Context, recipeID int64, qty float64) ([]products.ReturnLine, error) {
	details, err := s.repo.LineDetails(ctx, recipeID)
	if err != nil {
		return nil, err
	}
	lines := make([]products.ReturnLine, 0, len(details))
	for _, d := range details {
		lines = append(lines, products.ReturnLine{MaterialID: d.MaterialID, Name: d.MaterialName, Qty: d.QtyPerUnit * qty})
	}
	return lines, nil
}
