package recipes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/craftline-mfg/craftline/internal/shared"
)

type memRepo struct {
	seq     int64
	boms    map[int64]BOM
	details map[int64][]LineDetail
}

func newMemRepo() *memRepo {
	return &memRepo{boms: map[int64]BOM{}, details: map[int64][]LineDetail{}}
}

func (m *memRepo) Get(_ context.Context, id int64) (BOM, error) {
	bom, ok := m.boms[id]
	if !ok {
		return BOM{}, shared.ErrNotFound
	}
	return bom, nil
}

func (m *memRepo) LineDetails(_ context.Context, id int64) ([]LineDetail, error) {
	if _, ok := m.boms[id]; !ok {
		return nil, shared.ErrNotFound
	}
	return m.details[id], nil
}

func (m *memRepo) List(_ context.Context) ([]BOM, error) {
	var out []BOM
	for _, bom := range m.boms {
		out = append(out, bom)
	}
	return out, nil
}

func (m *memRepo) ListForProduct(_ context.Context, name, sku string) ([]BOM, error) {
	var out []BOM
	for _, bom := range m.boms {
		if (sku != "" && bom.ProductSKU == sku) || (name != "" && bom.ProductName == name) {
			out = append(out, bom)
		}
	}
	return out, nil
}

func (m *memRepo) Upsert(_ context.Context, bom BOM) (BOM, error) {
	if bom.ID == 0 {
		m.seq++
		bom.ID = m.seq
	}
	m.boms[bom.ID] = bom
	return bom, nil
}

func (m *memRepo) UpdateSKU(_ context.Context, id int64, sku string) error {
	bom, ok := m.boms[id]
	if !ok {
		return shared.ErrNotFound
	}
	bom.ProductSKU = sku
	m.boms[id] = bom
	return nil
}

func (m *memRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.boms[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.boms, id)
	return nil
}

type stubCounter struct {
	active int
}

func (s *stubCounter) CountActiveByRecipe(_ context.Context, _ int64) (int, error) {
	return s.active, nil
}

func seededService(counter OrderCounter) (*Service, *memRepo) {
	repo := newMemRepo()
	repo.boms[1] = BOM{ID: 1, ProductName: "Shortbread", ProductSKU: "FG-20260101-001", Lines: []Line{
		{MaterialID: 10, QtyPerUnit: 2},
		{MaterialID: 11, QtyPerUnit: 0.5},
	}}
	repo.details[1] = []LineDetail{
		{MaterialID: 10, MaterialName: "flour", Unit: "kg", QtyPerUnit: 2},
		{MaterialID: 11, MaterialName: "butter", Unit: "kg", QtyPerUnit: 0.5},
	}
	return NewService(repo, counter), repo
}

func TestResolveScalesLines(t *testing.T) {
	svc, _ := seededService(nil)

	reqs, err := svc.Resolve(context.Background(), 1, 4)
	require.NoError(t, err)
	require.Equal(t, []Requirement{
		{MaterialID: 10, Qty: 8},
		{MaterialID: 11, Qty: 2},
	}, reqs, "line order preserved")
}

func TestResolveEmptyRecipe(t *testing.T) {
	svc, repo := seededService(nil)
	repo.boms[2] = BOM{ID: 2, ProductName: "Placeholder"}

	reqs, err := svc.Resolve(context.Background(), 2, 10)
	require.NoError(t, err)
	require.NotNil(t, reqs)
	require.Empty(t, reqs)
}

func TestResolveUnknownRecipe(t *testing.T) {
	svc, _ := seededService(nil)
	_, err := svc.Resolve(context.Background(), 99, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpsertValidates(t *testing.T) {
	svc, _ := seededService(nil)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, BOM{})
	require.ErrorIs(t, err, shared.ErrValidation, "name required")

	_, err = svc.Upsert(ctx, BOM{ProductName: "Scone", Lines: []Line{{MaterialID: 10, QtyPerUnit: 0}}})
	require.ErrorIs(t, err, shared.ErrValidation, "zero quantity rejected")

	bom, err := svc.Upsert(ctx, BOM{ProductName: "Scone", Lines: []Line{{MaterialID: 10, QtyPerUnit: 1}}})
	require.NoError(t, err)
	require.NotZero(t, bom.ID)
}

func TestDeleteGuardsActiveOrders(t *testing.T) {
	counter := &stubCounter{active: 2}
	svc, repo := seededService(counter)

	err := svc.Delete(context.Background(), 1)
	require.ErrorIs(t, err, ErrRecipeInUse)
	require.ErrorIs(t, err, shared.ErrStatusConflict)
	require.Contains(t, repo.boms, int64(1), "guarded recipe survives")

	counter.active = 0
	require.NoError(t, svc.Delete(context.Background(), 1))
	require.NotContains(t, repo.boms, int64(1))
}

func TestRequirementsScaleForReclaim(t *testing.T) {
	svc, _ := seededService(nil)

	lines, err := svc.Requirements(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "flour", lines[0].Name)
	require.Equal(t, 6.0, lines[0].Qty)
	require.Equal(t, 1.5, lines[1].Qty)
}

func TestListForProductMatchesSKUOrName(t *testing.T) {
	svc, repo := seededService(nil)
	repo.boms[2] = BOM{ID: 2, ProductName: "Shortbread", ProductSKU: "legacy-code"}

	refs, err := svc.ListForProduct(context.Background(), "Shortbread", "FG-20260101-001")
	require.NoError(t, err)
	require.Len(t, refs, 2, "matched by SKU and by name fallback")
}
