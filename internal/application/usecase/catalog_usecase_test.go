package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	"github.com/jhoicas/stock-ledger/internal/application/usecase"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
)

func TestProductUseCase_CreateYDuplicado(t *testing.T) {
	store, err := memory.NewStore()
	require.NoError(t, err)
	uc := usecase.NewProductUseCase(store.Products())
	ctx := context.Background()

	p, err := uc.Create(ctx, "c1", dto.CreateProductRequest{SKU: " A-1 ", Name: "Tornillo", ReorderPoint: 10})
	require.NoError(t, err)
	assert.Equal(t, "A-1", p.SKU)
	assert.True(t, p.Cost.IsZero())

	_, err = uc.Create(ctx, "c1", dto.CreateProductRequest{SKU: "A-1", Name: "Otro"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	// El mismo SKU en otra empresa es válido
	_, err = uc.Create(ctx, "c2", dto.CreateProductRequest{SKU: "A-1", Name: "Tornillo"})
	assert.NoError(t, err)

	_, err = uc.Create(ctx, "c1", dto.CreateProductRequest{Name: "Sin sku"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = uc.GetByID(ctx, "c2", p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := uc.List(ctx, "c1", 20, 0)
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)
}

func TestLocationUseCase_Create(t *testing.T) {
	store, err := memory.NewStore()
	require.NoError(t, err)
	uc := usecase.NewLocationUseCase(store.Locations())
	ctx := context.Background()

	loc, err := uc.Create(ctx, "c1", dto.CreateLocationRequest{Name: "Bodega Norte"})
	require.NoError(t, err)
	assert.Equal(t, "warehouse", loc.Kind)

	_, err = uc.Create(ctx, "c1", dto.CreateLocationRequest{Name: "Nube", Kind: "cloud"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := uc.GetByID(ctx, "c1", loc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bodega Norte", got.Name)

	_, err = uc.GetByID(ctx, "c2", loc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
