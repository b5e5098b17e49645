package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/application/audit"
	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
)

const companyID = "company-1"

type fakeReporter struct{ calls int }

func (f *fakeReporter) GenerateAuditReport(_ context.Context, run *entity.AuditRun) ([]byte, error) {
	f.calls++
	return []byte("%PDF-" + run.ID), nil
}

// seed crea catálogo y aplica: receive 10 wh1, transfer 4 wh1->st1, ship 1 st1.
func seed(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store, err := memory.NewStore()
	require.NoError(t, err)
	require.NoError(t, store.Products().Create(ctx, &entity.Product{ID: "prod-a", CompanyID: companyID, SKU: "A"}))
	require.NoError(t, store.Locations().Create(ctx, &entity.Location{ID: "wh-1", CompanyID: companyID, Name: "Bodega", Kind: entity.LocationKindWarehouse}))
	require.NoError(t, store.Locations().Create(ctx, &entity.Location{ID: "st-1", CompanyID: companyID, Name: "Tienda", Kind: entity.LocationKindStore}))

	rec := ledger.NewReconciler(ledger.ReconcilerConfig{}, memory.NewTxRunner(store), store.Movements(), store.Balances(), store.Products(), nil, nil)
	uc := ledger.NewLedgerUseCase(ledger.Config{}, store.Movements(), store.Balances(), store.Products(), store.Locations(), rec, nil, nil)
	for _, in := range []ledger.SubmitInput{
		{Type: "receive", Quantity: 10, ToLocationID: "wh-1"},
		{Type: "transfer", Quantity: 4, FromLocationID: "wh-1", ToLocationID: "st-1"},
		{Type: "ship", Quantity: 1, FromLocationID: "st-1"},
	} {
		in.CompanyID = companyID
		in.ProductID = "prod-a"
		_, err := uc.Submit(ctx, in)
		require.NoError(t, err)
	}
	// Un movimiento fallido no cuenta en la suma
	_, err = uc.Submit(ctx, ledger.SubmitInput{CompanyID: companyID, ProductID: "prod-a", Type: "ship", Quantity: 50, FromLocationID: "st-1"})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	return store
}

func TestRun_SinDiferenciasTrasMovimientos(t *testing.T) {
	store := seed(t)
	uc := audit.NewAuditUseCase(store.Audits(), nil, nil)

	run, err := uc.Run(context.Background(), entity.AuditScope{CompanyID: companyID}, entity.AuditTriggerManual)
	require.NoError(t, err)
	assert.True(t, run.Clean(), "mismatches: %+v", run.Mismatches)
	assert.Equal(t, 2, run.PairsChecked)

	saved, err := uc.Get(context.Background(), companyID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, saved.ID)
}

// Caso: un saldo alterado por fuera del reconciliador se reporta y no se corrige.
func TestRun_DetectaSaldoAlterado(t *testing.T) {
	store := seed(t)
	ctx := context.Background()

	b, err := store.Balances().Get(ctx, "prod-a", "wh-1")
	require.NoError(t, err)
	expected := b.Version
	b.Quantity = 9
	require.NoError(t, store.Balances().CompareAndSwap(ctx, b, expected))

	uc := audit.NewAuditUseCase(store.Audits(), nil, nil)
	run, err := uc.Run(ctx, entity.AuditScope{CompanyID: companyID}, entity.AuditTriggerScheduled)
	require.NoError(t, err)
	require.Len(t, run.Mismatches, 1)
	assert.Equal(t, entity.BalanceMismatch{ProductID: "prod-a", LocationID: "wh-1", Expected: 6, Actual: 9, Difference: 3}, run.Mismatches[0])

	after, err := store.Balances().Get(ctx, "prod-a", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), after.Quantity, "la auditoría no corrige saldos")

	// Alcance por ubicación: la otra ubicación está limpia
	run, err = uc.Run(ctx, entity.AuditScope{CompanyID: companyID, LocationID: "st-1"}, entity.AuditTriggerCLI)
	require.NoError(t, err)
	assert.True(t, run.Clean())
	assert.Equal(t, 1, run.PairsChecked)
}

// Caso: saga con el origen debitado y el movimiento aún pending. La diferencia se marca en curso
// y no cuenta como deriva.
func TestRun_SagaEnCursoNoEsDeriva(t *testing.T) {
	store := seed(t)
	ctx := context.Background()

	mov := &entity.Movement{
		ID: "mov-saga", CompanyID: companyID, ProductID: "prod-a", Type: entity.MovementTransfer,
		Quantity: 2, FromLocationID: "wh-1", ToLocationID: "st-1", Status: entity.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Movements().Create(ctx, mov))
	require.NoError(t, store.Movements().SetSagaStep(ctx, mov.ID, entity.SagaStepDebited, nil))
	b, err := store.Balances().Get(ctx, "prod-a", "wh-1")
	require.NoError(t, err)
	expected := b.Version
	b.Quantity -= 2
	require.NoError(t, store.Balances().CompareAndSwap(ctx, b, expected))

	uc := audit.NewAuditUseCase(store.Audits(), nil, nil)
	run, err := uc.Run(ctx, entity.AuditScope{CompanyID: companyID}, entity.AuditTriggerManual)
	require.NoError(t, err)
	require.Len(t, run.Mismatches, 1)
	assert.Equal(t, entity.BalanceMismatch{ProductID: "prod-a", LocationID: "wh-1", Expected: 6, Actual: 4, Difference: -2, InFlight: true}, run.Mismatches[0])
	assert.True(t, run.Clean())
	assert.Equal(t, 0, run.Drift())

	// Fuera del alcance del producto no aparece
	run, err = uc.Run(ctx, entity.AuditScope{CompanyID: companyID, ProductID: "prod-b"}, entity.AuditTriggerManual)
	require.NoError(t, err)
	assert.Empty(t, run.Mismatches)
}

// Caso: un movimiento pending sin paso de saga no marca el par; el saldo alterado sigue siendo deriva.
func TestRun_PendingSinPasoNoMarcaPar(t *testing.T) {
	store := seed(t)
	ctx := context.Background()

	require.NoError(t, store.Movements().Create(ctx, &entity.Movement{
		ID: "mov-pend", CompanyID: companyID, ProductID: "prod-a", Type: entity.MovementShip,
		Quantity: 1, FromLocationID: "wh-1", Status: entity.StatusPending, CreatedAt: time.Now().UTC(),
	}))
	b, err := store.Balances().Get(ctx, "prod-a", "wh-1")
	require.NoError(t, err)
	expected := b.Version
	b.Quantity = 5
	require.NoError(t, store.Balances().CompareAndSwap(ctx, b, expected))

	run, err := audit.NewAuditUseCase(store.Audits(), nil, nil).Run(ctx, entity.AuditScope{CompanyID: companyID}, entity.AuditTriggerManual)
	require.NoError(t, err)
	require.Len(t, run.Mismatches, 1)
	assert.False(t, run.Mismatches[0].InFlight)
	assert.False(t, run.Clean())
	assert.Equal(t, 1, run.Drift())
}

func TestRun_Validaciones(t *testing.T) {
	store, err := memory.NewStore()
	require.NoError(t, err)
	uc := audit.NewAuditUseCase(store.Audits(), nil, nil)

	_, err = uc.Run(context.Background(), entity.AuditScope{}, entity.AuditTriggerManual)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = uc.Run(context.Background(), entity.AuditScope{CompanyID: companyID}, "cron")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCompare_FilasFaltantes(t *testing.T) {
	snap := &repository.LedgerSnapshot{
		Totals: []repository.PairTotal{
			{ProductID: "p", LocationID: "a", Total: 5}, // sin fila de saldo
			{ProductID: "p", LocationID: "b", Total: 2},
		},
		Balances: []*entity.LocationBalance{
			{ProductID: "p", LocationID: "b", Quantity: 2},
			{ProductID: "p", LocationID: "c", Quantity: 4}, // saldo sin movimientos
			{ProductID: "p", LocationID: "d", Quantity: 0},
		},
	}
	pairs, mismatches := audit.Compare(snap)
	assert.Equal(t, 4, pairs)
	assert.Equal(t, []entity.BalanceMismatch{
		{ProductID: "p", LocationID: "a", Expected: 5, Actual: 0, Difference: -5},
		{ProductID: "p", LocationID: "c", Expected: 0, Actual: 4, Difference: 4},
	}, mismatches)
}

func TestCompare_MarcaParesEnCurso(t *testing.T) {
	snap := &repository.LedgerSnapshot{
		Totals: []repository.PairTotal{
			{ProductID: "p", LocationID: "a", Total: 5},
			{ProductID: "p", LocationID: "b", Total: 1},
		},
		Balances: []*entity.LocationBalance{
			{ProductID: "p", LocationID: "a", Quantity: 3},
			{ProductID: "p", LocationID: "b", Quantity: 0},
		},
		InFlight: []entity.PairKey{{ProductID: "p", LocationID: "a"}},
	}
	_, mismatches := audit.Compare(snap)
	assert.Equal(t, []entity.BalanceMismatch{
		{ProductID: "p", LocationID: "a", Expected: 5, Actual: 3, Difference: -2, InFlight: true},
		{ProductID: "p", LocationID: "b", Expected: 1, Actual: 0, Difference: -1},
	}, mismatches)

	run := &entity.AuditRun{Mismatches: mismatches}
	assert.Equal(t, 1, run.Drift())
	assert.False(t, run.Clean())
}

func TestRenderPDF(t *testing.T) {
	store := seed(t)
	reporter := &fakeReporter{}
	uc := audit.NewAuditUseCase(store.Audits(), reporter, nil)
	ctx := context.Background()

	run, err := uc.Run(ctx, entity.AuditScope{CompanyID: companyID}, entity.AuditTriggerManual)
	require.NoError(t, err)

	out, err := uc.RenderPDF(ctx, companyID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-"+run.ID, string(out))

	_, err = uc.RenderPDF(ctx, "company-2", run.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, reporter.calls)
}
