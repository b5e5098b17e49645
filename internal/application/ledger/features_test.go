package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/application/audit"
	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
)

type ledgerScenario struct {
	store     *memory.Store
	ledger    *ledger.LedgerUseCase
	audit     *audit.AuditUseCase
	companyID string
	productID string
	movement  *entity.Movement
	err       error
}

func (s *ledgerScenario) reset() error {
	store, err := memory.NewStore()
	if err != nil {
		return err
	}
	rec := ledger.NewReconciler(ledger.ReconcilerConfig{}, memory.NewTxRunner(store),
		store.Movements(), store.Balances(), store.Products(), nil, nil)
	*s = ledgerScenario{
		store: store,
		ledger: ledger.NewLedgerUseCase(ledger.Config{}, store.Movements(), store.Balances(), store.Products(),
			store.Locations(), rec, store.Idempotency(), nil),
		audit: audit.NewAuditUseCase(store.Audits(), nil, nil),
	}
	return nil
}

func (s *ledgerScenario) companyWithProduct(companyID, productID string) error {
	s.companyID, s.productID = companyID, productID
	return s.store.Products().Create(context.Background(), &entity.Product{
		ID: productID, CompanyID: companyID, SKU: productID, Name: productID, Cost: decimal.Zero,
	})
}

func (s *ledgerScenario) locations(a, b string) error {
	for _, id := range []string{a, b} {
		err := s.store.Locations().Create(context.Background(), &entity.Location{
			ID: id, CompanyID: s.companyID, Name: id, Kind: entity.LocationKindWarehouse,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *ledgerScenario) submit(in ledger.SubmitInput) {
	in.CompanyID = s.companyID
	in.UserID = "bdd"
	in.ProductID = s.productID
	s.movement = nil
	res, err := s.ledger.Submit(context.Background(), in)
	s.err = err
	if res != nil {
		s.movement = res.Movement
	}
	var merr *ledger.MovementError
	if errors.As(err, &merr) {
		s.movement = merr.Movement
	}
}

func (s *ledgerScenario) initialBalance(qty int, locationID string) error {
	s.submit(ledger.SubmitInput{Type: string(entity.MovementReceive), Quantity: int64(qty), ToLocationID: locationID})
	return s.err
}

func (s *ledgerScenario) transfer(qty int, from, to string) error {
	s.submit(ledger.SubmitInput{
		Type: string(entity.MovementTransfer), Quantity: int64(qty), FromLocationID: from, ToLocationID: to,
	})
	return nil
}

func (s *ledgerScenario) ship(qty int, from string) error {
	s.submit(ledger.SubmitInput{Type: string(entity.MovementShip), Quantity: int64(qty), FromLocationID: from})
	return nil
}

func (s *ledgerScenario) count(qty int, locationID string) error {
	s.submit(ledger.SubmitInput{Type: string(entity.MovementCount), Quantity: int64(qty), ToLocationID: locationID})
	return nil
}

func (s *ledgerScenario) adjust(delta int, locationID string) error {
	in := ledger.SubmitInput{Type: string(entity.MovementAdjustment), Reason: "ajuste"}
	if delta < 0 {
		in.Quantity, in.FromLocationID = int64(-delta), locationID
	} else {
		in.Quantity, in.ToLocationID = int64(delta), locationID
	}
	s.submit(in)
	return nil
}

func (s *ledgerScenario) movementStatus(status string) error {
	if s.movement == nil {
		return fmt.Errorf("no hay movimiento registrado (error: %v)", s.err)
	}
	if string(s.movement.Status) != status {
		return fmt.Errorf("estado esperado %s, obtenido %s (error: %v)", status, s.movement.Status, s.err)
	}
	return nil
}

func (s *ledgerScenario) appliedDelta(delta int) error {
	if s.movement == nil || s.movement.AppliedDelta == nil {
		return fmt.Errorf("el movimiento no tiene delta aplicado")
	}
	if *s.movement.AppliedDelta != int64(delta) {
		return fmt.Errorf("delta esperado %d, obtenido %d", delta, *s.movement.AppliedDelta)
	}
	return nil
}

func (s *ledgerScenario) balanceIs(locationID string, qty int) error {
	b, err := s.ledger.Balance(context.Background(), s.companyID, locationID, s.productID)
	if err != nil {
		return err
	}
	if b.Quantity != int64(qty) {
		return fmt.Errorf("saldo de %s: esperado %d, obtenido %d", locationID, qty, b.Quantity)
	}
	return nil
}

func (s *ledgerScenario) failsWith(target error) func() error {
	return func() error {
		if !errors.Is(s.err, target) {
			return fmt.Errorf("se esperaba %v, obtenido %v", target, s.err)
		}
		return nil
	}
}

func (s *ledgerScenario) auditClean() error {
	run, err := s.audit.Run(context.Background(), entity.AuditScope{CompanyID: s.companyID}, entity.AuditTriggerManual)
	if err != nil {
		return err
	}
	if len(run.Mismatches) > 0 {
		return fmt.Errorf("la auditoría encontró %d diferencias: %+v", len(run.Mismatches), run.Mismatches)
	}
	return nil
}

func InitializeLedgerScenario(ctx *godog.ScenarioContext) {
	s := &ledgerScenario{}

	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, s.reset()
	})

	ctx.Step(`^la empresa "([^"]*)" con el producto "([^"]*)"$`, s.companyWithProduct)
	ctx.Step(`^las ubicaciones "([^"]*)" y "([^"]*)"$`, s.locations)
	ctx.Step(`^un saldo de (\d+) unidades en "([^"]*)"$`, s.initialBalance)

	ctx.Step(`^se trasladan (\d+) unidades de "([^"]*)" a "([^"]*)"$`, s.transfer)
	ctx.Step(`^se despachan (\d+) unidades desde "([^"]*)"$`, s.ship)
	ctx.Step(`^se cuentan (\d+) unidades en "([^"]*)"$`, s.count)
	ctx.Step(`^se ajustan (-?\d+) unidades en "([^"]*)"$`, s.adjust)

	ctx.Step(`^el movimiento queda "([^"]*)"$`, s.movementStatus)
	ctx.Step(`^el delta aplicado es (-?\d+)$`, s.appliedDelta)
	ctx.Step(`^el saldo de "([^"]*)" es (-?\d+)$`, s.balanceIs)
	ctx.Step(`^la solicitud falla por stock insuficiente$`, s.failsWith(domain.ErrInsufficientStock))
	ctx.Step(`^la solicitud es rechazada por validación$`, s.failsWith(domain.ErrValidation))
	ctx.Step(`^la auditoría no encuentra diferencias$`, s.auditClean)
}

func TestLedgerFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeLedgerScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
