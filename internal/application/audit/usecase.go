package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/metrics"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/tracing"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

// ReportGenerator genera la representación imprimible de una auditoría.
type ReportGenerator interface {
	GenerateAuditReport(ctx context.Context, run *entity.AuditRun) ([]byte, error)
}

// AuditUseCase recalcula los saldos desde el ledger y los compara con los almacenados.
// Las diferencias se reportan para revisión del operador; nunca se corrigen.
type AuditUseCase struct {
	repo     repository.AuditRepository
	reporter ReportGenerator
	log      *logger.Logger
	now      func() time.Time
}

// NewAuditUseCase construye el caso de uso.
func NewAuditUseCase(repo repository.AuditRepository, reporter ReportGenerator, log *logger.Logger) *AuditUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditUseCase{repo: repo, reporter: reporter, log: log.Component("audit"), now: time.Now}
}

// Run audita el alcance indicado y persiste el resultado.
func (uc *AuditUseCase) Run(ctx context.Context, scope entity.AuditScope, trigger string) (*entity.AuditRun, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.AuditUseCase.Run")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", scope.CompanyID), attribute.String("audit.trigger", trigger))

	if scope.CompanyID == "" {
		return nil, fmt.Errorf("%w: companyId es requerido", domain.ErrValidation)
	}
	switch trigger {
	case entity.AuditTriggerScheduled, entity.AuditTriggerManual, entity.AuditTriggerCLI:
	default:
		return nil, fmt.Errorf("%w: disparador desconocido %q", domain.ErrValidation, trigger)
	}

	run := &entity.AuditRun{
		ID:        uuid.New().String(),
		CompanyID: scope.CompanyID,
		Scope:     scope,
		Trigger:   trigger,
		StartedAt: uc.now(),
	}
	snap, err := uc.repo.Snapshot(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot del ledger: %v", domain.ErrInternal, err)
	}
	run.PairsChecked, run.Mismatches = Compare(snap)
	run.FinishedAt = uc.now()

	if err := uc.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("%w: guardar auditoría: %v", domain.ErrInternal, err)
	}

	metrics.AuditRunsTotal.WithLabelValues(trigger).Inc()
	metrics.AuditMismatchesTotal.Add(float64(run.Drift()))
	for _, m := range run.Mismatches {
		if m.InFlight {
			uc.log.Warn().
				Str("audit_id", run.ID).
				Str("product_id", m.ProductID).
				Str("location_id", m.LocationID).
				Int64("difference", m.Difference).
				Msg("diferencia en par con saga en curso")
			continue
		}
		uc.log.Error().
			Str("audit_id", run.ID).
			Str("company_id", run.CompanyID).
			Str("product_id", m.ProductID).
			Str("location_id", m.LocationID).
			Int64("expected", m.Expected).
			Int64("actual", m.Actual).
			Int64("difference", m.Difference).
			Msg("saldo distinto a la suma del ledger")
	}
	uc.log.Info().
		Str("audit_id", run.ID).
		Str("company_id", run.CompanyID).
		Str("trigger", trigger).
		Int("pairs", run.PairsChecked).
		Int("mismatches", run.Drift()).
		Int("in_flight", len(run.Mismatches)-run.Drift()).
		Msg("auditoría de saldos finalizada")
	return run, nil
}

// Compare cruza sumas del ledger y saldos. Un par sin fila de saldo cuenta como 0 y viceversa.
// Las diferencias en pares con sagas en curso se marcan InFlight.
func Compare(snap *repository.LedgerSnapshot) (int, []entity.BalanceMismatch) {
	expected := make(map[entity.PairKey]int64, len(snap.Totals))
	actual := make(map[entity.PairKey]int64, len(snap.Balances))
	pairs := make(map[entity.PairKey]struct{}, len(snap.Totals)+len(snap.Balances))
	for _, t := range snap.Totals {
		k := entity.PairKey{ProductID: t.ProductID, LocationID: t.LocationID}
		expected[k] += t.Total
		pairs[k] = struct{}{}
	}
	for _, b := range snap.Balances {
		k := b.Key()
		actual[k] = b.Quantity
		pairs[k] = struct{}{}
	}

	inFlight := make(map[entity.PairKey]bool, len(snap.InFlight))
	for _, k := range snap.InFlight {
		inFlight[k] = true
	}

	var mismatches []entity.BalanceMismatch
	for k := range pairs {
		if expected[k] == actual[k] {
			continue
		}
		mismatches = append(mismatches, entity.BalanceMismatch{
			ProductID:  k.ProductID,
			LocationID: k.LocationID,
			Expected:   expected[k],
			Actual:     actual[k],
			Difference: actual[k] - expected[k],
			InFlight:   inFlight[k],
		})
	}
	sort.Slice(mismatches, func(i, j int) bool {
		if mismatches[i].ProductID != mismatches[j].ProductID {
			return mismatches[i].ProductID < mismatches[j].ProductID
		}
		return mismatches[i].LocationID < mismatches[j].LocationID
	})
	return len(pairs), mismatches
}

// Get devuelve una auditoría de la empresa.
func (uc *AuditUseCase) Get(ctx context.Context, companyID, id string) (*entity.AuditRun, error) {
	run, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: leer auditoría: %v", domain.ErrInternal, err)
	}
	if run == nil || run.CompanyID != companyID {
		return nil, fmt.Errorf("%w: auditoría %s", domain.ErrNotFound, id)
	}
	return run, nil
}

// RenderPDF genera el reporte PDF de una auditoría.
func (uc *AuditUseCase) RenderPDF(ctx context.Context, companyID, id string) ([]byte, error) {
	if uc.reporter == nil {
		return nil, fmt.Errorf("%w: generador de reportes no configurado", domain.ErrInternal)
	}
	run, err := uc.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	pdf, err := uc.reporter.GenerateAuditReport(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("%w: generar pdf: %v", domain.ErrInternal, err)
	}
	return pdf, nil
}

// CompanyIDs empresas a auditar en el job periódico.
func (uc *AuditUseCase) CompanyIDs(ctx context.Context) ([]string, error) {
	return uc.repo.CompanyIDs(ctx)
}
