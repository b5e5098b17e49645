package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/metrics"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/tracing"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

// Config política del ledger.
type Config struct {
	BackorderEnabled bool          // permite allowBackorder en los movimientos
	IdempotencyTTL   time.Duration // vigencia de una Idempotency-Key
}

// SubmitInput entrada para registrar un movimiento.
type SubmitInput struct {
	CompanyID      string
	UserID         string
	IdempotencyKey string
	ProductID      string
	Quantity       int64
	Type           string
	FromLocationID string
	ToLocationID   string
	Reference      string
	Reason         string
	UnitCost       *decimal.Decimal
	AllowBackorder bool
}

// SubmitResult movimiento en su estado tras el intento de reconciliación.
type SubmitResult struct {
	Movement *entity.Movement
	Balances []*entity.LocationBalance
	Replayed bool // la Idempotency-Key ya existía
}

// lookupError producto o ubicación inexistente (o de otra empresa): es a la vez NotFound y Validation.
type lookupError struct {
	what, id string
}

func (e *lookupError) Error() string {
	return fmt.Sprintf("%s %s no existe", e.what, e.id)
}

func (e *lookupError) Is(target error) bool {
	return target == domain.ErrNotFound || target == domain.ErrValidation
}

// LedgerUseCase registra movimientos en el ledger y delega su aplicación al reconciliador.
type LedgerUseCase struct {
	cfg          Config
	movRepo      repository.MovementRepository
	balanceRepo  repository.BalanceRepository
	productRepo  repository.ProductRepository
	locationRepo repository.LocationRepository
	reconciler   *Reconciler
	idempotency  IdempotencyStore
	log          *logger.Logger
	now          func() time.Time
}

// NewLedgerUseCase construye el caso de uso. idempotency puede ser nil (claves ignoradas).
func NewLedgerUseCase(
	cfg Config,
	movRepo repository.MovementRepository,
	balanceRepo repository.BalanceRepository,
	productRepo repository.ProductRepository,
	locationRepo repository.LocationRepository,
	reconciler *Reconciler,
	idempotency IdempotencyStore,
	log *logger.Logger,
) *LedgerUseCase {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LedgerUseCase{
		cfg:          cfg,
		movRepo:      movRepo,
		balanceRepo:  balanceRepo,
		productRepo:  productRepo,
		locationRepo: locationRepo,
		reconciler:   reconciler,
		idempotency:  idempotency,
		log:          log.Component("ledger"),
		now:          time.Now,
	}
}

// Submit valida, persiste el movimiento en pending y lanza exactamente un intento de reconciliación.
// Si la reconciliación falla el error es un *MovementError con el movimiento en su estado final.
func (uc *LedgerUseCase) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.LedgerUseCase.Submit")
	defer span.End()

	mov, err := uc.buildMovement(in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("movement.type", string(mov.Type)),
		attribute.String("product.id", mov.ProductID),
	)
	if err := uc.checkReferences(ctx, mov); err != nil {
		return nil, err
	}

	var idemKey string
	if in.IdempotencyKey != "" && uc.idempotency != nil {
		idemKey = in.CompanyID + ":" + in.IdempotencyKey
		fp := fingerprint(mov)
		existing, reserved, err := uc.idempotency.Reserve(ctx, idemKey,
			IdempotencyRecord{MovementID: mov.ID, Fingerprint: fp}, uc.cfg.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: reservar idempotency key: %v", domain.ErrInternal, err)
		}
		if !reserved {
			if existing.Fingerprint != fp {
				return nil, fmt.Errorf("%w: Idempotency-Key ya usada con otro cuerpo", domain.ErrConflict)
			}
			return uc.replay(ctx, in.CompanyID, existing.MovementID)
		}
	}

	if err := uc.movRepo.Create(ctx, mov); err != nil {
		if idemKey != "" {
			if rerr := uc.idempotency.Release(ctx, idemKey); rerr != nil {
				uc.log.Warn().Err(rerr).Str("key", idemKey).Msg("no se pudo liberar la idempotency key")
			}
		}
		return nil, fmt.Errorf("%w: guardar movimiento: %v", domain.ErrInternal, err)
	}
	metrics.MovementsSubmittedTotal.WithLabelValues(string(mov.Type)).Inc()

	res, err := uc.reconciler.Apply(ctx, mov.ID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Movement: res.Movement, Balances: res.Balances}, nil
}

func (uc *LedgerUseCase) buildMovement(in SubmitInput) (*entity.Movement, error) {
	if in.CompanyID == "" {
		return nil, fmt.Errorf("%w: companyId es requerido", domain.ErrValidation)
	}
	typ, ok := entity.ParseMovementType(strings.ToLower(strings.TrimSpace(in.Type)))
	if !ok {
		return nil, fmt.Errorf("%w: tipo de movimiento desconocido: %q", domain.ErrValidation, in.Type)
	}
	if in.AllowBackorder && !uc.cfg.BackorderEnabled {
		return nil, fmt.Errorf("%w: backorder no está habilitado", domain.ErrValidation)
	}
	mov := &entity.Movement{
		ID:             uuid.New().String(),
		CompanyID:      in.CompanyID,
		ProductID:      strings.TrimSpace(in.ProductID),
		Type:           typ,
		Quantity:       in.Quantity,
		FromLocationID: strings.TrimSpace(in.FromLocationID),
		ToLocationID:   strings.TrimSpace(in.ToLocationID),
		Reference:      strings.TrimSpace(in.Reference),
		Reason:         strings.TrimSpace(in.Reason),
		UnitCost:       in.UnitCost,
		AllowBackorder: in.AllowBackorder,
		Status:         entity.StatusPending,
		Compensation:   entity.CompensationNone,
		CreatedAt:      uc.now(),
		CreatedBy:      in.UserID,
	}
	if err := mov.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return mov, nil
}

// checkReferences verifica que producto y ubicaciones existan y sean de la empresa.
func (uc *LedgerUseCase) checkReferences(ctx context.Context, mov *entity.Movement) error {
	product, err := uc.productRepo.GetByID(ctx, mov.ProductID)
	if err != nil {
		return fmt.Errorf("%w: leer producto: %v", domain.ErrInternal, err)
	}
	if product == nil || product.CompanyID != mov.CompanyID {
		return &lookupError{what: "producto", id: mov.ProductID}
	}
	for _, id := range mov.LocationIDs() {
		loc, err := uc.locationRepo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: leer ubicación: %v", domain.ErrInternal, err)
		}
		if loc == nil || loc.CompanyID != mov.CompanyID {
			return &lookupError{what: "ubicación", id: id}
		}
	}
	return nil
}

// fingerprint huella del cuerpo normalizado; dos envíos con la misma clave deben coincidir.
func fingerprint(m *entity.Movement) string {
	unitCost := ""
	if m.UnitCost != nil {
		unitCost = m.UnitCost.String()
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s|%s|%s|%s|%t",
		m.ProductID, m.Type, m.Quantity, m.FromLocationID, m.ToLocationID,
		m.Reference, m.Reason, unitCost, m.AllowBackorder)
	return hex.EncodeToString(h.Sum(nil))
}

func (uc *LedgerUseCase) replay(ctx context.Context, companyID, movementID string) (*SubmitResult, error) {
	mov, err := uc.movRepo.GetByID(ctx, movementID)
	if err != nil {
		return nil, fmt.Errorf("%w: leer movimiento: %v", domain.ErrInternal, err)
	}
	if mov == nil || mov.CompanyID != companyID {
		// La clave está reservada pero el movimiento aún no se guardó
		return nil, fmt.Errorf("%w: petición con la misma Idempotency-Key en curso", domain.ErrConflict)
	}
	balances := make([]*entity.LocationBalance, 0, 2)
	for _, id := range mov.LocationIDs() {
		b, err := uc.balanceRepo.Get(ctx, mov.ProductID, id)
		if err != nil {
			return nil, fmt.Errorf("%w: leer saldo: %v", domain.ErrInternal, err)
		}
		b.CompanyID = mov.CompanyID
		balances = append(balances, b)
	}
	return &SubmitResult{Movement: mov, Balances: balances, Replayed: true}, nil
}

// Get devuelve un movimiento de la empresa.
func (uc *LedgerUseCase) Get(ctx context.Context, companyID, id string) (*entity.Movement, error) {
	mov, err := uc.movRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: leer movimiento: %v", domain.ErrInternal, err)
	}
	if mov == nil || mov.CompanyID != companyID {
		return nil, fmt.Errorf("%w: movimiento %s", domain.ErrNotFound, id)
	}
	return mov, nil
}

// List devuelve una página de movimientos (más recientes primero) y el total.
func (uc *LedgerUseCase) List(ctx context.Context, filter repository.MovementFilter) ([]*entity.Movement, int, error) {
	if filter.CompanyID == "" {
		return nil, 0, fmt.Errorf("%w: companyId es requerido", domain.ErrValidation)
	}
	if filter.Status != "" {
		switch filter.Status {
		case entity.StatusPending, entity.StatusCompleted, entity.StatusCancelled, entity.StatusFailed:
		default:
			return nil, 0, fmt.Errorf("%w: status desconocido: %q", domain.ErrValidation, filter.Status)
		}
	}
	if filter.Type != "" {
		if _, ok := entity.ParseMovementType(string(filter.Type)); !ok {
			return nil, 0, fmt.Errorf("%w: tipo desconocido: %q", domain.ErrValidation, filter.Type)
		}
	}
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	list, total, err := uc.movRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: listar movimientos: %v", domain.ErrInternal, err)
	}
	return list, total, nil
}

// Cancel cancela un movimiento pending que ninguna reconciliación haya tomado.
func (uc *LedgerUseCase) Cancel(ctx context.Context, companyID, id string) (*entity.Movement, error) {
	mov, err := uc.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if mov.Status != entity.StatusPending {
		return nil, fmt.Errorf("%w: el movimiento está %s", domain.ErrInvalidState, mov.Status)
	}
	if err := uc.movRepo.Cancel(ctx, id, uc.now()); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cancelar movimiento: %v", domain.ErrInternal, err)
	}
	metrics.MovementsCancelledTotal.Inc()
	uc.log.Info().Str("movement_id", id).Str("company_id", companyID).Msg("movimiento cancelado")
	return uc.Get(ctx, companyID, id)
}

// Retry reintenta la reconciliación de un movimiento pending (operador).
func (uc *LedgerUseCase) Retry(ctx context.Context, companyID, id string) (*Result, error) {
	if _, err := uc.Get(ctx, companyID, id); err != nil {
		return nil, err
	}
	return uc.reconciler.Apply(ctx, id)
}

// Balance devuelve el saldo actual del par; cero si nunca hubo movimientos.
func (uc *LedgerUseCase) Balance(ctx context.Context, companyID, locationID, productID string) (*entity.LocationBalance, error) {
	if productID == "" {
		return nil, fmt.Errorf("%w: productId es requerido", domain.ErrValidation)
	}
	if err := uc.checkLocation(ctx, companyID, locationID); err != nil {
		return nil, err
	}
	product, err := uc.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: leer producto: %v", domain.ErrInternal, err)
	}
	if product == nil || product.CompanyID != companyID {
		return nil, fmt.Errorf("%w: producto %s", domain.ErrNotFound, productID)
	}
	b, err := uc.balanceRepo.Get(ctx, productID, locationID)
	if err != nil {
		return nil, fmt.Errorf("%w: leer saldo: %v", domain.ErrInternal, err)
	}
	b.CompanyID = companyID
	return b, nil
}

// Balances lista los saldos de una ubicación.
func (uc *LedgerUseCase) Balances(ctx context.Context, companyID, locationID string, limit, offset int) ([]*entity.LocationBalance, error) {
	if err := uc.checkLocation(ctx, companyID, locationID); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	list, err := uc.balanceRepo.ListByLocation(ctx, locationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: listar saldos: %v", domain.ErrInternal, err)
	}
	return list, nil
}

func (uc *LedgerUseCase) checkLocation(ctx context.Context, companyID, locationID string) error {
	loc, err := uc.locationRepo.GetByID(ctx, locationID)
	if err != nil {
		return fmt.Errorf("%w: leer ubicación: %v", domain.ErrInternal, err)
	}
	if loc == nil || loc.CompanyID != companyID {
		return fmt.Errorf("%w: ubicación %s", domain.ErrNotFound, locationID)
	}
	return nil
}

// Límites de página; el máximo coincide con dto.PageRequest.
const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

func clampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
