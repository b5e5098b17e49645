package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/metrics"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/tracing"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

// Modos de consistencia del reconciliador.
const (
	ConsistencyTransaction = "transaction"
	ConsistencySaga        = "saga"
)

// ReconcilerConfig parámetros del reconciliador.
type ReconcilerConfig struct {
	Consistency  string        // transaction (default) | saga
	MaxRetries   int           // intentos ante conflicto de versión
	ClaimLease   time.Duration // duración del lease sobre el movimiento
	ApplyTimeout time.Duration // límite de la unidad de trabajo (no depende del request)
	RetryBackoff time.Duration // base del backoff exponencial con jitter
}

func (c *ReconcilerConfig) setDefaults() {
	if c.Consistency == "" {
		c.Consistency = ConsistencyTransaction
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 10 * time.Second
	}
	if c.ClaimLease <= c.ApplyTimeout {
		c.ClaimLease = c.ApplyTimeout + 5*time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 10 * time.Millisecond
	}
}

// Result resultado de aplicar un movimiento.
type Result struct {
	Movement       *entity.Movement
	Balances       []*entity.LocationBalance
	AlreadyApplied bool
}

// MovementError error de reconciliación que conserva el movimiento en su estado final
// (failed por stock insuficiente, pending por conflicto). errors.Is funciona sobre Err.
type MovementError struct {
	Movement *entity.Movement
	Err      error
}

func (e *MovementError) Error() string { return e.Err.Error() }
func (e *MovementError) Unwrap() error { return e.Err }

type applyOutcome struct {
	balances     []*entity.LocationBalance
	appliedDelta *int64
	compensation string
}

// Reconciler aplica movimientos pending a los saldos por ubicación.
// En modo transaction bloquea las filas (SELECT FOR UPDATE, orden determinista) y completa el
// movimiento en la misma tx; en modo saga debita el origen, acredita el destino y compensa si falla.
type Reconciler struct {
	cfg         ReconcilerConfig
	txRunner    TxRunner
	movRepo     repository.MovementRepository
	balanceRepo repository.BalanceRepository
	productRepo repository.ProductRepository
	publisher   EventPublisher
	log         *logger.Logger
	now         func() time.Time
}

// NewReconciler construye el reconciliador.
func NewReconciler(
	cfg ReconcilerConfig,
	txRunner TxRunner,
	movRepo repository.MovementRepository,
	balanceRepo repository.BalanceRepository,
	productRepo repository.ProductRepository,
	publisher EventPublisher,
	log *logger.Logger,
) *Reconciler {
	cfg.setDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		cfg:         cfg,
		txRunner:    txRunner,
		movRepo:     movRepo,
		balanceRepo: balanceRepo,
		productRepo: productRepo,
		publisher:   publisher,
		log:         log.Component("reconciler"),
		now:         time.Now,
	}
}

// Apply aplica el movimiento a los saldos. Es idempotente: un movimiento completed no vuelve a
// tocar saldos. Una vez tomado el lease la operación no se interrumpe por cancelación del caller.
func (r *Reconciler) Apply(ctx context.Context, movementID string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Reconciler.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("movement.id", movementID),
		attribute.String("ledger.consistency", r.cfg.Consistency),
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ApplyTimeout)
	defer cancel()

	started := r.now()
	defer func() { metrics.ReconcileLatency.Observe(time.Since(started).Seconds()) }()

	mov, err := r.movRepo.GetByID(ctx, movementID)
	if err != nil {
		return nil, fmt.Errorf("%w: cargar movimiento: %v", domain.ErrInternal, err)
	}
	if mov == nil {
		return nil, fmt.Errorf("%w: movimiento %s", domain.ErrNotFound, movementID)
	}
	if res, done, err := r.terminal(mov); done {
		return res, err
	}

	now := r.now()
	claimed, err := r.movRepo.Claim(ctx, mov.ID, now, now.Add(r.cfg.ClaimLease))
	if err != nil {
		return nil, fmt.Errorf("%w: tomar movimiento: %v", domain.ErrInternal, err)
	}
	if !claimed {
		current, err := r.movRepo.GetByID(ctx, mov.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: recargar movimiento: %v", domain.ErrInternal, err)
		}
		if current != nil {
			if res, done, err := r.terminal(current); done {
				return res, err
			}
			mov = current
		}
		return nil, &MovementError{Movement: mov, Err: fmt.Errorf("%w: el movimiento ya se está reconciliando", domain.ErrConflict)}
	}

	var out applyOutcome
	if r.cfg.Consistency == ConsistencySaga {
		out, err = r.applySaga(ctx, mov)
	} else {
		out, err = r.withRetry(ctx, func() (applyOutcome, error) { return r.applyTx(ctx, mov) })
	}
	res, err := r.finish(ctx, mov, out, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// terminal resuelve los movimientos que ya no admiten reconciliación.
func (r *Reconciler) terminal(mov *entity.Movement) (*Result, bool, error) {
	switch mov.Status {
	case entity.StatusCompleted:
		return &Result{Movement: mov, AlreadyApplied: true}, true, nil
	case entity.StatusCancelled, entity.StatusFailed:
		return nil, true, &MovementError{
			Movement: mov,
			Err:      fmt.Errorf("%w: movimiento %s en estado %s", domain.ErrInvalidState, mov.ID, mov.Status),
		}
	}
	return nil, false, nil
}

// applyTx aplica todos los deltas y completa el movimiento en una sola transacción.
func (r *Reconciler) applyTx(ctx context.Context, mov *entity.Movement) (applyOutcome, error) {
	out := applyOutcome{compensation: entity.CompensationNone}
	err := r.txRunner.Run(ctx, func(
		movRepo repository.MovementRepository,
		balanceRepo repository.BalanceRepository,
		productRepo repository.ProductRepository,
	) error {
		// Orden determinista de bloqueo para evitar deadlocks entre traslados cruzados
		ids := mov.LocationIDs()
		slices.Sort(ids)
		locked := make(map[string]*entity.LocationBalance, len(ids))
		for _, id := range ids {
			b, err := balanceRepo.GetForUpdate(ctx, mov.ProductID, id)
			if err != nil {
				return fmt.Errorf("bloquear saldo %s: %w", id, err)
			}
			b.CompanyID = mov.CompanyID
			locked[id] = b
		}

		var prior int64
		if mov.ToLocationID != "" {
			prior = locked[mov.ToLocationID].Quantity
		}
		now := r.now()
		balances := make([]*entity.LocationBalance, 0, len(ids))
		for _, d := range mov.Deltas(prior) {
			b := locked[d.LocationID]
			next, err := nextQuantity(mov, b.Quantity, d.Delta)
			if err != nil {
				return err
			}
			expected := b.Version
			b.Quantity = next
			b.UpdatedAt = now
			if err := balanceRepo.CompareAndSwap(ctx, b, expected); err != nil {
				return err
			}
			balances = append(balances, b)
		}

		if err := r.updateCost(ctx, productRepo, mov, prior); err != nil {
			return err
		}

		var applied *int64
		if mov.Type == entity.MovementCount {
			d := mov.Quantity - prior
			applied = &d
		}
		if err := movRepo.Complete(ctx, mov.ID, now, applied); err != nil {
			return err
		}
		out.balances = balances
		out.appliedDelta = applied
		return nil
	})
	return out, err
}

// applySaga debita el origen, acredita el destino y compensa el débito si el crédito falla.
// El paso se persiste antes y después de cada escritura; un paso *ing al reanudar es ambiguo.
func (r *Reconciler) applySaga(ctx context.Context, mov *entity.Movement) (applyOutcome, error) {
	out := applyOutcome{compensation: entity.CompensationNone}
	if mov.SagaAmbiguous() {
		return out, fmt.Errorf("%w: saga interrumpida en paso %q, requiere revisión manual", domain.ErrInvalidState, mov.SagaStep)
	}
	step := mov.SagaStep
	applied := mov.AppliedDelta

	if mov.FromLocationID != "" && step == entity.SagaStepNone {
		if err := r.movRepo.SetSagaStep(ctx, mov.ID, entity.SagaStepDebiting, nil); err != nil {
			return out, fmt.Errorf("registrar paso de saga: %w", err)
		}
		b, _, err := r.casWithRetry(ctx, mov, mov.FromLocationID, r.cfg.MaxRetries, func(current int64) (int64, error) {
			return nextQuantity(mov, current, -mov.Quantity)
		})
		if err != nil {
			// El CAS no se aplicó: la saga vuelve al inicio
			if rerr := r.movRepo.SetSagaStep(ctx, mov.ID, entity.SagaStepNone, nil); rerr != nil {
				r.log.Error().Err(rerr).Str("movement_id", mov.ID).Msg("no se pudo reiniciar el paso de saga")
			}
			return out, err
		}
		out.balances = append(out.balances, b)
		if err := r.movRepo.SetSagaStep(ctx, mov.ID, entity.SagaStepDebited, nil); err != nil {
			return out, fmt.Errorf("registrar paso de saga: %w", err)
		}
		step = entity.SagaStepDebited
	}

	if mov.ToLocationID != "" && step != entity.SagaStepCredited {
		if err := r.movRepo.SetSagaStep(ctx, mov.ID, entity.SagaStepCrediting, nil); err != nil {
			return out, r.compensateOn(ctx, mov, &out, fmt.Errorf("registrar paso de saga: %w", err))
		}
		b, prior, err := r.casWithRetry(ctx, mov, mov.ToLocationID, r.cfg.MaxRetries, func(current int64) (int64, error) {
			if mov.Type == entity.MovementCount {
				return mov.Quantity, nil
			}
			return nextQuantity(mov, current, mov.Quantity)
		})
		if err != nil {
			return out, r.compensateOn(ctx, mov, &out, err)
		}
		out.balances = append(out.balances, b)
		if mov.Type == entity.MovementCount {
			d := b.Quantity - prior
			applied = &d
		}
		if err := r.movRepo.SetSagaStep(ctx, mov.ID, entity.SagaStepCredited, applied); err != nil {
			return out, fmt.Errorf("registrar paso de saga: %w", err)
		}
		if err := r.updateCost(ctx, r.productRepo, mov, prior); err != nil {
			r.log.Warn().Err(err).Str("movement_id", mov.ID).Msg("no se pudo actualizar el costo promedio")
		}
	}

	// Saldos de pasos aplicados en un intento anterior
	for _, id := range mov.LocationIDs() {
		if !hasBalance(out.balances, id) {
			b, err := r.balanceRepo.Get(ctx, mov.ProductID, id)
			if err != nil {
				return out, fmt.Errorf("leer saldo %s: %w", id, err)
			}
			out.balances = append(out.balances, b)
		}
	}

	if err := r.movRepo.Complete(ctx, mov.ID, r.now(), applied); err != nil {
		return out, err
	}
	out.appliedDelta = applied
	return out, nil
}

// compensateOn revierte el débito del origen cuando el crédito falla. Sin origen no hay nada
// que compensar y el paso vuelve a quedar libre para reintentar.
func (r *Reconciler) compensateOn(ctx context.Context, mov *entity.Movement, out *applyOutcome, cause error) error {
	if mov.FromLocationID == "" {
		if rerr := r.movRepo.SetSagaStep(ctx, mov.ID, entity.SagaStepNone, nil); rerr != nil {
			r.log.Error().Err(rerr).Str("movement_id", mov.ID).Msg("no se pudo reiniciar el paso de saga")
		}
		return cause
	}
	_, _, err := r.casWithRetry(ctx, mov, mov.FromLocationID, r.cfg.MaxRetries*2, func(current int64) (int64, error) {
		return current + mov.Quantity, nil
	})
	if err != nil {
		out.compensation = entity.CompensationFailed
		metrics.SagaCompensationsTotal.WithLabelValues(entity.CompensationFailed).Inc()
		r.log.Error().Err(err).
			Str("movement_id", mov.ID).
			Str("location_id", mov.FromLocationID).
			Int64("quantity", mov.Quantity).
			Msg("compensación de saga fallida: el saldo de origen quedó debitado, requiere revisión")
		return cause
	}
	out.compensation = entity.CompensationApplied
	metrics.SagaCompensationsTotal.WithLabelValues(entity.CompensationApplied).Inc()
	r.log.Warn().Err(cause).Str("movement_id", mov.ID).Msg("crédito fallido, débito compensado")
	return cause
}

// casWithRetry lee el saldo, calcula la nueva cantidad y la escribe condicionada a la versión leída.
// Devuelve el saldo escrito y la cantidad previa.
func (r *Reconciler) casWithRetry(
	ctx context.Context,
	mov *entity.Movement,
	locationID string,
	attempts int,
	compute func(current int64) (int64, error),
) (*entity.LocationBalance, int64, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		b, err := r.balanceRepo.Get(ctx, mov.ProductID, locationID)
		if err != nil {
			return nil, 0, fmt.Errorf("leer saldo %s: %w", locationID, err)
		}
		prior := b.Quantity
		next, err := compute(prior)
		if err != nil {
			return nil, 0, err
		}
		expected := b.Version
		b.CompanyID = mov.CompanyID
		b.Quantity = next
		b.UpdatedAt = r.now()
		err = r.balanceRepo.CompareAndSwap(ctx, b, expected)
		if err == nil {
			return b, prior, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, 0, err
		}
		lastErr = err
		metrics.BalanceConflictsTotal.Inc()
		if attempt == attempts-1 {
			break
		}
		if err := r.backoff(ctx, attempt); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, fmt.Errorf("%d intentos: %w", attempts, lastErr)
}

// withRetry repite la unidad de trabajo completa mientras falle por conflicto de versión.
func (r *Reconciler) withRetry(ctx context.Context, fn func() (applyOutcome, error)) (applyOutcome, error) {
	var (
		out applyOutcome
		err error
	)
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		out, err = fn()
		if !errors.Is(err, domain.ErrConflict) {
			return out, err
		}
		metrics.BalanceConflictsTotal.Inc()
		if attempt == r.cfg.MaxRetries-1 {
			break
		}
		if berr := r.backoff(ctx, attempt); berr != nil {
			return out, berr
		}
	}
	return out, fmt.Errorf("%d intentos: %w", r.cfg.MaxRetries, err)
}

func (r *Reconciler) backoff(ctx context.Context, attempt int) error {
	base := r.cfg.RetryBackoff << min(attempt, 6)
	wait := base + rand.N(base)
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrInternal, ctx.Err())
	case <-t.C:
		return nil
	}
}

// finish transiciona el movimiento según el resultado y publica los eventos.
func (r *Reconciler) finish(ctx context.Context, mov *entity.Movement, out applyOutcome, applyErr error) (*Result, error) {
	if applyErr == nil {
		current, err := r.movRepo.GetByID(ctx, mov.ID)
		if err != nil || current == nil {
			current = mov
			current.Status = entity.StatusCompleted
		}
		metrics.MovementsCompletedTotal.WithLabelValues(string(mov.Type)).Inc()
		r.publish(ctx, current, out.balances)
		r.log.Info().
			Str("movement_id", mov.ID).
			Str("type", string(mov.Type)).
			Str("product_id", mov.ProductID).
			Int64("quantity", mov.Quantity).
			Msg("movimiento completado")
		return &Result{Movement: current, Balances: out.balances}, nil
	}

	switch {
	case errors.Is(applyErr, domain.ErrInsufficientStock) || out.compensation != entity.CompensationNone:
		reason := applyErr.Error()
		if err := r.movRepo.Fail(ctx, mov.ID, reason, out.compensation, r.now()); err != nil {
			r.log.Error().Err(err).Str("movement_id", mov.ID).Msg("no se pudo marcar el movimiento como failed")
			return nil, &MovementError{Movement: mov, Err: fmt.Errorf("%w: marcar failed: %v", domain.ErrInternal, err)}
		}
		label := "insufficient_stock"
		if out.compensation != entity.CompensationNone {
			label = "saga_" + out.compensation
		}
		metrics.MovementsFailedTotal.WithLabelValues(label).Inc()
		r.log.Warn().Str("movement_id", mov.ID).Str("compensation", out.compensation).Msg(reason)
		return nil, &MovementError{Movement: r.reload(ctx, mov), Err: classify(applyErr)}

	case errors.Is(applyErr, domain.ErrInvalidState):
		// Otro proceso completó o canceló el movimiento mientras se aplicaba
		current := r.reload(ctx, mov)
		if current.Status == entity.StatusCompleted {
			return &Result{Movement: current, AlreadyApplied: true}, nil
		}
		r.release(ctx, mov.ID)
		return nil, &MovementError{Movement: current, Err: applyErr}

	case errors.Is(applyErr, domain.ErrConflict):
		r.release(ctx, mov.ID)
		metrics.MovementsLeftPendingTotal.WithLabelValues("conflict").Inc()
		r.log.Warn().Err(applyErr).Str("movement_id", mov.ID).Msg("conflicto de concurrencia, movimiento queda pending")
		return nil, &MovementError{Movement: r.reload(ctx, mov), Err: applyErr}

	default:
		r.release(ctx, mov.ID)
		metrics.MovementsLeftPendingTotal.WithLabelValues("internal").Inc()
		r.log.Error().Err(applyErr).Str("movement_id", mov.ID).Msg("error aplicando movimiento, queda pending")
		return nil, &MovementError{Movement: r.reload(ctx, mov), Err: classify(applyErr)}
	}
}

func (r *Reconciler) publish(ctx context.Context, mov *entity.Movement, balances []*entity.LocationBalance) {
	if r.publisher == nil || len(balances) == 0 {
		return
	}
	occurred := r.now()
	if mov.CompletedAt != nil {
		occurred = *mov.CompletedAt
	}
	events := make([]entity.MovementCompleted, 0, len(balances))
	for _, b := range balances {
		events = append(events, entity.MovementCompleted{
			EventID:     uuid.New().String(),
			EventType:   entity.EventTypeMovementCompleted,
			OccurredAt:  occurred,
			CompanyID:   mov.CompanyID,
			MovementID:  mov.ID,
			ProductID:   mov.ProductID,
			LocationID:  b.LocationID,
			NewQuantity: b.Quantity,
		})
	}
	if err := r.publisher.PublishMovementCompleted(ctx, events); err != nil {
		metrics.EventsPublishFailedTotal.Add(float64(len(events)))
		r.log.Warn().Err(err).Str("movement_id", mov.ID).Msg("no se pudieron publicar eventos MovementCompleted")
	}
}

// updateCost recalcula el costo promedio ponderado en entradas con costo unitario.
func (r *Reconciler) updateCost(ctx context.Context, productRepo repository.ProductRepository, mov *entity.Movement, prior int64) error {
	if mov.UnitCost == nil || !mov.IsInbound() {
		return nil
	}
	product, err := productRepo.GetByID(ctx, mov.ProductID)
	if err != nil {
		return fmt.Errorf("leer producto: %w", err)
	}
	if product == nil {
		return fmt.Errorf("%w: producto %s", domain.ErrNotFound, mov.ProductID)
	}
	cost := inventory.WeightedAverageCost(prior, product.Cost, mov.Quantity, *mov.UnitCost)
	if err := productRepo.UpdateCost(ctx, mov.ProductID, cost); err != nil {
		return fmt.Errorf("actualizar costo: %w", err)
	}
	return nil
}

func (r *Reconciler) release(ctx context.Context, id string) {
	if err := r.movRepo.ReleaseClaim(ctx, id); err != nil {
		r.log.Warn().Err(err).Str("movement_id", id).Msg("no se pudo liberar el lease")
	}
}

func (r *Reconciler) reload(ctx context.Context, mov *entity.Movement) *entity.Movement {
	current, err := r.movRepo.GetByID(ctx, mov.ID)
	if err != nil || current == nil {
		return mov
	}
	return current
}

// nextQuantity aplica el delta; una salida que deja el saldo negativo requiere backorder.
func nextQuantity(mov *entity.Movement, current, delta int64) (int64, error) {
	next := current + delta
	if delta < 0 && next < 0 && !mov.AllowBackorder {
		return 0, fmt.Errorf("%w: disponible %d, solicitado %d", domain.ErrInsufficientStock, current, -delta)
	}
	return next, nil
}

// classify envuelve como ErrInternal los errores que no son de dominio.
func classify(err error) error {
	for _, known := range []error{
		domain.ErrInsufficientStock, domain.ErrConflict, domain.ErrInvalidState,
		domain.ErrNotFound, domain.ErrValidation, domain.ErrInternal,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrInternal, err)
}

func hasBalance(balances []*entity.LocationBalance, locationID string) bool {
	for _, b := range balances {
		if b.LocationID == locationID {
			return true
		}
	}
	return false
}
