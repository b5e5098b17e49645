package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.MovementRepository = (*MovementRepo)(nil)

// MovementRepo ledger de movimientos sobre PostgreSQL. Las filas nunca se borran; después del
// INSERT solo hay UPDATEs condicionados a status = 'pending'.
type MovementRepo struct {
	q Querier
}

// NewMovementRepository construye el adaptador. Pasar pool o tx (Querier).
func NewMovementRepository(q Querier) *MovementRepo {
	return &MovementRepo{q: q}
}

const movementColumns = `id, company_id, product_id, type, quantity, from_location_id, to_location_id,
	reference, reason, unit_cost, allow_backorder, status, applied_delta, failure_reason, compensation,
	saga_step, claimed_until, created_at, created_by, completed_at, cancelled_at, failed_at`

// Create persiste el movimiento en estado pending.
func (r *MovementRepo) Create(ctx context.Context, m *entity.Movement) error {
	query := `
		INSERT INTO stock_movements (id, company_id, product_id, type, quantity, from_location_id, to_location_id,
			reference, reason, unit_cost, allow_backorder, status, compensation, saga_step, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.q.Exec(ctx, query,
		m.ID, m.CompanyID, m.ProductID, string(m.Type), m.Quantity, nullable(m.FromLocationID), nullable(m.ToLocationID),
		m.Reference, m.Reason, m.UnitCost, m.AllowBackorder, string(m.Status), m.Compensation, m.SagaStep,
		m.CreatedAt, m.CreatedBy,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: movimiento %s", domain.ErrDuplicate, m.ID)
		case isForeignKeyViolation(err):
			return fmt.Errorf("%w: producto o ubicación inexistente", domain.ErrValidation)
		}
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// GetByID obtiene un movimiento; nil si no existe.
func (r *MovementRepo) GetByID(ctx context.Context, id string) (*entity.Movement, error) {
	m, err := scanMovement(r.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get movement: %w", err)
	}
	return m, nil
}

// List devuelve la página pedida (más recientes primero) y el total que cumple el filtro.
func (r *MovementRepo) List(ctx context.Context, f repository.MovementFilter) ([]*entity.Movement, int, error) {
	where := []string{"company_id = $1"}
	args := []any{f.CompanyID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ProductID != "" {
		add("product_id = $%d", f.ProductID)
	}
	if f.LocationID != "" {
		args = append(args, f.LocationID)
		n := len(args)
		where = append(where, fmt.Sprintf("(from_location_id = $%d OR to_location_id = $%d)", n, n))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count movements: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM stock_movements WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		movementColumns, cond, len(args)-1, len(args))
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()
	list, err := scanMovements(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// Claim toma el lease si el movimiento sigue pending y nadie lo tiene.
func (r *MovementRepo) Claim(ctx context.Context, id string, now, until time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE stock_movements SET claimed_until = $3
		WHERE id = $1 AND status = 'pending' AND (claimed_until IS NULL OR claimed_until <= $2)`,
		id, now, until)
	if err != nil {
		return false, fmt.Errorf("claim movement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *MovementRepo) ReleaseClaim(ctx context.Context, id string) error {
	if _, err := r.q.Exec(ctx, `UPDATE stock_movements SET claimed_until = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

func (r *MovementRepo) SetSagaStep(ctx context.Context, id, step string, appliedDelta *int64) error {
	return r.transition(ctx, id, `
		UPDATE stock_movements SET saga_step = $2, applied_delta = COALESCE($3, applied_delta)
		WHERE id = $1 AND status = 'pending'`,
		step, appliedDelta)
}

func (r *MovementRepo) Complete(ctx context.Context, id string, completedAt time.Time, appliedDelta *int64) error {
	return r.transition(ctx, id, `
		UPDATE stock_movements
		SET status = 'completed', completed_at = $2, applied_delta = COALESCE($3, applied_delta), claimed_until = NULL
		WHERE id = $1 AND status = 'pending'`,
		completedAt, appliedDelta)
}

func (r *MovementRepo) Fail(ctx context.Context, id, reason, compensation string, failedAt time.Time) error {
	return r.transition(ctx, id, `
		UPDATE stock_movements
		SET status = 'failed', failure_reason = $2, compensation = $3, failed_at = $4, claimed_until = NULL
		WHERE id = $1 AND status = 'pending'`,
		reason, compensation, failedAt)
}

// Cancel exige además que no haya lease vigente ni pasos de saga.
func (r *MovementRepo) Cancel(ctx context.Context, id string, now time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE stock_movements SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status = 'pending' AND saga_step = ''
		  AND (claimed_until IS NULL OR claimed_until <= $2)`,
		id, now)
	if err != nil {
		return fmt.Errorf("cancel movement: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: movimiento %s", domain.ErrNotFound, id)
	}
	if m.Status != entity.StatusPending {
		return fmt.Errorf("%w: movimiento %s en estado %s", domain.ErrInvalidState, id, m.Status)
	}
	return fmt.Errorf("%w: el movimiento se está reconciliando", domain.ErrInvalidState)
}

func (r *MovementRepo) ListStalePending(ctx context.Context, olderThan, now time.Time, limit int) ([]*entity.Movement, error) {
	rows, err := r.q.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
		WHERE status = 'pending' AND created_at < $1
		  AND (claimed_until IS NULL OR claimed_until <= $2)
		  AND saga_step NOT IN ('debiting', 'crediting')
		ORDER BY created_at LIMIT $3`,
		olderThan, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()
	return scanMovements(rows)
}

// transition ejecuta un UPDATE condicionado a pending ($1 = id) y traduce 0 filas al error de dominio.
func (r *MovementRepo) transition(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.q.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update movement: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: movimiento %s", domain.ErrNotFound, id)
	}
	return fmt.Errorf("%w: movimiento %s en estado %s", domain.ErrInvalidState, id, m.Status)
}

func scanMovement(row pgx.Row) (*entity.Movement, error) {
	var m entity.Movement
	var typ, status string
	var from, to *string
	err := row.Scan(
		&m.ID, &m.CompanyID, &m.ProductID, &typ, &m.Quantity, &from, &to,
		&m.Reference, &m.Reason, &m.UnitCost, &m.AllowBackorder, &status, &m.AppliedDelta, &m.FailureReason, &m.Compensation,
		&m.SagaStep, &m.ClaimedUntil, &m.CreatedAt, &m.CreatedBy, &m.CompletedAt, &m.CancelledAt, &m.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = entity.MovementType(typ)
	m.Status = entity.MovementStatus(status)
	m.FromLocationID = fromNullable(from)
	m.ToLocationID = fromNullable(to)
	return &m, nil
}

func scanMovements(rows pgx.Rows) ([]*entity.Movement, error) {
	list := []*entity.Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
