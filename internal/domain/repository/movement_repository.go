package repository

import (
	"context"
	"time"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// MovementFilter filtros del listado paginado de movimientos (más recientes primero).
type MovementFilter struct {
	CompanyID  string
	ProductID  string
	LocationID string // coincide con origen o destino
	Status     entity.MovementStatus
	Type       entity.MovementType
	Limit      int
	Offset     int
}

// PairTotal suma de deltas de movimientos completados para un par (producto, ubicación).
type PairTotal struct {
	CompanyID  string
	ProductID  string
	LocationID string
	Total      int64
}

// MovementRepository define el puerto de persistencia del ledger de movimientos.
// Es append-only: las únicas escrituras después de Create son transiciones condicionales
// desde pending. Las transiciones devuelven domain.ErrInvalidState si el movimiento ya no está pending.
type MovementRepository interface {
	Create(ctx context.Context, movement *entity.Movement) error
	GetByID(ctx context.Context, id string) (*entity.Movement, error)
	List(ctx context.Context, filter MovementFilter) ([]*entity.Movement, int, error)

	// Claim toma el movimiento para reconciliarlo si está pending y sin lease vigente.
	Claim(ctx context.Context, id string, now, until time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id string) error
	// SetSagaStep registra el avance de la saga (solo modo saga). appliedDelta solo se informa
	// al acreditar un count.
	SetSagaStep(ctx context.Context, id, step string, appliedDelta *int64) error

	Complete(ctx context.Context, id string, completedAt time.Time, appliedDelta *int64) error
	Fail(ctx context.Context, id, reason, compensation string, failedAt time.Time) error
	// Cancel solo procede si el movimiento está pending, ninguna reconciliación lo tiene tomado
	// y no hay pasos de saga registrados.
	Cancel(ctx context.Context, id string, now time.Time) error

	// ListStalePending devuelve movimientos pending creados antes de olderThan, sin lease vigente
	// y cuya saga no quedó en un paso ambiguo (debiting/crediting).
	ListStalePending(ctx context.Context, olderThan, now time.Time, limit int) ([]*entity.Movement, error)
}
