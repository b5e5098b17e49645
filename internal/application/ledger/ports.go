package ledger

import (
	"context"
	"time"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// TxRunner ejecuta una función dentro de una transacción, pasando repositorios atados a esa tx.
// Garantiza atomicidad de saldos + transición del movimiento en el modo transaccional.
type TxRunner interface {
	Run(ctx context.Context, fn func(
		movRepo repository.MovementRepository,
		balanceRepo repository.BalanceRepository,
		productRepo repository.ProductRepository,
	) error) error
}

// EventPublisher publica los eventos de dominio después del commit.
type EventPublisher interface {
	PublishMovementCompleted(ctx context.Context, events []entity.MovementCompleted) error
}

// IdempotencyRecord lo que se guarda bajo una Idempotency-Key: el movimiento creado y la huella
// del cuerpo que lo creó.
type IdempotencyRecord struct {
	MovementID  string `json:"movementId"`
	Fingerprint string `json:"fingerprint"`
}

// IdempotencyStore reserva claves Idempotency-Key por empresa.
// Reserve devuelve reserved=false y el registro ya asociado cuando la clave existía.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, rec IdempotencyRecord, ttl time.Duration) (existing IdempotencyRecord, reserved bool, err error)
	Release(ctx context.Context, key string) error
}
