package repository

import (
	"context"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// BalanceRepository define el puerto para consultar/actualizar saldos por producto+ubicación.
// Las escrituras son condicionales sobre la versión esperada (concurrencia optimista).
type BalanceRepository interface {
	// Get devuelve el saldo; si la fila no existe devuelve cantidad 0 y Version 0.
	Get(ctx context.Context, productID, locationID string) (*entity.LocationBalance, error)
	// GetForUpdate igual que Get pero bloquea la fila dentro de una transacción (SELECT FOR UPDATE).
	GetForUpdate(ctx context.Context, productID, locationID string) (*entity.LocationBalance, error)
	// CompareAndSwap escribe balance.Quantity si la versión almacenada es expectedVersion
	// (0 = insertar). Devuelve domain.ErrConflict si otro proceso la cambió; deja balance.Version
	// con la nueva versión.
	CompareAndSwap(ctx context.Context, balance *entity.LocationBalance, expectedVersion int64) error
	ListByLocation(ctx context.Context, locationID string, limit, offset int) ([]*entity.LocationBalance, error)
}
