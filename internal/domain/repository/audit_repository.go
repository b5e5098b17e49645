package repository

import (
	"context"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// LedgerSnapshot lectura consistente de las sumas del ledger y los saldos almacenados.
type LedgerSnapshot struct {
	Totals   []PairTotal
	Balances []*entity.LocationBalance
	// InFlight pares tocados por movimientos pending con un paso de saga registrado.
	InFlight []entity.PairKey
}

// AuditRepository define el puerto de la auditoría de reconciliación.
type AuditRepository interface {
	// Snapshot lee sumas y saldos en una misma vista consistente.
	Snapshot(ctx context.Context, scope entity.AuditScope) (*LedgerSnapshot, error)
	// CompanyIDs devuelve las empresas con movimientos o saldos (job periódico).
	CompanyIDs(ctx context.Context) ([]string, error)
	Create(ctx context.Context, run *entity.AuditRun) error
	GetByID(ctx context.Context, id string) (*entity.AuditRun, error)
}
