package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.BalanceRepository = (*BalanceRepo)(nil)

// BalanceRepo saldos por (producto, ubicación) con versión para escrituras condicionales.
type BalanceRepo struct {
	q Querier
}

// NewBalanceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewBalanceRepository(q Querier) *BalanceRepo {
	return &BalanceRepo{q: q}
}

const balanceColumns = `company_id, product_id, location_id, quantity, version, updated_at`

// Get devuelve el saldo o uno vacío con Version 0 si la fila no existe.
func (r *BalanceRepo) Get(ctx context.Context, productID, locationID string) (*entity.LocationBalance, error) {
	return r.get(ctx, productID, locationID, false)
}

// GetForUpdate bloquea la fila hasta el fin de la transacción. Una fila inexistente no se bloquea:
// el INSERT de CompareAndSwap resuelve esa carrera.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, productID, locationID string) (*entity.LocationBalance, error) {
	return r.get(ctx, productID, locationID, true)
}

func (r *BalanceRepo) get(ctx context.Context, productID, locationID string, lock bool) (*entity.LocationBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM location_balances WHERE product_id = $1 AND location_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	var b entity.LocationBalance
	err := r.q.QueryRow(ctx, query, productID, locationID).Scan(
		&b.CompanyID, &b.ProductID, &b.LocationID, &b.Quantity, &b.Version, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &entity.LocationBalance{ProductID: productID, LocationID: locationID}, nil
		}
		if isSerializationFailure(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

// CompareAndSwap inserta (expectedVersion 0) o actualiza solo si la versión no cambió.
func (r *BalanceRepo) CompareAndSwap(ctx context.Context, balance *entity.LocationBalance, expectedVersion int64) error {
	now := balance.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	next := expectedVersion + 1

	var query string
	var args []any
	if expectedVersion == 0 {
		query = `
			INSERT INTO location_balances (company_id, product_id, location_id, quantity, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (product_id, location_id) DO NOTHING`
		args = []any{balance.CompanyID, balance.ProductID, balance.LocationID, balance.Quantity, next, now}
	} else {
		query = `
			UPDATE location_balances SET quantity = $3, version = $4, updated_at = $5
			WHERE product_id = $1 AND location_id = $2 AND version = $6`
		args = []any{balance.ProductID, balance.LocationID, balance.Quantity, next, now, expectedVersion}
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		if isSerializationFailure(err) || isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("cas balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	balance.Version = next
	balance.UpdatedAt = now
	return nil
}

// ListByLocation lista los saldos de una ubicación ordenados por producto.
func (r *BalanceRepo) ListByLocation(ctx context.Context, locationID string, limit, offset int) ([]*entity.LocationBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM location_balances
		WHERE location_id = $1 ORDER BY product_id LIMIT $2 OFFSET $3`
	rows, err := r.q.Query(ctx, query, locationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()
	return scanBalances(rows)
}

func scanBalances(rows pgx.Rows) ([]*entity.LocationBalance, error) {
	var list []*entity.LocationBalance
	for rows.Next() {
		var b entity.LocationBalance
		if err := rows.Scan(&b.CompanyID, &b.ProductID, &b.LocationID, &b.Quantity, &b.Version, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		list = append(list, &b)
	}
	return list, rows.Err()
}
