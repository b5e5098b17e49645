package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.BalanceRepository = (*BalanceRepo)(nil)

// BalanceRepo saldos por producto+ubicación en memoria.
type BalanceRepo struct {
	s session
}

func (r *BalanceRepo) Get(_ context.Context, productID, locationID string) (*entity.LocationBalance, error) {
	var out *entity.LocationBalance
	err := r.s.read(func(txn *memdb.Txn) error {
		b, err := getBalance(txn, productID, locationID)
		out = b
		return err
	})
	return out, err
}

// GetForUpdate no necesita bloqueo: la txn de escritura de memdb ya es exclusiva.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, productID, locationID string) (*entity.LocationBalance, error) {
	return r.Get(ctx, productID, locationID)
}

func (r *BalanceRepo) CompareAndSwap(_ context.Context, b *entity.LocationBalance, expectedVersion int64) error {
	return r.s.write(func(txn *memdb.Txn) error {
		current, err := getBalance(txn, b.ProductID, b.LocationID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: saldo %s/%s versión %d, esperada %d",
				domain.ErrConflict, b.ProductID, b.LocationID, current.Version, expectedVersion)
		}
		c := *b
		c.Version = expectedVersion + 1
		if err := txn.Insert(tableBalances, &c); err != nil {
			return err
		}
		b.Version = c.Version
		return nil
	})
}

func (r *BalanceRepo) ListByLocation(_ context.Context, locationID string, limit, offset int) ([]*entity.LocationBalance, error) {
	var out []*entity.LocationBalance
	err := r.s.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableBalances, "location", locationID)
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			c := *obj.(*entity.LocationBalance)
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return page(out, limit, offset), nil
}

// getBalance devuelve una copia; si no existe, saldo cero con Version 0.
func getBalance(txn *memdb.Txn, productID, locationID string) (*entity.LocationBalance, error) {
	obj, err := txn.First(tableBalances, "id", productID, locationID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return &entity.LocationBalance{ProductID: productID, LocationID: locationID}, nil
	}
	c := *obj.(*entity.LocationBalance)
	return &c, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
