package memory

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/jhoicas/stock-ledger/internal/application/ledger"
)

var _ ledger.IdempotencyStore = (*IdempotencyStore)(nil)

type idempotencyKey struct {
	Key       string
	Record    ledger.IdempotencyRecord
	ExpiresAt time.Time
}

// IdempotencyStore reemplazo de Redis para un solo proceso.
type IdempotencyStore struct {
	s session
}

func (r *IdempotencyStore) Reserve(_ context.Context, key string, rec ledger.IdempotencyRecord, ttl time.Duration) (ledger.IdempotencyRecord, bool, error) {
	var (
		existing ledger.IdempotencyRecord
		reserved bool
	)
	err := r.s.write(func(txn *memdb.Txn) error {
		now := time.Now()
		obj, err := txn.First(tableIdempotency, "id", key)
		if err != nil {
			return err
		}
		if obj != nil {
			k := obj.(*idempotencyKey)
			if now.Before(k.ExpiresAt) {
				existing = k.Record
				return nil
			}
		}
		reserved = true
		return txn.Insert(tableIdempotency, &idempotencyKey{Key: key, Record: rec, ExpiresAt: now.Add(ttl)})
	})
	return existing, reserved, err
}

func (r *IdempotencyStore) Release(_ context.Context, key string) error {
	return r.s.write(func(txn *memdb.Txn) error {
		_, err := txn.DeleteAll(tableIdempotency, "id", key)
		return err
	})
}
