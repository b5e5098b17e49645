package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jhoicas/stock-ledger/internal/application/ledger"
)

var _ ledger.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore reserva Idempotency-Key con SETNX + TTL. El valor es el registro en JSON.
type IdempotencyStore struct {
	c *Client
}

// NewIdempotencyStore construye el almacén.
func NewIdempotencyStore(c *Client) *IdempotencyStore {
	return &IdempotencyStore{c: c}
}

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

// Reserve guarda el registro bajo la clave si no existe; si existe devuelve el registro guardado.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string, rec ledger.IdempotencyRecord, ttl time.Duration) (ledger.IdempotencyRecord, bool, error) {
	k := idempotencyKey(key)
	value, err := json.Marshal(rec)
	if err != nil {
		return ledger.IdempotencyRecord{}, false, fmt.Errorf("encode idempotency record: %w", err)
	}
	ok, err := s.c.rdb.SetNX(ctx, k, value, ttl).Result()
	if err != nil {
		return ledger.IdempotencyRecord{}, false, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return ledger.IdempotencyRecord{}, true, nil
	}
	raw, err := s.c.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expiró entre SETNX y GET: se reintenta una vez
		ok, err = s.c.rdb.SetNX(ctx, k, value, ttl).Result()
		if err != nil {
			return ledger.IdempotencyRecord{}, false, fmt.Errorf("redis setnx: %w", err)
		}
		return ledger.IdempotencyRecord{}, ok, nil
	}
	if err != nil {
		return ledger.IdempotencyRecord{}, false, fmt.Errorf("redis get: %w", err)
	}
	var existing ledger.IdempotencyRecord
	if err := json.Unmarshal(raw, &existing); err != nil {
		return ledger.IdempotencyRecord{}, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return existing, false, nil
}

// Release borra la clave (la creación del movimiento falló).
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.c.rdb.Del(ctx, idempotencyKey(key)).Err()
}
