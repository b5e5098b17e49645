package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Locker lock distribuido con dueño: solo quien lo tomó puede liberarlo.
type Locker struct {
	c *Client
}

// NewLocker construye el locker.
func NewLocker(c *Client) *Locker {
	return &Locker{c: c}
}

// TryLock toma el lock si está libre. Devuelve la función de liberación.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := "lock:" + name
	token := uuid.New().String()
	ok, err := l.c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if err := l.c.releaseScript.Run(ctx, l.c.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release lock script failed: %w", err)
		}
		return nil
	}
	return release, true, nil
}
