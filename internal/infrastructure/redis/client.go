// Package redis adapta Redis para claves de idempotencia y el lock del job de auditoría.
package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// Client envuelve redis.Client con los scripts del ledger.
type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient conecta y verifica con PING.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, releaseScript: redis.NewScript(releaseLockScript)}
}

// Close cierra la conexión.
func (c *Client) Close() error {
	return c.rdb.Close()
}
