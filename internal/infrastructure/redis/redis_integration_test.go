package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	infraredis "github.com/jhoicas/stock-ledger/internal/infrastructure/redis"
)

// ──── Helpers de test ────

// newRedisClient Redis real; los tests se saltan si TEST_REDIS_ADDR no está definido.
func newRedisClient(t *testing.T) *infraredis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR no definido")
	}
	c, err := infraredis.NewClient(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// uniqueKey cada test usa sus propias claves para no chocar con ejecuciones previas.
func uniqueKey(prefix string) string {
	return prefix + ":" + uuid.NewString()
}

// ──── IdempotencyStore ────

// Caso: la primera reserva gana; la segunda devuelve el registro guardado sin pisarlo.
func TestIdempotencyStore_ReservaYRepite(t *testing.T) {
	store := infraredis.NewIdempotencyStore(newRedisClient(t))
	ctx := context.Background()
	key := uniqueKey("co-1")

	first := ledger.IdempotencyRecord{MovementID: "mov-1", Fingerprint: "abc"}
	existing, reserved, err := store.Reserve(ctx, key, first, time.Minute)
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Empty(t, existing.MovementID)

	existing, reserved, err = store.Reserve(ctx, key, ledger.IdempotencyRecord{MovementID: "mov-2", Fingerprint: "xyz"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, first, existing)
}

// Caso: tras Release la clave vuelve a estar libre.
func TestIdempotencyStore_ReleaseLiberaLaClave(t *testing.T) {
	store := infraredis.NewIdempotencyStore(newRedisClient(t))
	ctx := context.Background()
	key := uniqueKey("co-1")

	_, reserved, err := store.Reserve(ctx, key, ledger.IdempotencyRecord{MovementID: "mov-1", Fingerprint: "abc"}, time.Minute)
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, store.Release(ctx, key))

	_, reserved, err = store.Reserve(ctx, key, ledger.IdempotencyRecord{MovementID: "mov-2", Fingerprint: "abc"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, reserved)
}

// Caso: una clave vencida se puede reservar otra vez.
func TestIdempotencyStore_ClaveVencidaSeReserva(t *testing.T) {
	store := infraredis.NewIdempotencyStore(newRedisClient(t))
	ctx := context.Background()
	key := uniqueKey("co-1")

	_, reserved, err := store.Reserve(ctx, key, ledger.IdempotencyRecord{MovementID: "mov-1"}, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, reserved)

	time.Sleep(150 * time.Millisecond)
	_, reserved, err = store.Reserve(ctx, key, ledger.IdempotencyRecord{MovementID: "mov-2"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, reserved)
}

// ──── Locker ────

// Caso: mientras un dueño tiene el lock nadie más lo toma; al liberarlo queda libre.
func TestLocker_Exclusivo(t *testing.T) {
	locker := infraredis.NewLocker(newRedisClient(t))
	ctx := context.Background()
	name := uniqueKey("audit")

	release, ok, err := locker.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "el lock ya tiene dueño")

	require.NoError(t, release(ctx))
	release2, ok, err := locker.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, release2(ctx))
}

// Caso: el lock del primer dueño venció y lo tomó otro; la liberación tardía del primero
// no debe borrar el lock ajeno.
func TestLocker_OtroDuenoNoPuedeLiberar(t *testing.T) {
	locker := infraredis.NewLocker(newRedisClient(t))
	ctx := context.Background()
	name := uniqueKey("audit")

	staleRelease, ok, err := locker.TryLock(ctx, name, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(150 * time.Millisecond)

	release, ok, err := locker.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = release(context.Background()) })

	require.NoError(t, staleRelease(ctx))

	_, ok, err = locker.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "el lock del segundo dueño sigue vigente")
}
