package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestStatusCache_VersionGuard(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	cache := NewStatusCache(rdb)

	_, ok, err := cache.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.False(t, ok)

	awaiting := orders.StatusView{OrderID: "ord-1", PaymentStatus: orders.PaymentAwaiting, OrderStatus: orders.OrderCreated, Version: 2}
	confirmed := orders.StatusView{OrderID: "ord-1", PaymentStatus: orders.PaymentConfirmed, OrderStatus: orders.OrderPlaced, Version: 3}

	wrote, err := cache.Put(ctx, confirmed)
	require.NoError(t, err)
	assert.True(t, wrote)

	// event lama datang belakangan
	wrote, err = cache.Put(ctx, awaiting)
	require.NoError(t, err)
	assert.False(t, wrote)

	got, ok, err := cache.Get(ctx, "ord-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.PaymentConfirmed, got.PaymentStatus)
	assert.Equal(t, int64(3), got.Version)

	assert.True(t, mr.TTL(statusKey("ord-1")) > 0)
	mr.FastForward(TTLStatusCache + time.Second)
	_, ok, err = cache.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDedup(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	d := &Dedup{RDB: rdb, Scope: "webhook:gateway-a"}

	seen, err := d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Remember(ctx, "evt-1"))
	seen, err = d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	l := &Locker{RDB: rdb}

	release, ok, err := l.TryLock(ctx, KeySweeperLock, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, KeySweeperLock, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not get the lease")

	release()
	_, ok, err = l.TryLock(ctx, KeySweeperLock, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
