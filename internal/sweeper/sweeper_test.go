package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/metrics"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// seed inserts a gateway order and walks it to status at time at.
func seed(t *testing.T, s orders.Store, id string, status orders.PaymentStatus, at time.Time) {
	t.Helper()
	ctx := context.Background()
	o := &orders.Order{
		ID: id, IdempotencyKey: "key-" + id, BuyerID: "buyer-1",
		Pricing:       orders.Pricing{Subtotal: 1000, Total: 1000},
		PaymentMethod: orders.MethodGatewayB, PaymentStatus: orders.PaymentCreated, OrderStatus: orders.OrderCreated,
		Version: 1, CreatedAt: at, LastTransitionAt: at,
	}
	require.NoError(t, s.Insert(ctx, o))
	if status == orders.PaymentCreated {
		return
	}
	next, err := s.CompareAndSet(ctx, id, 1, orders.Change{
		To: orders.PaymentAwaiting, Correlation: &orders.Correlation{SessionID: id, GatewayOrderID: "txn-" + id}, At: at,
	})
	require.NoError(t, err)
	if status != orders.PaymentAwaiting {
		_, err = s.CompareAndSet(ctx, id, next.Version, orders.Change{To: status, At: at})
		require.NoError(t, err)
	}
}

type recordingCache struct {
	mu  sync.Mutex
	put []orders.StatusView
}

func (c *recordingCache) Put(_ context.Context, v orders.StatusView) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put = append(c.put, v)
	return true, nil
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	store := orders.NewMemStore()
	seed(t, store, "stale-1", orders.PaymentAwaiting, t0.Add(-2*time.Hour))
	seed(t, store, "stale-2", orders.PaymentAwaiting, t0.Add(-31*time.Minute))
	seed(t, store, "fresh", orders.PaymentAwaiting, t0.Add(-5*time.Minute))
	seed(t, store, "paid", orders.PaymentConfirmed, t0.Add(-3*time.Hour))
	seed(t, store, "created", orders.PaymentCreated, t0.Add(-3*time.Hour))

	cache := &recordingCache{}
	m := metrics.New("test", prometheus.NewRegistry())
	sw := &Sweeper{Store: store, Cache: cache, TTL: 30 * time.Minute, Batch: 1, Metrics: m, now: func() time.Time { return t0 }}

	n, err := sw.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "batches until drained")
	assert.Len(t, cache.put, 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Expired))

	for id, want := range map[string]orders.PaymentStatus{
		"stale-1": orders.PaymentExpired,
		"stale-2": orders.PaymentExpired,
		"fresh":   orders.PaymentAwaiting,
		"paid":    orders.PaymentConfirmed,
		"created": orders.PaymentCreated,
	} {
		o, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, o.PaymentStatus, id)
	}

	// second pass finds nothing
	n, err = sw.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// racingStore lets a reconciler confirm the order between ListStale and
// the sweeper's compare-and-set.
type racingStore struct {
	orders.Store
	once sync.Once
}

func (s *racingStore) ListStale(ctx context.Context, st orders.PaymentStatus, before time.Time, limit int) ([]*orders.Order, error) {
	out, err := s.Store.ListStale(ctx, st, before, limit)
	s.once.Do(func() {
		for _, o := range out {
			_, _ = s.Store.CompareAndSet(ctx, o.ID, o.Version, orders.Change{To: orders.PaymentConfirmed, At: t0})
		}
	})
	return out, err
}

func TestExpireStale_LosesToConfirmation(t *testing.T) {
	ctx := context.Background()
	mem := orders.NewMemStore()
	seed(t, mem, "o1", orders.PaymentAwaiting, t0.Add(-time.Hour))

	sw := &Sweeper{Store: &racingStore{Store: mem}, TTL: 30 * time.Minute, now: func() time.Time { return t0 }}
	n, err := sw.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	o, err := mem.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentConfirmed, o.PaymentStatus)
	assert.Equal(t, orders.OrderPlaced, o.OrderStatus)
}

type fakeLocker struct {
	held     bool
	released int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	if l.held {
		return func() {}, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestTick_SkipsWithoutLease(t *testing.T) {
	ctx := context.Background()
	store := orders.NewMemStore()
	seed(t, store, "o1", orders.PaymentAwaiting, t0.Add(-time.Hour))

	lock := &fakeLocker{held: true}
	sw := &Sweeper{Store: store, Locker: lock, TTL: 30 * time.Minute, now: func() time.Time { return t0 }}

	sw.tick(ctx, time.Minute)
	o, _ := store.Get(ctx, "o1")
	assert.Equal(t, orders.PaymentAwaiting, o.PaymentStatus, "another replica holds the lease")

	lock.held = false
	sw.tick(ctx, time.Minute)
	o, _ = store.Get(ctx, "o1")
	assert.Equal(t, orders.PaymentExpired, o.PaymentStatus)
	assert.Equal(t, 1, lock.released)
}
