//go:build integration

package orders

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -tags integration ./internal/orders/ with POSTGRES_DSN pointing at a scratch database.
func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))
	return &Repo{DB: pool, Service: "orders-test"}
}

func outboxCount(t *testing.T, db *pgxpool.Pool, orderID string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), `SELECT count(*) FROM outbox WHERE key=$1`, orderID).Scan(&n))
	return n
}

func TestRepo_InsertAndDuplicateKey(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := uuid.NewString()

	o := newGatewayOrder(uuid.NewString(), key, now)
	require.NoError(t, r.Insert(ctx, o))
	err := r.Insert(ctx, newGatewayOrder(uuid.NewString(), key, now))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	got, err := r.FindByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.Items, got.Items)
	assert.Equal(t, 1, outboxCount(t, r.DB, o.ID))

	byKeys, err := r.FindByIdempotencyKeys(ctx, []string{key, uuid.NewString()})
	require.NoError(t, err)
	assert.Len(t, byKeys, 1)
	assert.Equal(t, o.ID, byKeys[key].ID)
}

func TestRepo_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	now := time.Now().UTC()
	o := newGatewayOrder(uuid.NewString(), uuid.NewString(), now)
	require.NoError(t, r.Insert(ctx, o))

	corr := &Correlation{SessionID: "sess", GatewayOrderID: "cf-" + o.ID}
	next, err := r.CompareAndSet(ctx, o.ID, 1, Change{To: PaymentAwaiting, Correlation: corr, At: now, Reason: "session_opened"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Version)

	_, err = r.CompareAndSet(ctx, o.ID, 1, Change{To: PaymentFailed, At: now})
	assert.ErrorIs(t, err, ErrVersionConflict)
	_, err = r.CompareAndSet(ctx, o.ID, 2, Change{To: PaymentCreated, At: now})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = r.CompareAndSet(ctx, uuid.NewString(), 1, Change{To: PaymentFailed, At: now})
	assert.ErrorIs(t, err, ErrNotFound)

	byCorr, err := r.FindByCorrelation(ctx, MethodGatewayA, corr.GatewayOrderID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, byCorr.ID)
	assert.Equal(t, 2, outboxCount(t, r.DB, o.ID))
}

func TestRepo_CompareAndSetRace(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	now := time.Now().UTC()
	o := newGatewayOrder(uuid.NewString(), uuid.NewString(), now)
	require.NoError(t, r.Insert(ctx, o))
	_, err := r.CompareAndSet(ctx, o.ID, 1, Change{To: PaymentAwaiting,
		Correlation: &Correlation{SessionID: "s", GatewayOrderID: "cf-" + o.ID}, At: now})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, to := range []PaymentStatus{PaymentConfirmed, PaymentFailed, PaymentExpired} {
		wg.Add(1)
		go func(to PaymentStatus) {
			defer wg.Done()
			if _, err := r.CompareAndSet(ctx, o.ID, 2, Change{To: to, At: now}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, err := r.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}

func TestRepo_PurgeNeverTouchesConfirmed(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	old := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

	ids := map[PaymentStatus]string{}
	for _, st := range []PaymentStatus{PaymentConfirmed, PaymentFailed, PaymentExpired} {
		o := newGatewayOrder(uuid.NewString(), uuid.NewString(), old)
		require.NoError(t, r.Insert(ctx, o))
		_, err := r.CompareAndSet(ctx, o.ID, 1, Change{To: PaymentAwaiting,
			Correlation: &Correlation{SessionID: "s", GatewayOrderID: "cf-" + o.ID}, At: old})
		require.NoError(t, err)
		_, err = r.CompareAndSet(ctx, o.ID, 2, Change{To: st, At: old})
		require.NoError(t, err)
		ids[st] = o.ID
	}

	f := PurgeFilter{Failed: true, Expired: true, Synthetic: true, Before: old.Add(time.Hour)}
	n, err := r.CountPurgeable(ctx, f)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))

	_, err = r.Purge(ctx, f)
	require.NoError(t, err)

	_, err = r.Get(ctx, ids[PaymentConfirmed])
	assert.NoError(t, err)
	_, err = r.Get(ctx, ids[PaymentFailed])
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(ctx, ids[PaymentExpired])
	assert.ErrorIs(t, err, ErrNotFound)
}
