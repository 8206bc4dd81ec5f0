package sweeper

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdmin(t *testing.T) (*Admin, *orders.MemStore) {
	t.Helper()
	store := orders.NewMemStore()
	old := t0.Add(-10 * 24 * time.Hour)
	seed(t, store, "paid", orders.PaymentConfirmed, old)
	seed(t, store, "failed", orders.PaymentFailed, old)
	seed(t, store, "expired", orders.PaymentExpired, old)
	seed(t, store, "recent-failed", orders.PaymentFailed, t0.Add(-time.Hour))

	clock := func() time.Time { return t0 }
	a := &Admin{
		Store:    store,
		Sweeper:  &Sweeper{Store: store, now: clock},
		Secret:   []byte("s3cret"),
		TokenTTL: time.Minute,
		now:      clock,
	}
	return a, store
}

func TestPurge_PlanThenExecute(t *testing.T) {
	ctx := context.Background()
	a, store := newAdmin(t)

	plan, err := a.PlanPurge(ctx, "ops@shop", PurgeRequest{Kinds: []string{"failed", "expired"}, OlderThan: "7d"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), plan.Matching)
	assert.Equal(t, t0.Add(-7*24*time.Hour), plan.Filter.Before)
	assert.NotEmpty(t, plan.ApprovalToken)

	res, err := a.ExecutePurge(ctx, "ops@shop", plan.ApprovalToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)

	_, err = store.Get(ctx, "paid")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "recent-failed")
	assert.NoError(t, err, "younger than olderThan")
	_, err = store.Get(ctx, "failed")
	assert.ErrorIs(t, err, orders.ErrNotFound)

	audit := store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "ops@shop", audit[0].Actor)
	assert.Equal(t, "purge", audit[0].Action)
	assert.Equal(t, int64(2), audit[0].Affected)
}

func TestPurge_RejectsBadApprovals(t *testing.T) {
	ctx := context.Background()
	a, store := newAdmin(t)

	plan, err := a.PlanPurge(ctx, "ops@shop", PurgeRequest{Kinds: []string{"failed"}})
	require.NoError(t, err)

	_, err = a.ExecutePurge(ctx, "someone-else", plan.ApprovalToken)
	assert.ErrorIs(t, err, ErrApprovalInvalid)

	signed := plan.ApprovalToken[:strings.LastIndex(plan.ApprovalToken, ".")]
	_, err = a.ExecutePurge(ctx, "ops@shop", signed+".Zm9yZ2Vk")
	assert.ErrorIs(t, err, ErrApprovalInvalid)

	other := &Admin{Store: store, Secret: []byte("other"), TokenTTL: time.Minute, now: a.now}
	foreign, err := other.PlanPurge(ctx, "ops@shop", PurgeRequest{Kinds: []string{"failed"}})
	require.NoError(t, err)
	_, err = a.ExecutePurge(ctx, "ops@shop", foreign.ApprovalToken)
	assert.ErrorIs(t, err, ErrApprovalInvalid)

	_, err = a.ExecutePurge(ctx, "ops@shop", "garbage")
	assert.ErrorIs(t, err, ErrApprovalInvalid)

	a.now = func() time.Time { return t0.Add(2 * time.Minute) }
	_, err = a.ExecutePurge(ctx, "ops@shop", plan.ApprovalToken)
	assert.ErrorIs(t, err, ErrApprovalExpired)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Total, "nothing deleted")
	assert.Empty(t, store.Audit())
}

func TestPlanPurge_Validation(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdmin(t)

	_, err := a.PlanPurge(ctx, "ops", PurgeRequest{})
	assert.ErrorIs(t, err, ErrEmptyFilter)

	_, err = a.PlanPurge(ctx, "ops", PurgeRequest{Kinds: []string{"confirmed"}})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = a.PlanPurge(ctx, "ops", PurgeRequest{Kinds: []string{"failed"}, OlderThan: "soon"})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	a.Secret = nil
	_, err = a.PlanPurge(ctx, "ops", PurgeRequest{Kinds: []string{"failed"}})
	assert.Error(t, err)
}

func TestAdminSweep_Audited(t *testing.T) {
	ctx := context.Background()
	a, store := newAdmin(t)
	seed(t, store, "waiting", orders.PaymentAwaiting, t0.Add(-time.Hour))

	n, err := a.Sweep(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	audit := store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "sweep", audit[0].Action)
}
