package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/httpx"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/sweeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *orders.MemStore) {
	t.Helper()
	store := orders.NewMemStore()
	r := httpx.NewRouter(nil, nil)
	(&httpx.AdminHandler{
		Admin: &sweeper.Admin{Store: store, Sweeper: &sweeper.Sweeper{Store: store}, Secret: []byte("k"), TokenTTL: time.Minute},
		Token: "t0ken",
	}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedFailed(t *testing.T, store *orders.MemStore, id string) {
	t.Helper()
	ctx := context.Background()
	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, store.Insert(ctx, &orders.Order{
		ID: id, IdempotencyKey: "k-" + id, PaymentMethod: orders.MethodGatewayA,
		PaymentStatus: orders.PaymentCreated, OrderStatus: orders.OrderCreated,
		Version: 1, CreatedAt: old, LastTransitionAt: old,
	}))
	_, err := store.CompareAndSet(ctx, id, 1, orders.Change{To: orders.PaymentAwaiting,
		Correlation: &orders.Correlation{SessionID: id, GatewayOrderID: id}, At: old})
	require.NoError(t, err)
	_, err = store.CompareAndSet(ctx, id, 2, orders.Change{To: orders.PaymentFailed, At: old})
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	srv, store := newServer(t)
	seedFailed(t, store, "o1")

	out, err := run(t, "--server", srv.URL, "--token", "t0ken", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total:     1")
	assert.Contains(t, out, "FAILED")
}

func TestPurgePlanAndExecute(t *testing.T) {
	srv, store := newServer(t)
	seedFailed(t, store, "o1")
	seedFailed(t, store, "o2")

	out, err := run(t, "--server", srv.URL, "--token", "t0ken", "--actor", "ops", "purge", "plan", "-k", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "matching:   2")

	idx := strings.Index(out, "purge execute ")
	require.GreaterOrEqual(t, idx, 0)
	token := strings.TrimSpace(out[idx+len("purge execute "):])

	out, err = run(t, "--server", srv.URL, "--token", "t0ken", "--actor", "ops", "purge", "execute", token)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 2 order(s)")
	assert.Len(t, store.Audit(), 1)
}

func TestBadToken(t *testing.T) {
	srv, _ := newServer(t)
	_, err := run(t, "--server", srv.URL, "--token", "wrong", "sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNAUTHENTICATED")
}
