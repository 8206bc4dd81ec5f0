package projector

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kafkax "github.com/ariefcatur/go-checkout-payments/internal/kafka"
	"github.com/ariefcatur/go-checkout-payments/internal/metrics"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/redisx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, *redisx.StatusCache, *metrics.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := redisx.NewStatusCache(rdb)
	m := metrics.New("projector", prometheus.NewRegistry())
	svc := &Service{
		Cache:   cache,
		Dedup:   &redisx.Dedup{RDB: rdb, Scope: "projector"},
		Metrics: m,
	}
	return svc, cache, m
}

func statusMessage(t *testing.T, o *orders.Order, from orders.PaymentStatus) kafkago.Message {
	t.Helper()
	env, err := orders.NewStatusEvent("checkout-api", "", o, from, "test")
	require.NoError(t, err)
	return kafkago.Message{Key: orders.PartitionKey(o.ID), Value: kafkax.MustMarshal(env)}
}

func order(status orders.PaymentStatus, version int64) *orders.Order {
	return &orders.Order{
		ID: "ord-1", PaymentMethod: orders.MethodGatewayB,
		PaymentStatus: status, OrderStatus: orders.DeriveOrderStatus(orders.MethodGatewayB, status),
		Pricing: orders.Pricing{Total: 20000}, Version: version, LastTransitionAt: time.Now().UTC(),
	}
}

func TestHandleStatusChanged_OutOfOrderDelivery(t *testing.T) {
	ctx := context.Background()
	svc, cache, m := setup(t)

	confirmed := statusMessage(t, order(orders.PaymentConfirmed, 3), orders.PaymentAwaiting)
	awaiting := statusMessage(t, order(orders.PaymentAwaiting, 2), orders.PaymentCreated)

	require.NoError(t, svc.HandleStatusChanged(ctx, confirmed))
	require.NoError(t, svc.HandleStatusChanged(ctx, awaiting))

	v, ok, err := cache.Get(ctx, "ord-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.PaymentConfirmed, v.PaymentStatus)
	assert.Equal(t, orders.OrderPlaced, v.OrderStatus)
	assert.Equal(t, "payment confirmed, order placed", v.Message)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProjectedEvents.WithLabelValues("applied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProjectedEvents.WithLabelValues("stale")))
}

func TestHandleStatusChanged_Redelivery(t *testing.T) {
	ctx := context.Background()
	svc, _, m := setup(t)
	msg := statusMessage(t, order(orders.PaymentFailed, 3), orders.PaymentAwaiting)

	require.NoError(t, svc.HandleStatusChanged(ctx, msg))
	require.NoError(t, svc.HandleStatusChanged(ctx, msg))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProjectedEvents.WithLabelValues("duplicate")))
}

func TestHandleStatusChanged_DropsGarbage(t *testing.T) {
	ctx := context.Background()
	svc, _, m := setup(t)

	assert.NoError(t, svc.HandleStatusChanged(ctx, kafkago.Message{Value: []byte("{not json")}))
	assert.NoError(t, svc.HandleStatusChanged(ctx, kafkago.Message{
		Value: kafkax.MustMarshal(orders.Envelope{EventID: "e1", EventType: "StockReserved"}),
	}))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProjectedEvents.WithLabelValues("malformed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProjectedEvents.WithLabelValues("ignored")))
}
