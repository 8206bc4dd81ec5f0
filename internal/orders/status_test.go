package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		ok       bool
	}{
		{PaymentCreated, PaymentAwaiting, true},
		{PaymentCreated, PaymentConfirmed, false},
		{PaymentAwaiting, PaymentConfirmed, true},
		{PaymentAwaiting, PaymentFailed, true},
		{PaymentAwaiting, PaymentExpired, true},
		{PaymentConfirmed, PaymentFailed, false},
		{PaymentExpired, PaymentConfirmed, false},
		{PaymentNotApplicable, PaymentConfirmed, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, PaymentConfirmed.Terminal())
	assert.True(t, PaymentExpired.Terminal())
	assert.True(t, PaymentNotApplicable.Terminal())
	assert.False(t, PaymentAwaiting.Terminal())
	assert.False(t, PaymentStatus("BOGUS").Terminal())
	assert.False(t, PaymentStatus("BOGUS").Valid())
}

func TestDeriveOrderStatus(t *testing.T) {
	assert.Equal(t, OrderPlaced, DeriveOrderStatus(MethodCOD, PaymentNotApplicable))
	assert.Equal(t, OrderPlaced, DeriveOrderStatus(MethodGatewayA, PaymentConfirmed))
	assert.Equal(t, OrderCreated, DeriveOrderStatus(MethodGatewayA, PaymentAwaiting))
	assert.Equal(t, OrderCreated, DeriveOrderStatus(MethodGatewayB, PaymentNotApplicable))
	assert.Equal(t, OrderCancelled, DeriveOrderStatus(MethodGatewayB, PaymentFailed))
	assert.Equal(t, OrderCancelled, DeriveOrderStatus(MethodGatewayA, PaymentExpired))
}

func TestApply(t *testing.T) {
	now := time.Now()
	o := &Order{ID: "o1", PaymentMethod: MethodGatewayA, PaymentStatus: PaymentCreated, Version: 1}

	_, err := apply(o, Change{To: PaymentAwaiting, At: now})
	assert.ErrorIs(t, err, ErrInvalidTransition, "awaiting needs a correlation")

	next, err := apply(o, Change{To: PaymentAwaiting, Correlation: &Correlation{SessionID: "s", GatewayOrderID: "g"}, At: now})
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, now, next.LastTransitionAt)
	assert.Equal(t, PaymentCreated, o.PaymentStatus, "input untouched")

	_, err = apply(next, Change{To: PaymentConfirmed, Correlation: &Correlation{GatewayOrderID: "other"}, At: now})
	assert.ErrorIs(t, err, ErrInvalidTransition, "correlation is set once")

	done, err := apply(next, Change{To: PaymentConfirmed, At: now})
	require.NoError(t, err)
	assert.Equal(t, OrderPlaced, done.OrderStatus)
	assert.Equal(t, "g", done.Correlation.GatewayOrderID)
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]PaymentMethod{
		"COD": MethodCOD, "cod": MethodCOD, "gateway-a": MethodGatewayA, "GATEWAY_B": MethodGatewayB,
	} {
		got, ok := ParseMethod(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseMethod("upi")
	assert.False(t, ok)
}
