package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Minute, cfg.PaymentTTL)
	assert.Equal(t, 200, cfg.SweepBatch)
	assert.True(t, cfg.Sandbox())
	assert.False(t, cfg.GatewayA.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PAYMENT_TTL", "45m")
	t.Setenv("SWEEP_BATCH", "not-a-number")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("GATEWAY_MODE", "PRODUCTION")
	t.Setenv("GATEWAY_B_CLIENT_CODE", "TEST01")
	t.Setenv("GATEWAY_B_AUTH_KEY", "key")

	cfg := Load()
	assert.Equal(t, 45*time.Minute, cfg.PaymentTTL)
	assert.Equal(t, 200, cfg.SweepBatch)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.Sandbox())
	assert.True(t, cfg.GatewayB.Enabled())
}
