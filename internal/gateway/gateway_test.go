package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmounts(t *testing.T) {
	assert.Equal(t, "200.00", FormatAmount(20000))
	assert.Equal(t, "0.05", FormatAmount(5))

	p, err := ParseAmount("200.00")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), p)

	p, err = ParseAmount("200")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), p)

	_, err = ParseAmount("200.005")
	assert.ErrorIs(t, err, ErrVerification)

	_, err = ParseAmount("abc")
	assert.ErrorIs(t, err, ErrVerification)
}

func TestCanonical(t *testing.T) {
	f := map[string]string{"b": "2", "a": "1", "checksum": "x"}
	assert.Equal(t, "a=1&b=2", Canonical(f, "checksum"))
	assert.Equal(t, "a=1&b=2&checksum=x", Canonical(f))
}

func TestSignatures(t *testing.T) {
	sig := SignHex("k", "a=1")
	assert.True(t, Equal(sig, SignHex("k", "a=1")))
	assert.False(t, Equal(sig, SignHex("other", "a=1")))
	assert.NotEqual(t, SignBase64("k", "ts", "body"), SignBase64("k", "ts", "body2"))
}
