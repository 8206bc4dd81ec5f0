package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/orders"
)

// maxKeyGenerations bounds how many released orders one cart can cycle through.
const maxKeyGenerations = 32

// IdempotencyKey derives the key for one checkout attempt generation.
func IdempotencyKey(buyerID, fingerprint string, m orders.PaymentMethod, generation int) string {
	h := sha256.New()
	for _, p := range []string{buyerID, fingerprint, string(m), strconv.Itoa(generation)} {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// released reports whether o no longer owns its key: a failed or expired
// payment, or a placed order older than the replay window.
func released(o *orders.Order, now time.Time, window time.Duration) bool {
	switch o.PaymentStatus {
	case orders.PaymentFailed, orders.PaymentExpired:
		return true
	}
	return o.Placed() && now.Sub(o.CreatedAt) > window
}
