package cart

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-checkout-payments/internal/orders"
)

var ErrEmptyCart = errors.New("cart is empty")

// Snapshot is a price-frozen copy of a buyer's cart. Treat it as a value.
type Snapshot struct {
	BuyerID     string
	Items       []orders.Item
	Pricing     orders.Pricing
	Fingerprint string
}

type Source interface {
	PricedSnapshot(ctx context.Context, buyerID string) (Snapshot, error)
}

// NewSnapshot prices items. Shipping dan tax selalu 0 (belum ada aturan pricing).
func NewSnapshot(buyerID string, items []orders.Item) (Snapshot, error) {
	if len(items) == 0 {
		return Snapshot{}, ErrEmptyCart
	}
	frozen := make([]orders.Item, len(items))
	copy(frozen, items)

	var subtotal int64
	for _, it := range frozen {
		if it.Quantity < 1 {
			return Snapshot{}, fmt.Errorf("invalid quantity for product %s", it.ProductRef)
		}
		if it.UnitPrice < 0 {
			return Snapshot{}, fmt.Errorf("invalid price for product %s", it.ProductRef)
		}
		subtotal += it.LineTotal()
	}
	return Snapshot{
		BuyerID: buyerID,
		Items:   frozen,
		Pricing: orders.Pricing{
			Subtotal: subtotal,
			Total:    subtotal,
		},
		Fingerprint: Fingerprint(frozen),
	}, nil
}

// Fingerprint is order-independent: the same lines in any order hash equal.
func Fingerprint(items []orders.Item) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, strings.Join([]string{
			it.ProductRef, it.Variant,
			strconv.Itoa(it.Quantity), strconv.FormatInt(it.UnitPrice, 10),
		}, "\x1f"))
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\x1e")))
	return hex.EncodeToString(sum[:])
}
