package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrDuplicateKey      = errors.New("order already exists for idempotency key")
	ErrVersionConflict   = errors.New("order version conflict")
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// Change is one payment transition applied through CompareAndSet.
// Correlation may only be supplied together with the move to AWAITING_CONFIRMATION.
type Change struct {
	To          PaymentStatus
	Correlation *Correlation
	At          time.Time
	Reason      string
}

// PurgeFilter selects terminal orders for administrative deletion.
// CONFIRMED orders never match, whatever the filter says.
type PurgeFilter struct {
	Failed    bool      `json:"failed"`
	Expired   bool      `json:"expired"`
	Synthetic bool      `json:"synthetic"`
	Before    time.Time `json:"before"`
}

func (f PurgeFilter) Empty() bool { return !f.Failed && !f.Expired && !f.Synthetic }

// Matches mirrors the SQL predicate used by the postgres store.
func (f PurgeFilter) Matches(o *Order) bool {
	if o.PaymentStatus == PaymentConfirmed || !o.LastTransitionAt.Before(f.Before) {
		return false
	}
	switch {
	case f.Failed && o.PaymentStatus == PaymentFailed:
		return true
	case f.Expired && o.PaymentStatus == PaymentExpired:
		return true
	case f.Synthetic && o.Synthetic && syntheticPurgeable[o.PaymentStatus]:
		return true
	}
	return false
}

// synthetic orders still waiting on a gateway are left to the sweeper.
var syntheticPurgeable = map[PaymentStatus]bool{
	PaymentFailed:        true,
	PaymentExpired:       true,
	PaymentNotApplicable: true,
}

type Stats struct {
	Total           int64                   `json:"total"`
	Synthetic       int64                   `json:"synthetic"`
	ByPaymentStatus map[PaymentStatus]int64 `json:"by_payment_status"`
	ByOrderStatus   map[OrderStatus]int64   `json:"by_order_status"`
}

type AuditEntry struct {
	Actor    string          `json:"actor"`
	Action   string          `json:"action"`
	Detail   json.RawMessage `json:"detail,omitempty"`
	Affected int64           `json:"affected"`
	At       time.Time       `json:"at"`
}

// Store is the only shared mutable state of the checkout flow. Every status
// write goes through CompareAndSet keyed by (id, expected version).
type Store interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// FindByIdempotencyKeys returns the orders holding any of keys, keyed by idempotency key.
	FindByIdempotencyKeys(ctx context.Context, keys []string) (map[string]*Order, error)
	FindByCorrelation(ctx context.Context, m PaymentMethod, gatewayOrderID string) (*Order, error)
	CompareAndSet(ctx context.Context, id string, expectedVersion int64, ch Change) (*Order, error)
	ListStale(ctx context.Context, s PaymentStatus, before time.Time, limit int) ([]*Order, error)
	CountPurgeable(ctx context.Context, f PurgeFilter) (int64, error)
	Purge(ctx context.Context, f PurgeFilter) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// apply validates ch against o and returns the transitioned copy.
func apply(o *Order, ch Change) (*Order, error) {
	if !CanTransition(o.PaymentStatus, ch.To) {
		return nil, ErrInvalidTransition
	}
	next := o.clone()
	if ch.Correlation != nil {
		if ch.To != PaymentAwaiting || !o.Correlation.Empty() || ch.Correlation.Empty() {
			return nil, ErrInvalidTransition
		}
		next.Correlation = *ch.Correlation
	}
	if ch.To == PaymentAwaiting && next.Correlation.Empty() {
		return nil, ErrInvalidTransition
	}
	next.PaymentStatus = ch.To
	next.OrderStatus = DeriveOrderStatus(o.PaymentMethod, ch.To)
	next.Version = o.Version + 1
	next.LastTransitionAt = ch.At
	return next, nil
}
