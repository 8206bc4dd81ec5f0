// Package gateway defines the contract between checkout and hosted payment
// providers. Adapters never touch the order store; they only translate
// "open a payment" and "what really happened" into provider calls.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-checkout-payments/internal/orders"
)

var (
	// ErrUnavailable covers network errors, timeouts and provider 5xx. Retryable.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrVerification means a signature, amount or identity check failed.
	ErrVerification = errors.New("gateway verification failed")
	// ErrMalformed is returned by ParseCallback for bodies it cannot read.
	ErrMalformed = errors.New("malformed gateway callback")
)

type Outcome string

const (
	OutcomePaid    Outcome = "PAID"
	OutcomeFailed  Outcome = "FAILED"
	OutcomePending Outcome = "PENDING"
)

// Payload is what the browser needs to continue at the provider.
type Payload struct {
	Kind           string            `json:"kind"`
	SessionID      string            `json:"session_id,omitempty"`
	GatewayOrderID string            `json:"gateway_order_id,omitempty"`
	Environment    string            `json:"environment,omitempty"`
	ActionURL      string            `json:"action_url,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
}

const (
	PayloadRedirectSession = "redirect_session"
	PayloadFormPost        = "form_post"
)

type Session struct {
	Correlation orders.Correlation
	Payload     Payload
}

// Hint locates the order a callback talks about. Either field may be empty.
type Hint struct {
	OrderID        string
	GatewayOrderID string
}

// Evidence is the raw, untrusted material a provider sent us.
type Evidence struct {
	Header http.Header
	Body   []byte
}

type Callback struct {
	Hint       Hint
	Asserted   Outcome
	DeliveryID string
	Evidence   Evidence
}

type Verdict struct {
	Outcome    Outcome
	Amount     int64
	GatewayRef string
}

type Adapter interface {
	Method() orders.PaymentMethod
	OpenSession(ctx context.Context, o *orders.Order) (Session, error)
	// Payload rebuilds the client payload for an order already awaiting confirmation.
	Payload(o *orders.Order) Payload
	// ParseCallback extracts a hint without trusting anything in the body.
	ParseCallback(h http.Header, body []byte) (Callback, error)
	// Verify establishes the true outcome. ev == nil means no payload was
	// supplied and the adapter must ask the provider directly.
	Verify(ctx context.Context, o *orders.Order, ev *Evidence) (Verdict, error)
}

type Registry struct {
	adapters map[orders.PaymentMethod]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[orders.PaymentMethod]Adapter{}}
	for _, a := range adapters {
		r.adapters[a.Method()] = a
	}
	return r
}

func (r *Registry) Get(m orders.PaymentMethod) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[m]
	return a, ok
}
