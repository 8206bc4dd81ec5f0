// Package checkout owns the order payment state machine: it turns a cart
// snapshot into exactly one order per checkout attempt, opens gateway
// sessions, and folds callbacks and polls into a single authoritative status.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/cart"
	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	"github.com/ariefcatur/go-checkout-payments/internal/metrics"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StatusCache is a best-effort read model; the store stays authoritative.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (orders.StatusView, bool, error)
	Put(ctx context.Context, v orders.StatusView) (bool, error)
}

type Config struct {
	GatewayTimeout    time.Duration
	IdempotencyWindow time.Duration
	// Synthetic marks every new order as a test order (sandbox gateways).
	Synthetic        bool
	ReconcileRetries int
}

type Deps struct {
	Store    orders.Store
	Carts    cart.Source
	Gateways *gateway.Registry
	Cache    StatusCache
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Service struct {
	store    orders.Store
	carts    cart.Source
	gateways *gateway.Registry
	cache    StatusCache
	metrics  *metrics.Metrics
	log      *slog.Logger
	tracer   trace.Tracer
	cfg      Config
	now      func() time.Time
	newID    func() string
}

func New(d Deps, cfg Config) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = 24 * time.Hour
	}
	if cfg.ReconcileRetries <= 0 {
		cfg.ReconcileRetries = 3
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    d.Store,
		carts:    d.Carts,
		gateways: d.Gateways,
		cache:    d.Cache,
		metrics:  d.Metrics,
		log:      log.With("component", "checkout"),
		tracer:   otel.Tracer("checkout"),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

type InitiateRequest struct {
	PaymentMethod   orders.PaymentMethod   `json:"paymentMethod"`
	ShippingAddress orders.ShippingAddress `json:"shippingAddress"`
}

type InitiateResult struct {
	OrderID        string               `json:"orderId"`
	PaymentMethod  orders.PaymentMethod `json:"paymentMethod"`
	PaymentStatus  orders.PaymentStatus `json:"paymentStatus"`
	OrderStatus    orders.OrderStatus   `json:"orderStatus"`
	Pricing        orders.Pricing       `json:"pricing"`
	GatewayPayload *gateway.Payload     `json:"gatewayPayload,omitempty"`
	Replayed       bool                 `json:"replayed"`
}

func result(o *orders.Order, p *gateway.Payload, replayed bool) InitiateResult {
	return InitiateResult{
		OrderID:        o.ID,
		PaymentMethod:  o.PaymentMethod,
		PaymentStatus:  o.PaymentStatus,
		OrderStatus:    o.OrderStatus,
		Pricing:        o.Pricing,
		GatewayPayload: p,
		Replayed:       replayed,
	}
}

// InitiateCheckout converts the buyer's current cart into an order. Retries
// of the same attempt return the same order; a gateway failure leaves the
// order CREATED and a retry opens a session for it again.
func (s *Service) InitiateCheckout(ctx context.Context, buyerID string, req InitiateRequest) (res InitiateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.initiate",
		trace.WithAttributes(attribute.String("payment.method", string(req.PaymentMethod))))
	defer func() {
		s.metrics.Initiation(string(req.PaymentMethod), resultLabel(err))
		endSpan(span, err)
	}()

	if buyerID == "" {
		return res, validation("buyer is required")
	}
	m, ok := orders.ParseMethod(string(req.PaymentMethod))
	if !ok {
		return res, validation("paymentMethod must be one of COD, GATEWAY_A, GATEWAY_B")
	}
	if _, ok := s.gateways.Get(m); m != orders.MethodCOD && !ok {
		return res, validation("payment method is not available")
	}
	addr, err := normalizeAddress(req.ShippingAddress)
	if err != nil {
		return res, err
	}

	snap, err := s.carts.PricedSnapshot(ctx, buyerID)
	if errors.Is(err, cart.ErrEmptyCart) {
		return res, validation("cart is empty")
	}
	if err != nil {
		return res, internal(err)
	}

	keys := make([]string, maxKeyGenerations)
	for gen := range keys {
		keys[gen] = IdempotencyKey(buyerID, snap.Fingerprint, m, gen)
	}
	for attempt := 0; attempt < 3; attempt++ {
		o, key, err := s.liveOrFree(ctx, keys)
		if err != nil {
			return res, err
		}
		if o != nil {
			return s.resume(ctx, o, true)
		}

		o = s.newOrder(key, snap, addr, m)
		err = s.store.Insert(ctx, o)
		if err == nil {
			s.log.InfoContext(ctx, "order created",
				"order_id", o.ID, "method", m, "payment_status", o.PaymentStatus, "total", o.Pricing.Total)
			s.cacheView(ctx, o)
			return s.resume(ctx, o, false)
		}
		if !errors.Is(err, orders.ErrDuplicateKey) {
			return res, internal(err)
		}
		// kalah race insert: scan ulang, pemenangnya sekarang live
	}
	return res, internal(errors.New("checkout kept losing insert races"))
}

// liveOrFree scans every key generation. Released orders can be purged out
// of the middle of the sequence, so a gap does not mean nothing later is
// live. It returns the live order if any, otherwise the first free key.
func (s *Service) liveOrFree(ctx context.Context, keys []string) (*orders.Order, string, error) {
	found, err := s.store.FindByIdempotencyKeys(ctx, keys)
	if err != nil {
		return nil, "", internal(err)
	}
	now, free := s.now(), ""
	for _, key := range keys {
		o, ok := found[key]
		if !ok {
			if free == "" {
				free = key
			}
			continue
		}
		if released(o, now, s.cfg.IdempotencyWindow) {
			continue
		}
		full, err := s.store.Get(ctx, o.ID)
		if err != nil {
			return nil, "", internal(err)
		}
		return full, key, nil
	}
	if free == "" {
		return nil, "", internal(errors.New("idempotency key generations exhausted"))
	}
	return nil, free, nil
}

func (s *Service) newOrder(key string, snap cart.Snapshot, addr orders.ShippingAddress, m orders.PaymentMethod) *orders.Order {
	now := s.now()
	ps := orders.PaymentCreated
	if m == orders.MethodCOD {
		// COD diterima untuk fulfilment di write yang sama dengan pembuatan
		ps = orders.PaymentNotApplicable
	}
	return &orders.Order{
		ID:               s.newID(),
		IdempotencyKey:   key,
		BuyerID:          snap.BuyerID,
		Items:            snap.Items,
		Pricing:          snap.Pricing,
		ShippingAddress:  addr,
		PaymentMethod:    m,
		PaymentStatus:    ps,
		OrderStatus:      orders.DeriveOrderStatus(m, ps),
		Synthetic:        s.cfg.Synthetic,
		Version:          1,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
}

func (s *Service) resume(ctx context.Context, o *orders.Order, replayed bool) (InitiateResult, error) {
	switch o.PaymentStatus {
	case orders.PaymentCreated:
		return s.openSession(ctx, o, replayed)
	case orders.PaymentAwaiting:
		a, ok := s.gateways.Get(o.PaymentMethod)
		if !ok {
			return InitiateResult{}, internal(errors.New("no adapter for " + string(o.PaymentMethod)))
		}
		p := a.Payload(o)
		return result(o, &p, replayed), nil
	default:
		return result(o, nil, replayed), nil
	}
}

func (s *Service) openSession(ctx context.Context, o *orders.Order, replayed bool) (InitiateResult, error) {
	a, ok := s.gateways.Get(o.PaymentMethod)
	if !ok {
		return InitiateResult{}, internal(errors.New("no adapter for " + string(o.PaymentMethod)))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	start := time.Now()
	sess, err := a.OpenSession(callCtx, o)
	cancel()
	s.metrics.GatewayCall(string(o.PaymentMethod), "open_session", float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.log.WarnContext(ctx, "open payment session failed", "order_id", o.ID, "method", o.PaymentMethod, "error", err)
		return InitiateResult{}, gatewayUnavailable(err)
	}

	next, err := s.store.CompareAndSet(ctx, o.ID, o.Version, orders.Change{
		To:          orders.PaymentAwaiting,
		Correlation: &sess.Correlation,
		At:          s.now(),
		Reason:      "session_opened",
	})
	switch {
	case err == nil:
		s.cacheView(ctx, next)
		return result(next, &sess.Payload, replayed), nil
	case isConflict(err):
		// request paralel sudah membuka session lebih dulu
		cur, gerr := s.store.Get(ctx, o.ID)
		if gerr != nil {
			return InitiateResult{}, internal(gerr)
		}
		if cur.PaymentStatus == orders.PaymentAwaiting {
			p := a.Payload(cur)
			return result(cur, &p, true), nil
		}
		return result(cur, nil, true), nil
	default:
		return InitiateResult{}, internal(err)
	}
}

// GetStatus never contacts a gateway.
func (s *Service) GetStatus(ctx context.Context, orderID string) (orders.StatusView, error) {
	if s.cache != nil {
		v, ok, err := s.cache.Get(ctx, orderID)
		if err != nil {
			s.log.DebugContext(ctx, "status cache read failed", "order_id", orderID, "error", err)
		} else if ok {
			return v, nil
		}
	}
	o, err := s.store.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.StatusView{}, &Error{Kind: KindNotFound, Msg: "order not found", Err: err}
	}
	if err != nil {
		return orders.StatusView{}, internal(err)
	}
	s.cacheView(ctx, o)
	return o.View(), nil
}

func (s *Service) cacheView(ctx context.Context, o *orders.Order) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Put(ctx, o.View()); err != nil {
		s.log.WarnContext(ctx, "status cache write failed", "order_id", o.ID, "error", err)
	}
}

func isConflict(err error) bool {
	return errors.Is(err, orders.ErrVersionConflict) || errors.Is(err, orders.ErrInvalidTransition)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(KindOf(err)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}
