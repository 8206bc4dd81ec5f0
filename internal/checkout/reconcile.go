package checkout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceUserPoll Source = "user_poll"
	SourceRedirect Source = "redirect_return"
)

type ReconcileInput struct {
	Source Source
	// Method scopes correlation lookups and rejects callbacks for another gateway.
	Method   orders.PaymentMethod
	Hint     gateway.Hint
	Asserted gateway.Outcome
	// Evidence nil means "ask the gateway directly".
	Evidence *gateway.Evidence
}

// ParseCallback reads the correlation hint out of a gateway delivery. Nothing
// in the result is trusted until Reconcile verifies it.
func (s *Service) ParseCallback(m orders.PaymentMethod, h http.Header, body []byte) (gateway.Callback, error) {
	a, ok := s.gateways.Get(m)
	if !ok {
		return gateway.Callback{}, &Error{Kind: KindNotFound, Msg: "unknown gateway"}
	}
	cb, err := a.ParseCallback(h, body)
	if err != nil {
		return gateway.Callback{}, &Error{Kind: KindValidation, Msg: "malformed callback", Err: err}
	}
	return cb, nil
}

// Reconciled is the order status after a reconcile. Verified is set when
// the gateway was asked about this signal during the call.
type Reconciled struct {
	orders.StatusView
	Verified bool `json:"-"`
}

// Reconcile folds one confirmation signal into the order. Repeated or
// interleaved calls converge: only AWAITING_CONFIRMATION moves, exactly once,
// and losers of a race get the winner's terminal state back.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (res Reconciled, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.reconcile",
		trace.WithAttributes(attribute.String("reconcile.source", string(in.Source))))
	defer func() {
		s.metrics.Reconciliation(string(in.Source), resultLabel(err))
		endSpan(span, err)
	}()

	o, err := s.resolve(ctx, in)
	if err != nil {
		return res, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	a, _ := s.gateways.Get(o.PaymentMethod)

	var verdict *gateway.Verdict
	done := func(o *orders.Order) Reconciled {
		return Reconciled{StatusView: o.View(), Verified: verdict != nil}
	}
	for attempt := 0; ; attempt++ {
		if o.PaymentStatus != orders.PaymentAwaiting {
			return s.settled(ctx, a, o, in.Evidence, verdict)
		}
		if a == nil {
			return done(o), internal(errors.New("no adapter for " + string(o.PaymentMethod)))
		}

		if verdict == nil {
			vd, err := s.verify(ctx, a, o, in.Evidence)
			if err != nil {
				return done(o), err
			}
			verdict = &vd
			if in.Asserted != "" && in.Asserted != vd.Outcome {
				s.log.WarnContext(ctx, "callback outcome differs from verified outcome",
					"order_id", o.ID, "asserted", in.Asserted, "verified", vd.Outcome)
			}
		}

		var to orders.PaymentStatus
		switch verdict.Outcome {
		case gateway.OutcomePaid:
			if verdict.Amount != o.Pricing.Total {
				s.log.ErrorContext(ctx, "gateway amount does not match order total",
					"order_id", o.ID, "expected", o.Pricing.Total, "got", verdict.Amount, "gateway_ref", verdict.GatewayRef)
				return done(o), &Error{Kind: KindVerification, Msg: "payment could not be verified",
					Err: gateway.ErrVerification}
			}
			to = orders.PaymentConfirmed
		case gateway.OutcomeFailed:
			to = orders.PaymentFailed
		default:
			return done(o), nil
		}

		next, err := s.store.CompareAndSet(ctx, o.ID, o.Version, orders.Change{
			To: to, At: s.now(), Reason: string(in.Source),
		})
		if err == nil {
			s.log.InfoContext(ctx, "payment reconciled", "order_id", o.ID, "method", o.PaymentMethod,
				"source", in.Source, "payment_status", next.PaymentStatus, "gateway_ref", verdict.GatewayRef)
			s.cacheView(ctx, next)
			return done(next), nil
		}
		if !isConflict(err) {
			return done(o), internal(err)
		}
		if o, err = s.store.Get(ctx, o.ID); err != nil {
			return res, internal(err)
		}
		if attempt >= s.cfg.ReconcileRetries {
			return done(o), nil
		}
	}
}

func (s *Service) resolve(ctx context.Context, in ReconcileInput) (*orders.Order, error) {
	var (
		o   *orders.Order
		err = orders.ErrNotFound
	)
	switch {
	case in.Hint.OrderID != "":
		o, err = s.store.Get(ctx, in.Hint.OrderID)
	case in.Hint.GatewayOrderID != "" && in.Method != "":
		o, err = s.store.FindByCorrelation(ctx, in.Method, in.Hint.GatewayOrderID)
	}
	if err == nil && in.Method != "" && o.PaymentMethod != in.Method {
		err = orders.ErrNotFound
	}
	if errors.Is(err, orders.ErrNotFound) {
		s.log.WarnContext(ctx, "reconcile for unknown correlation", "source", in.Source, "method", in.Method,
			"order_id", in.Hint.OrderID, "gateway_order_id", in.Hint.GatewayOrderID)
		return nil, &Error{Kind: KindUnknownCorrelation, Msg: "unknown order", Err: err}
	}
	if err != nil {
		return nil, internal(err)
	}
	return o, nil
}

func (s *Service) verify(ctx context.Context, a gateway.Adapter, o *orders.Order, ev *gateway.Evidence) (gateway.Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	start := time.Now()
	vd, err := a.Verify(callCtx, o, ev)
	s.metrics.GatewayCall(string(o.PaymentMethod), "verify", float64(time.Since(start).Milliseconds()))
	switch {
	case err == nil:
		return vd, nil
	case errors.Is(err, gateway.ErrVerification):
		s.log.WarnContext(ctx, "payment verification failed", "order_id", o.ID, "method", o.PaymentMethod, "error", err)
		return vd, &Error{Kind: KindVerification, Msg: "payment could not be verified", Err: err}
	default:
		s.log.WarnContext(ctx, "gateway verify unavailable", "order_id", o.ID, "method", o.PaymentMethod, "error", err)
		return vd, gatewayUnavailable(err)
	}
}

// settled answers a signal for an order that is no longer awaiting. Nothing
// here writes: a FAILED or EXPIRED order is only checked for money the
// gateway took anyway, which an operator has to settle by hand.
func (s *Service) settled(ctx context.Context, a gateway.Adapter, o *orders.Order, ev *gateway.Evidence, vd *gateway.Verdict) (Reconciled, error) {
	var stale error
	if o.PaymentStatus == orders.PaymentExpired {
		stale = staleOrExpired()
	}
	cancelled := o.PaymentStatus == orders.PaymentFailed || o.PaymentStatus == orders.PaymentExpired
	if vd == nil && cancelled && a != nil {
		if got, err := s.verify(ctx, a, o, ev); err == nil {
			vd = &got
		}
	}
	res := Reconciled{StatusView: o.View(), Verified: vd != nil}
	if cancelled && vd != nil && vd.Outcome == gateway.OutcomePaid {
		s.metrics.LateConfirmation(string(o.PaymentMethod))
		s.log.ErrorContext(ctx, "payment confirmed for cancelled order, manual resolution required",
			"order_id", o.ID, "method", o.PaymentMethod, "payment_status", o.PaymentStatus,
			"gateway_ref", vd.GatewayRef, "amount", vd.Amount)
	}
	return res, stale
}
