package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ariefcatur/go-checkout-payments/internal/checkout"
	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/go-chi/chi/v5"
)

type Checkout interface {
	InitiateCheckout(ctx context.Context, buyerID string, req checkout.InitiateRequest) (checkout.InitiateResult, error)
	GetStatus(ctx context.Context, orderID string) (orders.StatusView, error)
	ParseCallback(m orders.PaymentMethod, h http.Header, body []byte) (gateway.Callback, error)
	Reconcile(ctx context.Context, in checkout.ReconcileInput) (checkout.Reconciled, error)
}

// Dedup remembers webhook deliveries that already settled an order.
type Dedup interface {
	Seen(ctx context.Context, id string) (bool, error)
	Remember(ctx context.Context, id string) error
}

type CheckoutHandler struct {
	Svc       Checkout
	Buyers    BuyerResolver
	Dedup     Dedup // optional
	ReturnURL string
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout/initiate", h.initiate)
	r.Get("/checkout/status/{orderId}", h.status)
	r.Post("/checkout/verify/{orderId}", h.verify)
	r.Post("/checkout/webhook/{gateway}", h.webhook)
	r.Post("/checkout/return/{gateway}", h.returned)
	r.Get("/checkout/return/{gateway}", h.returned)
}

func (h *CheckoutHandler) initiate(w http.ResponseWriter, r *http.Request) {
	buyerID, err := h.Buyers.BuyerID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required")
		return
	}
	var req checkout.InitiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}

	res, err := h.Svc.InitiateCheckout(r.Context(), buyerID, req)
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func (h *CheckoutHandler) status(w http.ResponseWriter, r *http.Request) {
	v, err := h.Svc.GetStatus(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// verify is the buyer's "check again" button: ask the gateway directly.
func (h *CheckoutHandler) verify(w http.ResponseWriter, r *http.Request) {
	v, err := h.Svc.Reconcile(r.Context(), checkout.ReconcileInput{
		Source: checkout.SourceUserPoll,
		Hint:   gateway.Hint{OrderID: chi.URLParam(r, "orderId")},
	})
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CheckoutHandler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, ok := orders.ParseMethod(chi.URLParam(r, "gateway"))
	if !ok || m == orders.MethodCOD {
		writeError(w, http.StatusNotFound, string(checkout.KindNotFound), "unknown gateway")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(checkout.KindValidation), "unreadable body")
		return
	}
	cb, err := h.Svc.ParseCallback(m, r.Header, body)
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}

	dedupID := ""
	if h.Dedup != nil && cb.DeliveryID != "" {
		dedupID = m.Slug() + ":" + cb.DeliveryID
		if seen, err := h.Dedup.Seen(ctx, dedupID); err == nil && seen {
			writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "duplicate": true})
			return
		}
	}

	v, err := h.Svc.Reconcile(ctx, checkout.ReconcileInput{
		Source:   checkout.SourceWebhook,
		Method:   m,
		Hint:     cb.Hint,
		Asserted: cb.Asserted,
		Evidence: &cb.Evidence,
	})
	stale := checkout.KindOf(err) == checkout.KindStaleOrExpired
	if err != nil && !stale {
		writeCheckoutError(w, r, err)
		return
	}
	// expired: tetap di-ack, retry dari provider tidak mengubah apa pun.
	// Delivery hanya diingat kalau gateway benar-benar dicek di call ini.
	if dedupID != "" && v.Verified && (stale || v.PaymentStatus.Terminal()) {
		if err := h.Dedup.Remember(ctx, dedupID); err != nil {
			slog.WarnContext(ctx, "webhook dedup remember failed", "delivery_id", dedupID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

// returned handles the browser coming back from the provider. It reconciles
// what it can and always redirects to the storefront, which polls for the
// real outcome.
func (h *CheckoutHandler) returned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, ok := orders.ParseMethod(chi.URLParam(r, "gateway"))
	if !ok || m == orders.MethodCOD {
		writeError(w, http.StatusNotFound, string(checkout.KindNotFound), "unknown gateway")
		return
	}

	in := checkout.ReconcileInput{Source: checkout.SourceRedirect, Method: m}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if len(body) > 0 {
		cb, err := h.Svc.ParseCallback(m, r.Header, body)
		if err == nil {
			in.Hint, in.Asserted, in.Evidence = cb.Hint, cb.Asserted, &cb.Evidence
		}
	}
	if in.Hint.OrderID == "" && in.Hint.GatewayOrderID == "" {
		in.Hint.OrderID = r.URL.Query().Get("orderId")
	}

	v, err := h.Svc.Reconcile(ctx, in)
	q := url.Values{}
	orderID := v.OrderID
	if orderID == "" {
		orderID = in.Hint.OrderID
	}
	if orderID != "" {
		q.Set("orderId", orderID)
	}
	if err != nil {
		var ce *checkout.Error
		if !errors.As(err, &ce) || ce.Kind != checkout.KindStaleOrExpired {
			slog.WarnContext(ctx, "return reconcile failed", "method", m, "order_id", orderID, "error", err)
		}
	}
	sep := "?"
	if strings.Contains(h.ReturnURL, "?") {
		sep = "&"
	}
	http.Redirect(w, r, h.ReturnURL+sep+q.Encode(), http.StatusSeeOther)
}
