// Package sessionpay adapts a session+redirect hosted checkout: the server
// creates a provider order and gets back a payment session id, the browser is
// sent to the provider with that session and comes back to our return URL.
package sessionpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/go-resty/resty/v2"
)

const (
	HeaderSignature = "x-webhook-signature"
	HeaderTimestamp = "x-webhook-timestamp"
	headerDelivery  = "x-idempotency-key"
)

type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	APIVersion    string
	WebhookSecret string // kosong -> pakai ClientSecret
	ReturnURL     string
	Environment   string // sandbox | production
	Timeout       time.Duration
}

type Adapter struct {
	cfg  Config
	http *resty.Client
}

var _ gateway.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-08-01"
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.ClientSecret
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("x-client-id", cfg.ClientID).
		SetHeader("x-client-secret", cfg.ClientSecret).
		SetHeader("x-api-version", cfg.APIVersion)
	return &Adapter{cfg: cfg, http: c}
}

func (a *Adapter) Method() orders.PaymentMethod { return orders.MethodGatewayA }

type customerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
}

type createOrderReq struct {
	OrderID         string          `json:"order_id"`
	OrderAmount     json.Number     `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails customerDetails `json:"customer_details"`
	OrderMeta       orderMeta       `json:"order_meta"`
}

type providerOrder struct {
	CfOrderID        string      `json:"cf_order_id"`
	OrderID          string      `json:"order_id"`
	OrderAmount      json.Number `json:"order_amount"`
	OrderStatus      string      `json:"order_status"`
	PaymentSessionID string      `json:"payment_session_id"`
}

type providerPayment struct {
	CfPaymentID   json.RawMessage `json:"cf_payment_id"`
	PaymentStatus string          `json:"payment_status"`
	PaymentAmount json.Number     `json:"payment_amount"`
	PaymentTime   string          `json:"payment_time"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

func (a *Adapter) returnURL(orderID string) string {
	if a.cfg.ReturnURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(a.cfg.ReturnURL, "?") {
		sep = "&"
	}
	return a.cfg.ReturnURL + sep + "orderId=" + url.QueryEscape(orderID)
}

func (a *Adapter) OpenSession(ctx context.Context, o *orders.Order) (gateway.Session, error) {
	req := createOrderReq{
		OrderID:       o.ID,
		OrderAmount:   json.Number(gateway.FormatAmount(o.Pricing.Total)),
		OrderCurrency: "INR",
		CustomerDetails: customerDetails{
			CustomerID:    o.BuyerID,
			CustomerName:  o.ShippingAddress.FullName,
			CustomerEmail: o.ShippingAddress.Email,
			CustomerPhone: o.ShippingAddress.Phone,
		},
		OrderMeta: orderMeta{ReturnURL: a.returnURL(o.ID)},
	}

	var out providerOrder
	var apiErr apiError
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeader("x-request-id", o.ID).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/orders")
	if err != nil {
		return gateway.Session{}, fmt.Errorf("%w: create order: %v", gateway.ErrUnavailable, err)
	}
	if resp.IsError() {
		return gateway.Session{}, fmt.Errorf("%w: create order: http %d %s", gateway.ErrUnavailable, resp.StatusCode(), apiErr.Code)
	}
	if out.PaymentSessionID == "" || out.CfOrderID == "" {
		return gateway.Session{}, fmt.Errorf("%w: create order: empty session", gateway.ErrUnavailable)
	}

	corr := orders.Correlation{SessionID: out.PaymentSessionID, GatewayOrderID: out.CfOrderID}
	return gateway.Session{Correlation: corr, Payload: a.payload(corr)}, nil
}

func (a *Adapter) payload(c orders.Correlation) gateway.Payload {
	return gateway.Payload{
		Kind:           gateway.PayloadRedirectSession,
		SessionID:      c.SessionID,
		GatewayOrderID: c.GatewayOrderID,
		Environment:    a.cfg.Environment,
	}
}

func (a *Adapter) Payload(o *orders.Order) gateway.Payload { return a.payload(o.Correlation) }

type webhookBody struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID     string      `json:"order_id"`
			OrderAmount json.Number `json:"order_amount"`
		} `json:"order"`
		Payment providerPayment `json:"payment"`
	} `json:"data"`
}

func (a *Adapter) ParseCallback(h http.Header, body []byte) (gateway.Callback, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return gateway.Callback{}, fmt.Errorf("%w: %v", gateway.ErrMalformed, err)
	}
	if wb.Data.Order.OrderID == "" {
		return gateway.Callback{}, fmt.Errorf("%w: missing order_id", gateway.ErrMalformed)
	}
	delivery := h.Get(headerDelivery)
	if delivery == "" {
		delivery = wb.Type + ":" + strings.Trim(string(wb.Data.Payment.CfPaymentID), `"`)
	}
	return gateway.Callback{
		Hint:       gateway.Hint{OrderID: wb.Data.Order.OrderID},
		Asserted:   paymentOutcome(wb.Data.Payment.PaymentStatus),
		DeliveryID: delivery,
		Evidence:   gateway.Evidence{Header: h.Clone(), Body: body},
	}, nil
}

// CheckSignature validates base64(HMAC-SHA256(timestamp + raw body)).
func (a *Adapter) CheckSignature(ev *gateway.Evidence) error {
	sig := ev.Header.Get(HeaderSignature)
	ts := ev.Header.Get(HeaderTimestamp)
	if sig == "" || ts == "" {
		return fmt.Errorf("%w: unsigned callback", gateway.ErrVerification)
	}
	if !gateway.Equal(sig, gateway.SignBase64(a.cfg.WebhookSecret, ts, string(ev.Body))) {
		return fmt.Errorf("%w: bad callback signature", gateway.ErrVerification)
	}
	return nil
}

// Verify: signature dicek dulu (kalau ada payload), tapi status selalu diambil
// dari provider langsung.
func (a *Adapter) Verify(ctx context.Context, o *orders.Order, ev *gateway.Evidence) (gateway.Verdict, error) {
	if ev != nil {
		if err := a.CheckSignature(ev); err != nil {
			return gateway.Verdict{}, err
		}
	}

	var po providerOrder
	if err := a.get(ctx, "/orders/"+url.PathEscape(o.ID), &po); err != nil {
		return gateway.Verdict{}, err
	}
	if o.Correlation.GatewayOrderID != "" && po.CfOrderID != o.Correlation.GatewayOrderID {
		return gateway.Verdict{}, fmt.Errorf("%w: provider order mismatch", gateway.ErrVerification)
	}
	amount, err := gateway.ParseAmount(po.OrderAmount.String())
	if err != nil {
		return gateway.Verdict{}, err
	}

	v := gateway.Verdict{Amount: amount, GatewayRef: po.CfOrderID}
	switch po.OrderStatus {
	case "PAID":
		v.Outcome = gateway.OutcomePaid
	case "EXPIRED", "TERMINATED":
		v.Outcome = gateway.OutcomeFailed
	default:
		// ACTIVE: buyer masih bisa bayar ulang di halaman provider, jadi
		// attempt yang gagal belum final
		v.Outcome = gateway.OutcomePending
	}
	return v, nil
}

func (a *Adapter) get(ctx context.Context, path string, out any) error {
	var apiErr apiError
	resp, err := a.http.R().SetContext(ctx).SetResult(out).SetError(&apiErr).Get(path)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", gateway.ErrUnavailable, path, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%w: provider does not know %s", gateway.ErrVerification, path)
	case resp.IsError():
		return fmt.Errorf("%w: %s: http %d %s", gateway.ErrUnavailable, path, resp.StatusCode(), apiErr.Code)
	}
	return nil
}

func paymentOutcome(s string) gateway.Outcome {
	switch strings.ToUpper(s) {
	case "SUCCESS":
		return gateway.OutcomePaid
	case "FAILED", "USER_DROPPED", "CANCELLED", "VOID":
		return gateway.OutcomeFailed
	default:
		return gateway.OutcomePending
	}
}
