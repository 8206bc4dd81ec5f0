// Package formpay adapts a form-post+redirect hosted checkout. Opening a
// session needs no provider call: we sign a set of form fields that the
// browser posts to the provider, which later posts a signed result back.
package formpay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	FieldChecksum = "checksum"
	txnPrefix     = "sabp_"
)

type Config struct {
	ActionURL   string // form action di sisi provider
	EnquiryURL  string // base URL status enquiry
	ClientCode  string
	AuthKey     string // secret HMAC
	CallbackURL string
	Timeout     time.Duration
}

type Adapter struct {
	cfg   Config
	http  *resty.Client
	newID func() string
}

var _ gateway.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.EnquiryURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Adapter{
		cfg:  cfg,
		http: c,
		newID: func() string {
			return txnPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
		},
	}
}

func (a *Adapter) Method() orders.PaymentMethod { return orders.MethodGatewayB }

func (a *Adapter) sign(fields map[string]string) string {
	return gateway.SignHex(a.cfg.AuthKey, gateway.Canonical(fields, FieldChecksum))
}

// Fields builds the signed form for o. Deterministic for a given txn id, so
// an idempotent replay returns the same form.
func (a *Adapter) Fields(o *orders.Order, clientTxnID string) map[string]string {
	f := map[string]string{
		"clientCode":  a.cfg.ClientCode,
		"clientTxnId": clientTxnID,
		"amount":      gateway.FormatAmount(o.Pricing.Total),
		"payerName":   o.ShippingAddress.FullName,
		"payerEmail":  o.ShippingAddress.Email,
		"payerMobile": o.ShippingAddress.Phone,
		"callbackUrl": a.cfg.CallbackURL,
	}
	f[FieldChecksum] = a.sign(f)
	return f
}

func (a *Adapter) OpenSession(ctx context.Context, o *orders.Order) (gateway.Session, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Session{}, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	txn := a.newID()
	corr := orders.Correlation{SessionID: txn, GatewayOrderID: txn}
	return gateway.Session{Correlation: corr, Payload: a.payload(o, txn)}, nil
}

func (a *Adapter) payload(o *orders.Order, txn string) gateway.Payload {
	return gateway.Payload{
		Kind:           gateway.PayloadFormPost,
		GatewayOrderID: txn,
		ActionURL:      a.cfg.ActionURL,
		Fields:         a.Fields(o, txn),
	}
}

func (a *Adapter) Payload(o *orders.Order) gateway.Payload {
	return a.payload(o, o.Correlation.GatewayOrderID)
}

func formFields(body []byte) (map[string]string, error) {
	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformed, err)
	}
	f := make(map[string]string, len(vals))
	for k := range vals {
		f[k] = vals.Get(k)
	}
	return f, nil
}

func (a *Adapter) ParseCallback(h http.Header, body []byte) (gateway.Callback, error) {
	f, err := formFields(body)
	if err != nil {
		return gateway.Callback{}, err
	}
	txn := f["clientTxnId"]
	if txn == "" {
		return gateway.Callback{}, fmt.Errorf("%w: missing clientTxnId", gateway.ErrMalformed)
	}
	return gateway.Callback{
		Hint:       gateway.Hint{GatewayOrderID: txn},
		Asserted:   statusOutcome(f["status"]),
		DeliveryID: f["sabpaisaTxnId"] + ":" + f["status"],
		Evidence:   gateway.Evidence{Header: h.Clone(), Body: body},
	}, nil
}

// Verify validates the posted payload signature before reading any field.
// Without a payload it asks the provider's enquiry API.
func (a *Adapter) Verify(ctx context.Context, o *orders.Order, ev *gateway.Evidence) (gateway.Verdict, error) {
	var (
		f   map[string]string
		err error
	)
	if ev != nil && len(ev.Body) > 0 {
		f, err = formFields(ev.Body)
	} else {
		f, err = a.enquire(ctx, o.Correlation.GatewayOrderID)
	}
	if err != nil {
		return gateway.Verdict{}, err
	}
	return a.verdict(o, f)
}

func (a *Adapter) verdict(o *orders.Order, f map[string]string) (gateway.Verdict, error) {
	if !gateway.Equal(f[FieldChecksum], a.sign(f)) {
		return gateway.Verdict{}, fmt.Errorf("%w: bad checksum", gateway.ErrVerification)
	}
	if f["clientTxnId"] != o.Correlation.GatewayOrderID {
		return gateway.Verdict{}, fmt.Errorf("%w: txn id mismatch", gateway.ErrVerification)
	}
	amount, err := gateway.ParseAmount(f["amount"])
	if err != nil {
		return gateway.Verdict{}, err
	}
	return gateway.Verdict{
		Outcome:    statusOutcome(f["status"]),
		Amount:     amount,
		GatewayRef: f["sabpaisaTxnId"],
	}, nil
}

type enquiryResp struct {
	ClientTxnID   string `json:"clientTxnId"`
	SabpaisaTxnID string `json:"sabpaisaTxnId"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Checksum      string `json:"checksum"`
}

func (a *Adapter) enquire(ctx context.Context, txn string) (map[string]string, error) {
	req := map[string]string{"clientCode": a.cfg.ClientCode, "clientTxnId": txn}
	req[FieldChecksum] = a.sign(req)

	var out enquiryResp
	resp, err := a.http.R().
		SetContext(ctx).
		SetFormData(req).
		SetResult(&out).
		Post("/txn/enquiry")
	if err != nil {
		return nil, fmt.Errorf("%w: enquiry: %v", gateway.ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: enquiry: http %d", gateway.ErrUnavailable, resp.StatusCode())
	}
	if out.ClientTxnID == "" {
		return nil, fmt.Errorf("%w: enquiry: empty response", gateway.ErrUnavailable)
	}
	return map[string]string{
		"clientTxnId":   out.ClientTxnID,
		"sabpaisaTxnId": out.SabpaisaTxnID,
		"status":        out.Status,
		"amount":        out.Amount,
		FieldChecksum:   out.Checksum,
	}, nil
}

func statusOutcome(s string) gateway.Outcome {
	switch strings.ToUpper(s) {
	case "SUCCESS":
		return gateway.OutcomePaid
	case "FAILED", "ABORTED", "CANCELLED":
		return gateway.OutcomeFailed
	default:
		return gateway.OutcomePending
	}
}
