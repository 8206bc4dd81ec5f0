package orders

import (
	"strings"
	"time"
)

type PaymentMethod string

const (
	MethodCOD      PaymentMethod = "COD"
	MethodGatewayA PaymentMethod = "GATEWAY_A"
	MethodGatewayB PaymentMethod = "GATEWAY_B"
)

// ParseMethod accepts the enum value or its URL slug (gateway-a).
func ParseMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	switch m {
	case MethodCOD, MethodGatewayA, MethodGatewayB:
		return m, true
	}
	return "", false
}

func (m PaymentMethod) Slug() string {
	return strings.ToLower(strings.ReplaceAll(string(m), "_", "-"))
}

// Money selalu dalam minor unit (paise).
type Item struct {
	ProductRef string `json:"product_ref"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Variant    string `json:"variant,omitempty"`
}

func (it Item) LineTotal() int64 { return it.UnitPrice * int64(it.Quantity) }

type Pricing struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type ShippingAddress struct {
	FullName string `json:"fullName" validate:"required"`
	Line1    string `json:"address" validate:"required"`
	City     string `json:"city" validate:"required"`
	State    string `json:"state" validate:"required"`
	Pincode  string `json:"pincode" validate:"required,pincode"`
	Phone    string `json:"phone" validate:"required,mobile"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
}

type Correlation struct {
	SessionID      string `json:"gateway_session_id,omitempty"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
}

func (c Correlation) Empty() bool { return c.SessionID == "" && c.GatewayOrderID == "" }

type Order struct {
	ID               string          `json:"order_id"`
	IdempotencyKey   string          `json:"-"`
	BuyerID          string          `json:"buyer_id"`
	Items            []Item          `json:"items"`
	Pricing          Pricing         `json:"pricing"`
	ShippingAddress  ShippingAddress `json:"shipping_address"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	Correlation      Correlation     `json:"gateway_correlation"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	OrderStatus      OrderStatus     `json:"order_status"`
	Synthetic        bool            `json:"synthetic"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	LastTransitionAt time.Time       `json:"last_transition_at"`
}

func (o *Order) Placed() bool { return o.OrderStatus == OrderPlaced }

func (o *Order) clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	return &c
}

// StatusView is the read projection served to buyers and kept in the status cache.
type StatusView struct {
	OrderID       string        `json:"order_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OrderStatus   OrderStatus   `json:"order_status"`
	Total         int64         `json:"total"`
	Message       string        `json:"message"`
	Version       int64         `json:"version"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (o *Order) View() StatusView {
	return StatusView{
		OrderID:       o.ID,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.OrderStatus,
		Total:         o.Pricing.Total,
		Message:       StatusMessage(o.PaymentStatus),
		Version:       o.Version,
		UpdatedAt:     o.LastTransitionAt,
	}
}

func StatusMessage(s PaymentStatus) string {
	switch s {
	case PaymentNotApplicable:
		return "order placed, pay on delivery"
	case PaymentConfirmed:
		return "payment confirmed, order placed"
	case PaymentFailed:
		return "payment failed, no charge retained"
	case PaymentExpired:
		return "payment window expired, please re-checkout"
	case PaymentAwaiting:
		return "payment pending, we'll confirm shortly"
	default:
		return "payment not started"
	}
}
