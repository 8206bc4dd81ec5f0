package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "checkout-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type StatusChangedPayload struct {
	OrderID       string        `json:"order_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	From          PaymentStatus `json:"from,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OrderStatus   OrderStatus   `json:"order_status"`
	Total         int64         `json:"total"`
	Synthetic     bool          `json:"synthetic"`
	Version       int64         `json:"version"`
	Reason        string        `json:"reason,omitempty"`
	At            time.Time     `json:"at"`
}

// View rebuilds the buyer-facing projection from an event payload.
func (p StatusChangedPayload) View() StatusView {
	return StatusView{
		OrderID:       p.OrderID,
		PaymentMethod: p.PaymentMethod,
		PaymentStatus: p.PaymentStatus,
		OrderStatus:   p.OrderStatus,
		Total:         p.Total,
		Message:       StatusMessage(p.PaymentStatus),
		Version:       p.Version,
		UpdatedAt:     p.At,
	}
}

// NewStatusEvent: envelope untuk insert (from kosong) maupun transisi.
func NewStatusEvent(producer, traceID string, o *Order, from PaymentStatus, reason string) (Envelope, error) {
	eventType := EventOrderStatusChanged
	if from == "" {
		eventType = EventOrderCreated
	}
	payload, err := json.Marshal(StatusChangedPayload{
		OrderID:       o.ID,
		PaymentMethod: o.PaymentMethod,
		From:          from,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.OrderStatus,
		Total:         o.Pricing.Total,
		Synthetic:     o.Synthetic,
		Version:       o.Version,
		Reason:        reason,
		At:            o.LastTransitionAt,
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: o.ID,
		Payload:       payload,
	}, nil
}
