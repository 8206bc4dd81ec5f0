// Package projector keeps the redis status cache in step with the order
// status events published from the outbox.
package projector

import (
	"context"
	"log/slog"

	kafkax "github.com/ariefcatur/go-checkout-payments/internal/kafka"
	"github.com/ariefcatur/go-checkout-payments/internal/metrics"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

type Cache interface {
	Put(ctx context.Context, v orders.StatusView) (bool, error)
}

type Dedup interface {
	Seen(ctx context.Context, id string) (bool, error)
	Remember(ctx context.Context, id string) error
}

type Service struct {
	Cache   Cache
	Dedup   Dedup // optional
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// HandleStatusChanged: dipasang sebagai handler consumer. Returning an error
// makes the consumer retry; undecodable messages are dropped.
func (s *Service) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	// 1) decode envelope
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		log.WarnContext(ctx, "dropping undecodable event", "offset", m.Offset, "error", err)
		s.Metrics.Projected("malformed")
		return nil
	}
	if env.EventType != orders.EventOrderStatusChanged && env.EventType != orders.EventOrderCreated {
		s.Metrics.Projected("ignored")
		return nil
	}

	// 2) dedup via Redis (pakai event_id)
	if s.Dedup != nil && env.EventID != "" {
		if seen, err := s.Dedup.Seen(ctx, env.EventID); err == nil && seen {
			s.Metrics.Projected("duplicate")
			return nil
		}
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil || p.OrderID == "" {
		log.WarnContext(ctx, "dropping event with bad payload", "event_id", env.EventID, "error", err)
		s.Metrics.Projected("malformed")
		return nil
	}

	// 4) tulis ke cache; version guard menolak event yang lebih tua
	wrote, err := s.Cache.Put(ctx, p.View())
	if err != nil {
		s.Metrics.Projected("error")
		return err
	}
	if wrote {
		s.Metrics.Projected("applied")
	} else {
		s.Metrics.Projected("stale")
	}
	log.DebugContext(ctx, "status projected", "order_id", p.OrderID, "version", p.Version,
		"payment_status", p.PaymentStatus, "applied", wrote, "trace_id", env.TraceID)

	if s.Dedup != nil && env.EventID != "" {
		if err := s.Dedup.Remember(ctx, env.EventID); err != nil {
			log.WarnContext(ctx, "dedup remember failed", "event_id", env.EventID, "error", err)
		}
	}
	return nil
}
