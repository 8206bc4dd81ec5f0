package outbox

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

type Publisher interface {
	Send(ctx context.Context, topic string, key, value []byte, headers ...kafkago.Header) error
}

// Relay moves committed outbox rows to the broker. Delivery is at-least-once:
// a crash between Send and MarkSent republishes the row, and consumers key on
// the order version.
type Relay struct {
	Source    Source
	Publisher Publisher
	Interval  time.Duration
	Batch     int
	OnSent    func(n int)
}

// RunOnce publishes one batch in id order and stops at the first failure so
// per-order ordering is preserved.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	recs, err := r.Source.FetchPending(ctx, batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		headers := []kafkago.Header{
			{Key: "x-event-id", Value: []byte(rec.EventID)},
			{Key: "x-event-type", Value: []byte(rec.EventType)},
			{Key: "x-outbox-id", Value: []byte(strconv.FormatInt(rec.ID, 10))},
		}
		if err := r.Publisher.Send(ctx, rec.Topic, []byte(rec.Key), rec.Payload, headers...); err != nil {
			return sent, err
		}
		if err := r.Source.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	if r.OnSent != nil && sent > 0 {
		r.OnSent(sent)
	}
	return sent, nil
}

func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		for {
			n, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.ErrorContext(ctx, "outbox relay failed", "error", err)
				break
			}
			// batch penuh -> langsung ambil batch berikutnya
			if n < r.Batch || r.Batch <= 0 {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
