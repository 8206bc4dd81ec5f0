// Package sweeper expires abandoned gateway payments and runs the
// administrative purge of dead orders.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/metrics"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/redisx"
)

type Cache interface {
	Put(ctx context.Context, v orders.StatusView) (bool, error)
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Sweeper struct {
	Store    orders.Store
	Cache    Cache  // optional
	Locker   Locker // optional; tanpa redis setiap replica sweep sendiri
	TTL      time.Duration
	Interval time.Duration
	Batch    int
	Metrics  *metrics.Metrics
	Log      *slog.Logger

	now func() time.Time
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// ExpireStale moves AWAITING_CONFIRMATION orders idle longer than TTL to
// EXPIRED. Each move is a compare-and-set on the version read here, so an
// order a reconciler settles in the meantime is skipped.
func (s *Sweeper) ExpireStale(ctx context.Context) (int, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	batch := s.Batch
	if batch <= 0 {
		batch = 200
	}
	cutoff := s.clock().Add(-ttl)

	expired := 0
	for {
		stale, err := s.Store.ListStale(ctx, orders.PaymentAwaiting, cutoff, batch)
		if err != nil {
			return expired, err
		}
		moved := 0
		for _, o := range stale {
			next, err := s.Store.CompareAndSet(ctx, o.ID, o.Version, orders.Change{
				To: orders.PaymentExpired, At: s.clock(), Reason: "payment_ttl",
			})
			if errors.Is(err, orders.ErrVersionConflict) || errors.Is(err, orders.ErrInvalidTransition) {
				// reconcile menang duluan
				s.logger().DebugContext(ctx, "sweep lost race", "order_id", o.ID)
				continue
			}
			if err != nil {
				return expired + moved, err
			}
			moved++
			s.logger().InfoContext(ctx, "order expired", "order_id", o.ID, "method", o.PaymentMethod,
				"awaiting_since", o.LastTransitionAt)
			if s.Cache != nil {
				if _, err := s.Cache.Put(ctx, next.View()); err != nil {
					s.logger().WarnContext(ctx, "status cache write failed", "order_id", o.ID, "error", err)
				}
			}
		}
		expired += moved
		if len(stale) < batch || moved == 0 {
			break
		}
	}
	s.Metrics.ExpiredOrders(expired)
	return expired, nil
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.tick(ctx, interval)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context, lease time.Duration) {
	if s.Locker != nil {
		release, ok, err := s.Locker.TryLock(ctx, redisx.KeySweeperLock, lease)
		if err != nil {
			s.logger().WarnContext(ctx, "sweeper lease failed", "error", err)
			return
		}
		if !ok {
			return
		}
		defer release()
	}
	n, err := s.ExpireStale(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger().ErrorContext(ctx, "sweep failed", "expired", n, "error", err)
		return
	}
	if n > 0 {
		s.logger().InfoContext(ctx, "sweep done", "expired", n)
	}
}
