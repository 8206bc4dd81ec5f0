package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
)

// Repo is the postgres Store. Setiap insert/transisi menulis baris outbox di tx yang sama.
type Repo struct {
	DB      *pgxpool.Pool
	Service string
}

var _ Store = (*Repo)(nil)

const orderColumns = `id, idempotency_key, buyer_id, payment_method, payment_status, order_status,
	subtotal, shipping, tax, total, shipping_address, gateway_session_id, gateway_order_id,
	synthetic, version, created_at, last_transition_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o    Order
		addr []byte
	)
	err := row.Scan(&o.ID, &o.IdempotencyKey, &o.BuyerID, &o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus,
		&o.Pricing.Subtotal, &o.Pricing.Shipping, &o.Pricing.Tax, &o.Pricing.Total, &addr,
		&o.Correlation.SessionID, &o.Correlation.GatewayOrderID,
		&o.Synthetic, &o.Version, &o.CreatedAt, &o.LastTransitionAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	return &o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *Repo) Insert(ctx context.Context, o *Order) error {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		o.ID, o.IdempotencyKey, o.BuyerID, o.PaymentMethod, o.PaymentStatus, o.OrderStatus,
		o.Pricing.Subtotal, o.Pricing.Shipping, o.Pricing.Tax, o.Pricing.Total, addr,
		o.Correlation.SessionID, o.Correlation.GatewayOrderID,
		o.Synthetic, o.Version, o.CreatedAt, o.LastTransitionAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return err
	}

	for i, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_ref, name, quantity, unit_price, variant)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, i, it.ProductRef, it.Name, it.Quantity, it.UnitPrice, it.Variant)
		if err != nil {
			return err
		}
	}

	if err := r.enqueue(ctx, tx, o, "", "created"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) enqueue(ctx context.Context, tx pgx.Tx, o *Order, from PaymentStatus, reason string) error {
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	ev, err := NewStatusEvent(r.Service, traceID, o, from, reason)
	if err != nil {
		return err
	}
	return outbox.Insert(ctx, tx, ev.EventID, ev.EventType, TopicOrderStatus, o.ID, ev)
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	return r.withItems(ctx, o)
}

func (r *Repo) FindByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key=$1`, key))
	if err != nil {
		return nil, err
	}
	return r.withItems(ctx, o)
}

// FindByIdempotencyKeys tidak memuat items; checkout memuat ulang order yang dipakai.
func (r *Repo) FindByIdempotencyKeys(ctx context.Context, keys []string) (map[string]*Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*Order, len(keys))
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out[o.IdempotencyKey] = o
	}
	return out, rows.Err()
}

func (r *Repo) FindByCorrelation(ctx context.Context, m PaymentMethod, gatewayOrderID string) (*Order, error) {
	if gatewayOrderID == "" {
		return nil, ErrNotFound
	}
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_method=$1 AND gateway_order_id=$2`, m, gatewayOrderID))
	if err != nil {
		return nil, err
	}
	return r.withItems(ctx, o)
}

func (r *Repo) withItems(ctx context.Context, o *Order) (*Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT product_ref, name, quantity, unit_price, variant
	                              FROM order_items WHERE order_id=$1 ORDER BY position`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductRef, &it.Name, &it.Quantity, &it.UnitPrice, &it.Variant); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// CompareAndSet mengunci baris (FOR UPDATE), cek version, lalu update dengan
// predikat version yang sama; event outbox ikut di tx ini.
func (r *Repo) CompareAndSet(ctx context.Context, id string, expectedVersion int64, ch Change) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	next, err := apply(cur, ch)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		   SET payment_status=$3, order_status=$4, gateway_session_id=$5, gateway_order_id=$6,
		       version=$7, last_transition_at=$8
		 WHERE id=$1 AND version=$2`,
		id, expectedVersion, next.PaymentStatus, next.OrderStatus,
		next.Correlation.SessionID, next.Correlation.GatewayOrderID, next.Version, next.LastTransitionAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrVersionConflict
	}
	if err := r.enqueue(ctx, tx, next, cur.PaymentStatus, ch.Reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.withItems(ctx, next)
}

// ListStale tidak memuat items; sweeper hanya butuh id + version.
func (r *Repo) ListStale(ctx context.Context, s PaymentStatus, before time.Time, limit int) ([]*Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
	                              WHERE payment_status=$1 AND last_transition_at < $2
	                              ORDER BY last_transition_at LIMIT $3`, s, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const purgePredicate = `
	payment_status <> 'CONFIRMED' AND last_transition_at < $1 AND (
	     ($2 AND payment_status = 'FAILED')
	  OR ($3 AND payment_status = 'EXPIRED')
	  OR ($4 AND synthetic AND payment_status IN ('FAILED', 'EXPIRED', 'NOT_APPLICABLE')))`

func (r *Repo) CountPurgeable(ctx context.Context, f PurgeFilter) (int64, error) {
	var n int64
	err := r.DB.QueryRow(ctx, `SELECT count(*) FROM orders WHERE `+purgePredicate,
		f.Before, f.Failed, f.Expired, f.Synthetic).Scan(&n)
	return n, err
}

// Purge: order_items ikut terhapus via ON DELETE CASCADE.
func (r *Repo) Purge(ctx context.Context, f PurgeFilter) (int64, error) {
	tag, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE `+purgePredicate,
		f.Before, f.Failed, f.Expired, f.Synthetic)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByPaymentStatus: map[PaymentStatus]int64{},
		ByOrderStatus:   map[OrderStatus]int64{},
	}
	rows, err := r.DB.Query(ctx, `SELECT payment_status, order_status, synthetic, count(*)
	                              FROM orders GROUP BY 1, 2, 3`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ps        PaymentStatus
			os        OrderStatus
			synthetic bool
			n         int64
		)
		if err := rows.Scan(&ps, &os, &synthetic, &n); err != nil {
			return st, err
		}
		st.Total += n
		st.ByPaymentStatus[ps] += n
		st.ByOrderStatus[os] += n
		if synthetic {
			st.Synthetic += n
		}
	}
	return st, rows.Err()
}

func (r *Repo) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := r.DB.Exec(ctx, `INSERT INTO admin_audit(actor, action, detail, affected, at)
	                          VALUES ($1, $2, $3, $4, $5)`, e.Actor, e.Action, []byte(e.Detail), e.Affected, e.At)
	return err
}
