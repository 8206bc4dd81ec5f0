package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is idempotent; applied on every api start.
const schema = `
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	sku         TEXT UNIQUE NOT NULL,
	name        TEXT NOT NULL,
	price_paise BIGINT NOT NULL CHECK (price_paise >= 0),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cart_items (
	buyer_id   TEXT NOT NULL,
	product_id TEXT NOT NULL REFERENCES products(id),
	variant    TEXT NOT NULL DEFAULT '',
	quantity   INT  NOT NULL CHECK (quantity > 0),
	PRIMARY KEY (buyer_id, product_id, variant)
);

CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	idempotency_key    TEXT NOT NULL,
	buyer_id           TEXT NOT NULL,
	payment_method     TEXT NOT NULL,
	payment_status     TEXT NOT NULL,
	order_status       TEXT NOT NULL,
	subtotal           BIGINT NOT NULL,
	shipping           BIGINT NOT NULL,
	tax                BIGINT NOT NULL,
	total              BIGINT NOT NULL,
	shipping_address   JSONB NOT NULL,
	gateway_session_id TEXT NOT NULL DEFAULT '',
	gateway_order_id   TEXT NOT NULL DEFAULT '',
	synthetic          BOOLEAN NOT NULL DEFAULT false,
	version            BIGINT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	last_transition_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS orders_idempotency_key_uq ON orders(idempotency_key);
CREATE UNIQUE INDEX IF NOT EXISTS orders_correlation_uq
	ON orders(payment_method, gateway_order_id) WHERE gateway_order_id <> '';
CREATE INDEX IF NOT EXISTS orders_status_transition_idx ON orders(payment_status, last_transition_at);

CREATE TABLE IF NOT EXISTS order_items (
	order_id    TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	position    INT NOT NULL,
	product_ref TEXT NOT NULL,
	name        TEXT NOT NULL,
	quantity    INT NOT NULL CHECK (quantity >= 1),
	unit_price  BIGINT NOT NULL CHECK (unit_price >= 0),
	variant     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (order_id, position)
);

CREATE TABLE IF NOT EXISTS outbox (
	id         BIGSERIAL PRIMARY KEY,
	event_id   TEXT NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	topic      TEXT NOT NULL,
	key        TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	sent_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox(id) WHERE sent_at IS NULL;

CREATE TABLE IF NOT EXISTS admin_audit (
	id       BIGSERIAL PRIMARY KEY,
	actor    TEXT NOT NULL,
	action   TEXT NOT NULL,
	detail   JSONB,
	affected BIGINT NOT NULL DEFAULT 0,
	at       TIMESTAMPTZ NOT NULL
);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
