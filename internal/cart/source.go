package cart

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSource prices cart_items from the products table; harga dari client tidak dipercaya.
type PGSource struct{ DB *pgxpool.Pool }

func (s *PGSource) PricedSnapshot(ctx context.Context, buyerID string) (Snapshot, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT p.id, p.name, c.quantity, p.price_paise, c.variant
		  FROM cart_items c
		  JOIN products p ON p.id = c.product_id
		 WHERE c.buyer_id = $1
		 ORDER BY p.sku, c.variant`, buyerID)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()

	var items []orders.Item
	for rows.Next() {
		var it orders.Item
		if err := rows.Scan(&it.ProductRef, &it.Name, &it.Quantity, &it.UnitPrice, &it.Variant); err != nil {
			return Snapshot{}, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(buyerID, items)
}

// MemSource keeps carts in memory for local runs and tests.
type MemSource struct {
	mu    sync.RWMutex
	carts map[string][]orders.Item
}

func NewMemSource() *MemSource {
	return &MemSource{carts: map[string][]orders.Item{}}
}

func (s *MemSource) Put(buyerID string, items ...orders.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[buyerID] = append([]orders.Item(nil), items...)
}

func (s *MemSource) PricedSnapshot(_ context.Context, buyerID string) (Snapshot, error) {
	s.mu.RLock()
	items := append([]orders.Item(nil), s.carts[buyerID]...)
	s.mu.RUnlock()
	return NewSnapshot(buyerID, items)
}
