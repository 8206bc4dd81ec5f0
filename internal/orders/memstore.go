package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process Store used for local runs (STORE_DRIVER=memory) and tests.
type MemStore struct {
	mu     sync.Mutex
	byID   map[string]*Order
	byKey  map[string]string
	byCorr map[string]string
	audit  []AuditEntry
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		byID:   map[string]*Order{},
		byKey:  map[string]string{},
		byCorr: map[string]string{},
	}
}

func corrKey(m PaymentMethod, gatewayOrderID string) string {
	return string(m) + "|" + gatewayOrderID
}

func (s *MemStore) Insert(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[o.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}
	c := o.clone()
	s.byID[c.ID] = c
	s.byKey[c.IdempotencyKey] = c.ID
	if c.Correlation.GatewayOrderID != "" {
		s.byCorr[corrKey(c.PaymentMethod, c.Correlation.GatewayOrderID)] = c.ID
	}
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *MemStore) get(id string) (*Order, error) {
	o, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

func (s *MemStore) FindByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.get(id)
}

func (s *MemStore) FindByIdempotencyKeys(_ context.Context, keys []string) (map[string]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Order, len(keys))
	for _, k := range keys {
		if id, ok := s.byKey[k]; ok {
			out[k] = s.byID[id].clone()
		}
	}
	return out, nil
}

func (s *MemStore) FindByCorrelation(_ context.Context, m PaymentMethod, gatewayOrderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCorr[corrKey(m, gatewayOrderID)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.get(id)
}

func (s *MemStore) CompareAndSet(_ context.Context, id string, expectedVersion int64, ch Change) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	next, err := apply(cur, ch)
	if err != nil {
		return nil, err
	}
	s.byID[id] = next
	if ch.Correlation != nil && next.Correlation.GatewayOrderID != "" {
		s.byCorr[corrKey(next.PaymentMethod, next.Correlation.GatewayOrderID)] = id
	}
	return next.clone(), nil
}

func (s *MemStore) ListStale(_ context.Context, st PaymentStatus, before time.Time, limit int) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.byID {
		if o.PaymentStatus == st && o.LastTransitionAt.Before(before) {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastTransitionAt.Before(out[j].LastTransitionAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) CountPurgeable(_ context.Context, f PurgeFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.byID {
		if f.Matches(o) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Purge(_ context.Context, f PurgeFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, o := range s.byID {
		if !f.Matches(o) {
			continue
		}
		delete(s.byID, id)
		delete(s.byKey, o.IdempotencyKey)
		if o.Correlation.GatewayOrderID != "" {
			delete(s.byCorr, corrKey(o.PaymentMethod, o.Correlation.GatewayOrderID))
		}
		n++
	}
	return n, nil
}

func (s *MemStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		ByPaymentStatus: map[PaymentStatus]int64{},
		ByOrderStatus:   map[OrderStatus]int64{},
	}
	for _, o := range s.byID {
		st.Total++
		if o.Synthetic {
			st.Synthetic++
		}
		st.ByPaymentStatus[o.PaymentStatus]++
		st.ByOrderStatus[o.OrderStatus]++
	}
	return st, nil
}

func (s *MemStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

// Audit returns a copy of the recorded admin actions.
func (s *MemStore) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audit...)
}
