package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository backs the order service when no database is configured.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]Order
	saga   map[string]SagaLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]Order),
		saga:   make(map[string]SagaLog),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepository) Create(_ context.Context, o Order, entry SagaEntry) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	o.CreatedAt, o.UpdatedAt = now, now
	o.Items = append([]Line(nil), o.Items...)
	m.orders[o.ID] = o
	entry.At = now
	m.saga[o.ID] = append(m.saga[o.ID], entry)
	return copyOrder(o), nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return copyOrder(o), nil
}

func (m *MemoryRepository) ListByUser(_ context.Context, userID string, page, size int) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			all = append(all, copyOrder(o))
		}
	}
	sortNewestFirst(all)

	content := []Order{}
	if start := page * size; start < len(all) {
		end := min(start+size, len(all))
		content = all[start:end]
	}
	return newPage(content, page, size, len(all)), nil
}

func (m *MemoryRepository) Transition(_ context.Context, id string, fn func(*Order) error) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	o = copyOrder(o)
	if err := fn(&o); err != nil {
		return Order{}, err
	}
	o.UpdatedAt = m.now()
	m.orders[id] = o
	return copyOrder(o), nil
}

func (m *MemoryRepository) AppendSaga(_ context.Context, entries ...SagaEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.At = m.now()
		m.saga[e.OrderID] = append(m.saga[e.OrderID], e)
	}
	return nil
}

func (m *MemoryRepository) SagaLog(_ context.Context, orderID string) (SagaLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(SagaLog(nil), m.saga[orderID]...), nil
}

func (m *MemoryRepository) FindStalled(_ context.Context, cutoff time.Time, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Order{}
	for id, o := range m.orders {
		if o.OrderStatus != StatusPending || !o.CreatedAt.Before(cutoff) {
			continue
		}
		if m.saga[id].Has(StepPlaced, SagaCompleted) {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyOrder(o Order) Order {
	o.Items = append([]Line{}, o.Items...)
	return o
}

func sortNewestFirst(orders []Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
