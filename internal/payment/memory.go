package payment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository backs the payment service when no database is configured.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (m *MemoryRepository) Create(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.IdempotencyKey != "" {
		for _, existing := range m.records {
			if existing.IdempotencyKey == rec.IdempotencyKey {
				return Record{}, errDuplicateKey
			}
		}
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryRepository) GetByIdempotencyKey(_ context.Context, key string) (Record, error) {
	return m.first(func(r Record) bool { return key != "" && r.IdempotencyKey == key })
}

func (m *MemoryRepository) GetByOrder(_ context.Context, orderID string) (Record, error) {
	return m.first(func(r Record) bool { return r.OrderID == orderID })
}

func (m *MemoryRepository) GetByTransaction(_ context.Context, transactionID string) (Record, error) {
	return m.first(func(r Record) bool { return r.TransactionID == transactionID })
}

func (m *MemoryRepository) List(_ context.Context) ([]Record, error) {
	return m.filter(func(Record) bool { return true }), nil
}

func (m *MemoryRepository) ListByStatus(_ context.Context, status Status) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.Status == status }), nil
}

func (m *MemoryRepository) Mutate(_ context.Context, id string, fn func(*Record) error) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[id] = rec
	return rec, nil
}

func (m *MemoryRepository) first(match func(Record) bool) (Record, error) {
	matches := m.filter(match)
	if len(matches) == 0 {
		return Record{}, ErrNotFound
	}
	return matches[0], nil
}

// filter returns matches newest first.
func (m *MemoryRepository) filter(keep func(Record) bool) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Record{}
	for _, rec := range m.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
