package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps records in process. Mutations of one product are
// serialized by a per-product mutex; different products never contend.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
	locks   map[string]*sync.Mutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]Record),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *MemoryRepository) Get(_ context.Context, productID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[productID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryRepository) List(ctx context.Context) ([]Record, error) {
	return m.filter(func(Record) bool { return true }), nil
}

func (m *MemoryRepository) ListLowStock(ctx context.Context, threshold int) ([]Record, error) {
	out := m.filter(func(r Record) bool { return r.AvailableStock < threshold })
	sort.SliceStable(out, func(i, j int) bool { return out[i].AvailableStock < out[j].AvailableStock })
	return out, nil
}

func (m *MemoryRepository) filter(keep func(Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Record{}
	for _, rec := range m.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (m *MemoryRepository) Create(_ context.Context, productID string, available int) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[productID]; ok {
		return Record{}, ErrAlreadyExists
	}
	rec := Record{
		ID:             uuid.NewString(),
		ProductID:      productID,
		AvailableStock: available,
		UpdatedAt:      time.Now().UTC(),
	}
	m.records[productID] = rec
	m.locks[productID] = &sync.Mutex{}
	return rec, nil
}

func (m *MemoryRepository) SetAvailable(ctx context.Context, productID string, available int) (Record, error) {
	return m.Mutate(ctx, productID, func(r *Record) error {
		r.AvailableStock = available
		return nil
	})
}

func (m *MemoryRepository) Mutate(_ context.Context, productID string, fn func(*Record) error) (Record, error) {
	m.mu.RLock()
	lock, ok := m.locks[productID]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	rec := m.records[productID]
	m.mu.RUnlock()

	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	m.records[productID] = rec
	m.mu.Unlock()
	return rec, nil
}
