package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func newTestService(t *testing.T, stock map[string]int) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	for productID, available := range stock {
		if _, err := repo.Create(context.Background(), productID, available); err != nil {
			t.Fatalf("seed %s: %v", productID, err)
		}
	}
	return NewService(repo, zap.NewNop()), repo
}

func TestService_CheckStock(t *testing.T) {
	svc, _ := newTestService(t, map[string]int{"p1": 5})
	ctx := context.Background()

	tests := map[string]struct {
		productID string
		qty       int
		want      bool
		wantErr   error
	}{
		"enough":          {productID: "p1", qty: 5, want: true},
		"not enough":      {productID: "p1", qty: 6, want: false},
		"unknown product": {productID: "nope", qty: 1, want: false},
		"zero quantity":   {productID: "p1", qty: 0, wantErr: ErrInvalidQuantity},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := svc.CheckStock(ctx, tt.productID, tt.qty)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("CheckStock = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_ReserveInsufficientLeavesRecordUnchanged(t *testing.T) {
	svc, repo := newTestService(t, map[string]int{"p1": 1})
	ctx := context.Background()

	if _, err := svc.ReserveStock(ctx, "p1", 5); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	rec, _ := repo.Get(ctx, "p1")
	if rec.AvailableStock != 1 || rec.ReservedStock != 0 {
		t.Fatalf("record changed: %+v", rec)
	}
}

func TestService_ReserveConfirmRelease(t *testing.T) {
	svc, _ := newTestService(t, map[string]int{"p1": 5})
	ctx := context.Background()

	rec, err := svc.ReserveStock(ctx, "p1", 3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if rec.AvailableStock != 2 || rec.ReservedStock != 3 {
		t.Fatalf("after reserve: %+v", rec)
	}

	rec, err = svc.ConfirmReservation(ctx, "p1", 3)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if rec.AvailableStock != 2 || rec.ReservedStock != 0 {
		t.Fatalf("after confirm: %+v", rec)
	}

	if _, err := svc.ReleaseStock(ctx, "p1", 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("release after confirm: expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.ReserveStock(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reserve unknown: expected ErrNotFound, got %v", err)
	}
}

func TestService_ConcurrentReservationsNeverOversell(t *testing.T) {
	const stock, buyers = 20, 50
	svc, repo := newTestService(t, map[string]int{"hot": stock})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ReserveStock(ctx, "hot", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, _ := repo.Get(ctx, "hot")
	if succeeded != stock {
		t.Fatalf("%d reservations succeeded, want %d", succeeded, stock)
	}
	if rec.AvailableStock != 0 || rec.ReservedStock != stock {
		t.Fatalf("lost update: %+v", rec)
	}
}

func TestService_CreateUpdateAndLowStock(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateInventory(ctx, "a", 2); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := svc.CreateInventory(ctx, "b", 50); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if _, err := svc.CreateInventory(ctx, "a", 9); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: expected ErrAlreadyExists, got %v", err)
	}
	if _, err := svc.UpdateInventory(ctx, "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update unknown: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.UpdateInventory(ctx, "b", 7); err != nil {
		t.Fatalf("update b: %v", err)
	}

	low, err := svc.LowStock(ctx, 10)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(low) != 2 || low[0].ProductID != "a" || low[1].ProductID != "b" {
		t.Fatalf("unexpected low stock list: %+v", low)
	}

	all, _ := svc.List(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
}
