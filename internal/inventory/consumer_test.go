package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/events"
)

func orderConfirmedEnvelope(t *testing.T, items ...events.ConfirmedItem) events.RawEnvelope {
	t.Helper()
	payload, err := json.Marshal(events.OrderConfirmed{
		OrderID:     "order-1",
		UserID:      "user-1",
		TotalAmount: decimal.NewFromInt(10),
		Items:       items,
		ConfirmedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return events.RawEnvelope{
		EventName:    events.EventTypeOrderConfirmed,
		EventVersion: 1,
		EventID:      "evt-1",
		PartitionKey: "order-1",
		Payload:      payload,
	}
}

func TestOrderConfirmedHandler_ConfirmsEveryLineOnce(t *testing.T) {
	svc, repo := newTestService(t, map[string]int{"p1": 5, "p2": 5})
	ctx := context.Background()
	for _, p := range []string{"p1", "p2"} {
		if _, err := svc.ReserveStock(ctx, p, 2); err != nil {
			t.Fatalf("reserve %s: %v", p, err)
		}
	}
	// a second order holds another reservation on p1
	if _, err := svc.ReserveStock(ctx, "p1", 1); err != nil {
		t.Fatal(err)
	}

	h := OrderConfirmedHandler(svc, events.NewMemoryInbox(), zap.NewNop())
	env := orderConfirmedEnvelope(t,
		events.ConfirmedItem{ProductID: "p1", Quantity: 2, Price: decimal.NewFromInt(1)},
		events.ConfirmedItem{ProductID: "p2", Quantity: 2, Price: decimal.NewFromInt(4)},
	)

	if err := h(ctx, env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := h(ctx, env); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	p1, _ := repo.Get(ctx, "p1")
	p2, _ := repo.Get(ctx, "p2")
	if p1.AvailableStock != 2 || p1.ReservedStock != 1 {
		t.Fatalf("p1 confirmed twice or not at all: %+v", p1)
	}
	if p2.AvailableStock != 3 || p2.ReservedStock != 0 {
		t.Fatalf("p2 unexpected: %+v", p2)
	}
}

func TestOrderConfirmedHandler_NothingReservedIsNotAnError(t *testing.T) {
	svc, _ := newTestService(t, map[string]int{"p1": 5})
	h := OrderConfirmedHandler(svc, events.NewMemoryInbox(), zap.NewNop())

	env := orderConfirmedEnvelope(t, events.ConfirmedItem{ProductID: "p1", Quantity: 1})
	if err := h(context.Background(), env); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestOrderConfirmedHandler_RejectsWrongEvent(t *testing.T) {
	svc, _ := newTestService(t, nil)
	h := OrderConfirmedHandler(svc, events.NewMemoryInbox(), zap.NewNop())

	env := orderConfirmedEnvelope(t)
	env.EventName = events.EventTypeOrderPlaced
	if err := h(context.Background(), env); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
