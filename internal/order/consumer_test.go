package order

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/order-fulfillment/internal/events"
)

func envelope(t *testing.T, name string, payload any) events.RawEnvelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.RawEnvelope{
		EventName:     name,
		EventVersion:  1,
		EventID:       "evt-42",
		PartitionKey:  "order",
		CorrelationID: "corr-1",
		Payload:       raw,
	}
}

func TestPaymentProcessedHandler(t *testing.T) {
	f := newFixture(t, map[string]int{"P": 5}, true)
	ctx := context.Background()
	o := createPending(t, f)

	h := PaymentProcessedHandler(f.orch)
	require.NoError(t, h(ctx, envelope(t, events.EventTypePaymentProcessed,
		events.PaymentProcessed{PaymentID: "pay-1", OrderID: o.ID, Status: "COMPLETED"})))

	got, _ := f.orch.GetOrder(ctx, o.ID)
	assert.Equal(t, StatusConfirmed, got.OrderStatus)

	confirmed := f.pub.named(events.EventTypeOrderConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "corr-1", confirmed[0].meta.CorrelationID)
	assert.Equal(t, "evt-42", confirmed[0].meta.CausationID)
	assert.Equal(t, o.ID, confirmed[0].meta.PartitionKey)
}

func TestPaymentProcessedHandler_WrongEventName(t *testing.T) {
	f := newFixture(t, nil, true)
	err := PaymentProcessedHandler(f.orch)(context.Background(),
		envelope(t, events.EventTypeOrderPlaced, events.PaymentProcessed{OrderID: "x"}))
	assert.Error(t, err)
}

func TestPaymentRefundedHandler(t *testing.T) {
	f := newFixture(t, map[string]int{"P": 5}, true)
	ctx := context.Background()
	o := createPending(t, f)

	require.NoError(t, PaymentRefundedHandler(f.orch)(ctx, envelope(t, events.EventTypePaymentRefunded,
		events.PaymentRefunded{PaymentID: "pay-1", OrderID: o.ID, Reason: "order canceled"})))

	got, _ := f.orch.GetOrder(ctx, o.ID)
	assert.Equal(t, PaymentRefunded, got.PaymentStatus)
	log, _ := f.repo.SagaLog(ctx, o.ID)
	assert.True(t, log.Has(StepRefunded, SagaCompleted))
}
