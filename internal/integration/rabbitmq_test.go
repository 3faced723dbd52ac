//go:build integration

package integration

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/order-fulfillment/internal/events"
	"github.com/andreasstove999/order-fulfillment/internal/testutil"
)

func TestRabbitRelay_RoundTripAndRedelivery(t *testing.T) {
	url := testutil.StartRabbitMQ(t)
	relay, err := events.Open(events.BrokerSettings{Kind: "rabbitmq", RabbitURL: url}, nopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var attempts atomic.Int32
	got := make(chan events.PaymentProcessed, 1)
	handler := events.Idempotent("it-order", events.NewMemoryInbox(), nopLogger(), func(_ context.Context, env events.RawEnvelope) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		ev, err := events.DecodePayload[events.PaymentProcessed](env, events.EventTypePaymentProcessed)
		if err != nil {
			return err
		}
		got <- ev
		return nil
	})
	queue := events.ServiceQueue(events.OrderServiceName, events.PaymentProcessedRoutingKey)
	require.NoError(t, relay.Subscribe(ctx, queue, events.PaymentProcessedRoutingKey, handler))

	pub := events.NewPublisher(relay, events.NewMemorySequencer(), events.PaymentServiceName, nopLogger())
	require.NoError(t, pub.Publish(ctx, events.EventTypePaymentProcessed, events.PaymentProcessedRoutingKey,
		events.Meta{PartitionKey: "order-1"},
		events.PaymentProcessed{PaymentID: "pay-1", OrderID: "order-1", Amount: decimal.NewFromInt(5), Status: "COMPLETED"}))

	select {
	case ev := <-got:
		require.Equal(t, "order-1", ev.OrderID)
		require.GreaterOrEqual(t, attempts.Load(), int32(2))
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}
}

func TestRabbitRelay_SubscribeConflictKeepsConnection(t *testing.T) {
	url := testutil.StartRabbitMQ(t)
	conn, err := events.DialRabbit(url)
	require.NoError(t, err)
	relay, err := events.NewRabbitRelay(conn, nopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })

	// a queue declared without a dead-letter exchange cannot be redeclared with one
	ch, err := conn.Channel()
	require.NoError(t, err)
	_, err = ch.QueueDeclare("it.conflict", true, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	noop := func(context.Context, []byte) error { return nil }

	require.Error(t, relay.Subscribe(ctx, "it.conflict", "it.key", noop))
	require.False(t, conn.IsClosed())
	require.NoError(t, relay.Subscribe(ctx, "it.ok", "it.key", noop))
}
