package order

import (
	"context"

	"github.com/andreasstove999/order-fulfillment/internal/events"
)

const (
	PaymentProcessedConsumer = "order-payment-processed"
	PaymentRefundedConsumer  = "order-payment-refunded"
)

func PaymentProcessedHandler(o *Orchestrator) events.EnvelopeHandler {
	return func(ctx context.Context, env events.RawEnvelope) error {
		ev, err := events.DecodePayload[events.PaymentProcessed](env, events.EventTypePaymentProcessed)
		if err != nil {
			return err
		}
		return o.HandlePaymentProcessed(ctx, ev, env.Meta(ev.OrderID))
	}
}

func PaymentRefundedHandler(o *Orchestrator) events.EnvelopeHandler {
	return func(ctx context.Context, env events.RawEnvelope) error {
		ev, err := events.DecodePayload[events.PaymentRefunded](env, events.EventTypePaymentRefunded)
		if err != nil {
			return err
		}
		return o.HandlePaymentRefunded(ctx, ev)
	}
}
