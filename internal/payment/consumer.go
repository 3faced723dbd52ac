package payment

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/events"
	"github.com/andreasstove999/order-fulfillment/internal/logging"
)

const (
	OrderCanceledConsumer = "payment-order-canceled"
	cancelRefundReason    = "order canceled"
)

// OrderCanceledHandler refunds the completed payment of a canceled order.
// Orders canceled before payment have nothing to refund.
func OrderCanceledHandler(svc *Service, logger *zap.Logger) events.EnvelopeHandler {
	return func(ctx context.Context, env events.RawEnvelope) error {
		ev, err := events.DecodePayload[events.OrderCanceled](env, events.EventTypeOrderCanceled)
		if err != nil {
			return err
		}
		log := logging.FromContext(ctx, logger).With(zap.String("order_id", ev.OrderID))

		rec, err := svc.GetByOrder(ctx, ev.OrderID)
		if errors.Is(err, ErrNotFound) {
			log.Debug("no payment to refund")
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Status != StatusCompleted {
			return nil
		}

		_, err = svc.refund(ctx, rec.ID, cancelRefundReason, env.Meta(ev.OrderID))
		if errors.Is(err, ErrAlreadyRefunded) {
			return nil
		}
		return err
	}
}
