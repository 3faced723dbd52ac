package inventory

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/events"
	"github.com/andreasstove999/order-fulfillment/internal/logging"
)

const OrderConfirmedConsumer = "inventory-order-confirmed"

// OrderConfirmedHandler consumes reserved stock once an order is paid. Lines are
// marked individually so a redelivery after a partial failure never confirms a
// line twice.
func OrderConfirmedHandler(svc *Service, inbox events.Inbox, logger *zap.Logger) events.EnvelopeHandler {
	return func(ctx context.Context, env events.RawEnvelope) error {
		ev, err := events.DecodePayload[events.OrderConfirmed](env, events.EventTypeOrderConfirmed)
		if err != nil {
			return err
		}
		log := logging.FromContext(ctx, logger).With(zap.String("order_id", ev.OrderID))

		for i, item := range ev.Items {
			lineKey := env.EventID + "#" + strconv.Itoa(i)
			done, err := inbox.Seen(ctx, OrderConfirmedConsumer, lineKey)
			if err != nil {
				return err
			}
			if done {
				continue
			}

			_, err = svc.ConfirmReservation(ctx, item.ProductID, item.Quantity)
			switch {
			case err == nil:
			case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotFound):
				// nothing left to confirm, e.g. the order was canceled and released first
				log.Warn("reservation not confirmable", zap.String("product_id", item.ProductID), zap.Error(err))
			default:
				return err
			}

			if err := inbox.Mark(ctx, OrderConfirmedConsumer, lineKey); err != nil {
				return err
			}
		}

		log.Info("reservations confirmed", zap.Int("lines", len(ev.Items)))
		return nil
	}
}
