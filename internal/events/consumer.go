package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/metrics"
)

// EnvelopeHandler applies one decoded event.
type EnvelopeHandler func(ctx context.Context, env RawEnvelope) error

// Idempotent turns an EnvelopeHandler into a relay HandlerFunc that skips events
// the consumer already applied. An event is marked only after h succeeds, so a
// crash in between leads to a redelivery, never to a lost event.
func Idempotent(consumer string, inbox Inbox, logger *zap.Logger, h EnvelopeHandler) HandlerFunc {
	logger = logger.With(zap.String("consumer", consumer))
	return func(ctx context.Context, body []byte) error {
		env, err := ParseEnvelope(body)
		if err != nil {
			metrics.EventsConsumed.WithLabelValues(consumer, "malformed").Inc()
			return err
		}
		if env.EventID == "" {
			metrics.EventsConsumed.WithLabelValues(consumer, "malformed").Inc()
			return fmt.Errorf("missing eventId")
		}

		ctx = logging.WithCorrelationID(ctx, env.CorrelationID)
		log := logging.FromContext(ctx, logger).With(
			zap.String("event", env.EventName),
			zap.String("event_id", env.EventID),
		)

		seen, err := inbox.Seen(ctx, consumer, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			metrics.EventsConsumed.WithLabelValues(consumer, "duplicate").Inc()
			log.Info("skip duplicate event")
			return nil
		}

		if err := h(ctx, env); err != nil {
			metrics.EventsConsumed.WithLabelValues(consumer, "error").Inc()
			return fmt.Errorf("%s %s: %w", consumer, env.EventName, err)
		}

		if err := inbox.Mark(ctx, consumer, env.EventID); err != nil {
			return err
		}
		metrics.EventsConsumed.WithLabelValues(consumer, "ok").Inc()
		return nil
	}
}
