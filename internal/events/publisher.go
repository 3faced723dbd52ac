package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/metrics"
)

// Publisher wraps payloads in the v1 envelope and hands them to the relay.
type Publisher struct {
	relay    Relay
	seq      Sequencer
	producer string
	logger   *zap.Logger
	now      func() time.Time
}

func NewPublisher(relay Relay, seq Sequencer, producer string, logger *zap.Logger) *Publisher {
	return &Publisher{
		relay:    relay,
		seq:      seq,
		producer: producer,
		logger:   logger.Named("publisher"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Publish(ctx context.Context, eventName, routingKey string, meta Meta, payload any) error {
	if meta.PartitionKey == "" {
		return fmt.Errorf("publish %s: missing partition key", eventName)
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = logging.CorrelationID(ctx)
	}

	seq, err := p.seq.Next(ctx, meta.PartitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := newEnvelope(eventName, p.producer, meta, seq, payload, p.now())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventName, err)
	}

	err = p.relay.Publish(ctx, routingKey, meta.PartitionKey, body)
	metrics.EventsPublished.WithLabelValues(routingKey, metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventName, err)
	}

	logging.FromContext(ctx, p.logger).Debug("event published",
		zap.String("event", eventName),
		zap.String("event_id", env.EventID),
		zap.String("partition_key", meta.PartitionKey),
		zap.Int64("sequence", seq),
	)
	return nil
}
