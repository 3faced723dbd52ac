package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// handleAttempts is the in-process retry budget for one delivery.
const handleAttempts = 3

// KafkaRelay maps each routing key to a topic and each queue to a consumer group.
// Failed deliveries are retried in place and then copied to a "<queue>.dlq" topic.
type KafkaRelay struct {
	brokers []string
	writer  *kafka.Writer
	logger  *zap.Logger

	// deadLetter defaults to Publish.
	deadLetter func(ctx context.Context, routingKey, partitionKey string, body []byte) error
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewKafkaRelay(brokers []string, logger *zap.Logger) *KafkaRelay {
	k := &KafkaRelay{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: logger.Named("kafka"),
	}
	k.deadLetter = k.Publish
	k.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0
		return b
	}
	return k
}

func (k *KafkaRelay) Publish(ctx context.Context, routingKey, partitionKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// the partition key keeps one order's events on one partition, in order
	return k.writer.WriteMessages(pubCtx, kafka.Message{
		Topic: routingKey,
		Key:   []byte(partitionKey),
		Value: body,
		Time:  time.Now().UTC(),
	})
}

func (k *KafkaRelay) Subscribe(ctx context.Context, queue, routingKey string, h HandlerFunc) error {
	if len(k.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		GroupID:  queue,
		Topic:    routingKey,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	logger := k.logger.With(zap.String("queue", queue), zap.String("topic", routingKey))
	go func() {
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Info("stopping consumer")
					return
				}
				logger.Error("fetch message", zap.Error(err))
				continue
			}

			if !k.process(ctx, logger, queue, h, msg) {
				logger.Info("stopping consumer before commit", zap.Int64("offset", msg.Offset))
				return
			}
			if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				logger.Error("commit offset", zap.Error(err))
			}
		}
	}()
	return nil
}

// process handles one message and reports whether its offset may be committed.
// A committed offset covers every earlier message of the partition, so a failed
// message is only committed once its dead letter copy is written. Dead lettering
// is retried until ctx ends.
func (k *KafkaRelay) process(ctx context.Context, logger *zap.Logger, queue string, h HandlerFunc, msg kafka.Message) bool {
	err := k.handle(ctx, h, msg.Value)
	if err == nil {
		return true
	}
	logger.Error("dead-lettering message", zap.Error(err), zap.Int64("offset", msg.Offset))

	b := backoff.WithContext(k.newBackOff(), ctx)
	err = backoff.RetryNotify(func() error {
		return k.deadLetter(ctx, deadLetterQueue(queue), string(msg.Key), msg.Value)
	}, b, func(err error, wait time.Duration) {
		logger.Warn("publish to dead letter topic", zap.Error(err), zap.Duration("retry_in", wait))
	})
	return err == nil
}

func (k *KafkaRelay) handle(ctx context.Context, h HandlerFunc, body []byte) error {
	b := backoff.WithContext(backoff.WithMaxRetries(k.newBackOff(), handleAttempts-1), ctx)
	return backoff.Retry(func() error { return h(ctx, body) }, b)
}

func (k *KafkaRelay) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var errs []error
	for _, r := range k.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := k.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errs...)
}
