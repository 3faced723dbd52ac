package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/events"
	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/metrics"
)

var tracer = otel.Tracer("github.com/andreasstove999/order-fulfillment/internal/payment")

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventName, routingKey string, meta events.Meta, payload any) error
}

type Service struct {
	repo      Repository
	gateway   Settlement
	locker    Locker
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(repo Repository, gateway Settlement, locker Locker, publisher EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		locker:    locker,
		publisher: publisher,
		logger:    logger.Named("payment"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessPayment settles a payment at most once per idempotency key. A repeated
// key returns the record created by the first call.
func (s *Service) ProcessPayment(ctx context.Context, req Request) (rec Record, err error) {
	ctx, span := tracer.Start(ctx, "payment.process")
	span.SetAttributes(attribute.String("order.id", req.OrderID))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if strings.TrimSpace(req.OrderID) == "" {
		return Record{}, fmt.Errorf("%w: orderId is required", ErrValidation)
	}
	log := logging.FromContext(ctx, s.logger).With(zap.String("order_id", req.OrderID))

	if req.IdempotencyKey != "" {
		release, err := s.locker.Acquire(ctx, req.IdempotencyKey)
		if err != nil {
			return Record{}, fmt.Errorf("lock idempotency key: %w", err)
		}
		defer release()

		existing, err := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil && existing.OrderID != req.OrderID:
			metrics.Payments.WithLabelValues("process", "rejected").Inc()
			log.Warn("idempotency key reused", zap.String("payment_id", existing.ID), zap.String("key_order_id", existing.OrderID))
			return Record{}, ErrKeyReused
		case err == nil:
			metrics.Payments.WithLabelValues("process", "replayed").Inc()
			log.Info("payment replayed", zap.String("payment_id", existing.ID))
			return existing, nil
		case !errors.Is(err, ErrNotFound):
			return Record{}, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	txn, err := s.gateway.Charge(ctx, req.Amount, req.CardToken)
	if err != nil {
		metrics.Payments.WithLabelValues("process", "declined").Inc()
		log.Warn("settlement failed", zap.Error(err))
		return Record{}, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	rec, err = s.repo.Create(ctx, Record{
		ID:             uuid.NewString(),
		OrderID:        req.OrderID,
		IdempotencyKey: req.IdempotencyKey,
		TransactionID:  txn,
		Amount:         req.Amount,
		Method:         req.Method,
		Status:         StatusCompleted,
	})
	if errors.Is(err, errDuplicateKey) {
		// another instance won the race without a shared lock
		if rerr := s.gateway.Reverse(ctx, txn, req.Amount); rerr != nil {
			log.Error("reverse duplicate charge failed", zap.String("transaction_id", txn), zap.Error(rerr))
		}
		winner, err := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil && winner.OrderID != req.OrderID {
			return Record{}, ErrKeyReused
		}
		return winner, err
	}
	if err != nil {
		metrics.Payments.WithLabelValues("process", "error").Inc()
		return Record{}, err
	}
	metrics.Payments.WithLabelValues("process", "ok").Inc()
	log.Info("payment completed", zap.String("payment_id", rec.ID), zap.String("transaction_id", rec.TransactionID))

	s.publish(ctx, events.EventTypePaymentProcessed, events.PaymentProcessedRoutingKey,
		events.Meta{PartitionKey: rec.OrderID},
		events.PaymentProcessed{
			PaymentID:     rec.ID,
			OrderID:       rec.OrderID,
			TransactionID: rec.TransactionID,
			Amount:        rec.Amount,
			Status:        string(rec.Status),
			Timestamp:     s.now(),
		})
	return rec, nil
}

func (s *Service) RefundPayment(ctx context.Context, paymentID, reason string) (Record, error) {
	return s.refund(ctx, paymentID, reason, events.Meta{})
}

func (s *Service) refund(ctx context.Context, paymentID, reason string, meta events.Meta) (Record, error) {
	ctx, span := tracer.Start(ctx, "payment.refund")
	span.SetAttributes(attribute.String("payment.id", paymentID))
	defer span.End()

	log := logging.FromContext(ctx, s.logger).With(zap.String("payment_id", paymentID))

	rec, err := s.repo.Mutate(ctx, paymentID, func(r *Record) error {
		if r.Status == StatusRefunded {
			return ErrAlreadyRefunded
		}
		if err := s.gateway.Reverse(ctx, r.TransactionID, r.Amount); err != nil {
			return fmt.Errorf("%w: %w", ErrPaymentFailed, err)
		}
		r.Status = StatusRefunded
		r.RefundReason = reason
		return nil
	})
	if err != nil {
		metrics.Payments.WithLabelValues("refund", metrics.Result(err)).Inc()
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}
	metrics.Payments.WithLabelValues("refund", "ok").Inc()
	log.Info("payment refunded", zap.String("order_id", rec.OrderID), zap.String("reason", reason))

	meta.PartitionKey = rec.OrderID
	s.publish(ctx, events.EventTypePaymentRefunded, events.PaymentRefundedRoutingKey, meta,
		events.PaymentRefunded{
			PaymentID:     rec.ID,
			OrderID:       rec.OrderID,
			TransactionID: rec.TransactionID,
			Amount:        rec.Amount,
			Reason:        reason,
			Timestamp:     s.now(),
		})
	return rec, nil
}

// publish is fire-and-forget; the payment is already durable.
func (s *Service) publish(ctx context.Context, name, routingKey string, meta events.Meta, payload any) {
	if err := s.publisher.Publish(ctx, name, routingKey, meta, payload); err != nil {
		logging.FromContext(ctx, s.logger).Error("publish failed",
			zap.String("event", name), zap.String("partition_key", meta.PartitionKey), zap.Error(err))
	}
}

func (s *Service) GetPayment(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (Record, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

func (s *Service) GetByTransaction(ctx context.Context, transactionID string) (Record, error) {
	return s.repo.GetByTransaction(ctx, transactionID)
}

func (s *Service) List(ctx context.Context) ([]Record, error) {
	return s.repo.List(ctx)
}

func (s *Service) ListByStatus(ctx context.Context, status string) ([]Record, error) {
	st, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.repo.ListByStatus(ctx, st)
}
