package order

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
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/clients"
	"github.com/andreasstove999/order-fulfillment/internal/events"
	"github.com/andreasstove999/order-fulfillment/internal/inventory"
	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/metrics"
	"github.com/andreasstove999/order-fulfillment/internal/payment"
	"github.com/andreasstove999/order-fulfillment/internal/resilience"
)

var tracer = otel.Tracer("github.com/andreasstove999/order-fulfillment/internal/order")

// Inventory is satisfied by *clients.InventoryClient.
type Inventory interface {
	CheckStock(ctx context.Context, productID string, qty int) (resilience.Result[bool], error)
	ReserveStock(ctx context.Context, productID string, qty int) (resilience.Result[bool], error)
	ReleaseStock(ctx context.Context, productID string, qty int) (resilience.Result[bool], error)
}

// Payments is satisfied by *clients.PaymentClient.
type Payments interface {
	ProcessPayment(ctx context.Context, req clients.ProcessPaymentRequest) (resilience.Result[payment.Record], error)
	RefundPayment(ctx context.Context, paymentID, reason string) (resilience.Result[payment.Record], error)
}

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventName, routingKey string, meta events.Meta, payload any) error
}

type Options struct {
	// RollbackOnReserveFailure releases already reserved lines and cancels the
	// order when any reservation fails. When false a failed reservation is only
	// logged and the order is still placed.
	RollbackOnReserveFailure bool
}

// Orchestrator drives the order saga: stock check, reservation, payment
// confirmation, cancellation and compensation.
type Orchestrator struct {
	repo      Repository
	inventory Inventory
	payments  Payments
	publisher EventPublisher
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrchestrator(repo Repository, inv Inventory, pay Payments, pub EventPublisher, opts Options, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		inventory: inv,
		payments:  pay,
		publisher: pub,
		opts:      opts,
		logger:    logger.Named("order"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	UserID    string
	AddressID string
	Items     []Line
}

func (r CreateRequest) validate() error {
	var problems []string
	if strings.TrimSpace(r.UserID) == "" {
		problems = append(problems, "userId is required")
	}
	if len(r.Items) == 0 {
		problems = append(problems, "at least one item is required")
	}
	for i, l := range r.Items {
		if strings.TrimSpace(l.ProductID) == "" {
			problems = append(problems, fmt.Sprintf("items[%d].productId is required", i))
		}
		if l.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if l.Price.IsNegative() {
			problems = append(problems, fmt.Sprintf("items[%d].price must not be negative", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateOrder checks every line, persists the order as PENDING and reserves
// each line. Nothing is persisted when a check fails or inventory is degraded.
func (s *Orchestrator) CreateOrder(ctx context.Context, req CreateRequest) (o Order, err error) {
	ctx, span := tracer.Start(ctx, "order.create", trace.WithAttributes(attribute.String("user.id", req.UserID)))
	defer func() { endSpan(span, err) }()

	if err := req.validate(); err != nil {
		return Order{}, err
	}

	for _, l := range req.Items {
		res, err := s.inventory.CheckStock(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return Order{}, fmt.Errorf("check stock %s: %w", l.ProductID, err)
		}
		if res.Degraded {
			return Order{}, fmt.Errorf("check stock %s: %w", l.ProductID, res.Err())
		}
		if !res.Value {
			return Order{}, fmt.Errorf("%w for product %s", ErrInsufficientStock, l.ProductID)
		}
	}

	o = Order{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		AddressID:     req.AddressID,
		TotalAmount:   Total(req.Items),
		OrderStatus:   StatusPending,
		PaymentStatus: PaymentPending,
		Items:         req.Items,
	}
	o, err = s.repo.Create(ctx, o, s.entry(o.ID, StepCreated, SagaCompleted, ""))
	if err != nil {
		return Order{}, fmt.Errorf("persist order: %w", err)
	}
	metrics.SagaSteps.WithLabelValues(StepCreated, string(SagaCompleted)).Inc()
	span.SetAttributes(attribute.String("order.id", o.ID))

	log := logging.FromContext(ctx, s.logger).With(zap.String("order_id", o.ID))
	log.Info("order created", zap.String("total", o.TotalAmount.String()), zap.Int("lines", len(o.Items)))

	var reserved []int
	for i, l := range o.Items {
		cause := s.reserve(ctx, l)
		if cause == nil {
			s.appendSaga(ctx, s.entry(o.ID, StepReserve(i), SagaCompleted, l.ProductID))
			reserved = append(reserved, i)
			continue
		}

		s.appendSaga(ctx, s.entry(o.ID, StepReserve(i), SagaFailed, cause.Error()))
		if !s.opts.RollbackOnReserveFailure {
			log.Warn("reservation failed, continuing", zap.String("product_id", l.ProductID), zap.Error(cause))
			continue
		}

		log.Warn("reservation failed, rolling back order", zap.String("product_id", l.ProductID), zap.Error(cause))
		s.compensate(ctx, o, reserved, "reservation failed: "+cause.Error())
		return Order{}, cause
	}

	s.appendSaga(ctx, s.entry(o.ID, StepPlaced, SagaCompleted, ""))
	s.publishBestEffort(ctx, o.ID, StepPlacedEvent, events.EventTypeOrderPlaced, events.OrderPlacedRoutingKey,
		events.Meta{PartitionKey: o.ID}, placedPayload(o))
	return o, nil
}

// reserve returns nil when the line is held by inventory.
func (s *Orchestrator) reserve(ctx context.Context, l Line) error {
	res, err := s.inventory.ReserveStock(ctx, l.ProductID, l.Quantity)
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		return fmt.Errorf("%w for product %s", ErrInsufficientStock, l.ProductID)
	case err != nil:
		return fmt.Errorf("reserve %s: %w", l.ProductID, err)
	case res.Degraded:
		return fmt.Errorf("reserve %s: %w", l.ProductID, res.Err())
	}
	return nil
}

// release returns nil when inventory took the line back.
func (s *Orchestrator) release(ctx context.Context, l Line) error {
	res, err := s.inventory.ReleaseStock(ctx, l.ProductID, l.Quantity)
	if err != nil {
		return err
	}
	return res.Err()
}

// compensate cancels a PENDING order and then releases the reserved lines. The
// release only runs when this call made the transition, so a concurrent cancel
// cannot return the same stock twice. No event is emitted: the order was never
// announced.
func (s *Orchestrator) compensate(ctx context.Context, o Order, lines []int, reason string) {
	log := logging.FromContext(ctx, s.logger).With(zap.String("order_id", o.ID))

	_, err := s.repo.Transition(ctx, o.ID, func(cur *Order) error {
		if cur.OrderStatus != StatusPending {
			return ErrInvalidTransition
		}
		cur.OrderStatus = StatusCanceled
		return nil
	})
	if err != nil {
		log.Error("cancel during compensation failed", zap.Error(err))
		s.appendSaga(ctx, s.entry(o.ID, StepCanceled, SagaFailed, err.Error()))
		return
	}
	s.appendSaga(ctx, s.entry(o.ID, StepCanceled, SagaCompensated, reason))

	for _, i := range lines {
		l := o.Items[i]
		if err := s.release(ctx, l); err != nil {
			log.Error("compensating release failed", zap.String("product_id", l.ProductID), zap.Error(err))
			s.appendSaga(ctx, s.entry(o.ID, StepRelease(i), SagaFailed, err.Error()))
			continue
		}
		s.appendSaga(ctx, s.entry(o.ID, StepRelease(i), SagaCompensated, l.ProductID))
	}
}

// HandlePaymentProcessed confirms a PENDING order. Redeliveries for a CONFIRMED
// order only re-announce it if the confirmation was never published; payments
// for a CANCELED order are refunded.
func (s *Orchestrator) HandlePaymentProcessed(ctx context.Context, ev events.PaymentProcessed, meta events.Meta) (err error) {
	ctx, span := tracer.Start(ctx, "order.payment_processed", trace.WithAttributes(attribute.String("order.id", ev.OrderID)))
	defer func() { endSpan(span, err) }()

	log := logging.FromContext(ctx, s.logger).With(zap.String("order_id", ev.OrderID), zap.String("payment_id", ev.PaymentID))

	var before Status
	o, err := s.repo.Transition(ctx, ev.OrderID, func(cur *Order) error {
		before = cur.OrderStatus
		if cur.OrderStatus == StatusPending {
			cur.OrderStatus = StatusConfirmed
			cur.PaymentStatus = PaymentPaid
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		log.Warn("payment for unknown order ignored")
		return nil
	}
	if err != nil {
		return err
	}

	meta.PartitionKey = o.ID
	switch before {
	case StatusPending:
		s.appendSaga(ctx, s.entry(o.ID, StepPaid, SagaCompleted, ev.PaymentID))
		log.Info("order confirmed")
		return s.publishConfirmed(ctx, o, meta)

	case StatusConfirmed:
		sagaLog, err := s.repo.SagaLog(ctx, o.ID)
		if err != nil {
			return err
		}
		if sagaLog.Has(StepConfirmedEvent, SagaCompleted) {
			log.Debug("duplicate payment event ignored")
			return nil
		}
		return s.publishConfirmed(ctx, o, meta)

	default:
		log.Warn("payment arrived for canceled order, requesting refund")
		return s.refundLatePayment(ctx, o.ID, ev.PaymentID)
	}
}

func (s *Orchestrator) publishConfirmed(ctx context.Context, o Order, meta events.Meta) error {
	items := make([]events.ConfirmedItem, 0, len(o.Items))
	for _, l := range o.Items {
		items = append(items, events.ConfirmedItem{ProductID: l.ProductID, Quantity: l.Quantity, Price: l.Price})
	}
	err := s.publisher.Publish(ctx, events.EventTypeOrderConfirmed, events.OrderConfirmedRoutingKey, meta, events.OrderConfirmed{
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount,
		Items:       items,
		ConfirmedAt: s.now(),
	})
	if err != nil {
		s.appendSaga(ctx, s.entry(o.ID, StepConfirmedEvent, SagaFailed, err.Error()))
		return fmt.Errorf("publish order confirmed: %w", err)
	}
	s.appendSaga(ctx, s.entry(o.ID, StepConfirmedEvent, SagaCompleted, ""))
	return nil
}

func (s *Orchestrator) refundLatePayment(ctx context.Context, orderID, paymentID string) error {
	res, err := s.payments.RefundPayment(ctx, paymentID, "order canceled")
	switch {
	case errors.Is(err, payment.ErrAlreadyRefunded):
		s.appendSaga(ctx, s.entry(orderID, StepRefund, SagaCompleted, paymentID+" already refunded"))
		return nil
	case err != nil:
		s.appendSaga(ctx, s.entry(orderID, StepRefund, SagaFailed, err.Error()))
		return fmt.Errorf("refund payment %s: %w", paymentID, err)
	case res.Degraded:
		s.appendSaga(ctx, s.entry(orderID, StepRefund, SagaFailed, res.Cause.Error()))
		return res.Err()
	}
	s.appendSaga(ctx, s.entry(orderID, StepRefund, SagaCompleted, paymentID))
	return nil
}

func (s *Orchestrator) HandlePaymentRefunded(ctx context.Context, ev events.PaymentRefunded) error {
	_, err := s.repo.Transition(ctx, ev.OrderID, func(cur *Order) error {
		cur.PaymentStatus = PaymentRefunded
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		logging.FromContext(ctx, s.logger).Warn("refund for unknown order ignored", zap.String("order_id", ev.OrderID))
		return nil
	}
	if err != nil {
		return err
	}
	s.appendSaga(ctx, s.entry(ev.OrderID, StepRefunded, SagaCompleted, ev.PaymentID))
	return nil
}

// CancelOrder cancels a PENDING or CONFIRMED order, releases the lines it still
// holds best-effort and announces the cancellation with the original total.
func (s *Orchestrator) CancelOrder(ctx context.Context, id string) (o Order, err error) {
	ctx, span := tracer.Start(ctx, "order.cancel", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	var before Status
	o, err = s.repo.Transition(ctx, id, func(cur *Order) error {
		if !cur.Cancelable() {
			return fmt.Errorf("%w: cannot cancel order with status %s", ErrInvalidTransition, cur.OrderStatus)
		}
		before = cur.OrderStatus
		cur.OrderStatus = StatusCanceled
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.appendSaga(ctx, s.entry(o.ID, StepCanceled, SagaCompleted, ""))

	log := logging.FromContext(ctx, s.logger).With(zap.String("order_id", o.ID))
	sagaLog, err := s.repo.SagaLog(ctx, o.ID)
	if err != nil {
		log.Error("load saga log, reservations not released", zap.Error(err))
	} else {
		for _, i := range heldLines(before, sagaLog) {
			l := o.Items[i]
			if err := s.release(ctx, l); err != nil {
				log.Warn("release failed", zap.String("product_id", l.ProductID), zap.Error(err))
				s.appendSaga(ctx, s.entry(o.ID, StepRelease(i), SagaFailed, err.Error()))
				continue
			}
			s.appendSaga(ctx, s.entry(o.ID, StepRelease(i), SagaCompleted, l.ProductID))
		}
	}

	s.publishBestEffort(ctx, o.ID, StepCanceledEvent, events.EventTypeOrderCanceled, events.OrderCanceledRoutingKey,
		events.Meta{PartitionKey: o.ID},
		events.OrderCanceled{OrderID: o.ID, UserID: o.UserID, TotalAmount: o.TotalAmount})
	log.Info("order canceled")
	return o, nil
}

// heldLines lists the lines a canceled order may return to inventory. Stock
// counters are shared between orders, so only reservations this order made are
// released. Once order.confirmed went out, inventory consumes the reservation
// and nothing is left to release.
func heldLines(before Status, sagaLog SagaLog) []int {
	if before == StatusConfirmed && sagaLog.Has(StepConfirmedEvent, SagaCompleted) {
		return nil
	}
	return sagaLog.OutstandingReservations()
}

// UpdateOrderStatus is an operator override and skips transition guards.
func (s *Orchestrator) UpdateOrderStatus(ctx context.Context, id, status string) (Order, error) {
	st, ok := ParseStatus(status)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	var before Status
	o, err := s.repo.Transition(ctx, id, func(cur *Order) error {
		before = cur.OrderStatus
		cur.OrderStatus = st
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.appendSaga(ctx, s.entry(o.ID, StepAdminStatus, SagaCompleted, string(before)+" -> "+string(st)))
	logging.FromContext(ctx, s.logger).Info("order status overridden",
		zap.String("order_id", o.ID), zap.String("from", string(before)), zap.String("to", string(st)))
	return o, nil
}

type PayRequest struct {
	Method         string
	CardToken      string
	IdempotencyKey string
}

// PayOrder charges a PENDING order. The order is confirmed later, when the
// payment.processed event arrives.
func (s *Orchestrator) PayOrder(ctx context.Context, id string, req PayRequest) (rec payment.Record, err error) {
	ctx, span := tracer.Start(ctx, "order.pay", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return payment.Record{}, err
	}
	if o.OrderStatus != StatusPending || o.PaymentStatus == PaymentPaid {
		return payment.Record{}, fmt.Errorf("%w: order is %s/%s", ErrInvalidTransition, o.OrderStatus, o.PaymentStatus)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = o.ID
	}
	res, err := s.payments.ProcessPayment(ctx, clients.ProcessPaymentRequest{
		OrderID:        o.ID,
		Amount:         o.TotalAmount,
		PaymentMethod:  req.Method,
		CardToken:      req.CardToken,
		IdempotencyKey: key,
	})
	if errors.Is(err, payment.ErrPaymentFailed) {
		s.appendSaga(ctx, s.entry(o.ID, StepPayment, SagaFailed, err.Error()))
		if _, terr := s.repo.Transition(ctx, o.ID, func(cur *Order) error {
			if cur.PaymentStatus == PaymentPending {
				cur.PaymentStatus = PaymentFailed
			}
			return nil
		}); terr != nil {
			logging.FromContext(ctx, s.logger).Error("mark payment failed", zap.String("order_id", o.ID), zap.Error(terr))
		}
		return payment.Record{}, err
	}
	if err != nil {
		return payment.Record{}, err
	}
	if res.Degraded {
		s.appendSaga(ctx, s.entry(o.ID, StepPayment, SagaFailed, res.Cause.Error()))
		return payment.Record{}, res.Err()
	}

	s.appendSaga(ctx, s.entry(o.ID, StepPayment, SagaCompleted, res.Value.ID))
	return res.Value, nil
}

func (s *Orchestrator) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.repo.Get(ctx, id)
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

func (s *Orchestrator) ListOrders(ctx context.Context, userID string, page, size int) (Page, error) {
	if strings.TrimSpace(userID) == "" {
		return Page{}, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if page < 0 {
		return Page{}, fmt.Errorf("%w: page must not be negative", ErrValidation)
	}
	if size <= 0 || size > MaxPageSize {
		return Page{}, fmt.Errorf("%w: size must be between 1 and %d", ErrValidation, MaxPageSize)
	}
	return s.repo.ListByUser(ctx, userID, page, size)
}

// SagaLog exposes the saga history of an order.
func (s *Orchestrator) SagaLog(ctx context.Context, id string) (SagaLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.SagaLog(ctx, id)
}

func (s *Orchestrator) entry(orderID, step string, status SagaStatus, detail string) SagaEntry {
	return SagaEntry{OrderID: orderID, Step: step, Status: status, Detail: detail, At: s.now()}
}

// appendSaga records the step. A lost entry is logged; the saga itself goes on.
func (s *Orchestrator) appendSaga(ctx context.Context, e SagaEntry) {
	metrics.SagaSteps.WithLabelValues(sagaMetricStep(e.Step), string(e.Status)).Inc()
	if err := s.repo.AppendSaga(ctx, e); err != nil {
		logging.FromContext(ctx, s.logger).Error("append saga log failed",
			zap.String("order_id", e.OrderID), zap.String("step", e.Step), zap.Error(err))
	}
}

// sagaMetricStep drops the line number so the label set stays bounded.
func sagaMetricStep(step string) string {
	if i := strings.IndexByte(step, '#'); i >= 0 {
		return step[:i]
	}
	return step
}

func (s *Orchestrator) publishBestEffort(ctx context.Context, orderID, step, name, routingKey string, meta events.Meta, payload any) {
	if err := s.publisher.Publish(ctx, name, routingKey, meta, payload); err != nil {
		logging.FromContext(ctx, s.logger).Error("publish failed", zap.String("event", name), zap.String("order_id", orderID), zap.Error(err))
		s.appendSaga(ctx, s.entry(orderID, step, SagaFailed, err.Error()))
		return
	}
	s.appendSaga(ctx, s.entry(orderID, step, SagaCompleted, ""))
}

func placedPayload(o Order) events.OrderPlaced {
	items := make([]events.PlacedItem, 0, len(o.Items))
	for _, l := range o.Items {
		items = append(items, events.PlacedItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return events.OrderPlaced{OrderID: o.ID, UserID: o.UserID, TotalAmount: o.TotalAmount, Items: items}
}
