package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/metrics"
)

// Service is the inventory ledger. Every stock mutation is a single transition
// applied through Repository.Mutate.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger.Named("inventory")}
}

// CheckStock reports whether qty units are available. Unknown products have no stock.
func (s *Service) CheckStock(ctx context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	rec, err := s.repo.Get(ctx, productID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check stock %s: %w", productID, err)
	}
	return rec.AvailableStock >= qty, nil
}

func (s *Service) ReserveStock(ctx context.Context, productID string, qty int) (Record, error) {
	return s.transition(ctx, OpReserve, productID, qty)
}

func (s *Service) ReleaseStock(ctx context.Context, productID string, qty int) (Record, error) {
	return s.transition(ctx, OpRelease, productID, qty)
}

func (s *Service) ConfirmReservation(ctx context.Context, productID string, qty int) (Record, error) {
	return s.transition(ctx, OpConfirm, productID, qty)
}

func (s *Service) transition(ctx context.Context, op Operation, productID string, qty int) (Record, error) {
	log := logging.FromContext(ctx, s.logger).With(
		zap.String("operation", string(op)),
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
	)

	if qty <= 0 {
		metrics.StockOperations.WithLabelValues(string(op), "invalid").Inc()
		return Record{}, ErrInvalidQuantity
	}

	rec, err := s.repo.Mutate(ctx, productID, func(r *Record) error {
		return r.Apply(op, qty)
	})
	switch {
	case err == nil:
		metrics.StockOperations.WithLabelValues(string(op), "ok").Inc()
		log.Info("stock updated",
			zap.Int("available", rec.AvailableStock),
			zap.Int("reserved", rec.ReservedStock))
		return rec, nil
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotFound):
		metrics.StockOperations.WithLabelValues(string(op), "rejected").Inc()
		log.Warn("stock transition rejected", zap.Error(err))
		return Record{}, err
	default:
		metrics.StockOperations.WithLabelValues(string(op), "error").Inc()
		log.Error("stock transition failed", zap.Error(err))
		return Record{}, fmt.Errorf("%s %s: %w", op, productID, err)
	}
}

// CreateInventory grants the first stock of a product.
func (s *Service) CreateInventory(ctx context.Context, productID string, available int) (Record, error) {
	if productID == "" || available < 0 {
		return Record{}, ErrInvalidQuantity
	}
	rec, err := s.repo.Create(ctx, productID, available)
	if err != nil {
		return Record{}, err
	}
	logging.FromContext(ctx, s.logger).Info("inventory created",
		zap.String("product_id", productID), zap.Int("available", available))
	return rec, nil
}

// UpdateInventory overwrites the available stock of an existing product.
// Reserved stock is left alone.
func (s *Service) UpdateInventory(ctx context.Context, productID string, available int) (Record, error) {
	if available < 0 {
		return Record{}, ErrInvalidQuantity
	}
	rec, err := s.repo.SetAvailable(ctx, productID, available)
	if err != nil {
		return Record{}, err
	}
	logging.FromContext(ctx, s.logger).Info("inventory updated",
		zap.String("product_id", productID), zap.Int("available", available))
	return rec, nil
}

func (s *Service) Get(ctx context.Context, productID string) (Record, error) {
	return s.repo.Get(ctx, productID)
}

func (s *Service) List(ctx context.Context) ([]Record, error) {
	return s.repo.List(ctx)
}

func (s *Service) LowStock(ctx context.Context, threshold int) ([]Record, error) {
	return s.repo.ListLowStock(ctx, threshold)
}
