package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory not found")
	ErrAlreadyExists     = errors.New("inventory already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid reservation state")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Record is the stock ledger row of one product.
type Record struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"productId"`
	AvailableStock int       `json:"availableStock"`
	ReservedStock  int       `json:"reservedStock"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Operation string

const (
	OpReserve Operation = "reserve"
	OpRelease Operation = "release"
	OpConfirm Operation = "confirm"
)

// Apply performs one reservation transition. The receiver is left untouched
// when the transition is rejected.
func (r *Record) Apply(op Operation, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	switch op {
	case OpReserve:
		if r.AvailableStock < qty {
			return fmt.Errorf("%w: product %s has %d available, %d requested",
				ErrInsufficientStock, r.ProductID, r.AvailableStock, qty)
		}
		r.AvailableStock -= qty
		r.ReservedStock += qty
	case OpRelease:
		if r.ReservedStock < qty {
			return fmt.Errorf("%w: product %s has %d reserved, cannot release %d",
				ErrInvalidState, r.ProductID, r.ReservedStock, qty)
		}
		r.ReservedStock -= qty
		r.AvailableStock += qty
	case OpConfirm:
		if r.ReservedStock < qty {
			return fmt.Errorf("%w: product %s has %d reserved, cannot confirm %d",
				ErrInvalidState, r.ProductID, r.ReservedStock, qty)
		}
		r.ReservedStock -= qty
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	return nil
}
