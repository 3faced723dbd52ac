package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("payment not found")
	ErrAlreadyRefunded = errors.New("payment already refunded")
	ErrPaymentFailed   = errors.New("payment failed")
	ErrValidation      = errors.New("invalid payment request")
	errDuplicateKey    = errors.New("duplicate idempotency key")

	// ErrKeyReused is a validation error: an idempotency key belongs to one order.
	ErrKeyReused = fmt.Errorf("%w: idempotency key already used for another order", ErrValidation)
)

type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusRefunded  Status = "REFUNDED"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusCompleted, StatusRefunded:
		return Status(s), true
	default:
		return "", false
	}
}

type Record struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	TransactionID  string          `json:"transactionId"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"paymentMethod"`
	Status         Status          `json:"status"`
	RefundReason   string          `json:"refundReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Request is a settlement order. CardToken never leaves the adapter.
type Request struct {
	OrderID        string
	Amount         decimal.Decimal
	Method         string
	CardToken      string
	IdempotencyKey string
}
