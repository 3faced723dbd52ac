package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("invalid order request")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCanceled:
		return Status(s), true
	default:
		return "", false
	}
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type Line struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type Order struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	AddressID     string          `json:"addressId,omitempty"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	OrderStatus   Status          `json:"orderStatus"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	Items         []Line          `json:"items"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Cancelable reports whether a customer cancel is allowed from the current status.
func (o Order) Cancelable() bool {
	return o.OrderStatus == StatusPending || o.OrderStatus == StatusConfirmed
}

func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// Page mirrors the paging envelope clients of the order API already consume.
type Page struct {
	Content       []Order `json:"content"`
	Page          int     `json:"page"`
	Size          int     `json:"size"`
	TotalElements int     `json:"totalElements"`
	TotalPages    int     `json:"totalPages"`
}

func newPage(content []Order, page, size, total int) Page {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return Page{Content: content, Page: page, Size: size, TotalElements: total, TotalPages: pages}
}
