package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderPlacedRoutingKey      = "order.placed"
	OrderConfirmedRoutingKey   = "order.confirmed"
	OrderCanceledRoutingKey    = "order.canceled"
	PaymentProcessedRoutingKey = "payment.processed"
	PaymentRefundedRoutingKey  = "payment.refunded"
)

const (
	EventTypeOrderPlaced      = "OrderPlaced"
	EventTypeOrderConfirmed   = "OrderConfirmed"
	EventTypeOrderCanceled    = "OrderCanceled"
	EventTypePaymentProcessed = "PaymentProcessed"
	EventTypePaymentRefunded  = "PaymentRefunded"
)

func schemaFor(eventName string) string {
	switch eventName {
	case EventTypeOrderPlaced:
		return "ecommerce.order.placed.v1"
	case EventTypeOrderConfirmed:
		return "ecommerce.order.confirmed.v1"
	case EventTypeOrderCanceled:
		return "ecommerce.order.canceled.v1"
	case EventTypePaymentProcessed:
		return "ecommerce.payment.processed.v1"
	case EventTypePaymentRefunded:
		return "ecommerce.payment.refunded.v1"
	default:
		return ""
	}
}

type PlacedItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type OrderPlaced struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []PlacedItem    `json:"items"`
}

type ConfirmedItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type OrderConfirmed struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []ConfirmedItem `json:"items"`
	ConfirmedAt time.Time       `json:"confirmedAt"`
}

type OrderCanceled struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type PaymentProcessed struct {
	PaymentID     string          `json:"paymentId"`
	OrderID       string          `json:"orderId"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
}

type PaymentRefunded struct {
	PaymentID     string          `json:"paymentId"`
	OrderID       string          `json:"orderId"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Timestamp     time.Time       `json:"timestamp"`
}
