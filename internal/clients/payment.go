package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/andreasstove999/order-fulfillment/internal/payment"
	"github.com/andreasstove999/order-fulfillment/internal/resilience"
)

type PaymentClient struct {
	c      *Client
	policy *resilience.Policy
}

func NewPaymentClient(c *Client, policy *resilience.Policy) *PaymentClient {
	return &PaymentClient{c: c, policy: policy}
}

type ProcessPaymentRequest struct {
	OrderID        string          `json:"orderId"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"paymentMethod"`
	CardToken      string          `json:"cardToken"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// ProcessPayment is only retried safely when IdempotencyKey is set.
func (pc *PaymentClient) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (resilience.Result[payment.Record], error) {
	return resilience.Execute(ctx, pc.policy, payment.Record{}, func(ctx context.Context) (payment.Record, error) {
		var rec payment.Record
		err := pc.c.Do(ctx, http.MethodPost, "/api/payments/process", nil, req, &rec)
		return rec, paymentError(err)
	})
}

func (pc *PaymentClient) RefundPayment(ctx context.Context, paymentID, reason string) (resilience.Result[payment.Record], error) {
	return resilience.Execute(ctx, pc.policy, payment.Record{}, func(ctx context.Context) (payment.Record, error) {
		var rec payment.Record
		body := map[string]string{"reason": reason}
		err := pc.c.Do(ctx, http.MethodPost, "/api/payments/"+url.PathEscape(paymentID)+"/refund", nil, body, &rec)
		return rec, paymentError(err)
	})
}

func paymentError(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	var sentinel error
	switch se.StatusCode {
	case http.StatusPaymentRequired:
		sentinel = payment.ErrPaymentFailed
	case http.StatusNotFound:
		sentinel = payment.ErrNotFound
	case http.StatusConflict:
		sentinel = payment.ErrAlreadyRefunded
	case http.StatusBadRequest:
		sentinel = payment.ErrValidation
	default:
		return err
	}
	return resilience.Permanent(fmt.Errorf("%w: %s", sentinel, se.Message))
}
