package payment

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrCardDeclined   = errors.New("card declined")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrMissingToken   = errors.New("card token is required")
	ErrAmountMismatch = errors.New("refund amount does not match charge")
)

// Settlement is the external card processor.
type Settlement interface {
	// Charge captures amount and returns the processor's transaction id.
	Charge(ctx context.Context, amount decimal.Decimal, cardToken string) (string, error)
	Reverse(ctx context.Context, transactionID string, amount decimal.Decimal) error
}

// MockGateway simulates a card processor with configurable latency and decline rate.
type MockGateway struct {
	latency     time.Duration
	declineRate float64

	mu      sync.RWMutex
	charges map[string]decimal.Decimal
}

func NewMockGateway(latency time.Duration, declineRate float64) *MockGateway {
	return &MockGateway{
		latency:     latency,
		declineRate: declineRate,
		charges:     make(map[string]decimal.Decimal),
	}
}

func (g *MockGateway) Charge(ctx context.Context, amount decimal.Decimal, cardToken string) (string, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	if cardToken == "" {
		return "", ErrMissingToken
	}
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	if g.declineRate > 0 && rand.Float64() < g.declineRate {
		return "", ErrCardDeclined
	}

	txn := NewTransactionID()
	g.mu.Lock()
	g.charges[txn] = amount
	g.mu.Unlock()
	return txn, nil
}

func (g *MockGateway) Reverse(ctx context.Context, transactionID string, amount decimal.Decimal) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	charged, ok := g.charges[transactionID]
	if !ok {
		// charges captured before a restart are not tracked
		return nil
	}
	if !charged.Equal(amount) {
		return ErrAmountMismatch
	}
	delete(g.charges, transactionID)
	return nil
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return nil
	}
	t := time.NewTimer(g.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewTransactionID returns "TXN-" followed by 12 upper-case hex characters.
func NewTransactionID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TXN-" + strings.ToUpper(id[:12])
}
