package order

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecoveryWorker_CompensatesStalledOrders(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 5, "P2": 5}, true)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	f.repo.now = func() time.Time { return past }

	// crashed after the first reservation
	stalled := Order{
		ID:            uuid.NewString(),
		UserID:        "u1",
		OrderStatus:   StatusPending,
		PaymentStatus: PaymentPending,
		Items:         []Line{line("P1", 2, "1"), line("P2", 1, "1")},
	}
	_, err := f.repo.Create(ctx, stalled, SagaEntry{OrderID: stalled.ID, Step: StepCreated, Status: SagaCompleted})
	require.NoError(t, err)
	_, err = f.ledger.svc.ReserveStock(ctx, "P1", 2)
	require.NoError(t, err)
	require.NoError(t, f.repo.AppendSaga(ctx, SagaEntry{OrderID: stalled.ID, Step: StepReserve(0), Status: SagaCompleted}))

	placed := Order{ID: uuid.NewString(), UserID: "u1", OrderStatus: StatusPending, PaymentStatus: PaymentPending,
		Items: []Line{line("P2", 1, "1")}}
	_, err = f.repo.Create(ctx, placed, SagaEntry{OrderID: placed.ID, Step: StepCreated, Status: SagaCompleted})
	require.NoError(t, err)
	_, err = f.ledger.svc.ReserveStock(ctx, "P2", 1)
	require.NoError(t, err)
	require.NoError(t, f.repo.AppendSaga(ctx, SagaEntry{OrderID: placed.ID, Step: StepReserve(0), Status: SagaCompleted}))
	require.NoError(t, f.repo.AppendSaga(ctx, SagaEntry{OrderID: placed.ID, Step: StepPlaced, Status: SagaCompleted}))

	f.repo.now = func() time.Time { return time.Now().UTC() }

	w := NewRecoveryWorker(f.repo, f.orch, time.Minute, 5*time.Minute, zap.NewNop())
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	available, reserved := f.ledger.stock(t, "P1")
	assert.Equal(t, 5, available)
	assert.Equal(t, 0, reserved)
	assert.Equal(t, []string{"P1"}, f.ledger.releases)

	// the placed order still holds P2
	available, reserved = f.ledger.stock(t, "P2")
	assert.Equal(t, 4, available)
	assert.Equal(t, 1, reserved)

	got, err := f.repo.Get(ctx, stalled.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.OrderStatus)

	untouched, err := f.repo.Get(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, untouched.OrderStatus)

	// a second pass finds nothing
	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecoveryWorker_IgnoresFreshOrders(t *testing.T) {
	f := newFixture(t, map[string]int{"P": 5}, true)
	ctx := context.Background()

	o := Order{ID: uuid.NewString(), UserID: "u1", OrderStatus: StatusPending, PaymentStatus: PaymentPending,
		Items: []Line{line("P", 1, "1")}}
	_, err := f.repo.Create(ctx, o, SagaEntry{OrderID: o.ID, Step: StepCreated, Status: SagaCompleted})
	require.NoError(t, err)

	n, err := NewRecoveryWorker(f.repo, f.orch, time.Minute, time.Hour, zap.NewNop()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelOrder_StalledOrderKeepsOthersStock(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 5, "P2": 10}, true)
	ctx := context.Background()

	healthy, err := f.orch.CreateOrder(ctx, CreateRequest{UserID: "u1", Items: []Line{line("P2", 1, "1")}})
	require.NoError(t, err)

	stalled := Order{ID: uuid.NewString(), UserID: "u2", OrderStatus: StatusPending, PaymentStatus: PaymentPending,
		Items: []Line{line("P1", 2, "1"), line("P2", 1, "1")}}
	_, err = f.repo.Create(ctx, stalled, SagaEntry{OrderID: stalled.ID, Step: StepCreated, Status: SagaCompleted})
	require.NoError(t, err)
	_, err = f.ledger.svc.ReserveStock(ctx, "P1", 2)
	require.NoError(t, err)
	require.NoError(t, f.repo.AppendSaga(ctx, SagaEntry{OrderID: stalled.ID, Step: StepReserve(0), Status: SagaCompleted}))

	_, err = f.orch.CancelOrder(ctx, stalled.ID)
	require.NoError(t, err)

	available, reserved := f.ledger.stock(t, "P1")
	assert.Equal(t, 5, available)
	assert.Equal(t, 0, reserved)
	available, reserved = f.ledger.stock(t, "P2")
	assert.Equal(t, 9, available)
	assert.Equal(t, 1, reserved, "order %s keeps its reservation", healthy.ID)
}
