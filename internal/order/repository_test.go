package order

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	orderCols = []string{"id", "user_id", "address_id", "total_amount", "order_status", "payment_status", "created_at", "updated_at"}
	itemCols  = []string{"order_id", "product_id", "quantity", "unit_price"}
)

const orderID = "6f1c2a9e-3b1d-4c55-9a7e-0d2f4b8e1a10"

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresRepository_Get(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id=$1")).
		WithArgs(orderID).
		WillReturnRows(pgxmock.NewRows(orderCols).
			AddRow(orderID, "u1", "", "21.00", "PENDING", "PENDING", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items")).
		WithArgs([]string{orderID}).
		WillReturnRows(pgxmock.NewRows(itemCols).
			AddRow(orderID, "P1", 2, "10.50"))

	o, err := repo.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.OrderStatus)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("21")))
	require.Len(t, o.Items, 1)
	assert.Equal(t, "P1", o.Items[0].ProductID)
	assert.True(t, o.Items[0].Price.Equal(decimal.RequireFromString("10.5")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetMissing(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresRepository(mock)

	// malformed ids never reach the database
	_, err := repo.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id=$1")).
		WithArgs(orderID).
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.Get(context.Background(), orderID)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateIsAtomic(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	o := Order{
		ID:            orderID,
		UserID:        "u1",
		TotalAmount:   decimal.RequireFromString("21"),
		OrderStatus:   StatusPending,
		PaymentStatus: PaymentPending,
		Items:         []Line{{ProductID: "P1", Quantity: 2, Price: decimal.RequireFromString("10.50")}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(orderID, "u1", "", pgxmock.AnyArg(), "PENDING", "PENDING").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(orderID, 0, "P1", 2, pgxmock.AnyArg()).
		WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), o, SagaEntry{OrderID: orderID, Step: StepCreated, Status: SagaCompleted})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Create(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(orderID, "u1", "addr-1", pgxmock.AnyArg(), "PENDING", "PENDING").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(orderID, 0, "P1", 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO saga_log")).
		WithArgs(orderID, StepCreated, "COMPLETED", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	o, err := repo.Create(context.Background(), Order{
		ID:            orderID,
		UserID:        "u1",
		AddressID:     "addr-1",
		TotalAmount:   decimal.NewFromInt(3),
		OrderStatus:   StatusPending,
		PaymentStatus: PaymentPending,
		Items:         []Line{{ProductID: "P1", Quantity: 1, Price: decimal.NewFromInt(3)}},
	}, SagaEntry{OrderID: orderID, Step: StepCreated, Status: SagaCompleted})
	require.NoError(t, err)
	assert.Equal(t, now, o.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_TransitionRejected(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(orderID).
		WillReturnRows(pgxmock.NewRows(orderCols).
			AddRow(orderID, "u1", "", "3", "CANCELED", "PENDING", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items")).
		WithArgs([]string{orderID}).
		WillReturnRows(pgxmock.NewRows(itemCols).AddRow(orderID, "P1", 1, "3"))
	mock.ExpectRollback()

	_, err := repo.Transition(context.Background(), orderID, func(o *Order) error {
		if !o.Cancelable() {
			return ErrInvalidTransition
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_TransitionCommits(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(orderID).
		WillReturnRows(pgxmock.NewRows(orderCols).
			AddRow(orderID, "u1", "", "3", "PENDING", "PENDING", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items")).
		WithArgs([]string{orderID}).
		WillReturnRows(pgxmock.NewRows(itemCols).AddRow(orderID, "P1", 1, "3"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders")).
		WithArgs(orderID, "CONFIRMED", "PAID").
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectCommit()

	o, err := repo.Transition(context.Background(), orderID, func(o *Order) error {
		o.OrderStatus = StatusConfirmed
		o.PaymentStatus = PaymentPaid
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.OrderStatus)
	require.Len(t, o.Items, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_SagaLog(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM saga_log")).
		WithArgs(orderID).
		WillReturnRows(pgxmock.NewRows([]string{"order_id", "step", "status", "detail", "created_at"}).
			AddRow(orderID, StepCreated, "COMPLETED", "", now).
			AddRow(orderID, StepReserve(0), "COMPLETED", "P1", now))

	log, err := repo.SagaLog(context.Background(), orderID)
	require.NoError(t, err)
	assert.Len(t, log, 2)
	assert.Equal(t, []int{0}, log.OutstandingReservations())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListByUserPages(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM orders")).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $2 OFFSET $3")).
		WithArgs("u1", 2, 2).
		WillReturnRows(pgxmock.NewRows(orderCols).
			AddRow(orderID, "u1", "", "3", "PENDING", "PENDING", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items")).
		WithArgs([]string{orderID}).
		WillReturnRows(pgxmock.NewRows(itemCols))

	page, err := repo.ListByUser(context.Background(), "u1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Content, 1)
	assert.Empty(t, page.Content[0].Items)
	require.NoError(t, mock.ExpectationsWereMet())
}
