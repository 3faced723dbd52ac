package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repository interface {
	// Create stores the order, its lines and the first saga entry atomically.
	Create(ctx context.Context, o Order, entry SagaEntry) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID string, page, size int) (Page, error)
	// Transition applies fn to the order under a row lock and persists both statuses.
	Transition(ctx context.Context, id string, fn func(*Order) error) (Order, error)
	AppendSaga(ctx context.Context, entries ...SagaEntry) error
	SagaLog(ctx context.Context, orderID string) (SagaLog, error)
	// FindStalled returns PENDING orders created before cutoff whose saga never reached StepPlaced.
	FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}

const orderColumns = `id, user_id, address_id, total_amount, order_status, payment_status, created_at, updated_at`

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.AddressID, &o.TotalAmount, &o.OrderStatus, &o.PaymentStatus, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	idx := make(map[string]int, len(orders))
	ids := make([]string, len(orders))
	for i, o := range orders {
		idx[o.ID] = i
		ids[i] = o.ID
		orders[i].Items = []Line{}
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, line_no
	`, ids)
	if err != nil {
		return fmt.Errorf("select order_items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			l       Line
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Quantity, &l.Price); err != nil {
			return fmt.Errorf("scan order_item: %w", err)
		}
		if i, ok := idx[orderID]; ok {
			orders[i].Items = append(orders[i].Items, l)
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, o Order, entry SagaEntry) (Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, address_id, total_amount, order_status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, o.ID, o.UserID, o.AddressID, o.TotalAmount, string(o.OrderStatus), string(o.PaymentStatus)).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	for i, l := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, o.ID, i, l.ProductID, l.Quantity, l.Price)
		if err != nil {
			return Order{}, fmt.Errorf("insert order_item: %w", err)
		}
	}

	if err := insertSaga(ctx, tx, entry); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("commit: %w", err)
	}
	return o, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertSaga(ctx context.Context, ex execer, e SagaEntry) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO saga_log (order_id, step, status, detail)
		VALUES ($1, $2, $3, $4)
	`, e.OrderID, e.Step, string(e.Status), e.Detail)
	if err != nil {
		return fmt.Errorf("insert saga_log %s: %w", e.Step, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrNotFound
	}
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return Order{}, err
	}
	orders := []Order{o}
	if err := loadItems(ctx, r.pool, orders); err != nil {
		return Order{}, err
	}
	return orders[0], nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, page, size int) (Page, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count orders: %w", err)
	}

	orders, err := r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id=$1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, size, page*size)
	if err != nil {
		return Page{}, err
	}
	return newPage(orders, page, size, total), nil
}

func (r *PostgresRepository) FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		WHERE o.order_status = 'PENDING'
		  AND o.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM saga_log s WHERE s.order_id = o.id AND s.step = $2 AND s.status = 'COMPLETED'
		  )
		ORDER BY o.created_at
		LIMIT $3
	`, cutoff, StepPlaced, limit)
}

func (r *PostgresRepository) list(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	if err := loadItems(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, fn func(*Order) error) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrNotFound
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, err
	}
	orders := []Order{o}
	if err := loadItems(ctx, tx, orders); err != nil {
		return Order{}, err
	}
	o = orders[0]

	if err := fn(&o); err != nil {
		return Order{}, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET order_status=$2, payment_status=$3, updated_at=now()
		WHERE id=$1
		RETURNING updated_at
	`, id, string(o.OrderStatus), string(o.PaymentStatus)).Scan(&o.UpdatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("update order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("commit: %w", err)
	}
	return o, nil
}

func (r *PostgresRepository) AppendSaga(ctx context.Context, entries ...SagaEntry) error {
	for _, e := range entries {
		if err := insertSaga(ctx, r.pool, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) SagaLog(ctx context.Context, orderID string) (SagaLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, step, status, detail, created_at
		FROM saga_log
		WHERE order_id=$1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select saga_log: %w", err)
	}
	defer rows.Close()

	var log SagaLog
	for rows.Next() {
		var e SagaEntry
		if err := rows.Scan(&e.OrderID, &e.Step, &e.Status, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan saga_log: %w", err)
		}
		log = append(log, e)
	}
	return log, rows.Err()
}
