package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repository interface {
	// Create fails with errDuplicateKey when the idempotency key is taken.
	Create(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Record, error)
	// GetByOrder returns the most recent payment of the order.
	GetByOrder(ctx context.Context, orderID string) (Record, error)
	GetByTransaction(ctx context.Context, transactionID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	ListByStatus(ctx context.Context, status Status) ([]Record, error)
	// Mutate applies fn to the payment under a row lock. Nothing is written when fn fails.
	Mutate(ctx context.Context, id string, fn func(*Record) error) (Record, error)
}

const paymentColumns = `id, order_id, COALESCE(idempotency_key, ''), transaction_id, amount, payment_method, status, refund_reason, created_at, updated_at`

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanPayment(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.OrderID, &rec.IdempotencyKey, &rec.TransactionID, &rec.Amount,
		&rec.Method, &rec.Status, &rec.RefundReason, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rec Record) (Record, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO payments (id, order_id, idempotency_key, transaction_id, amount, payment_method, status, refund_reason)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		RETURNING `+paymentColumns,
		rec.ID, rec.OrderID, rec.IdempotencyKey, rec.TransactionID, rec.Amount, rec.Method, string(rec.Status), rec.RefundReason)
	out, err := scanPayment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "payments_idempotency_key_key" {
			return Record{}, errDuplicateKey
		}
		return Record{}, fmt.Errorf("insert payment: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Record, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
}

func (r *PostgresRepository) GetByIdempotencyKey(ctx context.Context, key string) (Record, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key=$1`, key))
}

func (r *PostgresRepository) GetByOrder(ctx context.Context, orderID string) (Record, error) {
	return scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID))
}

func (r *PostgresRepository) GetByTransaction(ctx context.Context, transactionID string) (Record, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id=$1`, transactionID))
}

func (r *PostgresRepository) List(ctx context.Context) ([]Record, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC`)
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status=$1 ORDER BY created_at DESC`, string(status))
}

func (r *PostgresRepository) list(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Mutate(ctx context.Context, id string, fn func(*Record) error) (Record, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rec, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Record{}, err
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE payments
		SET status=$2, refund_reason=$3, updated_at=now()
		WHERE id=$1
		RETURNING updated_at
	`, id, string(rec.Status), rec.RefundReason).Scan(&rec.UpdatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("update payment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}
