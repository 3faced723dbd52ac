package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repository interface {
	Get(ctx context.Context, productID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	ListLowStock(ctx context.Context, threshold int) ([]Record, error)
	Create(ctx context.Context, productID string, available int) (Record, error)
	SetAvailable(ctx context.Context, productID string, available int) (Record, error)
	// Mutate loads the record under an exclusive per-product lock, applies fn
	// and persists the result. Nothing is written when fn fails.
	Mutate(ctx context.Context, productID string, fn func(*Record) error) (Record, error)
}

const recordColumns = `id, product_id, available_stock, reserved_stock, updated_at`

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.ProductID, &rec.AvailableStock, &rec.ReservedStock, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *PostgresRepository) Get(ctx context.Context, productID string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory WHERE product_id=$1`, productID)
	return scanRecord(row)
}

func (r *PostgresRepository) List(ctx context.Context) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM inventory ORDER BY product_id`)
}

func (r *PostgresRepository) ListLowStock(ctx context.Context, threshold int) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM inventory WHERE available_stock < $1 ORDER BY available_stock, product_id`, threshold)
}

func (r *PostgresRepository) list(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select inventory: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, productID string, available int) (Record, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO inventory (id, product_id, available_stock, reserved_stock)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (product_id) DO NOTHING
		RETURNING `+recordColumns,
		uuid.NewString(), productID, available)
	rec, err := scanRecord(row)
	if errors.Is(err, ErrNotFound) {
		return Record{}, ErrAlreadyExists
	}
	return rec, err
}

func (r *PostgresRepository) SetAvailable(ctx context.Context, productID string, available int) (Record, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE inventory
		SET available_stock=$2, updated_at=now()
		WHERE product_id=$1
		RETURNING `+recordColumns,
		productID, available)
	return scanRecord(row)
}

func (r *PostgresRepository) Mutate(ctx context.Context, productID string, fn func(*Record) error) (Record, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	// the row lock serializes concurrent reservations of the same product
	rec, err := scanRecord(tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM inventory
		WHERE product_id=$1
		FOR UPDATE
	`, productID))
	if err != nil {
		return Record{}, err
	}

	if err := fn(&rec); err != nil {
		return Record{}, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE inventory
		SET available_stock=$2, reserved_stock=$3, updated_at=now()
		WHERE product_id=$1
		RETURNING updated_at
	`, productID, rec.AvailableStock, rec.ReservedStock).Scan(&rec.UpdatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("update inventory: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}
