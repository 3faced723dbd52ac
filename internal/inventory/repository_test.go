package inventory

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

var columns = []string{"id", "product_id", "available_stock", "reserved_stock", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresRepository_Get(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM inventory WHERE product_id=$1")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(columns).AddRow("id-1", "p1", 7, 2, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM inventory WHERE product_id=$1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	rec, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ProductID != "p1" || rec.AvailableStock != 7 || rec.ReservedStock != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresRepository_CreateConflict(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (product_id) DO NOTHING")).
		WithArgs(pgxmock.AnyArg(), "p1", 4).
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.Create(context.Background(), "p1", 4); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresRepository_Mutate(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("locks row, applies and commits", func(t *testing.T) {
		mock := newMock(t)
		repo := NewPostgresRepository(mock)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs("p1").
			WillReturnRows(pgxmock.NewRows(columns).AddRow("id-1", "p1", 5, 0, now))
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE inventory")).
			WithArgs("p1", 2, 3).
			WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectCommit()

		rec, err := repo.Mutate(ctx, "p1", func(r *Record) error { return r.Apply(OpReserve, 3) })
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		if rec.AvailableStock != 2 || rec.ReservedStock != 3 {
			t.Fatalf("unexpected record: %+v", rec)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("rejected transition rolls back without update", func(t *testing.T) {
		mock := newMock(t)
		repo := NewPostgresRepository(mock)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs("p1").
			WillReturnRows(pgxmock.NewRows(columns).AddRow("id-1", "p1", 1, 0, now))
		mock.ExpectRollback()

		_, err := repo.Mutate(ctx, "p1", func(r *Record) error { return r.Apply(OpReserve, 5) })
		if !errors.Is(err, ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("unknown product", func(t *testing.T) {
		mock := newMock(t)
		repo := NewPostgresRepository(mock)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs("ghost").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		if _, err := repo.Mutate(ctx, "ghost", func(r *Record) error { return nil }); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("begin transaction error surfaces", func(t *testing.T) {
		mock := newMock(t)
		repo := NewPostgresRepository(mock)
		mock.ExpectBegin().WillReturnError(errors.New("cannot begin"))

		if _, err := repo.Mutate(ctx, "p1", func(r *Record) error { return nil }); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("commit failure surfaces", func(t *testing.T) {
		mock := newMock(t)
		repo := NewPostgresRepository(mock)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs("p1").
			WillReturnRows(pgxmock.NewRows(columns).AddRow("id-1", "p1", 2, 2, now))
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE inventory")).
			WithArgs("p1", 4, 0).
			WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectCommit().WillReturnError(errors.New("commit fail"))

		if _, err := repo.Mutate(ctx, "p1", func(r *Record) error { return r.Apply(OpRelease, 2) }); err == nil {
			t.Fatalf("expected commit error")
		}
	})
}
