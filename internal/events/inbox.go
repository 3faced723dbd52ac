package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Inbox remembers which events a consumer has fully applied.
type Inbox interface {
	Seen(ctx context.Context, consumer, eventID string) (bool, error)
	Mark(ctx context.Context, consumer, eventID string) error
}

// Executor represents the subset of pgx methods required for inbox operations.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresInbox struct {
	executor Executor
}

func NewPostgresInbox(exec Executor) *PostgresInbox {
	return &PostgresInbox{executor: exec}
}

func (r *PostgresInbox) Seen(ctx context.Context, consumer, eventID string) (bool, error) {
	var one int
	err := r.executor.QueryRow(ctx, `
		SELECT 1
		FROM processed_events
		WHERE consumer_name=$1 AND event_id=$2
	`, consumer, eventID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select processed event: %w", err)
	}
	return true, nil
}

func (r *PostgresInbox) Mark(ctx context.Context, consumer, eventID string) error {
	_, err := r.executor.Exec(ctx, `
		INSERT INTO processed_events (consumer_name, event_id)
		VALUES ($1, $2)
		ON CONFLICT (consumer_name, event_id) DO NOTHING
	`, consumer, eventID)
	if err != nil {
		return fmt.Errorf("insert processed event: %w", err)
	}
	return nil
}

type MemoryInbox struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{seen: make(map[string]struct{})}
}

func (m *MemoryInbox) Seen(_ context.Context, consumer, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[consumer+"/"+eventID]
	return ok, nil
}

func (m *MemoryInbox) Mark(_ context.Context, consumer, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[consumer+"/"+eventID] = struct{}{}
	return nil
}
