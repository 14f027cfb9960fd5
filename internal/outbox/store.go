package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"togoretrouve/internal/platform/postgres"
)

// PostgresStore keeps events in the outbox table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, events ...Event) error {
	exec := postgres.Execer(ctx, s.db)
	for _, e := range events {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.AggregateType, e.AggregateID, e.EventType, []byte(e.Payload), e.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
	}
	return nil
}

// Claim locks up to limit unpublished rows with SKIP LOCKED so several relays
// can run side by side, and stamps them published once fn returns nil.
func (s *PostgresStore) Claim(ctx context.Context, limit int, fn func(ctx context.Context, events []Event) error) (int, error) {
	var claimed int
	err := postgres.InTx(ctx, s.db, func(exec postgres.Executor) error {
		rows, err := exec.QueryContext(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
			FROM outbox
			WHERE published_at IS NULL
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("select outbox: %w", err)
		}
		var events []Event
		for rows.Next() {
			var (
				e       Event
				payload []byte
			)
			if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox: %w", err)
			}
			e.Payload = payload
			events = append(events, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate outbox: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		if err := fn(ctx, events); err != nil {
			return err
		}

		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID.String()
		}
		if _, err := exec.ExecContext(ctx,
			`UPDATE outbox SET published_at = now() WHERE id = ANY($1::uuid[])`, pq.Array(ids),
		); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
		claimed = len(events)
		return nil
	})
	return claimed, err
}

// MemoryStore is the outbox used without PostgreSQL.
type MemoryStore struct {
	mu        sync.Mutex
	pending   []Event
	published map[uuid.UUID]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{published: make(map[uuid.UUID]bool)}
}

func (s *MemoryStore) Append(_ context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, events...)
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, limit int, fn func(ctx context.Context, events []Event) error) (int, error) {
	s.mu.Lock()
	n := min(limit, len(s.pending))
	batch := append([]Event(nil), s.pending[:n]...)
	s.pending = s.pending[n:]
	s.mu.Unlock()

	if n == 0 {
		return 0, nil
	}
	if err := fn(ctx, batch); err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return 0, err
	}

	s.mu.Lock()
	for _, e := range batch {
		s.published[e.ID] = true
	}
	s.mu.Unlock()
	return n, nil
}

// Pending returns the number of unpublished events.
func (s *MemoryStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
