package actionlog

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"

	id "togoretrouve/pkg/domain"
)

// Store appends and lists ActionLog entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByDeclaration(ctx context.Context, declarationID id.DeclarationID) ([]Entry, error)
	ListByReclamation(ctx context.Context, reclamationID id.ReclamationID) ([]Entry, error)
}

type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) ListByDeclaration(_ context.Context, declarationID id.DeclarationID) ([]Entry, error) {
	return s.filter(func(e Entry) bool { return e.DeclarationID == declarationID }), nil
}

func (s *InMemoryStore) ListByReclamation(_ context.Context, reclamationID id.ReclamationID) ([]Entry, error) {
	return s.filter(func(e Entry) bool { return e.ReclamationID == reclamationID }), nil
}

func (s *InMemoryStore) filter(keep func(Entry) bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// PostgresStore writes entries outside any caller transaction so that a
// rolled-back operation still leaves its failed attempt on record.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO action_logs (
			id, actor_id, action, declaration_id, reclamation_id,
			from_status, to_status, outcome, detail,
			client_ip, user_agent, device, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ActorID,
		string(e.Action),
		e.DeclarationID,
		e.ReclamationID,
		e.FromStatus,
		e.ToStatus,
		string(e.Outcome),
		e.Detail,
		e.ClientIP,
		e.UserAgent,
		e.Device,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}
	return nil
}

const selectEntries = `
	SELECT id, actor_id, action, declaration_id, reclamation_id,
		   from_status, to_status, outcome, detail,
		   client_ip, user_agent, device, created_at
	FROM action_logs
`

func (s *PostgresStore) ListByDeclaration(ctx context.Context, declarationID id.DeclarationID) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries+`WHERE declaration_id = $1 ORDER BY created_at, id`, declarationID)
	if err != nil {
		return nil, fmt.Errorf("query action logs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ListByReclamation(ctx context.Context, reclamationID id.ReclamationID) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries+`WHERE reclamation_id = $1 ORDER BY created_at, id`, reclamationID)
	if err != nil {
		return nil, fmt.Errorf("query action logs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e               Entry
			action, outcome string
		)
		if err := rows.Scan(
			&e.ID, &e.ActorID, &action, &e.DeclarationID, &e.ReclamationID,
			&e.FromStatus, &e.ToStatus, &outcome, &e.Detail,
			&e.ClientIP, &e.UserAgent, &e.Device, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		e.Action = Action(action)
		e.Outcome = Outcome(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action logs: %w", err)
	}
	return entries, nil
}
