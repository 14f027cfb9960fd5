package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByRecipient(ctx context.Context, recipientID id.UserID, unreadOnly bool, limit int) ([]*Notification, error)
	// MarkRead returns sentinel.ErrNotFound when the notification does not
	// exist or belongs to someone else.
	MarkRead(ctx context.Context, recipientID id.UserID, notificationID id.NotificationID, now time.Time) (*Notification, error)
	MarkAllRead(ctx context.Context, recipientID id.UserID, now time.Time) (int, error)
	UnreadCount(ctx context.Context, recipientID id.UserID) (int, error)
}

type InMemoryStore struct {
	mu    sync.RWMutex
	items map[id.NotificationID]*Notification
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[id.NotificationID]*Notification)}
}

func (s *InMemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListByRecipient(_ context.Context, recipientID id.UserID, unreadOnly bool, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for _, n := range s.items {
		if n.RecipientID != recipientID || (unreadOnly && n.Read) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *Notification) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkRead(_ context.Context, recipientID id.UserID, notificationID id.NotificationID, now time.Time) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[notificationID]
	if !ok || n.RecipientID != recipientID {
		return nil, sentinel.ErrNotFound
	}
	n.MarkRead(now)
	cp := *n
	return &cp, nil
}

func (s *InMemoryStore) MarkAllRead(_ context.Context, recipientID id.UserID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if n.RecipientID == recipientID && n.MarkRead(now) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) UnreadCount(_ context.Context, recipientID id.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.items {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

// PostgresStore persists notifications in the notifications table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const notificationColumns = `id, recipient_id, kind, title, message, declaration_id, reclamation_id, link, important, read, read_at, created_at`

func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, n.RecipientID, string(n.Kind), n.Title, n.Message, n.DeclarationID, n.ReclamationID,
		n.Link, n.Important, n.Read, n.ReadAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByRecipient(ctx context.Context, recipientID id.UserID, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC, id
		LIMIT $3`,
		recipientID, unreadOnly, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRead(ctx context.Context, recipientID id.UserID, notificationID id.NotificationID, now time.Time) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE notifications
		SET read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationColumns,
		notificationID, recipientID, now,
	)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return n, err
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, recipientID id.UserID, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND NOT read`,
		recipientID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) UnreadCount(ctx context.Context, recipientID id.UserID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE recipient_id = $1 AND NOT read`, recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (*Notification, error) {
	var (
		n    Notification
		kind string
	)
	err := row.Scan(&n.ID, &n.RecipientID, &kind, &n.Title, &n.Message, &n.DeclarationID, &n.ReclamationID,
		&n.Link, &n.Important, &n.Read, &n.ReadAt, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.Kind = Kind(kind)
	return &n, nil
}
