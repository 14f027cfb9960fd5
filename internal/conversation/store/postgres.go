package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"togoretrouve/internal/conversation/models"
	"togoretrouve/internal/platform/postgres"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// Postgres persists conversations in the conversations and messages tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const conversationColumns = `id, declaration_id, agent_id, declarant_id, created_at, last_activity_at`

const messageColumns = `id, conversation_id, seq, sender_id, receiver_id, kind, body, file_key, read, read_at, created_at`

func (s *Postgres) Create(ctx context.Context, c *models.Conversation) error {
	_, err := postgres.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.DeclarationID, c.AgentID, c.DeclarantID, c.CreatedAt, c.LastActivityAt,
	)
	switch {
	case postgres.IsUniqueViolation(err, "conversations_triple_key"):
		return sentinel.ErrConflict
	case err != nil:
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, conversationID id.ConversationID) (*models.Conversation, error) {
	return scanConversation(postgres.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, conversationID))
}

func (s *Postgres) FindByTriple(ctx context.Context, declarationID id.DeclarationID, agentID, declarantID id.UserID) (*models.Conversation, error) {
	return scanConversation(postgres.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE declaration_id = $1 AND agent_id = $2 AND declarant_id = $3`,
		declarationID, agentID, declarantID))
}

func (s *Postgres) FindForAgent(ctx context.Context, declarationID id.DeclarationID, agentID id.UserID) (*models.Conversation, error) {
	return scanConversation(postgres.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE declaration_id = $1 AND agent_id = $2
		ORDER BY created_at, id
		LIMIT 1`,
		declarationID, agentID))
}

func (s *Postgres) FindForDeclarant(ctx context.Context, declarationID id.DeclarationID, declarantID id.UserID) (*models.Conversation, error) {
	return scanConversation(postgres.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE declaration_id = $1 AND declarant_id = $2
		ORDER BY created_at, id
		LIMIT 1`,
		declarationID, declarantID))
}

func (s *Postgres) ListForUser(ctx context.Context, userID id.UserID) ([]*models.Summary, error) {
	rows, err := postgres.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT c.id, c.declaration_id, c.agent_id, c.declarant_id, c.created_at, c.last_activity_at,
			(SELECT count(*) FROM messages u
			 WHERE u.conversation_id = c.id AND u.receiver_id = $1 AND NOT u.read),
			m.id, m.conversation_id, m.seq, m.sender_id, m.receiver_id, m.kind, m.body, m.file_key,
			m.read, m.read_at, m.created_at
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = c.id
			ORDER BY seq DESC
			LIMIT 1
		) m ON TRUE
		WHERE c.agent_id = $1 OR c.declarant_id = $1
		ORDER BY c.last_activity_at DESC, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Summary
	for rows.Next() {
		var (
			c       models.Conversation
			summary = models.Summary{Conversation: &c}
			last    nullableMessage
		)
		if err := rows.Scan(
			&c.ID, &c.DeclarationID, &c.AgentID, &c.DeclarantID, &c.CreatedAt, &c.LastActivityAt,
			&summary.Unread,
			&last.id, &last.conversationID, &last.seq, &last.senderID, &last.receiverID, &last.kind,
			&last.body, &last.fileKey, &last.read, &last.readAt, &last.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		summary.LastMessage = last.message()
		out = append(out, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

// AppendMessage inserts m and bumps the conversation's last activity.
// Callers run it inside a transaction.
func (s *Postgres) AppendMessage(ctx context.Context, m *models.Message) error {
	return postgres.InTx(ctx, s.db, func(exec postgres.Executor) error {
		res, err := exec.ExecContext(ctx, `
			UPDATE conversations SET last_activity_at = GREATEST(last_activity_at, $2)
			WHERE id = $1`, m.ConversationID, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return sentinel.ErrNotFound
		}
		_, err = exec.ExecContext(ctx, `
			INSERT INTO messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			m.ID, m.ConversationID, m.Seq, m.SenderID, m.ReceiverID, string(m.Kind), m.Body, m.FileKey,
			m.Read, m.ReadAt, m.CreatedAt,
		)
		switch {
		case postgres.IsUniqueViolation(err, "messages_seq_key"):
			return sentinel.ErrConflict
		case err != nil:
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

func (s *Postgres) ListMessages(ctx context.Context, conversationID id.ConversationID, afterSeq int64, limit int) ([]*models.Message, error) {
	rows, err := postgres.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// MarkRead touches only unread rows, so a repeated call updates nothing.
func (s *Postgres) MarkRead(ctx context.Context, conversationID id.ConversationID, readerID id.UserID, now time.Time) (int, error) {
	res, err := postgres.Execer(ctx, s.db).ExecContext(ctx, `
		UPDATE messages SET read = TRUE, read_at = $3
		WHERE conversation_id = $1 AND receiver_id = $2 AND NOT read`,
		conversationID, readerID, now)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count read messages: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.DeclarationID, &c.AgentID, &c.DeclarantID, &c.CreatedAt, &c.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		m      models.Message
		kind   string
		readAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.ReceiverID, &kind, &m.Body, &m.FileKey,
		&m.Read, &readAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Kind = models.MessageKind(kind)
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	return &m, nil
}

// nullableMessage receives the LEFT JOIN side of a conversation summary.
type nullableMessage struct {
	id             sql.NullString
	conversationID sql.NullString
	seq            sql.NullInt64
	senderID       sql.NullString
	receiverID     sql.NullString
	kind           sql.NullString
	body           sql.NullString
	fileKey        sql.NullString
	read           sql.NullBool
	readAt         sql.NullTime
	createdAt      sql.NullTime
}

func (n nullableMessage) message() *models.Message {
	if !n.id.Valid {
		return nil
	}
	m := &models.Message{
		Seq:       n.seq.Int64,
		Kind:      models.MessageKind(n.kind.String),
		Body:      n.body.String,
		FileKey:   n.fileKey.String,
		Read:      n.read.Bool,
		CreatedAt: n.createdAt.Time,
	}
	_ = m.ID.UnmarshalText([]byte(n.id.String))
	_ = m.ConversationID.UnmarshalText([]byte(n.conversationID.String))
	m.SenderID = optionalUser(n.senderID)
	m.ReceiverID = optionalUser(n.receiverID)
	if n.readAt.Valid {
		t := n.readAt.Time
		m.ReadAt = &t
	}
	return m
}

func optionalUser(s sql.NullString) *id.UserID {
	if !s.Valid {
		return nil
	}
	var u id.UserID
	if err := u.UnmarshalText([]byte(s.String)); err != nil {
		return nil
	}
	return &u
}
