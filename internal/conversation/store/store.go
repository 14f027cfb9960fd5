// Package store persists conversations and their messages.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"togoretrouve/internal/conversation/models"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

type triple struct {
	declarationID id.DeclarationID
	agentID       id.UserID
	declarantID   id.UserID
}

func tripleOf(c *models.Conversation) triple {
	return triple{declarationID: c.DeclarationID, agentID: c.AgentID, declarantID: c.DeclarantID}
}

// InMemory keeps conversations and messages behind one lock.
type InMemory struct {
	mu            sync.RWMutex
	conversations map[id.ConversationID]*models.Conversation
	byTriple      map[triple]id.ConversationID
	messages      map[id.ConversationID][]*models.Message
	seqs          map[int64]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		conversations: make(map[id.ConversationID]*models.Conversation),
		byTriple:      make(map[triple]id.ConversationID),
		messages:      make(map[id.ConversationID][]*models.Message),
		seqs:          make(map[int64]struct{}),
	}
}

// Create inserts c, or returns ErrConflict when its triple already exists.
func (s *InMemory) Create(_ context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tripleOf(c)
	if _, exists := s.byTriple[key]; exists {
		return sentinel.ErrConflict
	}
	cp := *c
	s.conversations[c.ID] = &cp
	s.byTriple[key] = c.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, conversationID id.ConversationID) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemory) FindByTriple(_ context.Context, declarationID id.DeclarationID, agentID, declarantID id.UserID) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversationID, ok := s.byTriple[triple{declarationID: declarationID, agentID: agentID, declarantID: declarantID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.conversations[conversationID]
	return &cp, nil
}

// FindForAgent returns the oldest conversation the agent holds about the declaration.
func (s *InMemory) FindForAgent(_ context.Context, declarationID id.DeclarationID, agentID id.UserID) (*models.Conversation, error) {
	return s.oldest(func(c *models.Conversation) bool {
		return c.DeclarationID == declarationID && c.AgentID == agentID
	})
}

// FindForDeclarant returns the oldest conversation the declarant has about the declaration.
func (s *InMemory) FindForDeclarant(_ context.Context, declarationID id.DeclarationID, declarantID id.UserID) (*models.Conversation, error) {
	return s.oldest(func(c *models.Conversation) bool {
		return c.DeclarationID == declarationID && c.DeclarantID == declarantID
	})
}

func (s *InMemory) oldest(match func(*models.Conversation) bool) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Conversation
	for _, c := range s.conversations {
		if !match(c) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) || (c.CreatedAt.Equal(found.CreatedAt) && c.ID.Less(found.ID)) {
			found = c
		}
	}
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (s *InMemory) ListForUser(_ context.Context, userID id.UserID) ([]*models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Summary
	for _, c := range s.conversations {
		if !c.IsParticipant(userID) {
			continue
		}
		cp := *c
		summary := &models.Summary{Conversation: &cp}
		msgs := s.messages[c.ID]
		for _, m := range msgs {
			if m.UnreadFor(userID) {
				summary.Unread++
			}
		}
		if len(msgs) > 0 {
			last := *msgs[len(msgs)-1]
			summary.LastMessage = &last
		}
		out = append(out, summary)
	}
	slices.SortFunc(out, func(a, b *models.Summary) int {
		if c := b.LastActivityAt.Compare(a.LastActivityAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// AppendMessage stores m and moves the conversation's last activity forward.
func (s *InMemory) AppendMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if _, taken := s.seqs[m.Seq]; taken {
		return sentinel.ErrConflict
	}
	cp := *m
	msgs := append(s.messages[m.ConversationID], &cp)
	slices.SortFunc(msgs, func(a, b *models.Message) int { return cmp.Compare(a.Seq, b.Seq) })
	s.messages[m.ConversationID] = msgs
	s.seqs[m.Seq] = struct{}{}
	if m.CreatedAt.After(c.LastActivityAt) {
		c.LastActivityAt = m.CreatedAt
	}
	return nil
}

// ListMessages returns up to limit messages with a sequence above afterSeq, in order.
func (s *InMemory) ListMessages(_ context.Context, conversationID id.ConversationID, afterSeq int64, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Message, 0, limit)
	for _, m := range s.messages[conversationID] {
		if m.Seq <= afterSeq {
			continue
		}
		if len(out) == limit {
			break
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// MarkRead flips every unread message addressed to readerID and returns how many changed.
func (s *InMemory) MarkRead(_ context.Context, conversationID id.ConversationID, readerID id.UserID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages[conversationID] {
		if m.UnreadFor(readerID) {
			at := now
			m.Read = true
			m.ReadAt = &at
			n++
		}
	}
	return n, nil
}
