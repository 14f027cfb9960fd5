package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"togoretrouve/internal/conversation/models"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
	"togoretrouve/pkg/testutil"
)

type InMemorySuite struct {
	suite.Suite
	store        *InMemory
	conversation *models.Conversation
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
	c, err := models.NewConversation(id.NewDeclarationID(), id.NewUserID(), id.NewUserID(), testutil.FixedNow)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(testutil.Context(), c))
	s.conversation = c
}

func (s *InMemorySuite) append(sender id.UserID, seq int64, body string, at time.Time) *models.Message {
	m, err := models.NewMessage(s.conversation, sender, seq, body, "", at)
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendMessage(testutil.Context(), m))
	return m
}

func (s *InMemorySuite) TestTripleIsUnique() {
	ctx := testutil.Context()
	dup := *s.conversation
	dup.ID = id.NewConversationID()
	s.ErrorIs(s.store.Create(ctx, &dup), sentinel.ErrConflict)

	found, err := s.store.FindByTriple(ctx, s.conversation.DeclarationID, s.conversation.AgentID, s.conversation.DeclarantID)
	s.Require().NoError(err)
	s.Equal(s.conversation.ID, found.ID)

	_, err = s.store.FindByTriple(ctx, s.conversation.DeclarationID, s.conversation.AgentID, id.NewUserID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemorySuite) TestMessagesComeBackInSequenceOrder() {
	ctx := testutil.Context()
	s.append(s.conversation.DeclarantID, 30, "trois", testutil.FixedNow)
	s.append(s.conversation.AgentID, 10, "un", testutil.FixedNow)
	s.append(s.conversation.DeclarantID, 20, "deux", testutil.FixedNow.Add(time.Minute))

	all, err := s.store.ListMessages(ctx, s.conversation.ID, 0, 50)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]int64{10, 20, 30}, []int64{all[0].Seq, all[1].Seq, all[2].Seq})

	page, err := s.store.ListMessages(ctx, s.conversation.ID, 10, 1)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("deux", page[0].Body)

	c, err := s.store.FindByID(ctx, s.conversation.ID)
	s.Require().NoError(err)
	s.Equal(testutil.FixedNow.Add(time.Minute), c.LastActivityAt)
}

func (s *InMemorySuite) TestSequenceIsUnique() {
	s.append(s.conversation.DeclarantID, 5, "un", testutil.FixedNow)
	m, err := models.NewMessage(s.conversation, s.conversation.AgentID, 5, "deux", "", testutil.FixedNow)
	s.Require().NoError(err)
	s.ErrorIs(s.store.AppendMessage(testutil.Context(), m), sentinel.ErrConflict)
}

func (s *InMemorySuite) TestMarkReadIsIdempotent() {
	ctx := testutil.Context()
	s.append(s.conversation.DeclarantID, 1, "bonjour", testutil.FixedNow)
	s.append(s.conversation.DeclarantID, 2, "vous êtes là ?", testutil.FixedNow)
	s.append(s.conversation.AgentID, 3, "oui", testutil.FixedNow)

	n, err := s.store.MarkRead(ctx, s.conversation.ID, s.conversation.AgentID, testutil.FixedNow)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = s.store.MarkRead(ctx, s.conversation.ID, s.conversation.AgentID, testutil.FixedNow)
	s.Require().NoError(err)
	s.Zero(n)

	summaries, err := s.store.ListForUser(ctx, s.conversation.DeclarantID)
	s.Require().NoError(err)
	s.Require().Len(summaries, 1)
	s.Equal(1, summaries[0].Unread)
	s.Equal("oui", summaries[0].LastMessage.Body)
}

func (s *InMemorySuite) TestFindForAgentPicksOldest() {
	ctx := testutil.Context()
	later, err := models.NewConversation(s.conversation.DeclarationID, s.conversation.AgentID, id.NewUserID(), testutil.FixedNow.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, later))

	found, err := s.store.FindForAgent(ctx, s.conversation.DeclarationID, s.conversation.AgentID)
	s.Require().NoError(err)
	s.Equal(s.conversation.ID, found.ID)

	_, err = s.store.FindForAgent(ctx, s.conversation.DeclarationID, id.NewUserID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemorySuite) TestFindForDeclarantPicksOldest() {
	ctx := testutil.Context()
	later, err := models.NewConversation(s.conversation.DeclarationID, id.NewUserID(), s.conversation.DeclarantID, testutil.FixedNow.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, later))

	found, err := s.store.FindForDeclarant(ctx, s.conversation.DeclarationID, s.conversation.DeclarantID)
	s.Require().NoError(err)
	s.Equal(s.conversation.ID, found.ID)

	_, err = s.store.FindForDeclarant(ctx, id.NewDeclarationID(), s.conversation.DeclarantID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
