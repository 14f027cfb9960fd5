package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authz "togoretrouve/internal/identity/models"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
)

var now = time.Date(2025, time.March, 14, 10, 30, 0, 0, time.UTC)

func newConversation(t *testing.T) *Conversation {
	t.Helper()
	c, err := NewConversation(id.NewDeclarationID(), id.NewUserID(), id.NewUserID(), now)
	require.NoError(t, err)
	return c
}

func TestNewConversationNeedsTwoParticipants(t *testing.T) {
	user := id.NewUserID()
	_, err := NewConversation(id.NewDeclarationID(), user, user, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestCheckAccess(t *testing.T) {
	c := newConversation(t)

	assert.NoError(t, c.CheckAccess(authz.Actor{UserID: c.AgentID, Role: authz.RoleAgent}))
	assert.NoError(t, c.CheckAccess(authz.Actor{UserID: c.DeclarantID, Role: authz.RoleCitizen}))
	assert.NoError(t, c.CheckAccess(authz.Actor{UserID: id.NewUserID(), Role: authz.RoleAdmin}))

	err := c.CheckAccess(authz.Actor{UserID: id.NewUserID(), Role: authz.RoleAgent, StructureID: id.NewStructureID()})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestNewMessage(t *testing.T) {
	c := newConversation(t)

	t.Run("addresses the other participant", func(t *testing.T) {
		m, err := NewMessage(c, c.DeclarantID, 7, "  bonjour  ", "", now)
		require.NoError(t, err)
		assert.Equal(t, "bonjour", m.Body)
		assert.Equal(t, KindText, m.Kind)
		assert.Equal(t, c.AgentID, *m.ReceiverID)
		assert.True(t, m.UnreadFor(c.AgentID))
		assert.False(t, m.UnreadFor(c.DeclarantID))
	})

	t.Run("a file alone is enough", func(t *testing.T) {
		m, err := NewMessage(c, c.AgentID, 8, "", "messages/abc.pdf", now)
		require.NoError(t, err)
		assert.Equal(t, KindFile, m.Kind)
		assert.Equal(t, c.DeclarantID, *m.ReceiverID)
	})

	t.Run("blank text without file is refused", func(t *testing.T) {
		_, err := NewMessage(c, c.AgentID, 9, " \n\t", "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("text is bounded", func(t *testing.T) {
		_, err := NewMessage(c, c.AgentID, 10, strings.Repeat("é", MaxBodyLength+1), "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestSystemMessageIsNeverUnread(t *testing.T) {
	c := newConversation(t)
	m := NewSystemMessage(c, 1, "ouverture", now)
	assert.False(t, m.UnreadFor(c.AgentID))
	assert.False(t, m.UnreadFor(c.DeclarantID))
}

func TestAdminWritesToDeclarant(t *testing.T) {
	c := newConversation(t)
	assert.Equal(t, c.DeclarantID, c.Other(id.NewUserID()))
	assert.Equal(t, c.AgentID, c.Other(c.DeclarantID))
}
