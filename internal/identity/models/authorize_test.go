package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
)

func TestAuthorize(t *testing.T) {
	lome := id.NewStructureID()
	kara := id.NewStructureID()
	owner := id.NewUserID()

	citizen := Actor{UserID: owner, Role: RoleCitizen}
	stranger := Actor{UserID: id.NewUserID(), Role: RoleCitizen}
	agentLome := Actor{UserID: id.NewUserID(), Role: RoleAgent, StructureID: lome}
	agentKara := Actor{UserID: id.NewUserID(), Role: RoleAgent, StructureID: kara}
	agentNoJurisdiction := Actor{UserID: id.NewUserID(), Role: RoleAgent}
	admin := Actor{UserID: id.NewUserID(), Role: RoleAdmin}

	editable := Resource{StructureID: lome, OwnerID: owner, OwnerEditable: true}
	locked := Resource{StructureID: lome, OwnerID: owner}

	tests := []struct {
		name    string
		actor   Actor
		action  Action
		res     Resource
		allowed bool
	}{
		{"admin transitions anywhere", admin, ActionTransition, locked, true},
		{"admin archives", admin, ActionArchive, locked, true},
		{"agent in same structure transitions", agentLome, ActionTransition, locked, true},
		{"agent in other structure is denied", agentKara, ActionTransition, locked, false},
		{"agent without jurisdiction is denied", agentNoJurisdiction, ActionView, locked, false},
		{"agent cannot archive", agentLome, ActionArchive, locked, false},
		{"owner edits while editable", citizen, ActionEdit, editable, true},
		{"owner cannot edit once locked", citizen, ActionEdit, locked, false},
		{"owner deletes while editable", citizen, ActionDelete, editable, true},
		{"admin cannot delete someone else's declaration", admin, ActionDelete, editable, false},
		{"owner cannot transition", citizen, ActionTransition, editable, false},
		{"owner views", citizen, ActionView, locked, true},
		{"stranger cannot view", stranger, ActionView, locked, false},
		{"owner withdraws", citizen, ActionWithdraw, locked, true},
		{"agent cannot withdraw for claimant", agentLome, ActionWithdraw, locked, false},
		{"agent verifies document in jurisdiction", agentLome, ActionVerifyDocument, locked, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.actor, tt.action, tt.res)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden), "expected forbidden, got %v", err)
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("agent")
	assert.NoError(t, err)
	assert.Equal(t, RoleAgent, r)
	assert.True(t, r.IsStaff())
	assert.False(t, RoleCitizen.IsStaff())

	_, err = ParseRole("superuser")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
