// Package store persists users in memory or PostgreSQL.
package store

import (
	"togoretrouve/internal/identity/models"
	id "togoretrouve/pkg/domain"
)

// ListFilter narrows ListUsers. Zero values match everything.
type ListFilter struct {
	Role        models.Role
	StructureID id.StructureID
}

func (f ListFilter) matches(u *models.User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if !f.StructureID.IsNil() && u.StructureID != f.StructureID {
		return false
	}
	return true
}
