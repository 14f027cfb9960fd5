// Package store persists declarations and their public comments in memory or
// PostgreSQL.
package store

import (
	"strings"

	"togoretrouve/internal/declaration/models"
	id "togoretrouve/pkg/domain"
)

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	DeclarantID  id.UserID
	StructureIDs []id.StructureID
	Statuses     []models.Status
	Kind         models.Kind
	Category     string
	Query        string
	PublicOnly   bool
	Located      bool
	Limit        int
	Offset       int
}

func (f ListFilter) matches(d *models.Declaration) bool {
	if !f.DeclarantID.IsNil() && d.DeclarantID != f.DeclarantID {
		return false
	}
	if len(f.StructureIDs) > 0 && !containsID(f.StructureIDs, d.StructureID) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, d.Status) {
		return false
	}
	if f.Kind != "" && d.Kind != f.Kind {
		return false
	}
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.PublicOnly && !d.Public {
		return false
	}
	if f.Located && d.Location == nil {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		haystack := strings.ToLower(d.Numero + " " + d.ObjectName + " " + d.Description + " " + d.IncidentPlace)
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	return true
}

func containsID(ids []id.StructureID, target id.StructureID) bool {
	for _, v := range ids {
		if v == target {
			return true
		}
	}
	return false
}

func containsStatus(statuses []models.Status, target models.Status) bool {
	for _, v := range statuses {
		if v == target {
			return true
		}
	}
	return false
}

// StatusCount is the number of declarations of one structure in one status.
type StatusCount struct {
	StructureID id.StructureID
	Status      models.Status
	Count       int
}
