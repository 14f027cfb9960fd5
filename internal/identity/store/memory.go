package store

import (
	"context"
	"slices"
	"sync"

	"togoretrouve/internal/identity/models"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded user store for development and tests.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[id.UserID]*models.User
	byEmail map[string]id.UserID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[id.UserID]*models.User),
		byEmail: make(map[string]id.UserID),
	}
}

// Create inserts u, failing with sentinel.ErrConflict when the email is taken.
func (s *InMemory) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return sentinel.ErrConflict
	}
	cp := *u
	s.byID[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemory) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byEmail[email]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.byID[userID]
	return &cp, nil
}

// Execute loads the user, runs validate then mutate under the write lock, and
// stores the result only when both succeed.
func (s *InMemory) Execute(_ context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	if err := validate(&cp); err != nil {
		return nil, err
	}
	mutate(&cp)
	s.byID[userID] = &cp
	out := cp
	return &out, nil
}

func (s *InMemory) List(_ context.Context, filter ListFilter) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0, len(s.byID))
	for _, u := range s.byID {
		if filter.matches(u) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sortByCreation(out)
	return out, nil
}

// ListStaffByStructure returns active agents and admins scoped to structureID,
// oldest first with the id as tie-breaker.
func (s *InMemory) ListStaffByStructure(_ context.Context, structureID id.StructureID) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.User
	for _, u := range s.byID {
		if u.Active && u.Role.IsStaff() && u.StructureID == structureID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sortByCreation(out)
	return out, nil
}

func sortByCreation(users []*models.User) {
	slices.SortFunc(users, func(a, b *models.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID.Less(b.ID) {
			return -1
		}
		if b.ID.Less(a.ID) {
			return 1
		}
		return 0
	})
}
