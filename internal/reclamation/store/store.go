// Package store persists claims and their supporting documents.
package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"togoretrouve/internal/numbering"
	"togoretrouve/internal/reclamation/models"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	ClaimantID     id.UserID
	DeclarationIDs []id.DeclarationID
	Statuses       []models.Status
}

func (f ListFilter) matches(r *models.Reclamation) bool {
	if !f.ClaimantID.IsNil() && r.ClaimantID != f.ClaimantID {
		return false
	}
	if len(f.DeclarationIDs) > 0 && !slices.Contains(f.DeclarationIDs, r.DeclarationID) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	return true
}

type pair struct {
	declarationID id.DeclarationID
	claimantID    id.UserID
}

// InMemory keeps claims in maps behind one lock.
type InMemory struct {
	mu        sync.RWMutex
	byID      map[id.ReclamationID]*models.Reclamation
	byNumero  map[string]id.ReclamationID
	byPair    map[pair]id.ReclamationID
	documents map[id.ReclamationID][]*models.Document
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:      make(map[id.ReclamationID]*models.Reclamation),
		byNumero:  make(map[string]id.ReclamationID),
		byPair:    make(map[pair]id.ReclamationID),
		documents: make(map[id.ReclamationID][]*models.Document),
	}
}

// Create inserts r. A taken numero yields numbering.ErrCollision and a second
// claim by the same claimant on the same declaration yields ErrConflict.
func (s *InMemory) Create(_ context.Context, r *models.Reclamation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{declarationID: r.DeclarationID, claimantID: r.ClaimantID}
	if _, exists := s.byPair[key]; exists {
		return sentinel.ErrConflict
	}
	if _, taken := s.byNumero[r.Numero]; taken {
		return numbering.ErrCollision
	}
	s.byID[r.ID] = clone(r)
	s.byNumero[r.Numero] = r.ID
	s.byPair[key] = r.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, reclamationID id.ReclamationID) (*models.Reclamation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[reclamationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(r), nil
}

// Execute runs mutate on a copy under the write lock and keeps it on success.
func (s *InMemory) Execute(_ context.Context, reclamationID id.ReclamationID, mutate func(*models.Reclamation) error) (*models.Reclamation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[reclamationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := clone(r)
	if err := mutate(cp); err != nil {
		return nil, err
	}
	cp.Documents = nil
	s.byID[reclamationID] = cp
	return clone(cp), nil
}

func (s *InMemory) List(_ context.Context, filter ListFilter) ([]*models.Reclamation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Reclamation
	for _, r := range s.byID {
		if filter.matches(r) {
			out = append(out, clone(r))
		}
	}
	slices.SortFunc(out, func(a, b *models.Reclamation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Numero, b.Numero)
	})
	return out, nil
}

func (s *InMemory) HasPendingClaims(_ context.Context, declarationID id.DeclarationID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.byID {
		if r.DeclarationID == declarationID && r.Status.IsPending() {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemory) MaxSequence(_ context.Context, series string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var highest int64
	for numero := range s.byNumero {
		if seq, ok := numbering.ParseSequence(series, numero); ok && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

func (s *InMemory) AddDocument(_ context.Context, d *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[d.ReclamationID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *d
	s.documents[d.ReclamationID] = append(s.documents[d.ReclamationID], &cp)
	return nil
}

func (s *InMemory) ListDocuments(_ context.Context, reclamationID id.ReclamationID) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.documents[reclamationID]
	out := make([]*models.Document, len(list))
	for i, d := range list {
		cp := *d
		out[i] = &cp
	}
	return out, nil
}

// VerifyDocument marks a document verified and reports whether it changed.
func (s *InMemory) VerifyDocument(_ context.Context, reclamationID id.ReclamationID, documentID id.DocumentID, by id.UserID) (*models.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents[reclamationID] {
		if d.ID == documentID {
			changed := d.Verify(by)
			cp := *d
			return &cp, changed, nil
		}
	}
	return nil, false, sentinel.ErrNotFound
}

func clone(r *models.Reclamation) *models.Reclamation {
	cp := *r
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		cp.DecidedAt = &t
	}
	cp.Documents = nil
	return &cp
}
