package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"togoretrouve/internal/declaration/models"
	"togoretrouve/internal/numbering"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// InMemory keeps declarations in maps behind one lock.
type InMemory struct {
	mu       sync.RWMutex
	byID     map[id.DeclarationID]*models.Declaration
	byNumero map[string]id.DeclarationID
	comments map[id.DeclarationID][]*models.Comment
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:     make(map[id.DeclarationID]*models.Declaration),
		byNumero: make(map[string]id.DeclarationID),
		comments: make(map[id.DeclarationID][]*models.Comment),
	}
}

// Create inserts d. A taken numero yields numbering.ErrCollision.
func (s *InMemory) Create(_ context.Context, d *models.Declaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byNumero[d.Numero]; taken {
		return numbering.ErrCollision
	}
	if _, exists := s.byID[d.ID]; exists {
		return sentinel.ErrConflict
	}
	s.byID[d.ID] = clone(d)
	s.byNumero[d.Numero] = d.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, declarationID id.DeclarationID) (*models.Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[declarationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(d), nil
}

// FindForShare is FindByID: in memory, transactions are already serialized
// by the tx runner.
func (s *InMemory) FindForShare(ctx context.Context, declarationID id.DeclarationID) (*models.Declaration, error) {
	return s.FindByID(ctx, declarationID)
}

// Execute runs validate then mutate on a copy under the write lock and keeps
// the copy only when both succeed.
func (s *InMemory) Execute(_ context.Context, declarationID id.DeclarationID, validate func(*models.Declaration) error, mutate func(*models.Declaration) error) (*models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[declarationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := clone(d)
	if err := validate(cp); err != nil {
		return nil, err
	}
	if err := mutate(cp); err != nil {
		return nil, err
	}
	s.byID[declarationID] = cp
	return clone(cp), nil
}

// Delete removes a declaration while validate accepts it.
func (s *InMemory) Delete(_ context.Context, declarationID id.DeclarationID, validate func(*models.Declaration) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[declarationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := validate(clone(d)); err != nil {
		return err
	}
	delete(s.byNumero, d.Numero)
	delete(s.byID, declarationID)
	delete(s.comments, declarationID)
	return nil
}

func (s *InMemory) List(_ context.Context, filter ListFilter) ([]*models.Declaration, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.Declaration
	for _, d := range s.byID {
		if filter.matches(d) {
			matched = append(matched, d)
		}
	}
	slices.SortFunc(matched, func(a, b *models.Declaration) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Numero, b.Numero)
	})
	total := len(matched)
	matched = page(matched, filter.Offset, filter.Limit)
	out := make([]*models.Declaration, len(matched))
	for i, d := range matched {
		out[i] = clone(d)
	}
	return out, total, nil
}

// MaxSequence returns the highest sequence already used in series.
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

func (s *InMemory) IncrementViews(_ context.Context, declarationID id.DeclarationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[declarationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	d.ViewCount++
	return nil
}

func (s *InMemory) CountByStructureStatus(_ context.Context) ([]StatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[StatusCount]int)
	for _, d := range s.byID {
		counts[StatusCount{StructureID: d.StructureID, Status: d.Status}]++
	}
	out := make([]StatusCount, 0, len(counts))
	for k, n := range counts {
		k.Count = n
		out = append(out, k)
	}
	return out, nil
}

func (s *InMemory) AddComment(_ context.Context, c *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.DeclarationID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *c
	s.comments[c.DeclarationID] = append(s.comments[c.DeclarationID], &cp)
	return nil
}

func (s *InMemory) ListComments(_ context.Context, declarationID id.DeclarationID) ([]*models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.comments[declarationID]
	out := make([]*models.Comment, len(list))
	for i, c := range list {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func clone(d *models.Declaration) *models.Declaration {
	cp := *d
	if d.Location != nil {
		loc := *d.Location
		cp.Location = &loc
	}
	if d.PublishedAt != nil {
		t := *d.PublishedAt
		cp.PublishedAt = &t
	}
	if d.RestitutedAt != nil {
		t := *d.RestitutedAt
		cp.RestitutedAt = &t
	}
	return &cp
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
