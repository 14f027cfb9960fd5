package geo

import (
	"context"
	"slices"
	"strings"
	"sync"

	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// Store persists the registry. Upserts are idempotent and never overwrite.
type Store interface {
	UpsertRegion(ctx context.Context, r Region) error
	UpsertPrefecture(ctx context.Context, p Prefecture) error
	UpsertStructure(ctx context.Context, s Structure) error
	CreateStructure(ctx context.Context, s *Structure) error
	ListRegions(ctx context.Context) ([]Region, error)
	ListPrefectures(ctx context.Context, regionID id.RegionID) ([]Prefecture, error)
	ListStructures(ctx context.Context, prefectureID id.PrefectureID) ([]Structure, error)
	GetRegion(ctx context.Context, regionID id.RegionID) (*Region, error)
	GetPrefecture(ctx context.Context, prefectureID id.PrefectureID) (*Prefecture, error)
	GetStructure(ctx context.Context, structureID id.StructureID) (*Structure, error)
}

// InMemory keeps the registry in maps.
type InMemory struct {
	mu          sync.RWMutex
	regions     map[id.RegionID]Region
	prefectures map[id.PrefectureID]Prefecture
	structures  map[id.StructureID]Structure
}

func NewInMemory() *InMemory {
	return &InMemory{
		regions:     make(map[id.RegionID]Region),
		prefectures: make(map[id.PrefectureID]Prefecture),
		structures:  make(map[id.StructureID]Structure),
	}
}

func (s *InMemory) UpsertRegion(_ context.Context, r Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[r.ID]; !ok {
		s.regions[r.ID] = r
	}
	return nil
}

func (s *InMemory) UpsertPrefecture(_ context.Context, p Prefecture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[p.RegionID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.prefectures[p.ID]; !ok {
		s.prefectures[p.ID] = p
	}
	return nil
}

func (s *InMemory) UpsertStructure(_ context.Context, st Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prefectures[st.PrefectureID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.structures[st.ID]; ok || s.nameTaken(st) {
		return nil
	}
	s.structures[st.ID] = st
	return nil
}

func (s *InMemory) CreateStructure(_ context.Context, st *Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prefectures[st.PrefectureID]; !ok {
		return sentinel.ErrNotFound
	}
	if s.nameTaken(*st) {
		return sentinel.ErrConflict
	}
	s.structures[st.ID] = *st
	return nil
}

func (s *InMemory) nameTaken(st Structure) bool {
	for _, existing := range s.structures {
		if existing.PrefectureID == st.PrefectureID && strings.EqualFold(existing.Name, st.Name) {
			return true
		}
	}
	return false
}

func (s *InMemory) ListRegions(_ context.Context) ([]Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Region) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *InMemory) ListPrefectures(_ context.Context, regionID id.RegionID) ([]Prefecture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Prefecture
	for _, p := range s.prefectures {
		if p.RegionID == regionID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Prefecture) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *InMemory) ListStructures(_ context.Context, prefectureID id.PrefectureID) ([]Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Structure
	for _, st := range s.structures {
		if st.PrefectureID == prefectureID {
			out = append(out, st)
		}
	}
	slices.SortFunc(out, func(a, b Structure) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *InMemory) GetRegion(_ context.Context, regionID id.RegionID) (*Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[regionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (s *InMemory) GetPrefecture(_ context.Context, prefectureID id.PrefectureID) (*Prefecture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefectures[prefectureID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *InMemory) GetStructure(_ context.Context, structureID id.StructureID) (*Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.structures[structureID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &st, nil
}
