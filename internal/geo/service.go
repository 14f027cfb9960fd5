package geo

import (
	"context"
	"errors"
	"log/slog"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/sentinel"
)

// Service answers registry lookups for handlers and the other modules.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ListRegions(ctx context.Context) ([]Region, error) {
	regions, err := s.store.ListRegions(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list regions")
	}
	return regions, nil
}

func (s *Service) ListPrefectures(ctx context.Context, regionID id.RegionID) ([]Prefecture, error) {
	if _, err := s.store.GetRegion(ctx, regionID); err != nil {
		return nil, translate(err, "region not found")
	}
	prefs, err := s.store.ListPrefectures(ctx, regionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list prefectures")
	}
	return prefs, nil
}

func (s *Service) ListStructures(ctx context.Context, prefectureID id.PrefectureID) ([]Structure, error) {
	if _, err := s.store.GetPrefecture(ctx, prefectureID); err != nil {
		return nil, translate(err, "prefecture not found")
	}
	structures, err := s.store.ListStructures(ctx, prefectureID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list structures")
	}
	return structures, nil
}

// GetStructure returns the structure or a not_found error.
func (s *Service) GetStructure(ctx context.Context, structureID id.StructureID) (*Structure, error) {
	st, err := s.store.GetStructure(ctx, structureID)
	if err != nil {
		return nil, translate(err, "structure not found")
	}
	return st, nil
}

// Resolve derives the prefecture and region of a structure.
func (s *Service) Resolve(ctx context.Context, structureID id.StructureID) (*Jurisdiction, error) {
	st, err := s.GetStructure(ctx, structureID)
	if err != nil {
		return nil, err
	}
	pref, err := s.store.GetPrefecture(ctx, st.PrefectureID)
	if err != nil {
		return nil, translate(err, "prefecture not found")
	}
	region, err := s.store.GetRegion(ctx, pref.RegionID)
	if err != nil {
		return nil, translate(err, "region not found")
	}
	return &Jurisdiction{Structure: *st, Prefecture: *pref, Region: *region}, nil
}

// CreateStructureRequest is the admin payload for a new structure.
type CreateStructureRequest struct {
	PrefectureID id.PrefectureID `json:"prefecture_id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Address      string          `json:"address"`
	Phone        string          `json:"phone"`
}

// CreateStructure adds a structure under an existing prefecture. Admin routes only.
func (s *Service) CreateStructure(ctx context.Context, req CreateStructureRequest) (*Structure, error) {
	kind, err := ParseStructureKind(req.Type)
	if err != nil {
		return nil, err
	}
	st, err := NewStructure(id.NewStructureID(), req.PrefectureID, req.Name, kind, req.Address, req.Phone)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateStructure(ctx, st); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeValidation, "prefecture does not exist")
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "a structure with this name already exists in the prefecture")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create structure")
		}
	}
	s.logger.InfoContext(ctx, "structure created",
		"log_type", "audit",
		"structure_id", st.ID,
		"prefecture_id", st.PrefectureID,
	)
	return st, nil
}

func translate(err error, notFoundMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "registry lookup failed")
}
