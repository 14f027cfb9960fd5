package service

import (
	"context"
	"slices"
	"strings"
	"time"

	h3 "github.com/uber/h3-go/v4"

	"togoretrouve/internal/declaration/models"
	"togoretrouve/internal/declaration/store"
	"togoretrouve/internal/geo"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/requestcontext"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxMapPoints    = 2000
)

// Page is one slice of a paged listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func newPage[T any](items []T, total, pageNum, size int) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Total: total, Page: pageNum, PageSize: size}
}

func pageBounds(pageNum, size int) (int, int) {
	if pageNum < 1 {
		pageNum = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return pageNum, size
}

// PublicDeclaration is what anonymous readers see: no declarant identity and
// no internal comment.
type PublicDeclaration struct {
	ID            id.DeclarationID `json:"id"`
	Numero        string           `json:"numero"`
	Kind          models.Kind      `json:"type"`
	ObjectName    string           `json:"object_name"`
	Description   string           `json:"description"`
	Category      string           `json:"category"`
	PhotoURL      string           `json:"photo_url,omitempty"`
	IncidentDate  time.Time        `json:"incident_date"`
	IncidentPlace string           `json:"incident_place"`
	Location      *models.Location `json:"location,omitempty"`
	Structure     string           `json:"structure"`
	Prefecture    string           `json:"prefecture"`
	Region        string           `json:"region"`
	PublishedAt   *time.Time       `json:"published_at,omitempty"`
	ViewCount     int64            `json:"view_count"`
}

// PublicFilter narrows the public search. The most specific geographic filter wins.
type PublicFilter struct {
	Kind         string
	Category     string
	RegionID     string
	PrefectureID string
	StructureID  string
	Query        string
	Page         int
	PageSize     int
}

// SearchPublic lists published, public declarations.
func (s *Service) SearchPublic(ctx context.Context, f PublicFilter) (*Page[PublicDeclaration], error) {
	ctx, span := tracer.Start(ctx, "declaration.SearchPublic")
	defer span.End()

	pageNum, size := pageBounds(f.Page, f.PageSize)
	filter := store.ListFilter{
		Statuses:   []models.Status{models.StatusPublished},
		PublicOnly: true,
		Category:   strings.ToLower(strings.TrimSpace(f.Category)),
		Query:      f.Query,
		Limit:      size,
		Offset:     (pageNum - 1) * size,
	}
	if f.Kind != "" {
		kind, err := models.ParseKind(f.Kind)
		if err != nil {
			return nil, err
		}
		filter.Kind = kind
	}
	structures, scoped, err := s.scopeStructures(ctx, f)
	if err != nil {
		return nil, err
	}
	if scoped && len(structures) == 0 {
		return newPage([]PublicDeclaration{}, 0, pageNum, size), nil
	}
	filter.StructureIDs = structures

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search declarations")
	}
	out := make([]PublicDeclaration, len(items))
	for i, d := range items {
		out[i] = s.public(ctx, d)
	}
	return newPage(out, total, pageNum, size), nil
}

// scopeStructures expands a region or prefecture filter into its structures.
// scoped is false when no geographic filter was given.
func (s *Service) scopeStructures(ctx context.Context, f PublicFilter) (ids []id.StructureID, scoped bool, err error) {
	switch {
	case f.StructureID != "":
		structureID, err := id.ParseStructureID(f.StructureID)
		if err != nil {
			return nil, true, err
		}
		return []id.StructureID{structureID}, true, nil
	case f.PrefectureID != "":
		prefectureID, err := id.ParsePrefectureID(f.PrefectureID)
		if err != nil {
			return nil, true, err
		}
		ids, err := s.structuresOf(ctx, prefectureID)
		return ids, true, err
	case f.RegionID != "":
		regionID, err := id.ParseRegionID(f.RegionID)
		if err != nil {
			return nil, true, err
		}
		prefectures, err := s.geo.ListPrefectures(ctx, regionID)
		if err != nil {
			return nil, true, err
		}
		for _, p := range prefectures {
			more, err := s.structuresOf(ctx, p.ID)
			if err != nil {
				return nil, true, err
			}
			ids = append(ids, more...)
		}
		return ids, true, nil
	default:
		return nil, false, nil
	}
}

func (s *Service) structuresOf(ctx context.Context, prefectureID id.PrefectureID) ([]id.StructureID, error) {
	structures, err := s.geo.ListStructures(ctx, prefectureID)
	if err != nil {
		return nil, err
	}
	ids := make([]id.StructureID, len(structures))
	for i, st := range structures {
		ids[i] = st.ID
	}
	return ids, nil
}

// View returns the public detail of a declaration and counts the read.
// Declarations that are not publicly visible read as not found.
func (s *Service) View(ctx context.Context, declarationID id.DeclarationID) (*PublicDeclaration, error) {
	ctx, span := tracer.Start(ctx, "declaration.View")
	defer span.End()

	d, err := s.publicDeclaration(ctx, declarationID)
	if err != nil {
		return nil, err
	}
	if err := s.store.IncrementViews(ctx, declarationID); err != nil {
		s.logger.WarnContext(ctx, "failed to count view", "declaration_id", declarationID, "error", err)
	} else {
		d.ViewCount++
	}
	out := s.public(ctx, d)
	return &out, nil
}

// AddComment appends an anonymous comment to a publicly visible declaration.
func (s *Service) AddComment(ctx context.Context, declarationID id.DeclarationID, author, body string) (*models.Comment, error) {
	if _, err := s.publicDeclaration(ctx, declarationID); err != nil {
		return nil, err
	}
	c, err := models.NewComment(declarationID, author, body, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.AddComment(ctx, c); err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// ListComments returns the comments of a publicly visible declaration, oldest first.
func (s *Service) ListComments(ctx context.Context, declarationID id.DeclarationID) ([]*models.Comment, error) {
	if _, err := s.publicDeclaration(ctx, declarationID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, declarationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list comments")
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	return comments, nil
}

func (s *Service) publicDeclaration(ctx context.Context, declarationID id.DeclarationID) (*models.Declaration, error) {
	d, err := s.store.FindByID(ctx, declarationID)
	if err != nil {
		return nil, translate(err)
	}
	if !d.IsPubliclyVisible() {
		return nil, dErrors.New(dErrors.CodeNotFound, "declaration not found")
	}
	return d, nil
}

func (s *Service) public(ctx context.Context, d *models.Declaration) PublicDeclaration {
	out := PublicDeclaration{
		ID:            d.ID,
		Numero:        d.Numero,
		Kind:          d.Kind,
		ObjectName:    d.ObjectName,
		Description:   d.Description,
		Category:      d.Category,
		PhotoURL:      s.photoURL(ctx, d.PhotoKey),
		IncidentDate:  d.IncidentDate,
		IncidentPlace: d.IncidentPlace,
		Location:      d.Location,
		PublishedAt:   d.PublishedAt,
		ViewCount:     d.ViewCount,
	}
	if j, err := s.geo.Resolve(ctx, d.StructureID); err == nil {
		out.Structure = j.Structure.Name
		out.Prefecture = j.Prefecture.Name
		out.Region = j.Region.Name
	}
	return out
}

// RegionStat counts the declarations of one region by status.
type RegionStat struct {
	Region geo.Region            `json:"region"`
	Counts map[models.Status]int `json:"counts"`
	Total  int                   `json:"total"`
}

// RegionStats returns per-region counts for every region, including empty ones.
func (s *Service) RegionStats(ctx context.Context) ([]RegionStat, error) {
	ctx, span := tracer.Start(ctx, "declaration.RegionStats")
	defer span.End()

	regions, err := s.geo.ListRegions(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountByStructureStatus(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count declarations")
	}

	byRegion := make(map[id.RegionID]*RegionStat, len(regions))
	out := make([]RegionStat, len(regions))
	for i, r := range regions {
		out[i] = RegionStat{Region: r, Counts: make(map[models.Status]int)}
		byRegion[r.ID] = &out[i]
	}
	for _, c := range counts {
		j, err := s.geo.Resolve(ctx, c.StructureID)
		if err != nil {
			s.logger.WarnContext(ctx, "declaration counted under an unknown structure", "structure_id", c.StructureID, "error", err)
			continue
		}
		stat, ok := byRegion[j.Region.ID]
		if !ok {
			continue
		}
		stat.Counts[c.Status] += c.Count
		stat.Total += c.Count
	}
	slices.SortFunc(out, func(a, b RegionStat) int {
		return strings.Compare(a.Region.Name, b.Region.Name)
	})
	return out, nil
}

// MapFilter narrows the public map. A Resolution between 0 and the stored cell
// resolution also aggregates points into cells of that size.
type MapFilter struct {
	Kind       string
	Resolution int
}

type MapPoint struct {
	ID         id.DeclarationID `json:"id"`
	Numero     string           `json:"numero"`
	Kind       models.Kind      `json:"type"`
	ObjectName string           `json:"object_name"`
	Latitude   float64          `json:"latitude"`
	Longitude  float64          `json:"longitude"`
	H3Index    string           `json:"h3_index"`
}

type MapCell struct {
	H3Index   string  `json:"h3_index"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Count     int     `json:"count"`
}

type MapResult struct {
	Points []MapPoint `json:"points"`
	Cells  []MapCell  `json:"cells,omitempty"`
}

// MapPoints returns published declarations that carry a GPS point.
func (s *Service) MapPoints(ctx context.Context, f MapFilter) (*MapResult, error) {
	ctx, span := tracer.Start(ctx, "declaration.MapPoints")
	defer span.End()

	if f.Resolution < 0 || f.Resolution > models.H3Resolution {
		return nil, dErrors.New(dErrors.CodeValidation, "resolution must be between 0 and 9")
	}
	filter := store.ListFilter{
		Statuses:   []models.Status{models.StatusPublished},
		PublicOnly: true,
		Located:    true,
		Limit:      maxMapPoints,
	}
	if f.Kind != "" {
		kind, err := models.ParseKind(f.Kind)
		if err != nil {
			return nil, err
		}
		filter.Kind = kind
	}
	items, _, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list map points")
	}

	out := &MapResult{Points: make([]MapPoint, 0, len(items))}
	cells := make(map[h3.Cell]int)
	var order []h3.Cell
	for _, d := range items {
		out.Points = append(out.Points, MapPoint{
			ID:         d.ID,
			Numero:     d.Numero,
			Kind:       d.Kind,
			ObjectName: d.ObjectName,
			Latitude:   d.Location.Latitude,
			Longitude:  d.Location.Longitude,
			H3Index:    d.Location.H3Index,
		})
		if f.Resolution == 0 {
			continue
		}
		cell := h3.LatLngToCell(h3.NewLatLng(d.Location.Latitude, d.Location.Longitude), f.Resolution)
		if _, seen := cells[cell]; !seen {
			order = append(order, cell)
		}
		cells[cell]++
	}
	for _, cell := range order {
		center := cell.LatLng()
		out.Cells = append(out.Cells, MapCell{
			H3Index:   cell.String(),
			Latitude:  center.Lat,
			Longitude: center.Lng,
			Count:     cells[cell],
		})
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "incident date is required")
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeValidation, "incident date must be YYYY-MM-DD")
}
