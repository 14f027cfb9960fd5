// Package service implements the declaration lifecycle: creation with number
// assignment, edits, jurisdiction-checked transitions and the public read side.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"togoretrouve/internal/actionlog"
	"togoretrouve/internal/attachment"
	"togoretrouve/internal/declaration/models"
	"togoretrouve/internal/declaration/store"
	"togoretrouve/internal/geo"
	authz "togoretrouve/internal/identity/models"
	"togoretrouve/internal/notification"
	"togoretrouve/internal/numbering"
	"togoretrouve/internal/outbox"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/sentinel"
	txcontext "togoretrouve/pkg/platform/tx"
	"togoretrouve/pkg/requestcontext"
)

var tracer = otel.Tracer("togoretrouve/declaration")

type Store interface {
	Create(ctx context.Context, d *models.Declaration) error
	FindByID(ctx context.Context, declarationID id.DeclarationID) (*models.Declaration, error)
	FindForShare(ctx context.Context, declarationID id.DeclarationID) (*models.Declaration, error)
	Execute(ctx context.Context, declarationID id.DeclarationID, validate func(*models.Declaration) error, mutate func(*models.Declaration) error) (*models.Declaration, error)
	Delete(ctx context.Context, declarationID id.DeclarationID, validate func(*models.Declaration) error) error
	List(ctx context.Context, filter store.ListFilter) ([]*models.Declaration, int, error)
	MaxSequence(ctx context.Context, series string) (int64, error)
	IncrementViews(ctx context.Context, declarationID id.DeclarationID) error
	CountByStructureStatus(ctx context.Context) ([]store.StatusCount, error)
	AddComment(ctx context.Context, c *models.Comment) error
	ListComments(ctx context.Context, declarationID id.DeclarationID) ([]*models.Comment, error)
}

// Jurisdictions is the read side of the region/prefecture/structure tree.
type Jurisdictions interface {
	ListRegions(ctx context.Context) ([]geo.Region, error)
	ListPrefectures(ctx context.Context, regionID id.RegionID) ([]geo.Prefecture, error)
	ListStructures(ctx context.Context, prefectureID id.PrefectureID) ([]geo.Structure, error)
	GetStructure(ctx context.Context, structureID id.StructureID) (*geo.Structure, error)
	Resolve(ctx context.Context, structureID id.StructureID) (*geo.Jurisdiction, error)
}

type ActionRecorder interface {
	Record(ctx context.Context, entry actionlog.Entry)
	ListForDeclaration(ctx context.Context, declarationID id.DeclarationID) ([]actionlog.Entry, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notification.Request)
}

type Attachments interface {
	Save(ctx context.Context, scope attachment.Scope, up attachment.Upload) (*attachment.Object, error)
	URL(ctx context.Context, key string) (string, error)
	Discard(ctx context.Context, key string)
}

// ClaimChecker reports whether a declaration still has undecided claims.
type ClaimChecker interface {
	HasPendingClaims(ctx context.Context, declarationID id.DeclarationID) (bool, error)
}

// Service owns declarations.
type Service struct {
	store       Store
	tx          txcontext.Runner
	numbers     *numbering.Generator
	geo         Jurisdictions
	actions     ActionRecorder
	notifier    Notifier
	outbox      outbox.Writer
	attachments Attachments
	claims      ClaimChecker
	metrics     *Metrics
	logger      *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAttachments(a Attachments) Option {
	return func(s *Service) {
		s.attachments = a
	}
}

// WithClaimChecker guards archiving against undecided claims.
func WithClaimChecker(c ClaimChecker) Option {
	return func(s *Service) {
		s.claims = c
	}
}

func New(
	st Store,
	runner txcontext.Runner,
	numbers *numbering.Generator,
	jurisdictions Jurisdictions,
	actions ActionRecorder,
	notifier Notifier,
	events outbox.Writer,
	opts ...Option,
) *Service {
	s := &Service{
		store:    st,
		tx:       runner,
		numbers:  numbers,
		geo:      jurisdictions,
		actions:  actions,
		notifier: notifier,
		outbox:   events,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detail is a declaration with its derived jurisdiction.
type Detail struct {
	*models.Declaration
	Jurisdiction *geo.Jurisdiction `json:"jurisdiction,omitempty"`
	PhotoURL     string            `json:"photo_url,omitempty"`
}

// Location is the optional GPS point of a payload.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CreateRequest is the declaration payload. IncidentDate is YYYY-MM-DD.
type CreateRequest struct {
	Kind             string    `json:"type"`
	ObjectName       string    `json:"object_name"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	StructureID      string    `json:"structure_id"`
	IncidentDate     string    `json:"incident_date"`
	IncidentPlace    string    `json:"incident_place"`
	Location         *Location `json:"location"`
	DeclarantComment string    `json:"declarant_comment"`
}

// Create stores a new declaration in the created state and assigns its number.
func (s *Service) Create(ctx context.Context, actor authz.Actor, req CreateRequest) (*Detail, error) {
	ctx, span := tracer.Start(ctx, "declaration.Create")
	defer span.End()

	now := requestcontext.Now(ctx)
	fields, err := s.parseFields(ctx, req)
	if err != nil {
		return nil, err
	}
	d, err := models.NewDeclaration(id.NewDeclarationID(), actor.UserID, fields, now)
	if err != nil {
		return nil, err
	}

	numero, err := s.numbers.Assign(ctx, numbering.Declaration, now, s.store, func(numero string) error {
		d.Numero = numero
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.store.Create(ctx, d)
		})
	})
	if err != nil {
		return nil, translate(err)
	}
	span.SetAttributes(attribute.String("numero", numero))

	if s.metrics != nil {
		s.metrics.IncCreated(string(d.Kind))
	}
	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionDeclarationCreated,
		DeclarationID: d.ID,
		ToStatus:      string(d.Status),
		Detail:        numero,
	})
	return s.detail(ctx, d), nil
}

// UpdateRequest replaces declarant fields; staff may also set the staff-only fields.
type UpdateRequest struct {
	CreateRequest
	Priority     *string `json:"priority"`
	Public       *bool   `json:"public"`
	AgentComment *string `json:"agent_comment"`
}

func (r UpdateRequest) touchesStaffFields() bool {
	return r.Priority != nil || r.Public != nil || r.AgentComment != nil
}

// Update edits a declaration: its declarant while it is created, or staff of
// its jurisdiction at any point before archiving.
func (s *Service) Update(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, req UpdateRequest) (*Detail, error) {
	ctx, span := tracer.Start(ctx, "declaration.Update")
	defer span.End()

	if req.touchesStaffFields() && !actor.Role.IsStaff() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only agents may set priority, visibility or the internal comment")
	}
	fields, err := s.parseFields(ctx, req.CreateRequest)
	if err != nil {
		return nil, err
	}
	var priority models.Priority
	if req.Priority != nil {
		if priority, err = models.ParsePriority(*req.Priority); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	d, err := s.store.Execute(ctx, declarationID,
		func(d *models.Declaration) error {
			if err := authz.Authorize(actor, authz.ActionEdit, d.Resource()); err != nil {
				return err
			}
			if d.Status == models.StatusArchived {
				return dErrors.New(dErrors.CodeInvalidTransition, "archived declarations cannot be edited")
			}
			// Staff may not move a declaration out of their own jurisdiction.
			if actor.Role == authz.RoleAgent && fields.StructureID != d.StructureID {
				return dErrors.New(dErrors.CodeForbidden, "agents cannot move a declaration to another structure")
			}
			return nil
		},
		func(d *models.Declaration) error {
			if err := d.ApplyFields(fields, now); err != nil {
				return err
			}
			if req.Priority != nil {
				d.Priority = priority
			}
			if req.Public != nil {
				d.Public = *req.Public
			}
			if req.AgentComment != nil {
				d.AgentComment = *req.AgentComment
			}
			return nil
		})
	if err != nil {
		return nil, translate(err)
	}

	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionDeclarationUpdated,
		DeclarationID: d.ID,
	})
	return s.detail(ctx, d), nil
}

// Delete hard-deletes a declaration. Only its declarant may, and only while created.
func (s *Service) Delete(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID) error {
	ctx, span := tracer.Start(ctx, "declaration.Delete")
	defer span.End()

	var photoKey string
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, declarationID, func(d *models.Declaration) error {
			if err := authz.Authorize(actor, authz.ActionDelete, d.Resource()); err != nil {
				return err
			}
			photoKey = d.PhotoKey
			return nil
		})
	})
	if err != nil {
		return translate(err)
	}
	if photoKey != "" && s.attachments != nil {
		s.attachments.Discard(ctx, photoKey)
	}
	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionDeclarationDeleted,
		DeclarationID: declarationID,
		FromStatus:    string(models.StatusCreated),
	})
	return nil
}

// Get returns a declaration the actor may view.
func (s *Service) Get(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID) (*Detail, error) {
	ctx, span := tracer.Start(ctx, "declaration.Get")
	defer span.End()

	d, err := s.store.FindByID(ctx, declarationID)
	if err != nil {
		return nil, translate(err)
	}
	if err := authz.Authorize(actor, authz.ActionView, d.Resource()); err != nil {
		return nil, err
	}
	return s.detail(ctx, d), nil
}

// Lookup loads a declaration without authorization, for other workflows.
func (s *Service) Lookup(ctx context.Context, declarationID id.DeclarationID) (*models.Declaration, error) {
	d, err := s.store.FindByID(ctx, declarationID)
	if err != nil {
		return nil, translate(err)
	}
	return d, nil
}

// LockForClaim reads the declaration and keeps it from changing status until
// the transaction carried by ctx ends, so a claim cannot land on a
// declaration being archived.
func (s *Service) LockForClaim(ctx context.Context, declarationID id.DeclarationID) (*models.Declaration, error) {
	d, err := s.store.FindForShare(ctx, declarationID)
	if err != nil {
		return nil, translate(err)
	}
	return d, nil
}

// ListMine returns the actor's own declarations, newest first.
func (s *Service) ListMine(ctx context.Context, actor authz.Actor) ([]*models.Declaration, error) {
	list, _, err := s.store.List(ctx, store.ListFilter{DeclarantID: actor.UserID})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list declarations")
	}
	return list, nil
}

// IDsInStructure lists the declarations of a structure that can carry claims.
func (s *Service) IDsInStructure(ctx context.Context, structureID id.StructureID) ([]id.DeclarationID, error) {
	claimable := []models.Status{
		models.StatusPublished, models.StatusClaimed, models.StatusUnderVerification,
		models.StatusRestituted, models.StatusArchived,
	}
	list, _, err := s.store.List(ctx, store.ListFilter{StructureIDs: []id.StructureID{structureID}, Statuses: claimable})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list declarations")
	}
	ids := make([]id.DeclarationID, len(list))
	for i, d := range list {
		ids[i] = d.ID
	}
	return ids, nil
}

// AgentFilter narrows the agent work queue.
type AgentFilter struct {
	Status   string
	Kind     string
	Query    string
	Page     int
	PageSize int
}

// ListForAgent returns the declarations of the agent's structure, or all of
// them for admins. An agent without a structure sees nothing.
func (s *Service) ListForAgent(ctx context.Context, actor authz.Actor, f AgentFilter) (*Page[*models.Declaration], error) {
	ctx, span := tracer.Start(ctx, "declaration.ListForAgent")
	defer span.End()

	pageNum, size := pageBounds(f.Page, f.PageSize)
	filter := store.ListFilter{Query: f.Query, Limit: size, Offset: (pageNum - 1) * size}
	switch actor.Role {
	case authz.RoleAdmin:
	case authz.RoleAgent:
		if actor.StructureID.IsNil() {
			return &Page[*models.Declaration]{Items: []*models.Declaration{}, Page: pageNum, PageSize: size}, nil
		}
		filter.StructureIDs = []id.StructureID{actor.StructureID}
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "only agents and admins may list the work queue")
	}
	if f.Status != "" {
		status, err := models.ParseStatus(f.Status)
		if err != nil {
			return nil, err
		}
		filter.Statuses = []models.Status{status}
	}
	if f.Kind != "" {
		kind, err := models.ParseKind(f.Kind)
		if err != nil {
			return nil, err
		}
		filter.Kind = kind
	}

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list declarations")
	}
	return newPage(items, total, pageNum, size), nil
}

// ListActions returns the ActionLog of a declaration to staff of its jurisdiction.
func (s *Service) ListActions(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID) ([]actionlog.Entry, error) {
	d, err := s.store.FindByID(ctx, declarationID)
	if err != nil {
		return nil, translate(err)
	}
	if err := authz.Authorize(actor, authz.ActionViewActions, d.Resource()); err != nil {
		return nil, err
	}
	entries, err := s.actions.ListForDeclaration(ctx, declarationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list actions")
	}
	return entries, nil
}

// SetPhoto stores a photo for the declaration and replaces the previous one.
func (s *Service) SetPhoto(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, up attachment.Upload) (*Detail, error) {
	ctx, span := tracer.Start(ctx, "declaration.SetPhoto")
	defer span.End()

	if s.attachments == nil {
		return nil, dErrors.New(dErrors.CodeDependencyFailure, "attachment storage is not configured")
	}
	current, err := s.store.FindByID(ctx, declarationID)
	if err != nil {
		return nil, translate(err)
	}
	if err := authz.Authorize(actor, authz.ActionEdit, current.Resource()); err != nil {
		return nil, err
	}

	obj, err := s.attachments.Save(ctx, attachment.ScopeDeclarationPhoto, up)
	if err != nil {
		return nil, err
	}

	var previous string
	d, err := s.store.Execute(ctx, declarationID,
		func(d *models.Declaration) error {
			return authz.Authorize(actor, authz.ActionEdit, d.Resource())
		},
		func(d *models.Declaration) error {
			previous = d.PhotoKey
			d.PhotoKey = obj.Key
			d.UpdatedAt = requestcontext.Now(ctx)
			return nil
		})
	if err != nil {
		s.attachments.Discard(ctx, obj.Key)
		return nil, translate(err)
	}
	if previous != "" {
		s.attachments.Discard(ctx, previous)
	}

	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionDeclarationPhoto,
		DeclarationID: d.ID,
		Detail:        obj.Key,
	})
	return s.detail(ctx, d), nil
}

func (s *Service) parseFields(ctx context.Context, req CreateRequest) (models.Fields, error) {
	kind, err := models.ParseKind(req.Kind)
	if err != nil {
		return models.Fields{}, err
	}
	structureID, err := id.ParseStructureID(req.StructureID)
	if err != nil {
		return models.Fields{}, dErrors.New(dErrors.CodeValidation, "structure_id must be a valid identifier")
	}
	if _, err := s.geo.GetStructure(ctx, structureID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return models.Fields{}, dErrors.New(dErrors.CodeValidation, "unknown structure")
		}
		return models.Fields{}, err
	}
	incidentDate, err := parseDate(req.IncidentDate)
	if err != nil {
		return models.Fields{}, err
	}
	var loc *models.Location
	if req.Location != nil {
		if loc, err = models.NewLocation(req.Location.Latitude, req.Location.Longitude); err != nil {
			return models.Fields{}, err
		}
	}
	return models.Fields{
		Kind:             kind,
		ObjectName:       req.ObjectName,
		Description:      req.Description,
		Category:         req.Category,
		StructureID:      structureID,
		IncidentDate:     incidentDate,
		IncidentPlace:    req.IncidentPlace,
		Location:         loc,
		DeclarantComment: req.DeclarantComment,
	}, nil
}

func (s *Service) detail(ctx context.Context, d *models.Declaration) *Detail {
	out := &Detail{Declaration: d}
	if j, err := s.geo.Resolve(ctx, d.StructureID); err == nil {
		out.Jurisdiction = j
	} else {
		s.logger.WarnContext(ctx, "failed to resolve jurisdiction", "structure_id", d.StructureID, "error", err)
	}
	out.PhotoURL = s.photoURL(ctx, d.PhotoKey)
	return out
}

func (s *Service) photoURL(ctx context.Context, key string) string {
	if key == "" || s.attachments == nil {
		return ""
	}
	url, err := s.attachments.URL(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to sign photo url", "key", key, "error", err)
		return ""
	}
	return url
}

// translate maps store sentinels onto domain errors and keeps domain errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomain(err):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "declaration not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "declaration already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "declaration store failure")
	}
}

func isDomain(err error) bool {
	_, ok := dErrors.As(err)
	return ok
}
