// Package service implements the claim workflow: submission on a published
// declaration, review and decision by staff of its jurisdiction, and the
// supporting documents attached along the way.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"togoretrouve/internal/actionlog"
	"togoretrouve/internal/attachment"
	dmodels "togoretrouve/internal/declaration/models"
	dservice "togoretrouve/internal/declaration/service"
	authz "togoretrouve/internal/identity/models"
	"togoretrouve/internal/notification"
	"togoretrouve/internal/numbering"
	"togoretrouve/internal/outbox"
	"togoretrouve/internal/reclamation/models"
	"togoretrouve/internal/reclamation/store"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/sentinel"
	txcontext "togoretrouve/pkg/platform/tx"
	"togoretrouve/pkg/requestcontext"
)

var tracer = otel.Tracer("togoretrouve/reclamation")

type Store interface {
	Create(ctx context.Context, r *models.Reclamation) error
	FindByID(ctx context.Context, reclamationID id.ReclamationID) (*models.Reclamation, error)
	Execute(ctx context.Context, reclamationID id.ReclamationID, mutate func(*models.Reclamation) error) (*models.Reclamation, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.Reclamation, error)
	MaxSequence(ctx context.Context, series string) (int64, error)
	AddDocument(ctx context.Context, d *models.Document) error
	ListDocuments(ctx context.Context, reclamationID id.ReclamationID) ([]*models.Document, error)
	VerifyDocument(ctx context.Context, reclamationID id.ReclamationID, documentID id.DocumentID, by id.UserID) (*models.Document, bool, error)
}

// Declarations is the part of the declaration lifecycle claims drive.
type Declarations interface {
	Lookup(ctx context.Context, declarationID id.DeclarationID) (*dmodels.Declaration, error)
	LockForClaim(ctx context.Context, declarationID id.DeclarationID) (*dmodels.Declaration, error)
	AdvanceForClaim(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, targets ...dmodels.Status) (*dmodels.Declaration, []dservice.Step, error)
	RecordClaimSteps(ctx context.Context, actor authz.Actor, d *dmodels.Declaration, reclamationID id.ReclamationID, steps []dservice.Step)
	IDsInStructure(ctx context.Context, structureID id.StructureID) ([]id.DeclarationID, error)
}

// StaffDirectory finds who to tell about a new claim.
type StaffDirectory interface {
	StaffForStructure(ctx context.Context, structureID id.StructureID) ([]*authz.User, error)
}

type ActionRecorder interface {
	Record(ctx context.Context, entry actionlog.Entry)
	ListForReclamation(ctx context.Context, reclamationID id.ReclamationID) ([]actionlog.Entry, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notification.Request)
}

type Attachments interface {
	Save(ctx context.Context, scope attachment.Scope, up attachment.Upload) (*attachment.Object, error)
	URL(ctx context.Context, key string) (string, error)
	Discard(ctx context.Context, key string)
}

// Service owns claims.
type Service struct {
	store        Store
	tx           txcontext.Runner
	numbers      *numbering.Generator
	declarations Declarations
	staff        StaffDirectory
	actions      ActionRecorder
	notifier     Notifier
	outbox       outbox.Writer
	attachments  Attachments
	metrics      *Metrics
	logger       *slog.Logger
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

func New(
	st Store,
	runner txcontext.Runner,
	numbers *numbering.Generator,
	declarations Declarations,
	staff StaffDirectory,
	actions ActionRecorder,
	notifier Notifier,
	events outbox.Writer,
	opts ...Option,
) *Service {
	s := &Service{
		store:        st,
		tx:           runner,
		numbers:      numbers,
		declarations: declarations,
		staff:        staff,
		actions:      actions,
		notifier:     notifier,
		outbox:       events,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest is the claim form.
type SubmitRequest struct {
	Justification string `json:"justification"`
	ContactPhone  string `json:"telephone_contact"`
	ContactEmail  string `json:"email_contact"`
}

// DocumentUpload is a supporting file sent with a claim or attached later.
type DocumentUpload struct {
	Kind        string
	Description string
	attachment.Upload
}

// Submit files a claim on a published declaration. The declaration stays
// published until staff start reviewing the claim.
func (s *Service) Submit(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, req SubmitRequest, uploads ...DocumentUpload) (*models.Reclamation, error) {
	ctx, span := tracer.Start(ctx, "reclamation.Submit")
	defer span.End()

	if actor.Role != authz.RoleCitizen {
		return nil, dErrors.New(dErrors.CodeForbidden, "only citizens may claim an object")
	}
	now := requestcontext.Now(ctx)
	r, err := models.NewReclamation(id.NewReclamationID(), declarationID, actor.UserID, models.Contact{
		Justification: req.Justification,
		Phone:         req.ContactPhone,
		Email:         req.ContactEmail,
	}, now)
	if err != nil {
		return nil, err
	}
	d, err := s.declarations.Lookup(ctx, declarationID)
	if err != nil {
		return nil, err
	}
	if err := eligible(actor, d); err != nil {
		return nil, err
	}

	docs, err := s.storeUploads(ctx, r.ID, uploads, now)
	if err != nil {
		return nil, err
	}

	numero, err := s.numbers.Assign(ctx, numbering.Reclamation, now, s.store, func(numero string) error {
		r.Numero = numero
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			current, err := s.declarations.LockForClaim(ctx, declarationID)
			if err != nil {
				return err
			}
			if err := eligible(actor, current); err != nil {
				return err
			}
			if err := s.store.Create(ctx, r); err != nil {
				return err
			}
			for _, doc := range docs {
				if err := s.store.AddDocument(ctx, doc); err != nil {
					return err
				}
			}
			return s.appendStatusChanged(ctx, actor, r, "")
		})
	})
	if err != nil {
		for _, doc := range docs {
			s.discard(ctx, doc.ObjectKey)
		}
		return nil, translate(err)
	}
	span.SetAttributes(attribute.String("numero", numero))
	r.Documents = docs

	if s.metrics != nil {
		s.metrics.Submitted.Inc()
	}
	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionClaimSubmitted,
		DeclarationID: d.ID,
		ReclamationID: r.ID,
		ToStatus:      string(r.Status),
		Detail:        numero,
	})
	s.notifyStaff(ctx, d, r, notification.KindClaimReceived, "Nouvelle réclamation",
		fmt.Sprintf("La réclamation %s a été déposée sur la déclaration %s.", r.Numero, d.Numero))
	return s.withDocuments(ctx, r), nil
}

func eligible(actor authz.Actor, d *dmodels.Declaration) error {
	if d.DeclarantID == actor.UserID {
		return dErrors.New(dErrors.CodeForbidden, "you cannot claim your own declaration")
	}
	if d.Status != dmodels.StatusPublished {
		return dErrors.New(dErrors.CodeNotEligible, "declaration is not open to claims")
	}
	return nil
}

// Withdraw lets the claimant drop a claim that is not yet under review.
func (s *Service) Withdraw(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID) (*models.Reclamation, error) {
	ctx, span := tracer.Start(ctx, "reclamation.Withdraw")
	defer span.End()

	var (
		d    *dmodels.Declaration
		from models.Status
	)
	now := requestcontext.Now(ctx)
	r, err := s.mutate(ctx, actor, reclamationID, authz.ActionWithdraw, func(r *models.Reclamation, decl *dmodels.Declaration) error {
		d = decl
		from = r.Status
		return r.Withdraw(now)
	})
	if err != nil {
		s.recordFailure(ctx, actor, reclamationID, actionlog.ActionClaimWithdrawn, from, models.StatusWithdrawn, err)
		return nil, err
	}

	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionClaimWithdrawn,
		DeclarationID: r.DeclarationID,
		ReclamationID: r.ID,
		FromStatus:    string(from),
		ToStatus:      string(r.Status),
	})
	if s.metrics != nil {
		s.metrics.IncDecision(string(r.Status))
	}
	s.notifyStaff(ctx, d, r, notification.KindClaimWithdrawn, "Réclamation retirée",
		fmt.Sprintf("La réclamation %s a été retirée par son auteur.", r.Numero))
	return r, nil
}

// mutate authorizes action against the claim and its declaration, then applies
// fn to the locked claim inside a transaction. fn sees the declaration as it
// stood at the start of the transaction.
func (s *Service) mutate(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID, action authz.Action, fn func(*models.Reclamation, *dmodels.Declaration) error) (*models.Reclamation, error) {
	var out *models.Reclamation
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, d, err := s.load(ctx, actor, reclamationID, action)
		if err != nil {
			return err
		}
		cp := *current
		if err := fn(&cp, d); err != nil {
			return err
		}
		out, err = s.store.Execute(ctx, reclamationID, func(r *models.Reclamation) error {
			return fn(r, d)
		})
		if err != nil {
			return err
		}
		return s.appendStatusChanged(ctx, actor, out, current.Status)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// load returns a claim and its declaration once actor may perform action on it.
func (s *Service) load(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID, action authz.Action) (*models.Reclamation, *dmodels.Declaration, error) {
	r, err := s.store.FindByID(ctx, reclamationID)
	if err != nil {
		return nil, nil, translate(err)
	}
	d, err := s.declarations.Lookup(ctx, r.DeclarationID)
	if err != nil {
		return nil, nil, err
	}
	if err := authz.Authorize(actor, action, resource(r, d)); err != nil {
		return nil, nil, err
	}
	return r, d, nil
}

func resource(r *models.Reclamation, d *dmodels.Declaration) authz.Resource {
	return authz.Resource{StructureID: d.StructureID, OwnerID: r.ClaimantID}
}

// Get returns a claim with its documents.
func (s *Service) Get(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID) (*models.Reclamation, error) {
	r, _, err := s.load(ctx, actor, reclamationID, authz.ActionView)
	if err != nil {
		return nil, err
	}
	return s.withDocuments(ctx, r), nil
}

// ListMine returns the actor's claims, newest first.
func (s *Service) ListMine(ctx context.Context, actor authz.Actor) ([]*models.Reclamation, error) {
	list, err := s.store.List(ctx, store.ListFilter{ClaimantID: actor.UserID})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}
	return list, nil
}

// ListForAgent returns the claims on declarations of the agent's structure,
// or every claim for admins.
func (s *Service) ListForAgent(ctx context.Context, actor authz.Actor, status string) ([]*models.Reclamation, error) {
	ctx, span := tracer.Start(ctx, "reclamation.ListForAgent")
	defer span.End()

	var filter store.ListFilter
	if status != "" {
		st, err := models.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Statuses = []models.Status{st}
	}
	switch actor.Role {
	case authz.RoleAdmin:
	case authz.RoleAgent:
		if actor.StructureID.IsNil() {
			return []*models.Reclamation{}, nil
		}
		ids, err := s.declarations.IDsInStructure(ctx, actor.StructureID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []*models.Reclamation{}, nil
		}
		filter.DeclarationIDs = ids
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "only agents and admins may list the claim queue")
	}
	list, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}
	if list == nil {
		list = []*models.Reclamation{}
	}
	return list, nil
}

// ListActions returns the ActionLog of a claim to staff of its jurisdiction.
func (s *Service) ListActions(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID) ([]actionlog.Entry, error) {
	if _, _, err := s.load(ctx, actor, reclamationID, authz.ActionViewActions); err != nil {
		return nil, err
	}
	entries, err := s.actions.ListForReclamation(ctx, reclamationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list actions")
	}
	return entries, nil
}

func (s *Service) withDocuments(ctx context.Context, r *models.Reclamation) *models.Reclamation {
	docs, err := s.store.ListDocuments(ctx, r.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list claim documents", "reclamation_id", r.ID, "error", err)
		return r
	}
	for _, doc := range docs {
		doc.URL = s.documentURL(ctx, doc.ObjectKey)
	}
	r.Documents = docs
	return r
}

func (s *Service) documentURL(ctx context.Context, key string) string {
	if s.attachments == nil {
		return ""
	}
	url, err := s.attachments.URL(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to sign document url", "key", key, "error", err)
		return ""
	}
	return url
}

func (s *Service) discard(ctx context.Context, key string) {
	if s.attachments != nil {
		s.attachments.Discard(ctx, key)
	}
}

// translate maps store sentinels onto domain errors and keeps domain errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomain(err):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "claim not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeDuplicateClaim, "you already claimed this declaration")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "claim store failure")
	}
}

func isDomain(err error) bool {
	_, ok := dErrors.As(err)
	return ok
}
