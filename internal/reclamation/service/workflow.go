package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"togoretrouve/internal/actionlog"
	"togoretrouve/internal/attachment"
	dmodels "togoretrouve/internal/declaration/models"
	dservice "togoretrouve/internal/declaration/service"
	authz "togoretrouve/internal/identity/models"
	"togoretrouve/internal/notification"
	"togoretrouve/internal/outbox"
	"togoretrouve/internal/reclamation/models"
	"togoretrouve/internal/reclamation/store"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/sentinel"
	"togoretrouve/pkg/requestcontext"
)

// StatusChanged is the payload of the reclamation.status_changed outbox event.
// From is empty for a new claim.
type StatusChanged struct {
	ReclamationID id.ReclamationID `json:"reclamation_id"`
	Numero        string           `json:"numero"`
	DeclarationID id.DeclarationID `json:"declaration_id"`
	From          models.Status    `json:"from,omitempty"`
	To            models.Status    `json:"to"`
	ActorID       id.UserID        `json:"actor_id"`
	At            time.Time        `json:"at"`
}

// DecisionRequest closes a claim. Motif is required to reject.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Motif    string `json:"motif"`
	Comment  string `json:"comment"`
}

// outcome collects what a review transaction changed, for the side effects
// that run after it commits.
type outcome struct {
	from        models.Status
	reviewed    bool
	claim       *models.Reclamation
	declaration *dmodels.Declaration
	steps       []dservice.Step
	closed      []*models.Reclamation
}

// StartReview takes a submitted claim under review. Its declaration moves from
// published through claimed to under_verification, so only one claim per
// declaration is reviewed at a time.
func (s *Service) StartReview(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID) (*models.Reclamation, error) {
	ctx, span := tracer.Start(ctx, "reclamation.StartReview")
	defer span.End()

	now := requestcontext.Now(ctx)
	var out outcome
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, d, err := s.load(ctx, actor, reclamationID, authz.ActionReviewClaim)
		if err != nil {
			return err
		}
		out.from = r.Status
		cp := *r
		if err := cp.StartReview(actor.UserID, now); err != nil {
			return err
		}
		return s.startReview(ctx, actor, r, d, now, &out)
	})
	if err != nil {
		err = translate(err)
		s.recordFailure(ctx, actor, reclamationID, actionlog.ActionClaimReview, out.from, models.StatusUnderReview, err)
		return nil, err
	}
	s.afterReview(ctx, actor, &out)
	return s.withDocuments(ctx, out.claim), nil
}

func (s *Service) startReview(ctx context.Context, actor authz.Actor, r *models.Reclamation, d *dmodels.Declaration, now time.Time, out *outcome) error {
	if d.Status != dmodels.StatusPublished {
		return dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("declaration %s is %s: another claim is already under review or it is closed", d.Numero, d.Status))
	}
	decl, steps, err := s.declarations.AdvanceForClaim(ctx, actor, d.ID, dmodels.StatusClaimed, dmodels.StatusUnderVerification)
	if err != nil {
		return err
	}
	claim, err := s.store.Execute(ctx, r.ID, func(r *models.Reclamation) error {
		return r.StartReview(actor.UserID, now)
	})
	if err != nil {
		return err
	}
	out.reviewed = true
	out.claim = claim
	out.declaration = decl
	out.steps = append(out.steps, steps...)
	return s.appendStatusChanged(ctx, actor, claim, models.StatusSubmitted)
}

func (s *Service) afterReview(ctx context.Context, actor authz.Actor, out *outcome) {
	s.declarations.RecordClaimSteps(ctx, actor, out.declaration, out.claim.ID, out.steps)
	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionClaimReview,
		DeclarationID: out.claim.DeclarationID,
		ReclamationID: out.claim.ID,
		FromStatus:    string(models.StatusSubmitted),
		ToStatus:      string(models.StatusUnderReview),
	})
	s.notifyClaimant(ctx, out.claim, notification.KindClaimUnderReview, "Réclamation en cours d'examen",
		fmt.Sprintf("Votre réclamation %s est en cours d'examen par un agent.", out.claim.Numero), false)
}

// Decide approves or rejects a claim, starting the review first when the claim
// is still submitted. Approval restitutes the declaration and rejects every
// other pending claim on it; rejection returns the declaration to published.
func (s *Service) Decide(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID, req DecisionRequest) (*models.Reclamation, error) {
	ctx, span := tracer.Start(ctx, "reclamation.Decide")
	defer span.End()

	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		return nil, err
	}
	if decision == models.DecisionReject && strings.TrimSpace(req.Motif) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a rejection motif is required")
	}
	target, declarationTarget := models.StatusApproved, dmodels.StatusRestituted
	if decision == models.DecisionReject {
		target, declarationTarget = models.StatusRejected, dmodels.StatusPublished
	}

	now := requestcontext.Now(ctx)
	apply := func(r *models.Reclamation) error {
		if decision == models.DecisionApprove {
			return r.Approve(actor.UserID, req.Comment, now)
		}
		return r.Reject(actor.UserID, req.Motif, req.Comment, now)
	}

	var out outcome
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, d, err := s.load(ctx, actor, reclamationID, authz.ActionReviewClaim)
		if err != nil {
			return err
		}
		out.from = r.Status

		// Dry run so nothing is written when the decision cannot apply.
		cp := *r
		if cp.Status == models.StatusSubmitted {
			if err := cp.StartReview(actor.UserID, now); err != nil {
				return err
			}
		}
		if err := apply(&cp); err != nil {
			return err
		}

		if r.Status == models.StatusSubmitted {
			if err := s.startReview(ctx, actor, r, d, now, &out); err != nil {
				return err
			}
		}
		decl, steps, err := s.declarations.AdvanceForClaim(ctx, actor, r.DeclarationID, declarationTarget)
		if err != nil {
			return err
		}
		out.declaration = decl
		out.steps = append(out.steps, steps...)

		claim, err := s.store.Execute(ctx, r.ID, apply)
		if err != nil {
			return err
		}
		out.claim = claim
		if err := s.appendStatusChanged(ctx, actor, claim, models.StatusUnderReview); err != nil {
			return err
		}
		if decision == models.DecisionApprove {
			return s.closeSiblings(ctx, actor, claim, now, &out)
		}
		return nil
	})
	if err != nil {
		err = translate(err)
		s.recordFailure(ctx, actor, reclamationID, actionlog.ActionClaimDecision, out.from, target, err)
		return nil, err
	}

	if out.reviewed {
		s.actions.Record(ctx, actionlog.Entry{
			ActorID:       actor.UserID,
			Action:        actionlog.ActionClaimReview,
			DeclarationID: out.claim.DeclarationID,
			ReclamationID: out.claim.ID,
			FromStatus:    string(models.StatusSubmitted),
			ToStatus:      string(models.StatusUnderReview),
		})
	}
	s.declarations.RecordClaimSteps(ctx, actor, out.declaration, out.claim.ID, out.steps)
	s.recordDecision(ctx, actor, out.claim)
	for _, closed := range out.closed {
		s.recordDecision(ctx, actor, closed)
	}
	return s.withDocuments(ctx, out.claim), nil
}

func (s *Service) closeSiblings(ctx context.Context, actor authz.Actor, approved *models.Reclamation, now time.Time, out *outcome) error {
	pending, err := s.store.List(ctx, store.ListFilter{
		DeclarationIDs: []id.DeclarationID{approved.DeclarationID},
		Statuses:       []models.Status{models.StatusSubmitted, models.StatusUnderReview},
	})
	if err != nil {
		return err
	}
	for _, sibling := range pending {
		if sibling.ID == approved.ID {
			continue
		}
		closed, err := s.store.Execute(ctx, sibling.ID, func(r *models.Reclamation) error {
			return r.Close(actor.UserID, now)
		})
		if err != nil {
			return err
		}
		if err := s.appendStatusChanged(ctx, actor, closed, sibling.Status); err != nil {
			return err
		}
		out.closed = append(out.closed, closed)
	}
	return nil
}

func (s *Service) recordDecision(ctx context.Context, actor authz.Actor, r *models.Reclamation) {
	if s.metrics != nil {
		s.metrics.IncDecision(string(r.Status))
	}
	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionClaimDecision,
		DeclarationID: r.DeclarationID,
		ReclamationID: r.ID,
		FromStatus:    string(models.StatusUnderReview),
		ToStatus:      string(r.Status),
		Detail:        r.Motif,
	})
	if r.Status == models.StatusApproved {
		s.notifyClaimant(ctx, r, notification.KindClaimApproved, "Réclamation approuvée",
			fmt.Sprintf("Votre réclamation %s a été approuvée. Présentez-vous à la structure pour récupérer l'objet.", r.Numero), true)
		return
	}
	s.notifyClaimant(ctx, r, notification.KindClaimRejected, "Réclamation rejetée",
		fmt.Sprintf("Votre réclamation %s a été rejetée : %s", r.Numero, r.Motif), true)
}

// AttachDocument stores a supporting file. The claimant may attach while the
// claim is pending; staff of the jurisdiction until it is withdrawn.
func (s *Service) AttachDocument(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID, up DocumentUpload) (*models.Document, error) {
	ctx, span := tracer.Start(ctx, "reclamation.AttachDocument")
	defer span.End()

	r, _, err := s.load(ctx, actor, reclamationID, authz.ActionAttach)
	if err != nil {
		return nil, err
	}
	switch {
	case r.Status == models.StatusWithdrawn:
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "claim was withdrawn")
	case actor.UserID == r.ClaimantID && !r.Status.IsPending():
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "documents can only be added while the claim is pending")
	}

	docs, err := s.storeUploads(ctx, r.ID, []DocumentUpload{up}, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	doc := docs[0]
	if err := s.store.AddDocument(ctx, doc); err != nil {
		s.discard(ctx, doc.ObjectKey)
		return nil, translate(err)
	}

	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionDocumentAttached,
		DeclarationID: r.DeclarationID,
		ReclamationID: r.ID,
		Detail:        string(doc.Kind),
	})
	doc.URL = s.documentURL(ctx, doc.ObjectKey)
	return doc, nil
}

// VerifyDocument marks a supporting document checked. Verifying twice is a no-op.
func (s *Service) VerifyDocument(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID, documentID id.DocumentID) (*models.Document, error) {
	r, _, err := s.load(ctx, actor, reclamationID, authz.ActionVerifyDocument)
	if err != nil {
		return nil, err
	}
	doc, changed, err := s.store.VerifyDocument(ctx, reclamationID, documentID, actor.UserID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	if err != nil {
		return nil, translate(err)
	}
	if changed {
		s.actions.Record(ctx, actionlog.Entry{
			ActorID:       actor.UserID,
			Action:        actionlog.ActionDocumentVerified,
			DeclarationID: r.DeclarationID,
			ReclamationID: r.ID,
			Detail:        documentID.String(),
		})
	}
	doc.URL = s.documentURL(ctx, doc.ObjectKey)
	return doc, nil
}

// storeUploads validates every document type before saving any file, and
// removes the saved files again when a later one fails.
func (s *Service) storeUploads(ctx context.Context, reclamationID id.ReclamationID, uploads []DocumentUpload, now time.Time) ([]*models.Document, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if s.attachments == nil {
		return nil, dErrors.New(dErrors.CodeDependencyFailure, "attachment storage is not configured")
	}
	kinds := make([]models.DocumentKind, len(uploads))
	for i, up := range uploads {
		kind, err := models.ParseDocumentKind(up.Kind)
		if err != nil {
			return nil, err
		}
		kinds[i] = kind
	}

	docs := make([]*models.Document, 0, len(uploads))
	fail := func(err error) ([]*models.Document, error) {
		for _, doc := range docs {
			s.discard(ctx, doc.ObjectKey)
		}
		return nil, err
	}
	for i, up := range uploads {
		obj, err := s.attachments.Save(ctx, attachment.ScopeClaimDocument, up.Upload)
		if err != nil {
			return fail(err)
		}
		doc, err := models.NewDocument(reclamationID, kinds[i], up.Description, obj.Key, obj.ContentType, obj.Size, now)
		if err != nil {
			s.discard(ctx, obj.Key)
			return fail(err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Service) appendStatusChanged(ctx context.Context, actor authz.Actor, r *models.Reclamation, from models.Status) error {
	now := requestcontext.Now(ctx)
	ev, err := outbox.NewEvent(outbox.AggregateReclamation, r.ID.String(), outbox.EventReclamationStatusChanged, StatusChanged{
		ReclamationID: r.ID,
		Numero:        r.Numero,
		DeclarationID: r.DeclarationID,
		From:          from,
		To:            r.Status,
		ActorID:       actor.UserID,
		At:            now,
	}, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode claim event")
	}
	if err := s.outbox.Append(ctx, ev); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write claim event")
	}
	return nil
}

// recordFailure logs a refused state change on an existing claim.
func (s *Service) recordFailure(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID, action actionlog.Action, from, to models.Status, err error) {
	if from == "" {
		return
	}
	s.actions.Record(ctx, actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        action,
		ReclamationID: reclamationID,
		FromStatus:    string(from),
		ToStatus:      string(to),
		Outcome:       actionlog.OutcomeFailed,
		Detail:        err.Error(),
	})
}

func (s *Service) notifyClaimant(ctx context.Context, r *models.Reclamation, kind notification.Kind, title, message string, important bool) {
	s.notifier.Notify(ctx, notification.Request{
		RecipientID:   r.ClaimantID,
		Kind:          kind,
		Title:         title,
		Message:       message,
		DeclarationID: r.DeclarationID,
		ReclamationID: r.ID,
		Link:          "/claims/" + r.ID.String(),
		Important:     important,
	})
}

// notifyStaff tells every agent and admin of the declaration's structure.
func (s *Service) notifyStaff(ctx context.Context, d *dmodels.Declaration, r *models.Reclamation, kind notification.Kind, title, message string) {
	staff, err := s.staff.StaffForStructure(ctx, d.StructureID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list staff to notify",
			"structure_id", d.StructureID,
			"reclamation_id", r.ID,
			"error", err,
		)
		return
	}
	for _, u := range staff {
		s.notifier.Notify(ctx, notification.Request{
			RecipientID:   u.ID,
			Kind:          kind,
			Title:         title,
			Message:       message,
			DeclarationID: d.ID,
			ReclamationID: r.ID,
			Link:          "/claims/" + r.ID.String(),
		})
	}
}
