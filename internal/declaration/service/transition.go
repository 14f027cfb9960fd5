package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"togoretrouve/internal/actionlog"
	"togoretrouve/internal/declaration/models"
	authz "togoretrouve/internal/identity/models"
	"togoretrouve/internal/notification"
	"togoretrouve/internal/outbox"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/requestcontext"
)

// TransitionRequest asks to move a declaration to Target.
type TransitionRequest struct {
	Target  string `json:"target"`
	Comment string `json:"comment"`
}

// StatusChanged is the payload of the declaration.status_changed outbox event.
type StatusChanged struct {
	DeclarationID id.DeclarationID `json:"declaration_id"`
	Numero        string           `json:"numero"`
	From          models.Status    `json:"from"`
	To            models.Status    `json:"to"`
	ActorID       id.UserID        `json:"actor_id"`
	At            time.Time        `json:"at"`
}

// Step is one applied lifecycle edge.
type Step struct {
	From models.Status
	To   models.Status
}

// Transition applies a manual lifecycle edge. Authorization is checked before
// the lifecycle, so a caller without rights gets forbidden whatever the state.
// Failed attempts on an existing declaration are still logged.
func (s *Service) Transition(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, req TransitionRequest) (*Detail, error) {
	ctx, span := tracer.Start(ctx, "declaration.Transition")
	defer span.End()
	span.SetAttributes(attribute.String("target", req.Target))

	target, err := models.ParseStatus(req.Target)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var (
		from models.Status
		d    *models.Declaration
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.store.Execute(ctx, declarationID,
			func(d *models.Declaration) error {
				from = d.Status
				return s.checkManualTransition(ctx, actor, d, target)
			},
			func(d *models.Declaration) error {
				d.ApplyTransition(target, actor.UserID, req.Comment, now)
				return nil
			})
		if err != nil {
			return err
		}
		return s.appendStatusChanged(ctx, actor, d, Step{From: from, To: d.Status})
	})
	if err != nil {
		err = translate(err)
		if from != "" {
			s.recordTransition(ctx, actor, declarationID, Step{From: from, To: target}, err)
		}
		return nil, err
	}

	s.recordTransition(ctx, actor, declarationID, Step{From: from, To: target}, nil)
	s.notifyDeclarant(ctx, d, Step{From: from, To: target})
	return s.detail(ctx, d), nil
}

func (s *Service) checkManualTransition(ctx context.Context, actor authz.Actor, d *models.Declaration, target models.Status) error {
	action := authz.ActionTransition
	if target == models.StatusArchived {
		action = authz.ActionArchive
	}
	if err := authz.Authorize(actor, action, d.Resource()); err != nil {
		return err
	}
	driver, err := models.CanTransition(d.Status, target)
	if err != nil {
		return err
	}
	if driver == models.DriverClaim {
		return dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("cannot move declaration from %s to %s directly: it follows the claim review", d.Status, target))
	}
	if target == models.StatusArchived && d.Status == models.StatusPublished && s.claims != nil {
		pending, err := s.claims.HasPendingClaims(ctx, d.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check pending claims")
		}
		if pending {
			return dErrors.New(dErrors.CodeInvariantViolation, "declaration has pending claims and cannot be archived")
		}
	}
	return nil
}

// AdvanceForClaim applies claim-driven edges in order, inside the transaction
// carried by ctx. Callers record the returned steps with RecordClaimSteps once
// their transaction commits.
func (s *Service) AdvanceForClaim(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, targets ...models.Status) (*models.Declaration, []Step, error) {
	ctx, span := tracer.Start(ctx, "declaration.AdvanceForClaim")
	defer span.End()

	now := requestcontext.Now(ctx)
	var steps []Step
	d, err := s.store.Execute(ctx, declarationID,
		func(d *models.Declaration) error {
			current := d.Status
			for _, target := range targets {
				driver, err := models.CanTransition(current, target)
				if err != nil {
					return err
				}
				if driver != models.DriverClaim {
					return models.InvalidTransition(current, target)
				}
				current = target
			}
			return nil
		},
		func(d *models.Declaration) error {
			steps = steps[:0]
			for _, target := range targets {
				steps = append(steps, Step{From: d.Status, To: target})
				d.ApplyTransition(target, actor.UserID, "", now)
			}
			return nil
		})
	if err != nil {
		return nil, nil, translate(err)
	}
	for _, step := range steps {
		if err := s.appendStatusChanged(ctx, actor, d, step); err != nil {
			return nil, nil, err
		}
	}
	return d, steps, nil
}

// RecordClaimSteps logs committed claim-driven edges and notifies the declarant.
func (s *Service) RecordClaimSteps(ctx context.Context, actor authz.Actor, d *models.Declaration, reclamationID id.ReclamationID, steps []Step) {
	for _, step := range steps {
		if s.metrics != nil {
			s.metrics.IncTransition(string(step.From), string(step.To), string(actionlog.OutcomeSucceeded))
		}
		s.actions.Record(ctx, actionlog.Entry{
			ActorID:       actor.UserID,
			Action:        actionlog.ActionDeclarationTransition,
			DeclarationID: d.ID,
			ReclamationID: reclamationID,
			FromStatus:    string(step.From),
			ToStatus:      string(step.To),
		})
		s.notifyDeclarant(ctx, d, step)
	}
}

func (s *Service) appendStatusChanged(ctx context.Context, actor authz.Actor, d *models.Declaration, step Step) error {
	ev, err := outbox.NewEvent(outbox.AggregateDeclaration, d.ID.String(), outbox.EventDeclarationStatusChanged, StatusChanged{
		DeclarationID: d.ID,
		Numero:        d.Numero,
		From:          step.From,
		To:            step.To,
		ActorID:       actor.UserID,
		At:            requestcontext.Now(ctx),
	}, requestcontext.Now(ctx))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode status event")
	}
	if err := s.outbox.Append(ctx, ev); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write status event")
	}
	return nil
}

func (s *Service) recordTransition(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, step Step, err error) {
	entry := actionlog.Entry{
		ActorID:       actor.UserID,
		Action:        actionlog.ActionDeclarationTransition,
		DeclarationID: declarationID,
		FromStatus:    string(step.From),
		ToStatus:      string(step.To),
		Outcome:       actionlog.OutcomeSucceeded,
	}
	if err != nil {
		entry.Outcome = actionlog.OutcomeFailed
		entry.Detail = err.Error()
	}
	if s.metrics != nil {
		s.metrics.IncTransition(entry.FromStatus, entry.ToStatus, string(entry.Outcome))
	}
	s.actions.Record(ctx, entry)
}

type notice struct {
	kind      notification.Kind
	title     string
	message   string
	important bool
}

var (
	validatedNotice  = notice{notification.KindDeclarationValidated, "Déclaration validée", "Votre déclaration %s a été validée par un agent.", false}
	rejectedNotice   = notice{notification.KindDeclarationRejected, "Déclaration rejetée", "Votre déclaration %s a été rejetée.", true}
	publishedNotice  = notice{notification.KindDeclarationPublished, "Déclaration publiée", "Votre déclaration %s est désormais visible publiquement.", false}
	archivedNotice   = notice{notification.KindDeclarationArchived, "Déclaration archivée", "Votre déclaration %s a été archivée.", false}
	restitutedNotice = notice{notification.KindObjectRestituted, "Objet restitué", "L'objet de votre déclaration %s a été restitué.", true}
)

// declarantNotices is keyed by edge: a declaration going back to published
// after a rejected claim is not a new publication.
var declarantNotices = map[Step]notice{
	{models.StatusCreated, models.StatusValidated}:            validatedNotice,
	{models.StatusCreated, models.StatusRejected}:             rejectedNotice,
	{models.StatusValidated, models.StatusRejected}:           rejectedNotice,
	{models.StatusValidated, models.StatusPublished}:          publishedNotice,
	{models.StatusPublished, models.StatusArchived}:           archivedNotice,
	{models.StatusRestituted, models.StatusArchived}:          archivedNotice,
	{models.StatusUnderVerification, models.StatusRestituted}: restitutedNotice,
}

func (s *Service) notifyDeclarant(ctx context.Context, d *models.Declaration, step Step) {
	n, ok := declarantNotices[step]
	if !ok {
		return
	}
	s.notifier.Notify(ctx, notification.Request{
		RecipientID:   d.DeclarantID,
		Kind:          n.kind,
		Title:         n.title,
		Message:       fmt.Sprintf(n.message, d.Numero),
		DeclarationID: d.ID,
		Link:          "/declarations/" + d.ID.String(),
		Important:     n.important,
	})
}
