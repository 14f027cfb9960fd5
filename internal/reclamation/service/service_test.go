package service_test

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks StaffDirectory,Notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"togoretrouve/internal/actionlog"
	"togoretrouve/internal/attachment"
	dmodels "togoretrouve/internal/declaration/models"
	dservice "togoretrouve/internal/declaration/service"
	dstore "togoretrouve/internal/declaration/store"
	"togoretrouve/internal/geo"
	authz "togoretrouve/internal/identity/models"
	"togoretrouve/internal/notification"
	"togoretrouve/internal/numbering"
	"togoretrouve/internal/outbox"
	"togoretrouve/internal/platform/logger"
	"togoretrouve/internal/reclamation/models"
	"togoretrouve/internal/reclamation/service"
	"togoretrouve/internal/reclamation/service/mocks"
	"togoretrouve/internal/reclamation/store"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	txcontext "togoretrouve/pkg/platform/tx"
	"togoretrouve/pkg/testutil"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// notices collects notifications sent by either service.
type notices struct {
	mu   sync.Mutex
	sent []notification.Request
}

func (n *notices) Notify(_ context.Context, req notification.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req)
}

func (n *notices) kindsFor(recipient id.UserID) []notification.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification.Kind
	for _, req := range n.sent {
		if req.RecipientID == recipient {
			out = append(out, req.Kind)
		}
	}
	return out
}

type ClaimServiceSuite struct {
	suite.Suite
	ctrl         *gomock.Controller
	staff        *mocks.MockStaffDirectory
	notices      *notices
	claims       *store.InMemory
	actions      *actionlog.InMemoryStore
	events       *outbox.MemoryStore
	declarations *dservice.Service
	service      *service.Service

	structureA  geo.Structure
	declarant   authz.Actor
	claimant    authz.Actor
	claimant2   authz.Actor
	agentA      authz.Actor
	agentB      authz.Actor
	admin       authz.Actor
	declaration *dservice.Detail
}

func TestClaimServiceSuite(t *testing.T) {
	suite.Run(t, new(ClaimServiceSuite))
}

func (s *ClaimServiceSuite) SetupTest() {
	ctx := testutil.Context()
	s.ctrl = gomock.NewController(s.T())
	s.staff = mocks.NewMockStaffDirectory(s.ctrl)
	s.notices = &notices{}
	s.claims = store.NewInMemory()
	s.actions = actionlog.NewInMemoryStore()
	s.events = outbox.NewMemoryStore()

	registry := geo.NewInMemory()
	s.Require().NoError(geo.Seed(ctx, registry))
	_, _, structures := geo.SeedData()
	s.structureA = structures[0]

	s.declarant = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleCitizen}
	s.claimant = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleCitizen}
	s.claimant2 = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleCitizen}
	s.agentA = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleAgent, StructureID: s.structureA.ID}
	s.agentB = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleAgent, StructureID: structures[1].ID}
	s.admin = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleAdmin}
	s.staff.EXPECT().StaffForStructure(gomock.Any(), s.structureA.ID).
		Return([]*authz.User{{ID: s.agentA.UserID, Role: authz.RoleAgent, StructureID: s.structureA.ID, Active: true}}, nil).
		AnyTimes()

	runner := txcontext.NewMemory()
	counter := numbering.NewMemoryCounter()
	recorder := actionlog.NewRecorder(s.actions, actionlog.WithLogger(logger.Discard()))
	files := attachment.NewService(attachment.NewMemoryBackend("http://files.test"), 1<<20, logger.Discard())

	s.declarations = dservice.New(
		dstore.NewInMemory(),
		runner,
		numbering.NewGenerator(counter, numbering.WithLogger(logger.Discard())),
		geo.NewService(registry),
		recorder,
		s.notices,
		s.events,
		dservice.WithClaimChecker(s.claims),
		dservice.WithLogger(logger.Discard()),
	)
	s.service = service.New(
		s.claims,
		runner,
		numbering.NewGenerator(counter, numbering.WithLogger(logger.Discard())),
		s.declarations,
		s.staff,
		recorder,
		s.notices,
		s.events,
		service.WithAttachments(files),
		service.WithLogger(logger.Discard()),
	)
	s.declaration = s.publishedDeclaration()
}

func (s *ClaimServiceSuite) publishedDeclaration() *dservice.Detail {
	ctx := testutil.Context()
	d, err := s.declarations.Create(ctx, s.declarant, dservice.CreateRequest{
		Kind:          "found",
		ObjectName:    "Téléphone Tecno",
		Description:   "Coque bleue, écran fissuré",
		Category:      "Electronique",
		StructureID:   s.structureA.ID.String(),
		IncidentDate:  "2025-03-12",
		IncidentPlace: "Marché d'Adawlato",
	})
	s.Require().NoError(err)
	for _, target := range []string{"validated", "published"} {
		_, err = s.declarations.Transition(ctx, s.agentA, d.ID, dservice.TransitionRequest{Target: target})
		s.Require().NoError(err)
	}
	return d
}

func (s *ClaimServiceSuite) submit(actor authz.Actor) *models.Reclamation {
	r, err := s.service.Submit(testutil.Context(), actor, s.declaration.ID, service.SubmitRequest{
		Justification: "C'est mon téléphone, le fond d'écran montre ma fille.",
		ContactPhone:  "+228 90 00 00 00",
		ContactEmail:  " Kofi@Example.tg ",
	})
	s.Require().NoError(err)
	return r
}

func (s *ClaimServiceSuite) declarationStatus() dmodels.Status {
	d, err := s.declarations.Lookup(testutil.Context(), s.declaration.ID)
	s.Require().NoError(err)
	return d.Status
}

func (s *ClaimServiceSuite) declarationEntries() []actionlog.Entry {
	entries, err := s.actions.ListByDeclaration(testutil.Context(), s.declaration.ID)
	s.Require().NoError(err)
	return entries
}

func (s *ClaimServiceSuite) claimEntries(reclamationID id.ReclamationID) []actionlog.Entry {
	entries, err := s.actions.ListByReclamation(testutil.Context(), reclamationID)
	s.Require().NoError(err)
	return entries
}

func (s *ClaimServiceSuite) TestSubmit() {
	ctx := testutil.Context()
	t := s.T()

	testutil.Given(t, "a published declaration", func(t *testing.T) {
		testutil.When(t, "a citizen claims it", func(t *testing.T) {
			pendingBefore := s.events.Pending()
			r := s.submit(s.claimant)

			testutil.Then(t, "the claim is numbered and submitted", func(t *testing.T) {
				assert.Equal(t, "REC25000001", r.Numero)
				assert.Equal(t, models.StatusSubmitted, r.Status)
				assert.Equal(t, "kofi@example.tg", r.ContactEmail)
			})
			testutil.And(t, "the declaration stays published", func(t *testing.T) {
				assert.Equal(t, dmodels.StatusPublished, s.declarationStatus())
			})
			testutil.And(t, "staff of the structure are told", func(t *testing.T) {
				assert.Contains(t, s.notices.kindsFor(s.agentA.UserID), notification.KindClaimReceived)
			})
			testutil.And(t, "a status event is queued", func(t *testing.T) {
				assert.Equal(t, pendingBefore+1, s.events.Pending())
			})
		})

		testutil.When(t, "the same citizen claims it again", func(t *testing.T) {
			_, err := s.service.Submit(ctx, s.claimant, s.declaration.ID, service.SubmitRequest{Justification: "encore"})
			testutil.Then(t, "it is a duplicate claim", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicateClaim))
			})
		})

		testutil.When(t, "the declarant claims their own object", func(t *testing.T) {
			_, err := s.service.Submit(ctx, s.declarant, s.declaration.ID, service.SubmitRequest{Justification: "moi"})
			testutil.Then(t, "it is forbidden", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
			})
		})

		testutil.When(t, "an agent tries to claim", func(t *testing.T) {
			_, err := s.service.Submit(ctx, s.agentA, s.declaration.ID, service.SubmitRequest{Justification: "moi"})
			testutil.Then(t, "it is forbidden", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
			})
		})
	})

	testutil.Given(t, "a declaration that is not yet published", func(t *testing.T) {
		d, err := s.declarations.Create(ctx, s.declarant, dservice.CreateRequest{
			Kind:         "found",
			ObjectName:   "Clés",
			StructureID:  s.structureA.ID.String(),
			IncidentDate: "2025-03-13",
		})
		require.NoError(t, err)

		testutil.When(t, "a citizen claims it", func(t *testing.T) {
			_, err := s.service.Submit(ctx, s.claimant, d.ID, service.SubmitRequest{Justification: "mes clés"})
			testutil.Then(t, "the declaration is not eligible", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeNotEligible))
			})
		})
	})

	s.Run("rejects an unparseable contact email", func() {
		_, err := s.service.Submit(ctx, s.claimant2, s.declaration.ID, service.SubmitRequest{
			Justification: "c'est à moi",
			ContactEmail:  "not-an-email",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects an empty justification", func() {
		_, err := s.service.Submit(ctx, s.claimant2, s.declaration.ID, service.SubmitRequest{Justification: "   "})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("stores documents sent with the claim", func() {
		r, err := s.service.Submit(ctx, s.claimant2, s.declaration.ID,
			service.SubmitRequest{Justification: "J'ai la facture"},
			service.DocumentUpload{Kind: "invoice", Upload: attachment.Upload{Filename: "facture.png", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader)}},
		)
		s.Require().NoError(err)
		s.Require().Len(r.Documents, 1)
		s.Equal(models.DocumentInvoice, r.Documents[0].Kind)
		s.Contains(r.Documents[0].URL, "http://files.test/claims/")
	})
}

func (s *ClaimServiceSuite) TestReviewAndApprove() {
	ctx := testutil.Context()
	t := s.T()

	first := s.submit(s.claimant)
	second := s.submit(s.claimant2)

	testutil.Given(t, "two pending claims", func(t *testing.T) {
		testutil.When(t, "an agent outside the jurisdiction starts a review", func(t *testing.T) {
			_, err := s.service.StartReview(ctx, s.agentB, first.ID)
			testutil.Then(t, "it is forbidden", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
			})
		})

		testutil.When(t, "the jurisdiction agent reviews the first", func(t *testing.T) {
			r, err := s.service.StartReview(ctx, s.agentA, first.ID)
			require.NoError(t, err)

			testutil.Then(t, "the claim is under review and assigned", func(t *testing.T) {
				assert.Equal(t, models.StatusUnderReview, r.Status)
				assert.Equal(t, s.agentA.UserID, r.AgentID)
			})
			testutil.And(t, "the declaration went through claimed to under_verification", func(t *testing.T) {
				assert.Equal(t, dmodels.StatusUnderVerification, s.declarationStatus())
				var edges []string
				for _, e := range s.declarationEntries() {
					if e.Action == actionlog.ActionDeclarationTransition && e.ReclamationID == first.ID {
						edges = append(edges, e.FromStatus+">"+e.ToStatus)
					}
				}
				assert.Equal(t, []string{"published>claimed", "claimed>under_verification"}, edges)
			})
			testutil.And(t, "the claimant is told", func(t *testing.T) {
				assert.Contains(t, s.notices.kindsFor(s.claimant.UserID), notification.KindClaimUnderReview)
			})
		})

		testutil.When(t, "the second is reviewed at the same time", func(t *testing.T) {
			_, err := s.service.StartReview(ctx, s.agentA, second.ID)
			testutil.Then(t, "it is an invalid transition", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
			})
		})

		testutil.When(t, "the first is approved", func(t *testing.T) {
			r, err := s.service.Decide(ctx, s.agentA, first.ID, service.DecisionRequest{Decision: "approve", Comment: "pièce d'identité vérifiée"})
			require.NoError(t, err)

			testutil.Then(t, "the claim is approved and dated", func(t *testing.T) {
				assert.Equal(t, models.StatusApproved, r.Status)
				require.NotNil(t, r.DecidedAt)
				assert.Equal(t, testutil.FixedNow, *r.DecidedAt)
			})
			testutil.And(t, "the object is restituted", func(t *testing.T) {
				assert.Equal(t, dmodels.StatusRestituted, s.declarationStatus())
				assert.Contains(t, s.notices.kindsFor(s.declarant.UserID), notification.KindObjectRestituted)
			})
			testutil.And(t, "the other claim is closed", func(t *testing.T) {
				other, err := s.service.Get(ctx, s.claimant2, second.ID)
				require.NoError(t, err)
				assert.Equal(t, models.StatusRejected, other.Status)
				assert.Equal(t, models.RestitutedElsewhere, other.Motif)
				assert.Contains(t, s.notices.kindsFor(s.claimant2.UserID), notification.KindClaimRejected)
			})
			testutil.And(t, "no claim is pending anymore", func(t *testing.T) {
				pending, err := s.claims.HasPendingClaims(ctx, s.declaration.ID)
				require.NoError(t, err)
				assert.False(t, pending)
			})
		})

		testutil.When(t, "the approved claim is decided again", func(t *testing.T) {
			_, err := s.service.Decide(ctx, s.agentA, first.ID, service.DecisionRequest{Decision: "reject", Motif: "erreur"})
			testutil.Then(t, "it is an invalid transition logged as failed", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
				entries := s.claimEntries(first.ID)
				last := entries[len(entries)-1]
				assert.Equal(t, actionlog.OutcomeFailed, last.Outcome)
				assert.Equal(t, string(models.StatusApproved), last.FromStatus)
			})
		})
	})
}

func (s *ClaimServiceSuite) TestSubmitRacingArchiveKeepsArchivedDeclarationsClaimFree() {
	ctx := testutil.Context()
	for range 20 {
		d := s.publishedDeclaration()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.service.Submit(ctx, s.claimant, d.ID, service.SubmitRequest{Justification: "C'est le mien, il a une rayure au dos."})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.declarations.Transition(ctx, s.admin, d.ID, dservice.TransitionRequest{Target: "archived"})
		}()
		wg.Wait()

		current, err := s.declarations.Lookup(ctx, d.ID)
		s.Require().NoError(err)
		pending, err := s.claims.HasPendingClaims(ctx, d.ID)
		s.Require().NoError(err)
		s.False(current.Status == dmodels.StatusArchived && pending, "archived declaration %s has a pending claim", d.Numero)
	}
}

func (s *ClaimServiceSuite) TestDecideRejectReturnsToPublished() {
	ctx := testutil.Context()
	r := s.submit(s.claimant)

	s.Run("requires a motif", func() {
		_, err := s.service.Decide(ctx, s.agentA, r.ID, service.DecisionRequest{Decision: "reject"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(dmodels.StatusPublished, s.declarationStatus())
	})

	s.Run("rejects an unknown decision", func() {
		_, err := s.service.Decide(ctx, s.agentA, r.ID, service.DecisionRequest{Decision: "maybe"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("reviews a submitted claim first, then returns the declaration to the pool", func() {
		decided, err := s.service.Decide(ctx, s.admin, r.ID, service.DecisionRequest{Decision: "reject", Motif: "description incohérente"})
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, decided.Status)
		s.Equal("description incohérente", decided.Motif)
		s.Equal(s.admin.UserID, decided.AgentID)
		s.Equal(dmodels.StatusPublished, s.declarationStatus())

		published := 0
		for _, kind := range s.notices.kindsFor(s.declarant.UserID) {
			if kind == notification.KindDeclarationPublished {
				published++
			}
		}
		s.Equal(1, published, "going back to published is not a new publication")

		var actions []actionlog.Action
		for _, e := range s.claimEntries(r.ID) {
			actions = append(actions, e.Action)
		}
		s.Contains(actions, actionlog.ActionClaimReview)
		s.Contains(actions, actionlog.ActionClaimDecision)
	})

	s.Run("queues one event per claim status change", func() {
		var claimEvents []service.StatusChanged
		_, err := s.events.Claim(ctx, 100, func(_ context.Context, events []outbox.Event) error {
			for _, e := range events {
				if e.EventType != outbox.EventReclamationStatusChanged {
					continue
				}
				var payload service.StatusChanged
				s.Require().NoError(json.Unmarshal(e.Payload, &payload))
				claimEvents = append(claimEvents, payload)
			}
			return nil
		})
		s.Require().NoError(err)
		s.Require().Len(claimEvents, 3)
		s.Equal(models.StatusSubmitted, claimEvents[0].To)
		s.Equal(models.StatusUnderReview, claimEvents[1].To)
		s.Equal(models.StatusRejected, claimEvents[2].To)
	})

	s.Run("a new claim can follow on the republished declaration", func() {
		next := s.submit(s.claimant2)
		s.Equal("REC25000002", next.Numero)
	})
}

func (s *ClaimServiceSuite) TestWithdraw() {
	ctx := testutil.Context()
	r := s.submit(s.claimant)

	s.Run("only the claimant may withdraw", func() {
		_, err := s.service.Withdraw(ctx, s.agentA, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		_, err = s.service.Withdraw(ctx, s.claimant2, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("pending claims block archiving", func() {
		_, err := s.declarations.Transition(ctx, s.admin, s.declaration.ID, dservice.TransitionRequest{Target: "archived"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("the claimant withdraws a submitted claim", func() {
		withdrawn, err := s.service.Withdraw(ctx, s.claimant, r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusWithdrawn, withdrawn.Status)
		s.Nil(withdrawn.DecidedAt)
		s.Contains(s.notices.kindsFor(s.agentA.UserID), notification.KindClaimWithdrawn)
	})

	s.Run("withdrawing twice is an invalid transition", func() {
		_, err := s.service.Withdraw(ctx, s.claimant, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("the declaration can be archived once nothing is pending", func() {
		_, err := s.declarations.Transition(ctx, s.admin, s.declaration.ID, dservice.TransitionRequest{Target: "archived"})
		s.NoError(err)
	})

	s.Run("a claim under review cannot be withdrawn", func() {
		s.declaration = s.publishedDeclaration()
		other := s.submit(s.claimant)
		_, err := s.service.StartReview(ctx, s.agentA, other.ID)
		s.Require().NoError(err)
		_, err = s.service.Withdraw(ctx, s.claimant, other.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *ClaimServiceSuite) TestListing() {
	ctx := testutil.Context()
	r := s.submit(s.claimant)

	s.Run("claimants list their own claims", func() {
		mine, err := s.service.ListMine(ctx, s.claimant)
		s.Require().NoError(err)
		s.Require().Len(mine, 1)
		s.Equal(r.ID, mine[0].ID)

		none, err := s.service.ListMine(ctx, s.claimant2)
		s.Require().NoError(err)
		s.Empty(none)
	})

	s.Run("agents see the claims of their structure only", func() {
		list, err := s.service.ListForAgent(ctx, s.agentA, "")
		s.Require().NoError(err)
		s.Len(list, 1)

		list, err = s.service.ListForAgent(ctx, s.agentB, "")
		s.Require().NoError(err)
		s.Empty(list)

		list, err = s.service.ListForAgent(ctx, s.admin, "approved")
		s.Require().NoError(err)
		s.Empty(list)
	})

	s.Run("citizens cannot list the queue", func() {
		_, err := s.service.ListForAgent(ctx, s.claimant, "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("an unknown status filter is a validation error", func() {
		_, err := s.service.ListForAgent(ctx, s.agentA, "lost")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("other citizens cannot read a claim", func() {
		_, err := s.service.Get(ctx, s.claimant2, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		_, err = s.service.Get(ctx, s.agentA, id.NewReclamationID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("the action log is for staff", func() {
		entries, err := s.service.ListActions(ctx, s.agentA, r.ID)
		s.Require().NoError(err)
		s.Require().NotEmpty(entries)
		s.Equal(actionlog.ActionClaimSubmitted, entries[0].Action)

		_, err = s.service.ListActions(ctx, s.claimant, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ClaimServiceSuite) TestDocuments() {
	ctx := testutil.Context()
	r := s.submit(s.claimant)
	upload := func(kind string) service.DocumentUpload {
		return service.DocumentUpload{Kind: kind, Description: "Reçu d'achat", Upload: attachment.Upload{
			Filename: "recu.png", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader),
		}}
	}

	var doc *models.Document
	s.Run("the claimant attaches a document", func() {
		var err error
		doc, err = s.service.AttachDocument(ctx, s.claimant, r.ID, upload("warranty"))
		s.Require().NoError(err)
		s.Equal(models.DocumentWarranty, doc.Kind)
		s.False(doc.Verified)
	})

	s.Run("unknown document types are refused", func() {
		_, err := s.service.AttachDocument(ctx, s.claimant, r.ID, upload("passport"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("citizens cannot verify documents", func() {
		_, err := s.service.VerifyDocument(ctx, s.claimant, r.ID, doc.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("the agent verifies it once", func() {
		verified, err := s.service.VerifyDocument(ctx, s.agentA, r.ID, doc.ID)
		s.Require().NoError(err)
		s.True(verified.Verified)
		s.Equal(s.agentA.UserID, verified.VerifiedBy)

		_, err = s.service.VerifyDocument(ctx, s.admin, r.ID, doc.ID)
		s.Require().NoError(err)

		var verifications int
		for _, e := range s.claimEntries(r.ID) {
			if e.Action == actionlog.ActionDocumentVerified {
				verifications++
			}
		}
		s.Equal(1, verifications)

		got, err := s.service.Get(ctx, s.claimant, r.ID)
		s.Require().NoError(err)
		s.Require().Len(got.Documents, 1)
		s.Equal(s.agentA.UserID, got.Documents[0].VerifiedBy)
	})

	s.Run("verifying an unknown document is not found", func() {
		_, err := s.service.VerifyDocument(ctx, s.agentA, r.ID, id.NewDocumentID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("the claimant cannot attach once the claim is decided", func() {
		_, err := s.service.Decide(ctx, s.agentA, r.ID, service.DecisionRequest{Decision: "reject", Motif: "facture illisible"})
		s.Require().NoError(err)
		_, err = s.service.AttachDocument(ctx, s.claimant, r.ID, upload("photo"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

		_, err = s.service.AttachDocument(ctx, s.agentA, r.ID, upload("photo"))
		s.NoError(err)
	})
}

type failingStaff struct{}

func (failingStaff) StaffForStructure(context.Context, id.StructureID) ([]*authz.User, error) {
	return nil, errors.New("directory down")
}

func TestSubmitSurvivesStaffLookupFailure(t *testing.T) {
	ctx := testutil.Context()
	registry := geo.NewInMemory()
	require.NoError(t, geo.Seed(ctx, registry))
	_, _, structures := geo.SeedData()

	sent := &notices{}
	runner := txcontext.NewMemory()
	counter := numbering.NewMemoryCounter()
	actions := actionlog.NewRecorder(actionlog.NewInMemoryStore(), actionlog.WithLogger(logger.Discard()))
	events := outbox.NewMemoryStore()
	declarations := dservice.New(dstore.NewInMemory(), runner, numbering.NewGenerator(counter), geo.NewService(registry),
		actions, sent, events, dservice.WithLogger(logger.Discard()))
	claims := service.New(store.NewInMemory(), runner, numbering.NewGenerator(counter), declarations,
		failingStaff{}, actions, sent, events, service.WithLogger(logger.Discard()))

	agent := authz.Actor{UserID: id.NewUserID(), Role: authz.RoleAgent, StructureID: structures[0].ID}
	declarant := authz.Actor{UserID: id.NewUserID(), Role: authz.RoleCitizen}
	d, err := declarations.Create(ctx, declarant, dservice.CreateRequest{
		Kind: "found", ObjectName: "Portefeuille", StructureID: structures[0].ID.String(), IncidentDate: "2025-03-01",
	})
	require.NoError(t, err)
	for _, target := range []string{"validated", "published"} {
		_, err = declarations.Transition(ctx, agent, d.ID, dservice.TransitionRequest{Target: target})
		require.NoError(t, err)
	}

	r, err := claims.Submit(ctx, authz.Actor{UserID: id.NewUserID(), Role: authz.RoleCitizen}, d.ID,
		service.SubmitRequest{Justification: "Il contient ma carte d'électeur"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, r.Status)
}
