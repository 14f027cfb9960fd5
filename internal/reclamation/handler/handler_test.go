package handler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"togoretrouve/internal/actionlog"
	"togoretrouve/internal/attachment"
	dservice "togoretrouve/internal/declaration/service"
	dstore "togoretrouve/internal/declaration/store"
	"togoretrouve/internal/geo"
	authz "togoretrouve/internal/identity/models"
	"togoretrouve/internal/notification"
	"togoretrouve/internal/numbering"
	"togoretrouve/internal/outbox"
	"togoretrouve/internal/platform/logger"
	"togoretrouve/internal/realtime"
	"togoretrouve/internal/reclamation/service"
	"togoretrouve/internal/reclamation/store"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	txcontext "togoretrouve/pkg/platform/tx"
	"togoretrouve/pkg/testutil"
)

type actors map[id.UserID]authz.Actor

func (a actors) Actor(_ context.Context, userID id.UserID) (authz.Actor, error) {
	actor, ok := a[userID]
	if !ok {
		return authz.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "unknown user")
	}
	return actor, nil
}

// StaffForStructure returns the agents of the map.
func (a actors) StaffForStructure(_ context.Context, structureID id.StructureID) ([]*authz.User, error) {
	var staff []*authz.User
	for _, actor := range a {
		if actor.Role == authz.RoleAgent && actor.StructureID == structureID {
			staff = append(staff, &authz.User{ID: actor.UserID, Role: actor.Role, StructureID: structureID, Active: true})
		}
	}
	return staff, nil
}

type HandlerSuite struct {
	suite.Suite
	router       chi.Router
	declarations *dservice.Service
	structure    geo.Structure
	declarant    authz.Actor
	claimant     authz.Actor
	claimant2    authz.Actor
	agent        authz.Actor
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	registry := geo.NewInMemory()
	s.Require().NoError(geo.Seed(testutil.Context(), registry))
	_, _, structures := geo.SeedData()
	s.structure = structures[0]

	s.declarant = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleCitizen}
	s.claimant = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleCitizen}
	s.claimant2 = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleCitizen}
	s.agent = authz.Actor{UserID: id.NewUserID(), Role: authz.RoleAgent, StructureID: s.structure.ID}
	known := actors{
		s.declarant.UserID: s.declarant,
		s.claimant.UserID:  s.claimant,
		s.claimant2.UserID: s.claimant2,
		s.agent.UserID:     s.agent,
	}

	runner := txcontext.NewMemory()
	counter := numbering.NewMemoryCounter()
	recorder := actionlog.NewRecorder(actionlog.NewInMemoryStore(), actionlog.WithLogger(logger.Discard()))
	events := outbox.NewMemoryStore()
	notifications := notification.NewService(notification.NewInMemoryStore(), realtime.NewHub(realtime.WithLogger(logger.Discard())),
		notification.WithLogger(logger.Discard()))
	claims := store.NewInMemory()

	s.declarations = dservice.New(dstore.NewInMemory(), runner, numbering.NewGenerator(counter), geo.NewService(registry),
		recorder, notifications, events, dservice.WithClaimChecker(claims), dservice.WithLogger(logger.Discard()))
	svc := service.New(claims, runner, numbering.NewGenerator(counter), s.declarations, known, recorder, notifications, events,
		service.WithLogger(logger.Discard()),
		service.WithAttachments(attachment.NewService(attachment.NewMemoryBackend("http://files.test"), 1<<20, logger.Discard())),
	)

	r := chi.NewRouter()
	New(svc, known, 1<<20, logger.Discard()).RegisterAuthenticated(r)
	s.router = r
}

func (s *HandlerSuite) as(req *http.Request, actor authz.Actor) *http.Request {
	return testutil.WithAuth(req, actor.UserID, string(actor.Role))
}

func (s *HandlerSuite) declaration(publish bool) string {
	ctx := testutil.Context()
	d, err := s.declarations.Create(ctx, s.declarant, dservice.CreateRequest{
		Kind:         "found",
		ObjectName:   "Sacoche en cuir",
		StructureID:  s.structure.ID.String(),
		IncidentDate: "2025-03-11",
	})
	s.Require().NoError(err)
	if publish {
		for _, target := range []string{"validated", "published"} {
			_, err := s.declarations.Transition(ctx, s.agent, d.ID, dservice.TransitionRequest{Target: target})
			s.Require().NoError(err)
		}
	}
	return d.ID.String()
}

func (s *HandlerSuite) claimForm(justification string) (*bytes.Buffer, string) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	s.Require().NoError(mw.WriteField("justification", justification))
	s.Require().NoError(mw.WriteField("telephone_contact", "+228 91 11 22 33"))
	s.Require().NoError(mw.WriteField("document_type", "identity"))
	part, err := mw.CreateFormFile("documents", "cni.png")
	s.Require().NoError(err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())
	return &body, mw.FormDataContentType()
}

func (s *HandlerSuite) TestClaimFlowOverHTTP() {
	declarationID := s.declaration(true)
	var firstID, secondID string

	s.Run("a citizen submits a claim as JSON", func() {
		req := s.as(testutil.NewJSONRequest(s.T(), http.MethodPost, "/declarations/"+declarationID+"/claims", map[string]string{
			"justification":     "La sacoche contient mes papiers au nom de Kodjo",
			"telephone_contact": "+228 90 12 34 56",
		}), s.claimant)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		testutil.AssertJSONContains(s.T(), rr, "status", "submitted")
		body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		s.Contains((*body)["numero"], "REC")
		firstID = (*body)["id"].(string)
	})

	s.Run("a second claim by the same citizen is a duplicate", func() {
		req := s.as(testutil.NewJSONRequest(s.T(), http.MethodPost, "/declarations/"+declarationID+"/claims",
			map[string]string{"justification": "encore moi"}), s.claimant)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusConflict, "duplicate_claim")
	})

	s.Run("another citizen submits with a document", func() {
		body, contentType := s.claimForm("J'ai une photo de la sacoche")
		req := httptest.NewRequest(http.MethodPost, "/declarations/"+declarationID+"/claims", body)
		req.Header.Set("Content-Type", contentType)
		rr := testutil.DoRequest(s.router, s.as(req, s.claimant2))
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		s.Contains(rr.Body.String(), "http://files.test/claims/")
		out := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		secondID = (*out)["id"].(string)
	})

	s.Run("the agent queue holds both", func() {
		req := s.as(testutil.NewRequest(s.T(), http.MethodGet, "/claims?status=submitted"), s.agent)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONArrayLen(s.T(), rr, 2)
	})

	s.Run("a citizen cannot decide", func() {
		req := s.as(testutil.NewJSONRequest(s.T(), http.MethodPost, "/claims/"+firstID+"/decision",
			map[string]string{"decision": "approve"}), s.claimant)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusForbidden, "forbidden")
	})

	s.Run("the agent reviews and approves the first", func() {
		rr := testutil.DoRequest(s.router, s.as(testutil.NewRequest(s.T(), http.MethodPost, "/claims/"+firstID+"/review"), s.agent))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "status", "under_review")

		req := s.as(testutil.NewJSONRequest(s.T(), http.MethodPost, "/claims/"+firstID+"/decision",
			map[string]string{"decision": "approve", "comment": "remis en main propre"}), s.agent)
		rr = testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "status", "approved")
	})

	s.Run("the other claimant sees their claim closed", func() {
		rr := testutil.DoRequest(s.router, s.as(testutil.NewRequest(s.T(), http.MethodGet, "/claims/"+secondID), s.claimant2))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "status", "rejected")
	})

	s.Run("claimants list their own claims", func() {
		rr := testutil.DoRequest(s.router, s.as(testutil.NewRequest(s.T(), http.MethodGet, "/claims/mine"), s.claimant))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONArrayLen(s.T(), rr, 1)
	})

	s.Run("the agent reads the claim history", func() {
		rr := testutil.DoRequest(s.router, s.as(testutil.NewRequest(s.T(), http.MethodGet, "/claims/"+firstID+"/actions"), s.agent))
		testutil.AssertStatusOK(s.T(), rr)
		s.Contains(rr.Body.String(), "claim_decision")
	})
}

func (s *HandlerSuite) TestNotEligible() {
	declarationID := s.declaration(false)
	req := s.as(testutil.NewJSONRequest(s.T(), http.MethodPost, "/declarations/"+declarationID+"/claims",
		map[string]string{"justification": "c'est à moi"}), s.claimant)
	testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusUnprocessableEntity, "not_eligible")
}

func (s *HandlerSuite) TestDocumentsOverHTTP() {
	declarationID := s.declaration(true)
	req := s.as(testutil.NewJSONRequest(s.T(), http.MethodPost, "/declarations/"+declarationID+"/claims",
		map[string]string{"justification": "Mes initiales sont gravées"}), s.claimant)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	claimID := (*testutil.UnmarshalResponse[map[string]any](s.T(), rr))["id"].(string)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	s.Require().NoError(mw.WriteField("type", "photo"))
	part, err := mw.CreateFormFile("file", "gravure.png")
	s.Require().NoError(err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	upload := httptest.NewRequest(http.MethodPost, "/claims/"+claimID+"/documents", &body)
	upload.Header.Set("Content-Type", mw.FormDataContentType())
	rr = testutil.DoRequest(s.router, s.as(upload, s.claimant))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	testutil.AssertJSONContains(s.T(), rr, "type", "photo")
	docID := (*testutil.UnmarshalResponse[map[string]any](s.T(), rr))["id"].(string)

	s.Run("the claimant cannot verify", func() {
		req := s.as(testutil.NewRequest(s.T(), http.MethodPost, "/claims/"+claimID+"/documents/"+docID+"/verify"), s.claimant)
		testutil.AssertStatus(s.T(), testutil.DoRequest(s.router, req), http.StatusForbidden)
	})

	s.Run("the agent verifies", func() {
		req := s.as(testutil.NewRequest(s.T(), http.MethodPost, "/claims/"+claimID+"/documents/"+docID+"/verify"), s.agent)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "verified", true)
	})

	s.Run("a malformed document id is a bad request", func() {
		req := s.as(testutil.NewRequest(s.T(), http.MethodPost, "/claims/"+claimID+"/documents/nope/verify"), s.agent)
		testutil.AssertStatus(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest)
	})
}
