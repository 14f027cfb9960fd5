// Package handler exposes the claim workflow over HTTP.
package handler

import (
	"context"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"togoretrouve/internal/actionlog"
	"togoretrouve/internal/attachment"
	"togoretrouve/internal/identity"
	authz "togoretrouve/internal/identity/models"
	"togoretrouve/internal/reclamation/models"
	"togoretrouve/internal/reclamation/service"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/httputil"
	request "togoretrouve/pkg/platform/middleware/request"
)

type Service interface {
	Submit(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, req service.SubmitRequest, uploads ...service.DocumentUpload) (*models.Reclamation, error)
	Withdraw(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID) (*models.Reclamation, error)
	StartReview(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID) (*models.Reclamation, error)
	Decide(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID, req service.DecisionRequest) (*models.Reclamation, error)
	AttachDocument(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID, up service.DocumentUpload) (*models.Document, error)
	VerifyDocument(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID, documentID id.DocumentID) (*models.Document, error)
	Get(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID) (*models.Reclamation, error)
	ListMine(ctx context.Context, actor authz.Actor) ([]*models.Reclamation, error)
	ListForAgent(ctx context.Context, actor authz.Actor, status string) ([]*models.Reclamation, error)
	ListActions(ctx context.Context, actor authz.Actor, reclamationID id.ReclamationID) ([]actionlog.Entry, error)
}

type Handler struct {
	service   Service
	actors    identity.ActorResolver
	maxUpload int64
	logger    *slog.Logger
}

func New(svc Service, actors identity.ActorResolver, maxUpload int64, logger *slog.Logger) *Handler {
	return &Handler{service: svc, actors: actors, maxUpload: maxUpload, logger: logger}
}

// RegisterAuthenticated mounts the claim routes.
func (h *Handler) RegisterAuthenticated(r chi.Router) {
	r.Post("/declarations/{id}/claims", h.handleSubmit)
	r.Get("/claims", h.handleListForAgent)
	r.Get("/claims/mine", h.handleListMine)
	r.Get("/claims/{id}", h.handleGet)
	r.Get("/claims/{id}/actions", h.handleListActions)
	r.Post("/claims/{id}/withdraw", h.handleWithdraw)
	r.Post("/claims/{id}/review", h.handleStartReview)
	r.Post("/claims/{id}/decision", h.handleDecide)
	r.Post("/claims/{id}/documents", h.handleAttach)
	r.Post("/claims/{id}/documents/{docID}/verify", h.handleVerify)
}

// handleSubmit accepts the claim form as JSON, or as multipart with the
// supporting files in "documents" and their types in "document_type".
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	declarationID, err := id.ParseDeclarationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var (
		req     service.SubmitRequest
		uploads []service.DocumentUpload
	)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		var done func()
		req, uploads, done, err = h.submitForm(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		defer done()
	} else if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	claim, err := h.service.Submit(r.Context(), actor, declarationID, req, uploads...)
	if err != nil {
		h.fail(w, r, "failed to submit claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, claim)
}

func (h *Handler) submitForm(r *http.Request) (service.SubmitRequest, []service.DocumentUpload, func(), error) {
	r.Body = http.MaxBytesReader(nil, r.Body, 5*h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return service.SubmitRequest{}, nil, nil, dErrors.New(dErrors.CodeBadRequest, "expected a multipart form")
	}
	req := service.SubmitRequest{
		Justification: r.FormValue("justification"),
		ContactPhone:  r.FormValue("telephone_contact"),
		ContactEmail:  r.FormValue("email_contact"),
	}
	files := r.MultipartForm.File["documents"]
	if len(files) > 5 {
		return req, nil, nil, dErrors.New(dErrors.CodeValidation, "at most 5 documents may be sent with a claim")
	}
	kinds := r.MultipartForm.Value["document_type"]

	var closers []func()
	done := func() {
		for _, c := range closers {
			c()
		}
	}
	uploads := make([]service.DocumentUpload, 0, len(files))
	for i, header := range files {
		f, err := header.Open()
		if err != nil {
			done()
			return req, nil, nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read document")
		}
		closers = append(closers, func() { _ = f.Close() })
		up := service.DocumentUpload{Upload: attachment.Upload{Filename: header.Filename, Size: header.Size, Body: f}}
		if i < len(kinds) {
			up.Kind = kinds[i]
		}
		uploads = append(uploads, up)
	}
	return req, uploads, done, nil
}

func (h *Handler) handleListForAgent(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListForAgent(r.Context(), actor, r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, "failed to list claim queue", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListMine(r.Context(), actor)
	if err != nil {
		h.fail(w, r, "failed to list claims", err)
		return
	}
	if list == nil {
		list = []*models.Reclamation{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withClaim(w, r, "failed to load claim", h.service.Get)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.withClaim(w, r, "failed to withdraw claim", h.service.Withdraw)
}

func (h *Handler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	h.withClaim(w, r, "failed to start claim review", h.service.StartReview)
}

// withClaim runs a body-less claim operation and writes the resulting claim.
func (h *Handler) withClaim(w http.ResponseWriter, r *http.Request, msg string, op func(context.Context, authz.Actor, id.ReclamationID) (*models.Reclamation, error)) {
	actor, reclamationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	claim, err := op(r.Context(), actor, reclamationID)
	if err != nil {
		h.fail(w, r, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, claim)
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	actor, reclamationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req service.DecisionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	claim, err := h.service.Decide(r.Context(), actor, reclamationID, req)
	if err != nil {
		h.fail(w, r, "claim decision failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, claim)
}

func (h *Handler) handleAttach(w http.ResponseWriter, r *http.Request) {
	actor, reclamationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	up, done, err := attachment.FromRequest(r, "file", h.maxUpload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer done()
	doc, err := h.service.AttachDocument(r.Context(), actor, reclamationID, service.DocumentUpload{
		Kind:        r.FormValue("type"),
		Description: r.FormValue("description"),
		Upload:      up,
	})
	if err != nil {
		h.fail(w, r, "failed to attach document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	actor, reclamationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	documentID, err := id.ParseDocumentID(chi.URLParam(r, "docID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	doc, err := h.service.VerifyDocument(r.Context(), actor, reclamationID, documentID)
	if err != nil {
		h.fail(w, r, "failed to verify document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleListActions(w http.ResponseWriter, r *http.Request) {
	actor, reclamationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListActions(r.Context(), actor, reclamationID)
	if err != nil {
		h.fail(w, r, "failed to list claim actions", err)
		return
	}
	if entries == nil {
		entries = []actionlog.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (authz.Actor, id.ReclamationID, bool) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return authz.Actor{}, id.ReclamationID{}, false
	}
	reclamationID, err := id.ParseReclamationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return authz.Actor{}, id.ReclamationID{}, false
	}
	return actor, reclamationID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", request.GetRequestID(ctx), "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", request.GetRequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
