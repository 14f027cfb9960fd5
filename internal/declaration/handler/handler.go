// Package handler exposes declarations over HTTP: the public catalogue and the
// authenticated declarant and agent routes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"togoretrouve/internal/actionlog"
	"togoretrouve/internal/attachment"
	"togoretrouve/internal/declaration/models"
	"togoretrouve/internal/declaration/service"
	"togoretrouve/internal/identity"
	authz "togoretrouve/internal/identity/models"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/httputil"
	request "togoretrouve/pkg/platform/middleware/request"
)

// Service is the declaration API used by the handler.
type Service interface {
	Create(ctx context.Context, actor authz.Actor, req service.CreateRequest) (*service.Detail, error)
	Update(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, req service.UpdateRequest) (*service.Detail, error)
	Delete(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID) error
	Get(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID) (*service.Detail, error)
	ListMine(ctx context.Context, actor authz.Actor) ([]*models.Declaration, error)
	ListForAgent(ctx context.Context, actor authz.Actor, f service.AgentFilter) (*service.Page[*models.Declaration], error)
	Transition(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, req service.TransitionRequest) (*service.Detail, error)
	ListActions(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID) ([]actionlog.Entry, error)
	SetPhoto(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID, up attachment.Upload) (*service.Detail, error)
	SearchPublic(ctx context.Context, f service.PublicFilter) (*service.Page[service.PublicDeclaration], error)
	View(ctx context.Context, declarationID id.DeclarationID) (*service.PublicDeclaration, error)
	AddComment(ctx context.Context, declarationID id.DeclarationID, author, body string) (*models.Comment, error)
	ListComments(ctx context.Context, declarationID id.DeclarationID) ([]*models.Comment, error)
	RegionStats(ctx context.Context) ([]service.RegionStat, error)
	MapPoints(ctx context.Context, f service.MapFilter) (*service.MapResult, error)
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

// Register mounts the anonymous catalogue routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/public/declarations", h.handleSearch)
	r.Get("/public/declarations/{id}", h.handleView)
	r.Get("/public/declarations/{id}/comments", h.handleListComments)
	r.Post("/public/declarations/{id}/comments", h.handleAddComment)
	r.Get("/public/map", h.handleMap)
	r.Get("/public/stats/regions", h.handleRegionStats)
}

// RegisterAuthenticated mounts the declarant and agent routes.
func (h *Handler) RegisterAuthenticated(r chi.Router) {
	r.Post("/declarations", h.handleCreate)
	r.Get("/declarations", h.handleListForAgent)
	r.Get("/declarations/mine", h.handleListMine)
	r.Get("/declarations/{id}", h.handleGet)
	r.Patch("/declarations/{id}", h.handleUpdate)
	r.Delete("/declarations/{id}", h.handleDelete)
	r.Post("/declarations/{id}/transitions", h.handleTransition)
	r.Get("/declarations/{id}/actions", h.handleListActions)
	r.Post("/declarations/{id}/photo", h.handleSetPhoto)
}

type commentRequest struct {
	AuthorName string `json:"author_name"`
	Text       string `json:"text"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.service.SearchPublic(r.Context(), service.PublicFilter{
		Kind:         q.Get("type"),
		Category:     q.Get("category"),
		RegionID:     q.Get("region_id"),
		PrefectureID: q.Get("prefecture_id"),
		StructureID:  q.Get("structure_id"),
		Query:        q.Get("q"),
		Page:         queryInt(q.Get("page")),
		PageSize:     queryInt(q.Get("page_size")),
	})
	if err != nil {
		h.fail(w, r, "public search failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	declarationID, ok := h.declarationID(w, r)
	if !ok {
		return
	}
	d, err := h.service.View(r.Context(), declarationID)
	if err != nil {
		h.fail(w, r, "failed to load public declaration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleListComments(w http.ResponseWriter, r *http.Request) {
	declarationID, ok := h.declarationID(w, r)
	if !ok {
		return
	}
	comments, err := h.service.ListComments(r.Context(), declarationID)
	if err != nil {
		h.fail(w, r, "failed to list comments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, comments)
}

func (h *Handler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	declarationID, ok := h.declarationID(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, err := h.service.AddComment(r.Context(), declarationID, req.AuthorName, req.Text)
	if err != nil {
		h.fail(w, r, "failed to add comment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleMap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.MapPoints(r.Context(), service.MapFilter{
		Kind:       q.Get("type"),
		Resolution: queryInt(q.Get("resolution")),
	})
	if err != nil {
		h.fail(w, r, "failed to load map", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRegionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.RegionStats(r.Context())
	if err != nil {
		h.fail(w, r, "failed to compute region stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req service.CreateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		h.fail(w, r, "failed to create declaration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleListForAgent(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	page, err := h.service.ListForAgent(r.Context(), actor, service.AgentFilter{
		Status:   q.Get("status"),
		Kind:     q.Get("type"),
		Query:    q.Get("q"),
		Page:     queryInt(q.Get("page")),
		PageSize: queryInt(q.Get("page_size")),
	})
	if err != nil {
		h.fail(w, r, "failed to list work queue", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListMine(r.Context(), actor)
	if err != nil {
		h.fail(w, r, "failed to list declarations", err)
		return
	}
	if list == nil {
		list = []*models.Declaration{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, declarationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	d, err := h.service.Get(r.Context(), actor, declarationID)
	if err != nil {
		h.fail(w, r, "failed to load declaration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, declarationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req service.UpdateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.service.Update(r.Context(), actor, declarationID, req)
	if err != nil {
		h.fail(w, r, "failed to update declaration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, declarationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, declarationID); err != nil {
		h.fail(w, r, "failed to delete declaration", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	actor, declarationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req service.TransitionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.service.Transition(r.Context(), actor, declarationID, req)
	if err != nil {
		h.fail(w, r, "declaration transition failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleListActions(w http.ResponseWriter, r *http.Request) {
	actor, declarationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListActions(r.Context(), actor, declarationID)
	if err != nil {
		h.fail(w, r, "failed to list actions", err)
		return
	}
	if entries == nil {
		entries = []actionlog.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleSetPhoto(w http.ResponseWriter, r *http.Request) {
	actor, declarationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	up, done, err := attachment.FromRequest(r, "photo", h.maxUpload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer done()
	d, err := h.service.SetPhoto(r.Context(), actor, declarationID, up)
	if err != nil {
		h.fail(w, r, "failed to store photo", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (authz.Actor, id.DeclarationID, bool) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return authz.Actor{}, id.DeclarationID{}, false
	}
	declarationID, ok := h.declarationID(w, r)
	return actor, declarationID, ok
}

func (h *Handler) declarationID(w http.ResponseWriter, r *http.Request) (id.DeclarationID, bool) {
	declarationID, err := id.ParseDeclarationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.DeclarationID{}, false
	}
	return declarationID, true
}

func queryInt(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
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
