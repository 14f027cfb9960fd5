package geo

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/httputil"
	request "togoretrouve/pkg/platform/middleware/request"
)

// Registry is the read side used by the HTTP handler.
type Registry interface {
	ListRegions(ctx context.Context) ([]Region, error)
	ListPrefectures(ctx context.Context, regionID id.RegionID) ([]Prefecture, error)
	ListStructures(ctx context.Context, prefectureID id.PrefectureID) ([]Structure, error)
	CreateStructure(ctx context.Context, req CreateStructureRequest) (*Structure, error)
}

// Handler serves the public registry endpoints and structure creation for admins.
type Handler struct {
	registry Registry
	logger   *slog.Logger
}

func NewHandler(registry Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// Register mounts the public read routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/geo/regions", h.handleListRegions)
	r.Get("/geo/regions/{id}/prefectures", h.handleListPrefectures)
	r.Get("/geo/prefectures/{id}/structures", h.handleListStructures)
}

// RegisterAdmin mounts routes that must sit behind the admin role check.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/structures", h.handleCreateStructure)
}

func (h *Handler) handleListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.registry.ListRegions(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list regions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, regions)
}

func (h *Handler) handleListPrefectures(w http.ResponseWriter, r *http.Request) {
	regionID, err := id.ParseRegionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	prefs, err := h.registry.ListPrefectures(r.Context(), regionID)
	if err != nil {
		h.fail(w, r, "failed to list prefectures", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, prefs)
}

func (h *Handler) handleListStructures(w http.ResponseWriter, r *http.Request) {
	prefectureID, err := id.ParsePrefectureID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	structures, err := h.registry.ListStructures(r.Context(), prefectureID)
	if err != nil {
		h.fail(w, r, "failed to list structures", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, structures)
}

func (h *Handler) handleCreateStructure(w http.ResponseWriter, r *http.Request) {
	var req CreateStructureRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	st, err := h.registry.CreateStructure(r.Context(), req)
	if err != nil {
		h.fail(w, r, "failed to create structure", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, st)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.WarnContext(r.Context(), msg,
		"request_id", request.GetRequestID(r.Context()),
		"error", err,
	)
	httputil.WriteError(w, err)
}
