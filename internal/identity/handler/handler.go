package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"togoretrouve/internal/identity"
	"togoretrouve/internal/identity/models"
	"togoretrouve/internal/identity/service"
	"togoretrouve/internal/identity/store"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/httputil"
	request "togoretrouve/pkg/platform/middleware/request"
)

// Service is the account API used by the handler.
type Service interface {
	Register(ctx context.Context, req service.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	Me(ctx context.Context, userID id.UserID) (*models.User, error)
	Actor(ctx context.Context, userID id.UserID) (models.Actor, error)
	CreateAgent(ctx context.Context, actor models.Actor, req service.CreateAgentRequest) (*models.User, error)
	AssignJurisdiction(ctx context.Context, actor models.Actor, userID id.UserID, structureID id.StructureID) (*models.User, error)
	ListUsers(ctx context.Context, actor models.Actor, filter store.ListFilter) ([]*models.User, error)
	UpdateProfile(ctx context.Context, userID id.UserID, req service.UpdateProfileRequest) (*models.User, error)
	ChangePassword(ctx context.Context, userID id.UserID, req service.ChangePasswordRequest) error
	SetActive(ctx context.Context, actor models.Actor, userID id.UserID, active bool) (*models.User, error)
	ResetPassword(ctx context.Context, actor models.Actor, userID id.UserID) (string, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts the public authentication routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
}

// RegisterAuthenticated mounts routes that need a valid token.
func (h *Handler) RegisterAuthenticated(r chi.Router) {
	r.Get("/auth/me", h.handleMe)
	r.Patch("/auth/me", h.handleUpdateProfile)
	r.Post("/auth/me/password", h.handleChangePassword)
}

// RegisterAdmin mounts user administration routes.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/agents", h.handleCreateAgent)
	r.Get("/admin/users", h.handleListUsers)
	r.Post("/admin/users/{id}/jurisdiction", h.handleAssignJurisdiction)
	r.Post("/admin/users/{id}/status", h.handleSetStatus)
	r.Post("/admin/users/{id}/password-reset", h.handleResetPassword)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type jurisdictionRequest struct {
	StructureID id.StructureID `json:"structure_id"`
}

type statusRequest struct {
	Active *bool `json:"active"`
}

type passwordResetResponse struct {
	UserID   id.UserID `json:"user_id"`
	Password string    `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, "registration failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "login failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.service)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := h.service.Me(r.Context(), actor.UserID)
	if err != nil {
		h.fail(w, r, "failed to load profile", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.service)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req service.CreateAgentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := h.service.CreateAgent(r.Context(), actor, req)
	if err != nil {
		h.fail(w, r, "failed to create agent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.service)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var filter store.ListFilter
	if raw := r.URL.Query().Get("role"); raw != "" {
		role, err := models.ParseRole(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Role = role
	}
	if raw := r.URL.Query().Get("structure_id"); raw != "" {
		structureID, err := id.ParseStructureID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.StructureID = structureID
	}
	users, err := h.service.ListUsers(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, "failed to list users", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) handleAssignJurisdiction(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.service)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req jurisdictionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := h.service.AssignJurisdiction(r.Context(), actor, userID, req.StructureID)
	if err != nil {
		h.fail(w, r, "failed to assign jurisdiction", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.service)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req service.UpdateProfileRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := h.service.UpdateProfile(r.Context(), actor.UserID, req)
	if err != nil {
		h.fail(w, r, "failed to update profile", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.service)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req service.ChangePasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), actor.UserID, req); err != nil {
		h.fail(w, r, "failed to change password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	actor, userID, ok := h.adminTarget(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Active == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "active is required"))
		return
	}
	u, err := h.service.SetActive(r.Context(), actor, userID, *req.Active)
	if err != nil {
		h.fail(w, r, "failed to change account status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	actor, userID, ok := h.adminTarget(w, r)
	if !ok {
		return
	}
	password, err := h.service.ResetPassword(r.Context(), actor, userID)
	if err != nil {
		h.fail(w, r, "failed to reset password", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, passwordResetResponse{UserID: userID, Password: password})
}

func (h *Handler) adminTarget(w http.ResponseWriter, r *http.Request) (models.Actor, id.UserID, bool) {
	actor, err := identity.ActorFromContext(r.Context(), h.service)
	if err != nil {
		httputil.WriteError(w, err)
		return models.Actor{}, id.UserID{}, false
	}
	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return models.Actor{}, id.UserID{}, false
	}
	return actor, userID, true
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
