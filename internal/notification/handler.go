package notification

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"togoretrouve/internal/realtime"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/httputil"
	authmw "togoretrouve/pkg/platform/middleware/auth"
	request "togoretrouve/pkg/platform/middleware/request"
)

// Inbox is the read side used by the HTTP handler.
type Inbox interface {
	ListMine(ctx context.Context, userID id.UserID, unreadOnly bool) ([]*Notification, error)
	MarkRead(ctx context.Context, userID id.UserID, notificationID id.NotificationID) (*Notification, error)
	MarkAllRead(ctx context.Context, userID id.UserID) (int, error)
	UnreadCount(ctx context.Context, userID id.UserID) (int, error)
}

type Handler struct {
	inbox    Inbox
	hub      *realtime.Hub
	upgrader *websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(inbox Inbox, hub *realtime.Hub, upgrader *websocket.Upgrader, logger *slog.Logger) *Handler {
	return &Handler{inbox: inbox, hub: hub, upgrader: upgrader, logger: logger}
}

// RegisterAuthenticated mounts the inbox routes.
func (h *Handler) RegisterAuthenticated(r chi.Router) {
	r.Get("/notifications", h.handleList)
	r.Get("/notifications/unread-count", h.handleUnreadCount)
	r.Post("/notifications/read-all", h.handleMarkAllRead)
	r.Post("/notifications/{id}/read", h.handleMarkRead)
}

// RegisterSocket mounts the live notification socket. It must sit outside
// the request timeout middleware.
func (h *Handler) RegisterSocket(r chi.Router) {
	r.Get("/ws/notifications", h.handleSocket)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	list, err := h.inbox.ListMine(r.Context(), userID, r.URL.Query().Get("unread") == "true")
	if err != nil {
		h.fail(w, r, "failed to list notifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	count, err := h.inbox.UnreadCount(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "failed to count notifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.inbox.MarkRead(r.Context(), userID, notificationID)
	if err != nil {
		h.fail(w, r, "failed to mark notification read", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	count, err := h.inbox.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "failed to mark notifications read", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"updated": count})
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	client := realtime.NewClient(h.hub, conn, userID)
	if count, err := h.inbox.UnreadCount(r.Context(), userID); err == nil {
		client.Send(realtime.Event{Type: realtime.EventUnreadCount, Data: map[string]int{"count": count}})
	}
	client.Serve(r.Context(), nil, realtime.UserTopic(userID))
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID := authmw.GetUserID(r.Context())
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return userID, false
	}
	return userID, true
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
