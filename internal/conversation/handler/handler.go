// Package handler exposes conversations over HTTP and their live socket.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"togoretrouve/internal/attachment"
	"togoretrouve/internal/conversation/models"
	"togoretrouve/internal/conversation/service"
	"togoretrouve/internal/identity"
	authz "togoretrouve/internal/identity/models"
	"togoretrouve/internal/realtime"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/httputil"
	request "togoretrouve/pkg/platform/middleware/request"
)

// Inbound socket frame types.
const (
	frameSendMessage = "send_message"
	frameMarkAsRead  = "mark_as_read"
	frameTyping      = "typing"
)

type Service interface {
	GetOrCreate(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID) (*models.Conversation, error)
	Get(ctx context.Context, actor authz.Actor, conversationID id.ConversationID) (*models.Conversation, error)
	Send(ctx context.Context, actor authz.Actor, conversationID id.ConversationID, req service.SendRequest) (*models.Message, error)
	MarkRead(ctx context.Context, actor authz.Actor, conversationID id.ConversationID) (int, error)
	ListMessages(ctx context.Context, actor authz.Actor, conversationID id.ConversationID, afterSeq int64, limit int) ([]*models.Message, error)
	ListMine(ctx context.Context, actor authz.Actor) ([]*models.Summary, error)
}

type Handler struct {
	service   Service
	actors    identity.ActorResolver
	hub       *realtime.Hub
	upgrader  *websocket.Upgrader
	maxUpload int64
	logger    *slog.Logger
}

func New(svc Service, actors identity.ActorResolver, hub *realtime.Hub, upgrader *websocket.Upgrader, maxUpload int64, logger *slog.Logger) *Handler {
	return &Handler{service: svc, actors: actors, hub: hub, upgrader: upgrader, maxUpload: maxUpload, logger: logger}
}

// RegisterAuthenticated mounts the conversation routes.
func (h *Handler) RegisterAuthenticated(r chi.Router) {
	r.Post("/declarations/{id}/conversation", h.handleOpen)
	r.Get("/conversations", h.handleListMine)
	r.Get("/conversations/{id}", h.handleGet)
	r.Get("/conversations/{id}/messages", h.handleListMessages)
	r.Post("/conversations/{id}/messages", h.handleSend)
	r.Post("/conversations/{id}/read", h.handleMarkRead)
}

// RegisterSocket mounts the live chat socket. It must sit outside the
// request timeout middleware.
func (h *Handler) RegisterSocket(r chi.Router) {
	r.Get("/ws/conversations/{id}", h.handleSocket)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
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
	c, err := h.service.GetOrCreate(r.Context(), actor, declarationID)
	if err != nil {
		h.fail(w, r, "failed to open conversation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListMine(r.Context(), actor)
	if err != nil {
		h.fail(w, r, "failed to list conversations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, conversationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), actor, conversationID)
	if err != nil {
		h.fail(w, r, "failed to load conversation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

// handleListMessages pages with ?after=<seq>&limit=<n>.
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	actor, conversationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var (
		after int64
		limit int
		err   error
	)
	q := r.URL.Query()
	if v := q.Get("after"); v != "" {
		if after, err = strconv.ParseInt(v, 10, 64); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "after must be a message sequence"))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a number"))
			return
		}
	}
	msgs, err := h.service.ListMessages(r.Context(), actor, conversationID, after, limit)
	if err != nil {
		h.fail(w, r, "failed to list messages", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, msgs)
}

// handleSend accepts {"body": ...} as JSON, or a multipart form with a
// "body" field and an optional "file".
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	actor, conversationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req service.SendRequest
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "expected a multipart form"))
			return
		}
		req.Body = r.FormValue("body")
		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()
			req.File = &attachment.Upload{Filename: header.Filename, Size: header.Size, Body: file}
		case !errors.Is(err, http.ErrMissingFile):
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read file"))
			return
		}
	} else if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	m, err := h.service.Send(r.Context(), actor, conversationID, req)
	if err != nil {
		h.fail(w, r, "failed to send message", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	actor, conversationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	n, err := h.service.MarkRead(r.Context(), actor, conversationID)
	if err != nil {
		h.fail(w, r, "failed to mark conversation read", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"updated": n})
}

type sendFrame struct {
	Body string `json:"body"`
}

type typingFrame struct {
	IsTyping bool `json:"is_typing"`
}

// handleSocket checks access before upgrading, then serves the conversation
// topic. Messages and read receipts come back through the fan-out; typing
// indicators go straight to this instance's other sockets.
func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	actor, conversationID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Get(r.Context(), actor, conversationID); err != nil {
		h.fail(w, r, "conversation socket refused", err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	topic := realtime.ConversationTopic(conversationID)

	handle := func(ctx context.Context, c *realtime.Client, in realtime.Inbound) error {
		switch in.Type {
		case frameSendMessage:
			var f sendFrame
			if err := json.Unmarshal(in.Data, &f); err != nil {
				return dErrors.New(dErrors.CodeBadRequest, "invalid send_message frame")
			}
			_, err := h.service.Send(ctx, actor, conversationID, service.SendRequest{Body: f.Body})
			return err
		case frameMarkAsRead:
			_, err := h.service.MarkRead(ctx, actor, conversationID)
			return err
		case frameTyping:
			var f typingFrame
			_ = json.Unmarshal(in.Data, &f)
			h.hub.PublishExcept(topic, realtime.Event{
				Type: realtime.EventTyping,
				Data: map[string]any{"user_id": actor.UserID, "is_typing": f.IsTyping},
			}, c.UserID)
			return nil
		default:
			return dErrors.New(dErrors.CodeBadRequest, "unknown frame type "+in.Type)
		}
	}
	realtime.NewClient(h.hub, conn, actor.UserID).Serve(r.Context(), handle, topic)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (authz.Actor, id.ConversationID, bool) {
	actor, err := identity.ActorFromContext(r.Context(), h.actors)
	if err != nil {
		httputil.WriteError(w, err)
		return authz.Actor{}, id.ConversationID{}, false
	}
	conversationID, err := id.ParseConversationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return authz.Actor{}, id.ConversationID{}, false
	}
	return actor, conversationID, true
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
