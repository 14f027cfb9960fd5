// Package service implements conversations between the agent of a
// declaration's structure and its declarant: idempotent get-or-create on the
// (declaration, agent, declarant) triple, append-only messages with an outbox
// event per write, and read marking.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"togoretrouve/internal/attachment"
	"togoretrouve/internal/conversation/models"
	dmodels "togoretrouve/internal/declaration/models"
	authz "togoretrouve/internal/identity/models"
	"togoretrouve/internal/notification"
	"togoretrouve/internal/outbox"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/platform/sentinel"
	txcontext "togoretrouve/pkg/platform/tx"
	"togoretrouve/pkg/requestcontext"
)

var tracer = otel.Tracer("togoretrouve/conversation")

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Store interface {
	Create(ctx context.Context, c *models.Conversation) error
	FindByID(ctx context.Context, conversationID id.ConversationID) (*models.Conversation, error)
	FindByTriple(ctx context.Context, declarationID id.DeclarationID, agentID, declarantID id.UserID) (*models.Conversation, error)
	FindForAgent(ctx context.Context, declarationID id.DeclarationID, agentID id.UserID) (*models.Conversation, error)
	FindForDeclarant(ctx context.Context, declarationID id.DeclarationID, declarantID id.UserID) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID id.UserID) ([]*models.Summary, error)
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, conversationID id.ConversationID, afterSeq int64, limit int) ([]*models.Message, error)
	MarkRead(ctx context.Context, conversationID id.ConversationID, readerID id.UserID, now time.Time) (int, error)
}

type Declarations interface {
	Lookup(ctx context.Context, declarationID id.DeclarationID) (*dmodels.Declaration, error)
}

// StaffDirectory resolves the agent a citizen talks to.
type StaffDirectory interface {
	StaffForStructure(ctx context.Context, structureID id.StructureID) ([]*authz.User, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notification.Request)
}

type Attachments interface {
	Save(ctx context.Context, scope attachment.Scope, up attachment.Upload) (*attachment.Object, error)
	URL(ctx context.Context, key string) (string, error)
	Discard(ctx context.Context, key string)
}

// MessageCreated is the payload of the message.created outbox event.
type MessageCreated struct {
	Message *models.Message `json:"message"`
}

// MessagesRead is the payload of the messages.read outbox event.
type MessagesRead struct {
	ConversationID id.ConversationID `json:"conversation_id"`
	ReaderID       id.UserID         `json:"reader_id"`
	Count          int               `json:"count"`
	At             time.Time         `json:"at"`
}

type Service struct {
	store        Store
	tx           txcontext.Runner
	sequence     Sequencer
	declarations Declarations
	staff        StaffDirectory
	notifier     Notifier
	outbox       outbox.Writer
	attachments  Attachments
	metrics      *Metrics
	logger       *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAttachments(a Attachments) Option {
	return func(s *Service) {
		s.attachments = a
	}
}

func New(
	st Store,
	runner txcontext.Runner,
	sequence Sequencer,
	declarations Declarations,
	staff StaffDirectory,
	notifier Notifier,
	events outbox.Writer,
	opts ...Option,
) *Service {
	s := &Service{
		store:        st,
		tx:           runner,
		sequence:     sequence,
		declarations: declarations,
		staff:        staff,
		notifier:     notifier,
		outbox:       events,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the conversation the actor has about a declaration,
// creating it with an opening system message on first contact.
//
// Staff act as the agent, facing the declarant; an agent who already talks
// about this declaration keeps that conversation. A citizen must own the
// declaration and keeps their oldest conversation about it; on first contact
// they face the longest-serving staff member of its structure.
func (s *Service) GetOrCreate(ctx context.Context, actor authz.Actor, declarationID id.DeclarationID) (*models.Conversation, error) {
	ctx, span := tracer.Start(ctx, "conversation.GetOrCreate")
	defer span.End()
	span.SetAttributes(attribute.String("declaration.id", declarationID.String()))

	d, err := s.declarations.Lookup(ctx, declarationID)
	if err != nil {
		return nil, err
	}

	var agentID, declarantID id.UserID
	switch {
	case actor.Role.IsStaff():
		if err := authz.Authorize(actor, authz.ActionView, authz.Resource{StructureID: d.StructureID, OwnerID: d.DeclarantID}); err != nil {
			return nil, err
		}
		if d.DeclarantID == actor.UserID {
			return nil, dErrors.New(dErrors.CodeValidation, "you cannot open a conversation on your own declaration")
		}
		existing, err := s.store.FindForAgent(ctx, d.ID, actor.UserID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, translate(err)
		}
		agentID, declarantID = actor.UserID, d.DeclarantID
	case actor.UserID == d.DeclarantID:
		existing, err := s.store.FindForDeclarant(ctx, d.ID, actor.UserID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, translate(err)
		}
		agentID, err = s.resolveAgent(ctx, d)
		if err != nil {
			return nil, err
		}
		declarantID = actor.UserID
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "only the declarant or staff may open a conversation on this declaration")
	}

	c, err := s.store.FindByTriple(ctx, d.ID, agentID, declarantID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, translate(err)
	}

	now := requestcontext.Now(ctx)
	c, err = models.NewConversation(d.ID, agentID, declarantID, now)
	if err != nil {
		return nil, err
	}
	opening := models.NewSystemMessage(c, s.sequence.Next(),
		fmt.Sprintf("Conversation ouverte au sujet de la déclaration %s", d.Numero), now)

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, c); err != nil {
			return err
		}
		if err := s.store.AppendMessage(ctx, opening); err != nil {
			return err
		}
		return s.appendMessageCreated(ctx, opening)
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// lost the race on the triple: the winner's row is the conversation
		existing, findErr := s.store.FindByTriple(ctx, d.ID, agentID, declarantID)
		if findErr != nil {
			return nil, translate(findErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, translate(err)
	}

	if s.metrics != nil {
		s.metrics.Opened.Inc()
	}
	s.logger.InfoContext(ctx, "conversation opened",
		"conversation_id", c.ID,
		"declaration_id", d.ID,
		"agent_id", agentID,
		"declarant_id", declarantID,
	)
	return c, nil
}

func (s *Service) resolveAgent(ctx context.Context, d *dmodels.Declaration) (id.UserID, error) {
	staff, err := s.staff.StaffForStructure(ctx, d.StructureID)
	if err != nil {
		return id.UserID{}, err
	}
	for _, u := range staff {
		if u.ID != d.DeclarantID {
			return u.ID, nil
		}
	}
	return id.UserID{}, dErrors.New(dErrors.CodeNotFound, "no agent serves this declaration's structure yet")
}

// Get returns a conversation visible to the actor.
func (s *Service) Get(ctx context.Context, actor authz.Actor, conversationID id.ConversationID) (*models.Conversation, error) {
	return s.load(ctx, actor, conversationID)
}

// SendRequest is the message form. File is optional.
type SendRequest struct {
	Body string             `json:"body"`
	File *attachment.Upload `json:"-"`
}

// Send appends a message to the conversation. The write and its
// message.created event commit together; live delivery happens later
// from the outbox, and the receiver's notification is best-effort.
func (s *Service) Send(ctx context.Context, actor authz.Actor, conversationID id.ConversationID, req SendRequest) (*models.Message, error) {
	ctx, span := tracer.Start(ctx, "conversation.Send")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID.String()))

	c, err := s.load(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateContent(req.Body, req.File != nil); err != nil {
		return nil, err
	}

	var fileKey string
	if req.File != nil {
		if s.attachments == nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, "file messages are not enabled")
		}
		obj, err := s.attachments.Save(ctx, attachment.ScopeMessageFile, *req.File)
		if err != nil {
			return nil, err
		}
		fileKey = obj.Key
	}

	m, err := models.NewMessage(c, actor.UserID, s.sequence.Next(), req.Body, fileKey, requestcontext.Now(ctx))
	if err != nil {
		s.discard(ctx, fileKey)
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.AppendMessage(ctx, m); err != nil {
			return err
		}
		return s.appendMessageCreated(ctx, m)
	})
	if err != nil {
		s.discard(ctx, fileKey)
		return nil, translate(err)
	}

	if s.metrics != nil {
		s.metrics.IncMessage(string(m.Kind))
	}
	s.notifier.Notify(ctx, notification.Request{
		RecipientID:   *m.ReceiverID,
		Kind:          notification.KindNewMessage,
		Title:         "Nouveau message",
		Message:       preview(m),
		DeclarationID: c.DeclarationID,
		Link:          "/conversations/" + c.ID.String(),
	})
	return m, nil
}

// MarkRead flips the actor's unread messages in the conversation and returns
// how many changed. Repeating it changes nothing and emits nothing.
func (s *Service) MarkRead(ctx context.Context, actor authz.Actor, conversationID id.ConversationID) (int, error) {
	ctx, span := tracer.Start(ctx, "conversation.MarkRead")
	defer span.End()

	if _, err := s.load(ctx, actor, conversationID); err != nil {
		return 0, err
	}
	now := requestcontext.Now(ctx)
	var count int
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		n, err := s.store.MarkRead(ctx, conversationID, actor.UserID, now)
		if err != nil {
			return err
		}
		count = n
		if n == 0 {
			return nil
		}
		ev, err := outbox.NewEvent(outbox.AggregateConversation, conversationID.String(), outbox.EventMessagesRead,
			MessagesRead{ConversationID: conversationID, ReaderID: actor.UserID, Count: n, At: now}, now)
		if err != nil {
			return err
		}
		return s.outbox.Append(ctx, ev)
	})
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// ListMessages is the pull path: messages after afterSeq in sequence order.
func (s *Service) ListMessages(ctx context.Context, actor authz.Actor, conversationID id.ConversationID, afterSeq int64, limit int) ([]*models.Message, error) {
	if _, err := s.load(ctx, actor, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	msgs, err := s.store.ListMessages(ctx, conversationID, afterSeq, limit)
	if err != nil {
		return nil, translate(err)
	}
	for _, m := range msgs {
		m.FileURL = s.fileURL(ctx, m.FileKey)
	}
	return msgs, nil
}

// ListMine returns the actor's conversations with their unread counts.
func (s *Service) ListMine(ctx context.Context, actor authz.Actor) ([]*models.Summary, error) {
	list, err := s.store.ListForUser(ctx, actor.UserID)
	if err != nil {
		return nil, translate(err)
	}
	if list == nil {
		list = []*models.Summary{}
	}
	return list, nil
}

func (s *Service) load(ctx context.Context, actor authz.Actor, conversationID id.ConversationID) (*models.Conversation, error) {
	c, err := s.store.FindByID(ctx, conversationID)
	if err != nil {
		return nil, translate(err)
	}
	if err := c.CheckAccess(actor); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) appendMessageCreated(ctx context.Context, m *models.Message) error {
	m.FileURL = s.fileURL(ctx, m.FileKey)
	ev, err := outbox.NewEvent(outbox.AggregateConversation, m.ConversationID.String(), outbox.EventMessageCreated,
		MessageCreated{Message: m}, m.CreatedAt)
	if err != nil {
		return err
	}
	return s.outbox.Append(ctx, ev)
}

func (s *Service) fileURL(ctx context.Context, key string) string {
	if key == "" || s.attachments == nil {
		return ""
	}
	url, err := s.attachments.URL(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve message file url", "key", key, "error", err)
		return ""
	}
	return url
}

func (s *Service) discard(ctx context.Context, key string) {
	if key != "" && s.attachments != nil {
		s.attachments.Discard(ctx, key)
	}
}

func preview(m *models.Message) string {
	if m.Body == "" {
		return "Vous avez reçu un fichier"
	}
	if utf8.RuneCountInString(m.Body) <= 80 {
		return m.Body
	}
	return string([]rune(m.Body)[:80]) + "…"
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "conversation not found")
	case isDomain(err):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "conversation storage failed")
	}
}

func isDomain(err error) bool {
	_, ok := dErrors.As(err)
	return ok
}
