package actionlog

import (
	"context"
	"log/slog"

	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/requestcontext"
)

// FailureCounter counts swallowed side-effect failures.
type FailureCounter interface {
	SideEffectFailed(kind string)
}

// Recorder appends ActionLog entries best-effort: a failed append is logged
// and counted, never returned.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics FailureCounter
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithMetrics(m FailureCounter) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stamps entry with an id, the request time and the client metadata
// carried by ctx, then appends it. Cancellation of ctx does not abort the write.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	ctx = context.WithoutCancel(ctx)

	if entry.ID.IsNil() {
		entry.ID = id.NewActionLogID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = requestcontext.Now(ctx)
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeSucceeded
	}
	entry.ClientIP = requestcontext.ClientIP(ctx)
	entry.UserAgent = requestcontext.UserAgent(ctx)
	entry.Device = DescribeDevice(entry.UserAgent)

	r.logger.InfoContext(ctx, string(entry.Action),
		"log_type", "audit",
		"actor_id", entry.ActorID,
		"declaration_id", entry.DeclarationID,
		"reclamation_id", entry.ReclamationID,
		"from_status", entry.FromStatus,
		"to_status", entry.ToStatus,
		"outcome", entry.Outcome,
		"request_id", requestcontext.RequestID(ctx),
	)

	if err := r.store.Append(ctx, entry); err != nil {
		if r.metrics != nil {
			r.metrics.SideEffectFailed("action_log")
		}
		r.logger.ErrorContext(ctx, "failed to append action log",
			"action", entry.Action,
			"declaration_id", entry.DeclarationID,
			"reclamation_id", entry.ReclamationID,
			"error", err,
		)
	}
}

func (r *Recorder) ListForDeclaration(ctx context.Context, declarationID id.DeclarationID) ([]Entry, error) {
	return r.store.ListByDeclaration(ctx, declarationID)
}

func (r *Recorder) ListForReclamation(ctx context.Context, reclamationID id.ReclamationID) ([]Entry, error) {
	return r.store.ListByReclamation(ctx, reclamationID)
}
