package tx

import (
	"context"
	"database/sql"
	"sync"
	"time"

	dErrors "togoretrouve/pkg/domain-errors"
)

type ctxKey struct{}

var txKey = ctxKey{}

// DefaultTimeout bounds a transaction when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner runs fn inside a transactional boundary. Stores called with the
// context passed to fn join the transaction.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Postgres opens a database transaction per call.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, timeout: DefaultTimeout}
}

func (t *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	ctx, cancel, err := bound(ctx, t.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin transaction")
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit transaction")
	}
	return nil
}

// Memory serializes in-memory store mutations behind one lock.
// Nested calls on the same context do not re-acquire it.
type Memory struct {
	mu      sync.Mutex
	timeout time.Duration
}

type memoryKey struct{}

func NewMemory() *Memory {
	return &Memory{timeout: DefaultTimeout}
}

func (t *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryKey{}) == t {
		return fn(ctx)
	}
	ctx, cancel, err := bound(ctx, t.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(context.WithValue(ctx, memoryKey{}, t))
}

func bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}
