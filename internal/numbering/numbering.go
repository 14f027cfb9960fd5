// Package numbering assigns the human-readable sequential numbers of
// declarations (TGR<yy><seq6>) and claims (REC<yy><seq6>).
package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	dErrors "togoretrouve/pkg/domain-errors"
)

// Prefix selects the numbering series.
type Prefix string

const (
	Declaration Prefix = "TGR"
	Reclamation Prefix = "REC"
)

// ErrCollision is returned by stores when the unique index on the number fires.
var ErrCollision = errors.New("number already assigned")

// Series is one prefix within one year, e.g. "TGR25".
func Series(p Prefix, now time.Time) string {
	return fmt.Sprintf("%s%02d", p, now.Year()%100)
}

// Format renders a number: series followed by the six-digit zero-padded sequence.
func Format(p Prefix, now time.Time, seq int64) string {
	return fmt.Sprintf("%s%06d", Series(p, now), seq)
}

// ParseSequence extracts the sequence from a number of the given series.
func ParseSequence(series, numero string) (int64, bool) {
	rest, ok := strings.CutPrefix(numero, series)
	if !ok || len(rest) < 6 {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Counter hands out sequence numbers per series.
type Counter interface {
	Next(ctx context.Context, series string) (int64, error)
	// Reseed raises the counter to at least floor so the next value exceeds it.
	Reseed(ctx context.Context, series string, floor int64) error
}

// MaxSource reports the highest sequence already stored for a series.
type MaxSource interface {
	MaxSequence(ctx context.Context, series string) (int64, error)
}

// Generator draws numbers from a Counter and retries when the store reports
// a collision, reseeding the counter from the store's maximum first.
type Generator struct {
	counter     Counter
	maxAttempts int
	logger      *slog.Logger
	metrics     *Metrics
}

type Option func(*Generator)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func NewGenerator(counter Counter, opts ...Option) *Generator {
	g := &Generator{counter: counter, maxAttempts: 5, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Assign draws a number and calls insert with it until insert succeeds or
// fails with anything other than ErrCollision. It returns the number used.
func (g *Generator) Assign(ctx context.Context, p Prefix, now time.Time, source MaxSource, insert func(numero string) error) (string, error) {
	series := Series(p, now)
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		seq, err := g.counter.Next(ctx, series)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to draw number")
		}
		numero := Format(p, now, seq)

		err = insert(numero)
		if err == nil {
			return numero, nil
		}
		if !errors.Is(err, ErrCollision) {
			return "", err
		}

		if g.metrics != nil {
			g.metrics.IncCollision(string(p))
		}
		g.logger.WarnContext(ctx, "number collision, reseeding",
			"numero", numero,
			"attempt", attempt,
		)
		floor, err := source.MaxSequence(ctx, series)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to read highest number")
		}
		if err := g.counter.Reseed(ctx, series, floor); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to reseed counter")
		}
	}
	return "", dErrors.New(dErrors.CodeConflict, fmt.Sprintf("could not assign a unique %s number after %d attempts", p, g.maxAttempts))
}
