package actionlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/testutil"
)

type failingStore struct{ *InMemoryStore }

func (*failingStore) Append(context.Context, Entry) error { return errors.New("db down") }

type countingFailures struct{ kinds []string }

func (c *countingFailures) SideEffectFailed(kind string) { c.kinds = append(c.kinds, kind) }

func TestRecorder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("stamps request metadata", func(t *testing.T) {
		store := NewInMemoryStore()
		rec := NewRecorder(store, WithLogger(logger))
		declID := id.NewDeclarationID()

		rec.Record(testutil.Context(), Entry{
			ActorID:       id.NewUserID(),
			Action:        ActionDeclarationTransition,
			DeclarationID: declID,
			FromStatus:    "created",
			ToStatus:      "validated",
		})

		entries, err := rec.ListForDeclaration(context.Background(), declID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		e := entries[0]
		assert.False(t, e.ID.IsNil())
		assert.Equal(t, testutil.FixedNow, e.CreatedAt)
		assert.Equal(t, OutcomeSucceeded, e.Outcome)
		assert.Equal(t, "192.0.2.10", e.ClientIP)
		assert.Contains(t, e.Device, "Firefox")
		assert.Contains(t, e.Device, "Linux")
	})

	t.Run("failed attempts are kept with their outcome", func(t *testing.T) {
		store := NewInMemoryStore()
		rec := NewRecorder(store, WithLogger(logger))
		reclID := id.NewReclamationID()

		rec.Record(testutil.Context(), Entry{
			Action:        ActionClaimDecision,
			ReclamationID: reclID,
			Outcome:       OutcomeFailed,
			Detail:        "invalid_transition",
		})

		entries, err := rec.ListForReclamation(context.Background(), reclID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, OutcomeFailed, entries[0].Outcome)
	})

	t.Run("store failure is swallowed and counted", func(t *testing.T) {
		failures := &countingFailures{}
		rec := NewRecorder(&failingStore{InMemoryStore: NewInMemoryStore()}, WithLogger(logger), WithMetrics(failures))

		assert.NotPanics(t, func() {
			rec.Record(testutil.Context(), Entry{Action: ActionDeclarationCreated, DeclarationID: id.NewDeclarationID()})
		})
		assert.Equal(t, []string{"action_log"}, failures.kinds)
	})
}

func TestDescribeDevice(t *testing.T) {
	assert.Equal(t, "", DescribeDevice(""))

	mobile := DescribeDevice("Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36")
	assert.Contains(t, mobile, "Chrome on Android")
	assert.Contains(t, mobile, "(mobile)")
}
