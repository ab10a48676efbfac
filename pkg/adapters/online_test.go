package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
	"github.com/XiaoConstantine/ace-go/pkg/playbook"
	"github.com/XiaoConstantine/ace-go/pkg/roles"
)

// fixedVerdictEnvironment always returns the same outcome.
type fixedVerdictEnvironment struct {
	success bool
}

func (e *fixedVerdictEnvironment) Evaluate(context.Context, roles.Task, *roles.GeneratorOutput) (roles.Verdict, error) {
	return roles.Verdict{"success": e.success}, nil
}

func newOnline(store *playbook.Store, gen roles.Generator, env roles.EnvironmentEvaluator) *Online {
	return NewOnline(store, gen, env, &roles.OutcomeReflector{}, roles.NewTagCurator(), OnlineConfig{})
}

func TestOnlineProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("successful event tags cited strategies helpful", func(t *testing.T) {
		store := newTestStore(t)
		seedBullet(t, store, "b1")

		gen := &scriptedGenerator{answers: map[string]string{"evt-1": "yes"}, cite: []string{"b1"}}
		online := newOnline(store, gen, &fixedVerdictEnvironment{success: true})

		revision, err := online.Process(ctx, Event{
			ID:          "evt-1",
			Question:    "ready?",
			SessionID:   "sess-9",
			Description: "health probe",
		}, nil)
		require.NoError(t, err)
		require.NotNil(t, revision)
		assert.Equal(t, "online-adapter", revision.AppliedBy)
		assert.Equal(t, "health probe", revision.Description)
		assert.Equal(t, "evt-1", revision.Metadata["event_id"])
		assert.Equal(t, "sess-9", revision.Metadata["session_id"])

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 1, bullet.HelpfulCount)
	})

	t.Run("failed event tags harmful", func(t *testing.T) {
		store := newTestStore(t)
		seedBullet(t, store, "b1")

		gen := &scriptedGenerator{answers: map[string]string{"evt-2": "no"}, cite: []string{"b1"}}
		online := newOnline(store, gen, &fixedVerdictEnvironment{success: false})

		revision, err := online.Process(ctx, Event{ID: "evt-2", Question: "ready?"}, nil)
		require.NoError(t, err)
		require.NotNil(t, revision)

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 1, bullet.HarmfulCount)
	})

	t.Run("precomputed output skips the generator", func(t *testing.T) {
		store := newTestStore(t)
		seedBullet(t, store, "b1")

		// A generator that would fail loudly if invoked.
		online := newOnline(store, nil, &fixedVerdictEnvironment{success: true})

		revision, err := online.Process(ctx, Event{ID: "evt-3"}, &roles.GeneratorOutput{
			FinalAnswer: "precomputed",
			StrategyIDs: []string{"b1"},
		})
		require.NoError(t, err)
		require.NotNil(t, revision)

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 1, bullet.HelpfulCount)
	})

	t.Run("no citations yields nil revision", func(t *testing.T) {
		store := newTestStore(t)

		gen := &scriptedGenerator{answers: map[string]string{"evt-4": "ok"}}
		online := newOnline(store, gen, &fixedVerdictEnvironment{success: true})

		revision, err := online.Process(ctx, Event{ID: "evt-4"}, nil)
		require.NoError(t, err)
		assert.Nil(t, revision)

		revisions, err := store.ListRevisions(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, revisions)
	})

	t.Run("environment failure surfaces typed error", func(t *testing.T) {
		store := newTestStore(t)
		seedBullet(t, store, "b1")

		gen := &scriptedGenerator{answers: map[string]string{"evt-5": "ok"}, cite: []string{"b1"}}
		env := &failingEnvironment{failID: "evt-5", inner: &fixedVerdictEnvironment{success: true}}
		online := newOnline(store, gen, env)

		_, err := online.Process(ctx, Event{ID: "evt-5"}, nil)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.EnvironmentFailed))

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 0, bullet.HelpfulCount)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		online := newOnline(newTestStore(t), nil, &fixedVerdictEnvironment{})
		_, err := online.Process(cancelled, Event{ID: "evt-6"}, &roles.GeneratorOutput{})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.Canceled))
	})
}
