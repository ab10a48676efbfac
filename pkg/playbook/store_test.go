package playbook

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "playbook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func mustApply(t *testing.T, store *Store, ops []DeltaOperation) *Revision {
	t.Helper()
	revision, err := store.ApplyDelta(context.Background(), ops, ApplyOptions{AppliedBy: "test"})
	require.NoError(t, err)
	return revision
}

func TestApplyDeltaAdd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t.Run("creates bullet and section", func(t *testing.T) {
		revision := mustApply(t, store, []DeltaOperation{Add("b1", "error_handling", "Wrap errors with context.")})
		assert.NotEmpty(t, revision.ID)

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "Wrap errors with context.", bullet.Content)
		assert.Equal(t, "error_handling", bullet.Section)
		assert.Equal(t, "Error_Handling", bullet.SectionDisplayName)
		assert.Equal(t, 0, bullet.HelpfulCount)
		assert.Equal(t, 0, bullet.HarmfulCount)
	})

	t.Run("explicit display name wins", func(t *testing.T) {
		op := Add("b2", "formatting", "Short answers first.")
		op.SectionDisplayName = "Answer Formatting"
		mustApply(t, store, []DeltaOperation{op})

		bullet, err := store.GetBullet(ctx, "b2")
		require.NoError(t, err)
		assert.Equal(t, "Answer Formatting", bullet.SectionDisplayName)
	})

	t.Run("re-add replaces content and counters", func(t *testing.T) {
		mustApply(t, store, []DeltaOperation{TagHelpful("b1", 3)})

		op := Add("b1", "error_handling", "Always wrap errors with context.")
		op.HelpfulDelta = 1
		mustApply(t, store, []DeltaOperation{op})

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "Always wrap errors with context.", bullet.Content)
		assert.Equal(t, 1, bullet.HelpfulCount)
	})

	t.Run("sections get increasing ordering", func(t *testing.T) {
		snapshot, err := store.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snapshot, 2)
		assert.Equal(t, "error_handling", snapshot[0].Name)
		assert.Equal(t, "formatting", snapshot[1].Name)
		assert.Less(t, snapshot[0].Ordering, snapshot[1].Ordering)
	})
}

func TestApplyDeltaUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustApply(t, store, []DeltaOperation{Add("b1", "math", "Check arithmetic.")})

	t.Run("updates content only", func(t *testing.T) {
		mustApply(t, store, []DeltaOperation{{Action: ActionUpdate, BulletID: "b1", Content: "Check every arithmetic step."}})

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "Check every arithmetic step.", bullet.Content)
		assert.Equal(t, "math", bullet.Section)
	})

	t.Run("moves bullet to a new section", func(t *testing.T) {
		mustApply(t, store, []DeltaOperation{{Action: ActionUpdate, BulletID: "b1", Section: "verification"}})

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "verification", bullet.Section)
		assert.Equal(t, "Check every arithmetic step.", bullet.Content)
	})

	t.Run("missing bullet aborts the whole batch", func(t *testing.T) {
		_, err := store.ApplyDelta(ctx, []DeltaOperation{
			TagHelpful("b1", 1),
			{Action: ActionUpdate, BulletID: "ghost", Content: "x"},
		}, ApplyOptions{})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ResourceNotFound))

		// The TAG before the failing op must not have landed.
		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 0, bullet.HelpfulCount)
	})
}

func TestApplyDeltaTag(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustApply(t, store, []DeltaOperation{Add("b1", "math", "Check arithmetic.")})

	t.Run("increments counters", func(t *testing.T) {
		mustApply(t, store, []DeltaOperation{TagHelpful("b1", 2), TagHarmful("b1", 1)})

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 2, bullet.HelpfulCount)
		assert.Equal(t, 1, bullet.HarmfulCount)
	})

	t.Run("rejects negative counters", func(t *testing.T) {
		_, err := store.ApplyDelta(ctx, []DeltaOperation{TagHarmful("b1", -5)}, ApplyOptions{})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.Conflict))

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 1, bullet.HarmfulCount)
	})

	t.Run("rejects unknown bullet", func(t *testing.T) {
		_, err := store.ApplyDelta(ctx, []DeltaOperation{TagHelpful("ghost", 1)}, ApplyOptions{})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ResourceNotFound))
	})

	t.Run("add then tag twice in one batch", func(t *testing.T) {
		revision := mustApply(t, store, []DeltaOperation{
			Add("b2", "math", "Estimate before computing."),
			TagHelpful("b2", 1),
			TagHelpful("b2", 1),
		})

		bullet, err := store.GetBullet(ctx, "b2")
		require.NoError(t, err)
		assert.Equal(t, 2, bullet.HelpfulCount)

		// The audit record keeps the original three operations, not the
		// aggregated form.
		require.Len(t, revision.Operations, 3)
		assert.Equal(t, 1, revision.Operations[1].HelpfulDelta)
		assert.Equal(t, 1, revision.Operations[2].HelpfulDelta)
	})
}

func TestApplyDeltaRemove(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustApply(t, store, []DeltaOperation{Add("b1", "math", "Check arithmetic.")})

	t.Run("removes bullet but keeps section", func(t *testing.T) {
		mustApply(t, store, []DeltaOperation{Remove("b1")})

		_, err := store.GetBullet(ctx, "b1")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ResourceNotFound))

		snapshot, err := store.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snapshot, 1)
		assert.Equal(t, "math", snapshot[0].Name)
		assert.Empty(t, snapshot[0].Bullets)
	})

	t.Run("removing a missing bullet is an error", func(t *testing.T) {
		_, err := store.ApplyDelta(ctx, []DeltaOperation{Remove("b1")}, ApplyOptions{})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ResourceNotFound))
	})
}

func TestConcurrentTagging(t *testing.T) {
	const workers = 16

	ctx := context.Background()
	store := newTestStore(t)
	mustApply(t, store, []DeltaOperation{Add("b1", "math", "Check arithmetic.")})

	errs := make([]error, workers)
	p := pool.New().WithMaxGoroutines(8)
	for i := 0; i < workers; i++ {
		i := i
		p.Go(func() {
			_, errs[i] = store.ApplyDelta(ctx, []DeltaOperation{TagHelpful("b1", 1)}, ApplyOptions{})
		})
	}
	p.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	bullet, err := store.GetBullet(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, workers, bullet.HelpfulCount)

	revisions, err := store.ListRevisions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, revisions, workers+1)
}

func TestRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("rollback of a tag restores counters", func(t *testing.T) {
		store := newTestStore(t)
		mustApply(t, store, []DeltaOperation{Add("b1", "math", "Check arithmetic.")})
		revision := mustApply(t, store, []DeltaOperation{TagHelpful("b1", 3), TagHarmful("b1", 1)})

		rollback, err := store.Rollback(ctx, revision.ID)
		require.NoError(t, err)
		assert.Equal(t, revision.ID, rollback.Metadata[MetaRollsBack])
		assert.Equal(t, "rollback", rollback.AppliedBy)

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 0, bullet.HelpfulCount)
		assert.Equal(t, 0, bullet.HarmfulCount)
	})

	t.Run("rollback of a remove restores content and counters", func(t *testing.T) {
		store := newTestStore(t)
		op := Add("b1", "math", "Check arithmetic.")
		op.Metadata = map[string]any{"source": "manual"}
		mustApply(t, store, []DeltaOperation{op})
		mustApply(t, store, []DeltaOperation{TagHelpful("b1", 2)})

		removal := mustApply(t, store, []DeltaOperation{Remove("b1")})
		_, err := store.GetBullet(ctx, "b1")
		require.Error(t, err)

		_, err = store.Rollback(ctx, removal.ID)
		require.NoError(t, err)

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "Check arithmetic.", bullet.Content)
		assert.Equal(t, "math", bullet.Section)
		assert.Equal(t, 2, bullet.HelpfulCount)
		assert.Equal(t, map[string]any{"source": "manual"}, bullet.Metadata)
	})

	t.Run("rollback of a mixed batch undoes in reverse order", func(t *testing.T) {
		store := newTestStore(t)
		revision := mustApply(t, store, []DeltaOperation{
			Add("b1", "math", "Check arithmetic."),
			TagHelpful("b1", 2),
		})

		_, err := store.Rollback(ctx, revision.ID)
		require.NoError(t, err)

		_, err = store.GetBullet(ctx, "b1")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ResourceNotFound))
	})

	t.Run("rollback of an add removes the bullet again after re-tagging", func(t *testing.T) {
		store := newTestStore(t)
		revision := mustApply(t, store, []DeltaOperation{Add("b1", "math", "Check arithmetic.")})
		mustApply(t, store, []DeltaOperation{TagHelpful("b1", 1)})

		// The stored inverse is a REMOVE; later independent counter
		// changes do not block it.
		_, err := store.Rollback(ctx, revision.ID)
		require.NoError(t, err)
		_, err = store.GetBullet(ctx, "b1")
		require.Error(t, err)
	})

	t.Run("rollback of a zero-net batch is an empty-effect revision", func(t *testing.T) {
		store := newTestStore(t)
		mustApply(t, store, []DeltaOperation{Add("b1", "math", "Check arithmetic.")})
		revision := mustApply(t, store, []DeltaOperation{TagHelpful("b1", 1), TagHelpful("b1", -1)})

		rollback, err := store.Rollback(ctx, revision.ID)
		require.NoError(t, err)
		assert.Empty(t, rollback.Operations)
		assert.Equal(t, revision.ID, rollback.Metadata[MetaRollsBack])

		bullet, err := store.GetBullet(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 0, bullet.HelpfulCount)
	})

	t.Run("unknown revision", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.Rollback(ctx, "no-such-revision")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ResourceNotFound))
	})

	t.Run("rollback is itself a revision", func(t *testing.T) {
		store := newTestStore(t)
		mustApply(t, store, []DeltaOperation{Add("b1", "math", "x")})
		revision := mustApply(t, store, []DeltaOperation{TagHelpful("b1", 1)})

		_, err := store.Rollback(ctx, revision.ID)
		require.NoError(t, err)

		revisions, err := store.ListRevisions(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, revisions, 3)
	})
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustApply(t, store, []DeltaOperation{Add("b1", "beta", "First strategy.")})
	mustApply(t, store, []DeltaOperation{Add("b2", "alpha", "Second strategy.")})
	mustApply(t, store, []DeltaOperation{Add("b3", "beta", "Third strategy.")})

	t.Run("sections ordered by creation, bullets by creation", func(t *testing.T) {
		snapshot, err := store.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snapshot, 2)

		// beta was created first so it keeps the lower ordering slot.
		assert.Equal(t, "beta", snapshot[0].Name)
		assert.Equal(t, "alpha", snapshot[1].Name)

		require.Len(t, snapshot[0].Bullets, 2)
		assert.Equal(t, "b1", snapshot[0].Bullets[0].BulletID)
		assert.Equal(t, "b3", snapshot[0].Bullets[1].BulletID)
	})

	t.Run("section snapshot filters", func(t *testing.T) {
		snapshot, err := store.SectionSnapshot(ctx, []string{"alpha"})
		require.NoError(t, err)
		require.Len(t, snapshot, 1)
		assert.Equal(t, "alpha", snapshot[0].Name)
		require.Len(t, snapshot[0].Bullets, 1)
		assert.Equal(t, "b2", snapshot[0].Bullets[0].BulletID)
	})

	t.Run("empty store yields empty snapshot", func(t *testing.T) {
		empty := newTestStore(t)
		snapshot, err := empty.Snapshot(ctx)
		require.NoError(t, err)
		assert.Empty(t, snapshot)
	})
}

func TestTopStrategies(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustApply(t, store, []DeltaOperation{
		Add("low", "s", "Low scorer."),
		Add("high", "s", "High scorer."),
		Add("mid", "s", "Mid scorer."),
	})
	mustApply(t, store, []DeltaOperation{TagHelpful("high", 5)})
	mustApply(t, store, []DeltaOperation{TagHelpful("mid", 3), TagHarmful("mid", 1)})
	mustApply(t, store, []DeltaOperation{TagHarmful("low", 2)})

	t.Run("ranked by net score", func(t *testing.T) {
		top, err := store.TopStrategies(ctx, 10)
		require.NoError(t, err)
		require.Len(t, top, 3)
		assert.Equal(t, "high", top[0].BulletID)
		assert.Equal(t, "mid", top[1].BulletID)
		assert.Equal(t, "low", top[2].BulletID)
	})

	t.Run("limit is honored", func(t *testing.T) {
		top, err := store.TopStrategies(ctx, 1)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, "high", top[0].BulletID)
	})

	t.Run("non-positive limit yields nothing", func(t *testing.T) {
		top, err := store.TopStrategies(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, top)
	})
}

func TestListRevisions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := mustApply(t, store, []DeltaOperation{Add("b1", "s", "x")})
	second := mustApply(t, store, []DeltaOperation{TagHelpful("b1", 1)})

	t.Run("most recent first", func(t *testing.T) {
		revisions, err := store.ListRevisions(ctx, 0)
		require.NoError(t, err)
		require.Len(t, revisions, 2)
		assert.Equal(t, second.ID, revisions[0].ID)
		assert.Equal(t, first.ID, revisions[1].ID)
	})

	t.Run("limit is honored", func(t *testing.T) {
		revisions, err := store.ListRevisions(ctx, 1)
		require.NoError(t, err)
		require.Len(t, revisions, 1)
		assert.Equal(t, second.ID, revisions[0].ID)
	})

	t.Run("attribution round-trips", func(t *testing.T) {
		revision, err := store.ApplyDelta(ctx, []DeltaOperation{TagHarmful("b1", 1)}, ApplyOptions{
			AppliedBy:   "curator",
			Description: "weekly review",
			Metadata:    map[string]any{"ticket": "OPS-12"},
		})
		require.NoError(t, err)

		revisions, err := store.ListRevisions(ctx, 1)
		require.NoError(t, err)
		require.Len(t, revisions, 1)
		assert.Equal(t, revision.ID, revisions[0].ID)
		assert.Equal(t, "curator", revisions[0].AppliedBy)
		assert.Equal(t, "weekly review", revisions[0].Description)
		assert.Equal(t, "OPS-12", revisions[0].Metadata["ticket"])
	})
}

func TestInMemoryStore(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.ApplyDelta(ctx, []DeltaOperation{Add("b1", "s", "x")}, ApplyOptions{})
	require.NoError(t, err)

	bullet, err := store.GetBullet(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "x", bullet.Content)
}
