package dedupe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *Store) {
	t.Helper()
	store := NewStore(t.TempDir())
	return NewCoordinator(store, nil), store
}

func TestAcquireValidation(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := GroupKey{Workflow: "fast-tests", Ref: "feature/x"}

	_, err := c.Acquire(context.Background(), key, AcquireOptions{Policy: PolicyCancelAlways})
	assert.Error(t, err)

	_, err = c.Acquire(context.Background(), key, AcquireOptions{RunID: "run-1", Policy: Policy("queue")})
	assert.Error(t, err)
}

func TestAcquireRecordsRunningRun(t *testing.T) {
	c, store := newTestCoordinator(t)
	key := GroupKey{Workflow: "fast-tests", Ref: "feature/x"}

	slot, err := c.Acquire(context.Background(), key, AcquireOptions{RunID: "run-1", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	defer slot.Release()

	rec, err := store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStateRunning, rec.State)
	assert.Equal(t, key, rec.Group())
	assert.NotNil(t, rec.StartedAt)
}

func TestCancelAlwaysSupersedesInFlightRun(t *testing.T) {
	c, store := newTestCoordinator(t)
	key := GroupKey{Workflow: "fast-tests", Ref: "feature/x"}

	first, err := c.Acquire(context.Background(), key, AcquireOptions{RunID: "run-1", Policy: PolicyCancelAlways})
	require.NoError(t, err)

	second, err := c.Acquire(context.Background(), key, AcquireOptions{RunID: "run-2", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	defer second.Release()

	// The first run's context is cancelled with the supersession cause.
	select {
	case <-first.Ctx.Done():
	default:
		t.Fatal("superseded slot context not cancelled")
	}
	assert.True(t, first.Superseded())
	assert.False(t, second.Superseded())

	rec, err := store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStateSuperseded, rec.State)
	assert.Equal(t, "run-2", rec.SupersededBy)
	assert.NotNil(t, rec.EndedAt)

	rec, err = store.Get("run-2")
	require.NoError(t, err)
	assert.Equal(t, RunStateRunning, rec.State)
}

func TestProtectDefaultBranchRejectsNewRun(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := GroupKey{Workflow: "fast-tests", Ref: "main"}
	opts := AcquireOptions{Policy: PolicyProtectDefaultBranch, DefaultBranch: "main"}

	opts.RunID = "run-1"
	first, err := c.Acquire(context.Background(), key, opts)
	require.NoError(t, err)
	defer first.Release()

	opts.RunID = "run-2"
	_, err = c.Acquire(context.Background(), key, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGroupProtected)

	// The protected run is untouched.
	select {
	case <-first.Ctx.Done():
		t.Fatal("protected run was cancelled")
	default:
	}
}

func TestProtectDefaultBranchStillCancelsFeatureBranches(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := GroupKey{Workflow: "fast-tests", Ref: "feature/x"}
	opts := AcquireOptions{Policy: PolicyProtectDefaultBranch, DefaultBranch: "main"}

	opts.RunID = "run-1"
	first, err := c.Acquire(context.Background(), key, opts)
	require.NoError(t, err)

	opts.RunID = "run-2"
	second, err := c.Acquire(context.Background(), key, opts)
	require.NoError(t, err)
	defer second.Release()

	assert.True(t, first.Superseded())
}

func TestSeparateGroupsDoNotInterfere(t *testing.T) {
	c, _ := newTestCoordinator(t)

	a, err := c.Acquire(context.Background(), GroupKey{Workflow: "fast-tests", Ref: "feature/a"},
		AcquireOptions{RunID: "run-a", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	defer a.Release()

	b, err := c.Acquire(context.Background(), GroupKey{Workflow: "fast-tests", Ref: "feature/b"},
		AcquireOptions{RunID: "run-b", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	defer b.Release()

	w, err := c.Acquire(context.Background(), GroupKey{Workflow: "nightly", Ref: "feature/a"},
		AcquireOptions{RunID: "run-w", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	defer w.Release()

	for _, s := range []*Slot{a, b, w} {
		select {
		case <-s.Ctx.Done():
			t.Fatal("unrelated slot cancelled")
		default:
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := GroupKey{Workflow: "fast-tests", Ref: "feature/x"}

	slot, err := c.Acquire(context.Background(), key, AcquireOptions{RunID: "run-1", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	slot.Release()
	slot.Release()

	// Group is free again.
	next, err := c.Acquire(context.Background(), key, AcquireOptions{RunID: "run-2", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	next.Release()
}

func TestFinishRecordsTerminalState(t *testing.T) {
	c, store := newTestCoordinator(t)
	key := GroupKey{Workflow: "fast-tests", Ref: "feature/x"}

	slot, err := c.Acquire(context.Background(), key, AcquireOptions{RunID: "run-1", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	slot.Release()
	c.Finish("run-1", RunStateSucceeded)

	rec, err := store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStateSucceeded, rec.State)
	assert.NotNil(t, rec.EndedAt)

	// A second Finish does not overwrite the terminal state.
	c.Finish("run-1", RunStateFailed)
	rec, err = store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStateSucceeded, rec.State)
}

func TestFinishPreservesSupersededState(t *testing.T) {
	c, store := newTestCoordinator(t)
	key := GroupKey{Workflow: "fast-tests", Ref: "feature/x"}

	first, err := c.Acquire(context.Background(), key, AcquireOptions{RunID: "run-1", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	second, err := c.Acquire(context.Background(), key, AcquireOptions{RunID: "run-2", Policy: PolicyCancelAlways})
	require.NoError(t, err)
	defer second.Release()

	first.Release()
	c.Finish("run-1", RunStateCancelled)

	rec, err := store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStateSuperseded, rec.State)
}
