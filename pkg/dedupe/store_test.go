package dedupe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreWriteAndGet(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Now().UTC()

	rec := &RunRecord{
		RunID:     "run-1",
		Workflow:  "fast-tests",
		Ref:       "feature/x",
		State:     RunStateSucceeded,
		CreatedAt: now,
		StartedAt: &now,
	}
	require.NoError(t, store.Write(rec))

	got, err := store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, RunStateSucceeded, got.State)
	assert.Equal(t, GroupKey{Workflow: "fast-tests", Ref: "feature/x"}, got.Group())
	assert.True(t, got.Terminal())
}

func TestStoreWriteValidation(t *testing.T) {
	store := NewStore(t.TempDir())
	assert.Error(t, store.Write(nil))
	assert.Error(t, store.Write(&RunRecord{RunID: "  "}))
}

func TestStoreZombieDetection(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Now().UTC()

	// PID that cannot exist.
	rec := &RunRecord{
		RunID:     "run-zombie",
		Workflow:  "fast-tests",
		Ref:       "main",
		State:     RunStateRunning,
		PID:       99999999,
		CreatedAt: now,
		StartedAt: &now,
	}
	require.NoError(t, store.Write(rec))

	got, err := store.Get("run-zombie")
	require.NoError(t, err)
	assert.Equal(t, RunStateUnknown, got.State)

	// The correction was persisted.
	got, err = store.Get("run-zombie")
	require.NoError(t, err)
	assert.Equal(t, RunStateUnknown, got.State)
}

func TestStoreListSortedNewestFirst(t *testing.T) {
	store := NewStore(t.TempDir())
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"run-old", "run-mid", "run-new"} {
		started := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Write(&RunRecord{
			RunID:     id,
			Workflow:  "fast-tests",
			Ref:       "main",
			State:     RunStateSucceeded,
			CreatedAt: started,
			StartedAt: &started,
		}))
	}

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "run-new", records[0].RunID)
	assert.Equal(t, "run-old", records[2].RunID)
}

func TestStoreListSkipsMalformedEntries(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	now := time.Now().UTC()

	require.NoError(t, store.Write(&RunRecord{
		RunID:     "run-ok",
		Workflow:  "fast-tests",
		Ref:       "main",
		State:     RunStateFailed,
		CreatedAt: now,
	}))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "run-broken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run-broken", "run.json"), []byte("{not json"), 0644))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "run-ok", records[0].RunID)
}

func TestStoreInFlight(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Now().UTC()
	key := GroupKey{Workflow: "fast-tests", Ref: "feature/x"}

	require.NoError(t, store.Write(&RunRecord{
		RunID:     "run-done",
		Workflow:  key.Workflow,
		Ref:       key.Ref,
		State:     RunStateSucceeded,
		CreatedAt: now,
	}))

	rec, err := store.InFlight(key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	started := now.Add(time.Minute)
	require.NoError(t, store.Write(&RunRecord{
		RunID:     "run-live",
		Workflow:  key.Workflow,
		Ref:       key.Ref,
		State:     RunStateRunning,
		PID:       os.Getpid(),
		CreatedAt: started,
		StartedAt: &started,
	}))

	rec, err = store.InFlight(key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "run-live", rec.RunID)

	// Different group is not matched.
	rec, err = store.InFlight(GroupKey{Workflow: "nightly", Ref: key.Ref})
	require.NoError(t, err)
	assert.Nil(t, rec)
}
