// Package dedupe serializes pipeline runs per concurrency group.
//
// A group is (workflow identity, branch ref). At most one run per group
// executes at a time: a newly started run cancels the in-flight run in its
// group (or is rejected, depending on policy). Cancelled runs observe the
// cancellation through their run context and unwind through teardown.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Errors returned by Acquire.
var (
	// ErrGroupProtected is returned under PolicyProtectDefaultBranch when
	// the in-flight run holds the protected default branch.
	ErrGroupProtected = errors.New("concurrency group held by protected branch run")
)

// AcquireOptions configures one acquisition.
type AcquireOptions struct {
	// RunID identifies the acquiring run. Required.
	RunID string

	// Policy selects the cancellation behavior. Required.
	Policy Policy

	// DefaultBranch is the protected ref under PolicyProtectDefaultBranch
	// (e.g., "refs/heads/main" or "main", matching however refs are named
	// in the group keys).
	DefaultBranch string
}

// Slot is one run's exclusive hold on its concurrency group.
type Slot struct {
	// Ctx is cancelled when a newer run supersedes this one. Run all
	// cancellable work under it.
	Ctx context.Context

	key    GroupKey
	runID  string
	cancel context.CancelCauseFunc
	coord  *Coordinator
	once   sync.Once
}

// Superseded reports whether this slot was cancelled by a newer run.
func (s *Slot) Superseded() bool {
	return context.Cause(s.Ctx) != nil && errors.Is(context.Cause(s.Ctx), ErrSuperseded)
}

// Release gives up the group. Idempotent. The final state is recorded by
// the caller via the store; Release only clears the in-process slot.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.coord.release(s.key, s.runID)
		s.cancel(nil)
	})
}

// ErrSuperseded is the cancellation cause set when a newer run takes the group.
var ErrSuperseded = errors.New("run superseded by newer run in concurrency group")

// Coordinator assigns runs to concurrency groups and enforces the
// cancellation policy. It serializes runs within one process; the Store
// additionally records run liveness for operators and cross-process
// protection checks.
type Coordinator struct {
	store  *Store
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[GroupKey]*Slot
}

// NewCoordinator creates a Coordinator backed by the given store.
func NewCoordinator(store *Store, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:    store,
		logger:   logger,
		inflight: make(map[GroupKey]*Slot),
	}
}

// Acquire claims the group for a new run.
//
// If an in-flight run holds the group:
//   - PolicyCancelAlways: the in-flight run is cancelled (it still unwinds
//     through teardown) and the new run proceeds.
//   - PolicyProtectDefaultBranch: same, unless the in-flight run is on the
//     protected default branch, in which case ErrGroupProtected is returned
//     and the in-flight run is left untouched.
//
// The returned Slot's context is derived from ctx and is cancelled if a
// newer run later supersedes this one.
func (c *Coordinator) Acquire(ctx context.Context, key GroupKey, opts AcquireOptions) (*Slot, error) {
	if opts.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if !opts.Policy.Valid() {
		return nil, fmt.Errorf("unknown concurrency policy %q", opts.Policy)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.inflight[key]; ok {
		if opts.Policy == PolicyProtectDefaultBranch && key.Ref == opts.DefaultBranch {
			return nil, fmt.Errorf("%w: %s held by run %s", ErrGroupProtected, key, prev.runID)
		}
		c.logger.Info("Superseding in-flight run",
			zap.String("group", key.String()),
			zap.String("superseded", prev.runID),
			zap.String("superseding", opts.RunID))
		c.supersede(prev, opts.RunID)
	} else if c.store != nil {
		// A live run recorded by another process can only be protected,
		// not cancelled, from here.
		if rec, err := c.store.InFlight(key); err == nil && rec != nil && rec.RunID != opts.RunID {
			if opts.Policy == PolicyProtectDefaultBranch && key.Ref == opts.DefaultBranch {
				return nil, fmt.Errorf("%w: %s held by run %s", ErrGroupProtected, key, rec.RunID)
			}
			c.logger.Warn("In-flight run in another process; proceeding per policy",
				zap.String("group", key.String()),
				zap.String("in_flight", rec.RunID))
		}
	}

	slotCtx, cancel := context.WithCancelCause(ctx)
	slot := &Slot{
		Ctx:    slotCtx,
		key:    key,
		runID:  opts.RunID,
		cancel: cancel,
		coord:  c,
	}
	c.inflight[key] = slot

	if c.store != nil {
		now := time.Now().UTC()
		rec := &RunRecord{
			RunID:     opts.RunID,
			Workflow:  key.Workflow,
			Ref:       key.Ref,
			State:     RunStateRunning,
			Policy:    opts.Policy,
			PID:       os.Getpid(),
			CreatedAt: now,
			StartedAt: &now,
		}
		if err := c.store.Write(rec); err != nil {
			c.logger.Warn("Failed to record run", zap.String("run_id", opts.RunID), zap.Error(err))
		}
	}

	return slot, nil
}

// supersede cancels the previous slot and records the supersession.
// Caller holds c.mu.
func (c *Coordinator) supersede(prev *Slot, byRunID string) {
	prev.cancel(ErrSuperseded)
	delete(c.inflight, prev.key)

	if c.store == nil {
		return
	}
	if rec, err := c.store.Get(prev.runID); err == nil && rec.State == RunStateRunning {
		rec.State = RunStateSuperseded
		rec.SupersededBy = byRunID
		now := time.Now().UTC()
		rec.EndedAt = &now
		if err := c.store.Write(rec); err != nil {
			c.logger.Warn("Failed to record supersession", zap.String("run_id", prev.runID), zap.Error(err))
		}
	}
}

// release clears the in-process slot if it is still the holder.
func (c *Coordinator) release(key GroupKey, runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.inflight[key]; ok && cur.runID == runID {
		delete(c.inflight, key)
	}
}

// Finish records the terminal state for a run.
func (c *Coordinator) Finish(runID string, state RunState) {
	if c.store == nil {
		return
	}
	rec, err := c.store.Get(runID)
	if err != nil {
		return
	}
	// A superseded record keeps its state; the cancellation already ended it.
	if rec.State != RunStateRunning {
		return
	}
	rec.State = state
	now := time.Now().UTC()
	rec.EndedAt = &now
	if err := c.store.Write(rec); err != nil {
		c.logger.Warn("Failed to record run finish", zap.String("run_id", runID), zap.Error(err))
	}
}
