package dedupe

import "time"

// Policy selects how a new run treats an in-flight run in its group.
//
// The policy is an explicit per-run configuration value, never inferred
// from branch name heuristics.
type Policy string

const (
	// PolicyCancelAlways cancels any in-flight run in the group and
	// proceeds with the new run.
	PolicyCancelAlways Policy = "cancel-always"

	// PolicyProtectDefaultBranch cancels in-flight runs except when the
	// in-flight run is on the configured default branch; in that case the
	// new run is rejected with ErrGroupProtected. Rejection (rather than
	// queueing) is the documented choice: the registry provides no
	// cross-process wait primitive, and a rejected run can simply be
	// retriggered.
	PolicyProtectDefaultBranch Policy = "protect-default-branch"
)

// String returns the string representation of the policy.
func (p Policy) String() string {
	return string(p)
}

// Valid reports whether the policy is a known value.
func (p Policy) Valid() bool {
	return p == PolicyCancelAlways || p == PolicyProtectDefaultBranch
}

// GroupKey identifies mutually-exclusive runs: one workflow identity on
// one branch ref.
type GroupKey struct {
	// Workflow is the pipeline identity (e.g., "fast-tests").
	Workflow string

	// Ref is the branch ref the run was triggered for.
	Ref string
}

// String renders the key in workflow@ref form.
func (k GroupKey) String() string {
	return k.Workflow + "@" + k.Ref
}

// RunState is the lifecycle state of a recorded run.
//
// NOTE: These values are persisted in run.json and are part of the stable
// on-disk contract.
type RunState string

const (
	RunStateRunning    RunState = "running"
	RunStateSuperseded RunState = "superseded"
	RunStateSucceeded  RunState = "succeeded"
	RunStateFailed     RunState = "failed"
	RunStateCancelled  RunState = "cancelled"
	RunStateSkipped    RunState = "skipped"
	RunStateUnknown    RunState = "unknown"
)

// RunRecord is the persistent record written to run.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type RunRecord struct {
	RunID    string   `json:"run_id"`
	Workflow string   `json:"workflow"`
	Ref      string   `json:"ref"`
	State    RunState `json:"state"`
	Policy   Policy   `json:"policy,omitempty"`
	PID      int      `json:"pid,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// SupersededBy is the run that cancelled this one, if any.
	SupersededBy string `json:"superseded_by,omitempty"`
}

// Group returns the record's concurrency group key.
func (r *RunRecord) Group() GroupKey {
	return GroupKey{Workflow: r.Workflow, Ref: r.Ref}
}

// Terminal reports whether the record is in a final state.
func (r *RunRecord) Terminal() bool {
	switch r.State {
	case RunStateRunning:
		return false
	default:
		return true
	}
}
