// Package gate derives per-stage run/skip decisions from a ChangeSet.
//
// A stage's gate is an OR of three terms: the trigger forces everything on,
// one of the stage's own components changed, or the shared dependencies
// component changed. Missing or inconclusive data defaults to run; gating
// never fails closed.
package gate

import (
	"github.com/quartzci/quartz/pkg/changeset"
)

// TriggerKind identifies what started the pipeline run.
//
// The trigger is an explicit input to gating, never ambient state: only
// pull-request triggers are change-gated, everything else forces all
// stages on.
type TriggerKind string

const (
	// TriggerPullRequest is a pull-request event with a comparable
	// revision range. Change gating is active.
	TriggerPullRequest TriggerKind = "pull-request"

	// TriggerManual is an operator-initiated run. All stages run.
	TriggerManual TriggerKind = "manual"

	// TriggerBranchPush is a push to a long-lived branch (default branch,
	// release branch). All stages run.
	TriggerBranchPush TriggerKind = "branch-push"
)

// String returns the string representation of the trigger kind.
func (k TriggerKind) String() string {
	return string(k)
}

// Gated reports whether this trigger kind applies change gating.
func (k TriggerKind) Gated() bool {
	return k == TriggerPullRequest
}

// Reason explains why a gate resolved the way it did.
type Reason string

const (
	// ReasonForced: the trigger is not change-gated.
	ReasonForced Reason = "forced"

	// ReasonComponentChanged: one of the stage's own components changed.
	ReasonComponentChanged Reason = "component-changed"

	// ReasonSharedChanged: the shared dependencies component changed.
	ReasonSharedChanged Reason = "shared-dependency-changed"

	// ReasonFailOpen: change data was inconclusive; the stage runs.
	ReasonFailOpen Reason = "fail-open"

	// ReasonUnchanged: nothing relevant changed; the stage is skipped.
	ReasonUnchanged Reason = "unchanged"
)

// StageDeps names a stage and the components whose change triggers it.
type StageDeps struct {
	// Stage is the stage name.
	Stage string

	// Needs lists the component names the stage directly depends on.
	Needs []string
}

// Gate is the resolved decision for one stage.
type Gate struct {
	Stage  string
	Run    bool
	Reason Reason
}

// Decision holds the gates for all stages plus the aggregate flag used to
// decide whether the run (including instance provisioning) is worth
// starting at all.
type Decision struct {
	// Gates maps stage name to its gate.
	Gates map[string]Gate

	// AnyChanged is true when any declared component changed (or change
	// data was inconclusive). False only on a gated trigger with a clean
	// ChangeSet.
	AnyChanged bool

	// Trigger is the trigger kind the decision was resolved under.
	Trigger TriggerKind
}

// ShouldRun returns the gate value for the named stage, defaulting to true
// for unknown stages (fail open).
func (d *Decision) ShouldRun(stage string) bool {
	g, ok := d.Gates[stage]
	if !ok {
		return true
	}
	return g.Run
}

// Resolver resolves stage gates from a ChangeSet.
type Resolver struct {
	// SharedComponent is the name of the component whose change re-triggers
	// every stage that declares it is change-gated at all. Defaults to
	// "dependencies" when empty.
	SharedComponent string
}

// DefaultSharedComponent is the conventional shared-library component name.
const DefaultSharedComponent = "dependencies"

// Resolve computes one gate per stage plus the aggregate change flag.
//
// gate(stage) = !trigger.Gated()
//	|| any component in stage.Needs changed
//	|| shared dependencies component changed
//
// Resolve always produces a value for every stage; there are no error
// conditions. A nil or inconclusive ChangeSet resolves every gate to run.
func (r Resolver) Resolve(trigger TriggerKind, cs *changeset.ChangeSet, stages []StageDeps) Decision {
	shared := r.SharedComponent
	if shared == "" {
		shared = DefaultSharedComponent
	}

	d := Decision{
		Gates:   make(map[string]Gate, len(stages)),
		Trigger: trigger,
	}

	if !trigger.Gated() {
		for _, s := range stages {
			d.Gates[s.Stage] = Gate{Stage: s.Stage, Run: true, Reason: ReasonForced}
		}
		d.AnyChanged = true
		return d
	}

	if cs.Unknown() {
		for _, s := range stages {
			d.Gates[s.Stage] = Gate{Stage: s.Stage, Run: true, Reason: ReasonFailOpen}
		}
		d.AnyChanged = true
		return d
	}

	sharedChanged := false
	if _, declared := cs.Components()[shared]; declared {
		sharedChanged = cs.Changed(shared)
	}

	for _, s := range stages {
		g := Gate{Stage: s.Stage, Run: false, Reason: ReasonUnchanged}
		for _, name := range s.Needs {
			if cs.Changed(name) {
				g.Run = true
				g.Reason = ReasonComponentChanged
				break
			}
		}
		if !g.Run && sharedChanged {
			g.Run = true
			g.Reason = ReasonSharedChanged
		}
		d.Gates[s.Stage] = g
	}

	d.AnyChanged = cs.AnyChanged()
	return d
}
