package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzci/quartz/pkg/gate"
	"github.com/quartzci/quartz/pkg/runner"
)

func okTarget() Target {
	return TargetFunc(func(context.Context, *runner.Instance) error { return nil })
}

func failTarget(msg string) Target {
	return TargetFunc(func(context.Context, *runner.Instance) error { return errors.New(msg) })
}

func allOpen(stages []Stage) *gate.Decision {
	d := gate.Decision{Gates: make(map[string]gate.Gate), Trigger: gate.TriggerManual, AnyChanged: true}
	for _, s := range stages {
		d.Gates[s.Name] = gate.Gate{Stage: s.Name, Run: true, Reason: gate.ReasonForced}
	}
	return &d
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		stages  []Stage
		wantErr string
	}{
		{
			name:   "valid chain",
			stages: []Stage{{Name: "build"}, {Name: "unit", After: []string{"build"}}},
		},
		{
			name:    "empty name",
			stages:  []Stage{{Name: ""}},
			wantErr: "empty name",
		},
		{
			name:    "duplicate",
			stages:  []Stage{{Name: "unit"}, {Name: "unit"}},
			wantErr: "duplicate",
		},
		{
			name:    "unknown after",
			stages:  []Stage{{Name: "unit", After: []string{"build"}}},
			wantErr: "not an earlier stage",
		},
		{
			name:    "forward reference",
			stages:  []Stage{{Name: "unit", After: []string{"fuzz"}}, {Name: "fuzz"}},
			wantErr: "not an earlier stage",
		},
		{
			name:    "self reference",
			stages:  []Stage{{Name: "unit", After: []string{"unit"}}},
			wantErr: "itself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.stages)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRunDeclaredOrder(t *testing.T) {
	var order []string
	record := func(name string) Target {
		return TargetFunc(func(context.Context, *runner.Instance) error {
			order = append(order, name)
			return nil
		})
	}
	stages := []Stage{
		{Name: "build", Target: record("build")},
		{Name: "unit", After: []string{"build"}, Target: record("unit")},
		{Name: "vectors", After: []string{"build"}, Target: record("vectors")},
	}

	results := NewRunner(nil).Run(context.Background(), stages, allOpen(stages), nil)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"build", "unit", "vectors"}, order)
	for _, r := range results {
		assert.Equal(t, OutcomeSuccess, r.Outcome)
	}
}

func TestRunFailedProducerSkipsDependents(t *testing.T) {
	stages := []Stage{
		{Name: "build", Target: failTarget("compile error")},
		{Name: "unit", After: []string{"build"}, Target: okTarget()},
		{Name: "lint", Target: okTarget()},
	}

	results := NewRunner(nil).Run(context.Background(), stages, allOpen(stages), nil)
	require.Len(t, results, 3)

	assert.Equal(t, OutcomeFailure, results[0].Outcome)
	assert.Error(t, results[0].Err)

	assert.Equal(t, OutcomeSkipped, results[1].Outcome)
	assert.Contains(t, results[1].Reason, "producer build failed")

	// Unrelated stage still runs.
	assert.Equal(t, OutcomeSuccess, results[2].Outcome)
}

func TestRunSkippedProducerSkipsDependents(t *testing.T) {
	stages := []Stage{
		{Name: "build", Needs: []string{"core"}, Target: okTarget()},
		{Name: "unit", After: []string{"build"}, Target: okTarget()},
	}
	d := allOpen(stages)
	d.Gates["build"] = gate.Gate{Stage: "build", Run: false, Reason: gate.ReasonUnchanged}

	results := NewRunner(nil).Run(context.Background(), stages, d, nil)
	require.Len(t, results, 2)

	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	assert.Equal(t, string(gate.ReasonUnchanged), results[0].Reason)

	assert.Equal(t, OutcomeSkipped, results[1].Outcome)
	assert.Contains(t, results[1].Reason, "producer build skipped")
}

func TestRunGateSkipIsNotSuccess(t *testing.T) {
	stages := []Stage{{Name: "unit", Target: okTarget()}}
	d := allOpen(stages)
	d.Gates["unit"] = gate.Gate{Stage: "unit", Run: false, Reason: gate.ReasonUnchanged}

	results := NewRunner(nil).Run(context.Background(), stages, d, nil)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	assert.NotEqual(t, OutcomeSuccess, results[0].Outcome)
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stages := []Stage{
		{Name: "build", Target: TargetFunc(func(ctx context.Context, _ *runner.Instance) error {
			cancel()
			return ctx.Err()
		})},
		{Name: "unit", Target: okTarget()},
	}

	results := NewRunner(nil).Run(ctx, stages, allOpen(stages), nil)
	require.Len(t, results, 2)
	assert.Equal(t, OutcomeCancelled, results[0].Outcome)
	assert.Equal(t, OutcomeCancelled, results[1].Outcome)
}

func TestRunPassesInstance(t *testing.T) {
	inst := &runner.Instance{Handle: "i-0abc123", Profile: runner.Profile{Name: "cpu-large"}}
	var got *runner.Instance
	stages := []Stage{
		{Name: "unit", Target: TargetFunc(func(_ context.Context, i *runner.Instance) error {
			got = i
			return nil
		})},
	}

	NewRunner(nil).Run(context.Background(), stages, allOpen(stages), inst)
	assert.Same(t, inst, got)
}

func TestWorst(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []Outcome
		want     Outcome
	}{
		{"empty", nil, OutcomeSkipped},
		{"all skipped", []Outcome{OutcomeSkipped, OutcomeSkipped}, OutcomeSkipped},
		{"success beats skipped", []Outcome{OutcomeSkipped, OutcomeSuccess}, OutcomeSuccess},
		{"cancelled beats success", []Outcome{OutcomeSuccess, OutcomeCancelled}, OutcomeCancelled},
		{"failure beats everything", []Outcome{OutcomeSuccess, OutcomeCancelled, OutcomeFailure}, OutcomeFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]Result, 0, len(tt.outcomes))
			for _, o := range tt.outcomes {
				results = append(results, Result{Outcome: o})
			}
			assert.Equal(t, tt.want, Worst(results))
		})
	}
}

func TestDeps(t *testing.T) {
	stages := []Stage{
		{Name: "unit", Needs: []string{"core", "math"}},
		{Name: "lint"},
	}
	deps := Deps(stages)
	require.Len(t, deps, 2)
	assert.Equal(t, gate.StageDeps{Stage: "unit", Needs: []string{"core", "math"}}, deps[0])
	assert.Equal(t, gate.StageDeps{Stage: "lint"}, deps[1])
}
