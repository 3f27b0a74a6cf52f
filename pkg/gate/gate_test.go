package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzci/quartz/pkg/changeset"
)

type fixedSource struct {
	paths []string
}

func (f *fixedSource) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	return f.paths, nil
}

var stages = []StageDeps{
	{Stage: "core-tests", Needs: []string{"core"}},
	{Stage: "boolean-tests", Needs: []string{"boolean"}},
	{Stage: "integer-tests", Needs: []string{"integer", "core"}},
}

func evaluate(t *testing.T, paths []string) *changeset.ChangeSet {
	t.Helper()
	e, err := changeset.NewEvaluator(&fixedSource{paths: paths}, []changeset.Component{
		{Name: "core", Includes: []string{"src/core/**"}},
		{Name: "boolean", Includes: []string{"src/boolean/**"}},
		{Name: "integer", Includes: []string{"src/integer/**"}},
		{Name: "dependencies", Includes: []string{"Cargo.toml", "Cargo.lock"}},
	})
	require.NoError(t, err)
	cs, err := e.Evaluate(context.Background(), "base", "head")
	require.NoError(t, err)
	return cs
}

func TestResolvePullRequestSingleComponent(t *testing.T) {
	cs := evaluate(t, []string{"src/core/lib.rs"})

	d := Resolver{}.Resolve(TriggerPullRequest, cs, stages)

	assert.True(t, d.Gates["core-tests"].Run)
	assert.Equal(t, ReasonComponentChanged, d.Gates["core-tests"].Reason)
	assert.False(t, d.Gates["boolean-tests"].Run)
	assert.Equal(t, ReasonUnchanged, d.Gates["boolean-tests"].Reason)
	assert.True(t, d.Gates["integer-tests"].Run) // transitively via core
	assert.True(t, d.AnyChanged)
}

func TestResolvePullRequestNothingChanged(t *testing.T) {
	cs := evaluate(t, []string{"docs/guide.md"})

	d := Resolver{}.Resolve(TriggerPullRequest, cs, stages)

	for _, s := range stages {
		assert.False(t, d.Gates[s.Stage].Run, s.Stage)
	}
	assert.False(t, d.AnyChanged)
}

func TestResolveSharedDependencyForcesAllStages(t *testing.T) {
	cs := evaluate(t, []string{"Cargo.lock"})

	d := Resolver{}.Resolve(TriggerPullRequest, cs, stages)

	for _, s := range stages {
		g := d.Gates[s.Stage]
		assert.True(t, g.Run, s.Stage)
		assert.Equal(t, ReasonSharedChanged, g.Reason, s.Stage)
	}
	assert.True(t, d.AnyChanged)
}

func TestResolveManualForcesAllStages(t *testing.T) {
	cs := evaluate(t, nil) // nothing changed

	for _, trigger := range []TriggerKind{TriggerManual, TriggerBranchPush} {
		d := Resolver{}.Resolve(trigger, cs, stages)
		for _, s := range stages {
			g := d.Gates[s.Stage]
			assert.True(t, g.Run, "%s under %s", s.Stage, trigger)
			assert.Equal(t, ReasonForced, g.Reason)
		}
		assert.True(t, d.AnyChanged)
	}
}

func TestResolveUnknownChangeSetFailsOpen(t *testing.T) {
	cs := changeset.Unknown([]string{"core", "boolean", "integer", "dependencies"})

	d := Resolver{}.Resolve(TriggerPullRequest, cs, stages)

	for _, s := range stages {
		g := d.Gates[s.Stage]
		assert.True(t, g.Run, s.Stage)
		assert.Equal(t, ReasonFailOpen, g.Reason)
	}
	assert.True(t, d.AnyChanged)
}

func TestResolveNilChangeSetFailsOpen(t *testing.T) {
	d := Resolver{}.Resolve(TriggerPullRequest, nil, stages)
	assert.True(t, d.AnyChanged)
	assert.True(t, d.ShouldRun("core-tests"))
}

func TestResolveCustomSharedComponent(t *testing.T) {
	cs := evaluate(t, []string{"Cargo.lock"})

	// With a shared component name nothing declares, the lock change only
	// shows up through the aggregate flag.
	d := Resolver{SharedComponent: "toolchain"}.Resolve(TriggerPullRequest, cs, stages)

	assert.False(t, d.Gates["core-tests"].Run)
	assert.True(t, d.AnyChanged)
}

func TestShouldRunUnknownStageFailsOpen(t *testing.T) {
	cs := evaluate(t, nil)
	d := Resolver{}.Resolve(TriggerPullRequest, cs, stages)

	assert.True(t, d.ShouldRun("not-declared"))
	assert.False(t, d.ShouldRun("core-tests"))
}
