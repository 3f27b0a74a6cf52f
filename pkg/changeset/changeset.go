// Package changeset evaluates named components against a revision range.
//
// A Component groups source paths under include/exclude globs. The Evaluator
// asks a diff.Source for the changed paths between two revisions and marks
// each component changed when at least one path matches.
//
// When the revision range cannot be compared the resulting ChangeSet is
// marked Unknown and reports every component as changed (fail open): an
// inconclusive evaluation must never silently skip tests.
package changeset

import (
	"context"
	"fmt"

	"github.com/quartzci/quartz/pkg/diff"
	"github.com/quartzci/quartz/pkg/match"
)

// Component is a named logical grouping of source paths used for gating.
// Components are immutable, defined at pipeline-authoring time.
type Component struct {
	// Name identifies the component in stage dependency lists.
	Name string

	// Includes are glob patterns selecting the component's paths.
	// At least one is required.
	Includes []string

	// Excludes are glob patterns carving paths out of the includes.
	// Excludes always win over includes.
	Excludes []string
}

// ChangeSet is the result of evaluating all components against a revision
// range. It is created once per run and never mutated afterwards.
type ChangeSet struct {
	changed map[string]bool
	unknown bool
	files   int
}

// Changed reports whether the named component changed.
//
// Unknown change data and unknown component names both report true,
// consistent with the fail-open policy.
func (cs *ChangeSet) Changed(name string) bool {
	if cs == nil || cs.unknown {
		return true
	}
	v, ok := cs.changed[name]
	if !ok {
		return true
	}
	return v
}

// AnyChanged reports whether any component changed.
func (cs *ChangeSet) AnyChanged() bool {
	if cs == nil || cs.unknown {
		return true
	}
	for _, v := range cs.changed {
		if v {
			return true
		}
	}
	return false
}

// Unknown reports whether the evaluation was inconclusive.
func (cs *ChangeSet) Unknown() bool {
	return cs == nil || cs.unknown
}

// Files returns the number of changed paths that were evaluated.
// Zero when the evaluation was inconclusive.
func (cs *ChangeSet) Files() int {
	if cs == nil {
		return 0
	}
	return cs.files
}

// Components returns the per-component change flags. The returned map is a
// copy; mutating it does not affect the ChangeSet.
func (cs *ChangeSet) Components() map[string]bool {
	out := make(map[string]bool, len(cs.changed))
	for k, v := range cs.changed {
		out[k] = v
	}
	return out
}

// Unknown constructs an inconclusive ChangeSet covering the given component
// names. Every component reports changed.
func Unknown(names []string) *ChangeSet {
	changed := make(map[string]bool, len(names))
	for _, n := range names {
		changed[n] = true
	}
	return &ChangeSet{changed: changed, unknown: true}
}

// Evaluator evaluates components against revision ranges.
//
// The Evaluator is safe for concurrent use after creation.
type Evaluator struct {
	source   diff.Source
	names    []string
	matchers map[string]*match.Matcher
}

// NewEvaluator compiles the component patterns and returns an Evaluator.
//
// Returns an error if a component has no include patterns, an invalid
// pattern, or a duplicate name.
func NewEvaluator(source diff.Source, components []Component) (*Evaluator, error) {
	if source == nil {
		return nil, fmt.Errorf("diff source is required")
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("at least one component is required")
	}

	names := make([]string, 0, len(components))
	matchers := make(map[string]*match.Matcher, len(components))
	for _, c := range components {
		if c.Name == "" {
			return nil, fmt.Errorf("component name is required")
		}
		if _, dup := matchers[c.Name]; dup {
			return nil, fmt.Errorf("duplicate component %q", c.Name)
		}
		m, err := match.New(match.Config{Includes: c.Includes, Excludes: c.Excludes})
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", c.Name, err)
		}
		names = append(names, c.Name)
		matchers[c.Name] = m
	}

	return &Evaluator{source: source, names: names, matchers: matchers}, nil
}

// ComponentNames returns the names of the configured components in
// declaration order.
func (e *Evaluator) ComponentNames() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Evaluate computes the ChangeSet for the given revision range.
//
// An unresolvable range yields an Unknown ChangeSet and a nil error: the
// caller proceeds fail-open rather than aborting the run. Any other source
// failure is returned as an error.
func (e *Evaluator) Evaluate(ctx context.Context, base, head string) (*ChangeSet, error) {
	paths, err := e.source.ChangedFiles(ctx, base, head)
	if err != nil {
		if diff.IsRangeUnresolvable(err) {
			return Unknown(e.names), nil
		}
		return nil, err
	}

	changed := make(map[string]bool, len(e.names))
	for _, name := range e.names {
		changed[name] = e.matchers[name].MatchAny(paths)
	}

	return &ChangeSet{changed: changed, files: len(paths)}, nil
}
