// Package preflight verifies a run's external dependencies before any
// instance is provisioned.
//
// Checks are read-safe: they query the diff source and the runner platform
// but never create or mutate anything. A failed check surfaces before the
// run spends money on an instance.
package preflight

import (
	"context"
	"fmt"

	"github.com/quartzci/quartz/pkg/diff"
	"github.com/quartzci/quartz/pkg/runner"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModePlanOnly performs no external calls; the plan itself is the check.
	ModePlanOnly Mode = "plan-only"

	// ModeReadSafe performs read-only calls against the diff source and the
	// runner platform.
	ModeReadSafe Mode = "read-safe"
)

// Capability names are stable strings used in check results.
const (
	CapDiffCompare    = "diff.compare"
	CapPlatformStatus = "platform.status"
)

// CheckResult is a single capability check result.
type CheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Report aggregates the preflight checks for one run.
type Report struct {
	Mode    string        `json:"mode"`
	Results []CheckResult `json:"results"`
}

// Passed reports whether every check succeeded.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Allowed {
			return false
		}
	}
	return true
}

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode Mode

	// Base and Head bound the diff-source check.
	Base string
	Head string
}

// Run executes the preflight checks.
//
// In read-safe mode the diff source is asked to compare the run's revision
// range, and the platform is asked for the status of a nonexistent handle
// (which must succeed or cleanly report not-found if credentials work). The
// first failing check is also returned as the error.
func Run(ctx context.Context, source diff.Source, platform runner.Platform, spec Spec) (*Report, error) {
	rec := &Report{
		Mode:    string(spec.Mode),
		Results: []CheckResult{},
	}

	if spec.Mode == ModePlanOnly {
		return rec, nil
	}

	var firstErr error

	if source != nil {
		method := fmt.Sprintf("ChangedFiles(%q, %q)", spec.Base, spec.Head)
		_, err := source.ChangedFiles(ctx, spec.Base, spec.Head)
		// An unresolvable range is a valid answer: the run would proceed
		// fail-open. Only source unavailability fails the check.
		if err != nil && !diff.IsRangeUnresolvable(err) {
			rec.Results = append(rec.Results, CheckResult{
				Capability: CapDiffCompare,
				Allowed:    false,
				Method:     method,
				Detail:     err.Error(),
			})
			firstErr = err
		} else {
			rec.Results = append(rec.Results, CheckResult{
				Capability: CapDiffCompare,
				Allowed:    true,
				Method:     method,
			})
		}
	}

	if platform != nil {
		const probe = runner.Handle("preflight-probe")
		method := fmt.Sprintf("Status(%q)", probe)
		_, err := platform.Status(ctx, probe)
		if err != nil && !runner.IsInstanceLost(err) {
			rec.Results = append(rec.Results, CheckResult{
				Capability: CapPlatformStatus,
				Allowed:    false,
				Method:     method,
				Detail:     err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
		} else {
			rec.Results = append(rec.Results, CheckResult{
				Capability: CapPlatformStatus,
				Allowed:    true,
				Method:     method,
			})
		}
	}

	return rec, firstErr
}
