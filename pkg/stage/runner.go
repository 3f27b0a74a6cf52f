package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quartzci/quartz/pkg/gate"
	"github.com/quartzci/quartz/pkg/runner"
)

// Validate checks the static stage declaration: unique names, and After
// references that point only to earlier declared stages.
func Validate(stages []Stage) error {
	seen := make(map[string]bool, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("stage with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage %q", s.Name)
		}
		for _, dep := range s.After {
			if dep == s.Name {
				return fmt.Errorf("stage %q lists itself in after", s.Name)
			}
			if !seen[dep] {
				return fmt.Errorf("stage %q: after references %q, which is not an earlier stage", s.Name, dep)
			}
		}
		seen[s.Name] = true
	}
	return nil
}

// Deps extracts the gating dependencies for the gate resolver.
func Deps(stages []Stage) []gate.StageDeps {
	out := make([]gate.StageDeps, 0, len(stages))
	for _, s := range stages {
		out = append(out, gate.StageDeps{Stage: s.Name, Needs: s.Needs})
	}
	return out
}

// Runner executes stages sequentially on one instance.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a stage runner.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger}
}

// Run executes the stages in declared order and returns one Result per
// stage, in the same order. It never returns early: every stage gets an
// outcome, including the ones cancelled or skipped.
//
// A stage is attempted only when its gate is open and every producer in
// After succeeded. A failed or skipped producer skips the dependent with the
// reason recorded; failures in stages the dependent does not name are
// ignored.
func (r *Runner) Run(ctx context.Context, stages []Stage, decision *gate.Decision, inst *runner.Instance) []Result {
	results := make([]Result, 0, len(stages))
	outcomes := make(map[string]Outcome, len(stages))

	for _, s := range stages {
		res := r.runOne(ctx, s, decision, outcomes, inst)
		outcomes[s.Name] = res.Outcome
		results = append(results, res)
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, s Stage, decision *gate.Decision, outcomes map[string]Outcome, inst *runner.Instance) Result {
	if ctx.Err() != nil {
		r.logger.Info("Stage cancelled before start", zap.String("stage", s.Name))
		return Result{Stage: s.Name, Outcome: OutcomeCancelled, Reason: "run cancelled"}
	}

	if decision != nil && !decision.ShouldRun(s.Name) {
		reason := "gated off"
		if g, ok := decision.Gates[s.Name]; ok {
			reason = string(g.Reason)
		}
		r.logger.Info("Stage skipped by gate", zap.String("stage", s.Name), zap.String("reason", reason))
		return Result{Stage: s.Name, Outcome: OutcomeSkipped, Reason: reason}
	}

	for _, dep := range s.After {
		switch outcomes[dep] {
		case OutcomeSuccess:
		case OutcomeFailure:
			return Result{Stage: s.Name, Outcome: OutcomeSkipped, Reason: fmt.Sprintf("producer %s failed", dep)}
		case OutcomeSkipped:
			return Result{Stage: s.Name, Outcome: OutcomeSkipped, Reason: fmt.Sprintf("producer %s skipped", dep)}
		case OutcomeCancelled:
			return Result{Stage: s.Name, Outcome: OutcomeCancelled, Reason: fmt.Sprintf("producer %s cancelled", dep)}
		default:
			// Unknown producer outcome means it never ran; treat as skipped.
			return Result{Stage: s.Name, Outcome: OutcomeSkipped, Reason: fmt.Sprintf("producer %s did not run", dep)}
		}
	}

	res := Result{Stage: s.Name, StartedAt: time.Now().UTC()}
	r.logger.Info("Stage starting", zap.String("stage", s.Name))

	err := s.Target.Run(ctx, inst)
	res.EndedAt = time.Now().UTC()

	switch {
	case err == nil:
		res.Outcome = OutcomeSuccess
		r.logger.Info("Stage succeeded", zap.String("stage", s.Name), zap.Duration("duration", res.Duration()))
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		res.Outcome = OutcomeCancelled
		res.Reason = "run cancelled"
		r.logger.Warn("Stage cancelled", zap.String("stage", s.Name))
	default:
		res.Outcome = OutcomeFailure
		res.Err = err
		r.logger.Error("Stage failed", zap.String("stage", s.Name), zap.Error(err))
	}
	return res
}

// Worst returns the most severe outcome across results, for deriving the
// run outcome. Severity order: Failure > Cancelled > Success > Skipped.
// All-skipped results yield Skipped; an empty slice yields Skipped.
func Worst(results []Result) Outcome {
	worst := OutcomeSkipped
	rank := func(o Outcome) int {
		switch o {
		case OutcomeFailure:
			return 3
		case OutcomeCancelled:
			return 2
		case OutcomeSuccess:
			return 1
		default:
			return 0
		}
	}
	for _, r := range results {
		if rank(r.Outcome) > rank(worst) {
			worst = r.Outcome
		}
	}
	return worst
}
