// Package stage executes a statically declared list of test stages on a
// provisioned runner instance.
//
// Stages run in declared order. A stage is attempted only when its gate is
// open and every producer named in After succeeded; otherwise it is recorded
// as Skipped with the reason. Failures in unrelated stages do not stop the
// run.
package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/quartzci/quartz/pkg/runner"
)

// Outcome is the terminal result of one stage.
type Outcome string

const (
	// OutcomeSuccess: the stage ran and its target returned nil.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure: the stage ran and its target returned an error.
	OutcomeFailure Outcome = "failure"

	// OutcomeSkipped: the stage was never attempted (gated off, or a
	// producer did not succeed). Distinct from success and reported as such.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeCancelled: the run was cancelled before or during the stage.
	OutcomeCancelled Outcome = "cancelled"
)

// Stage is one statically declared pipeline stage.
type Stage struct {
	// Name uniquely identifies the stage within the pipeline.
	Name string

	// Needs lists component names whose change gates this stage on
	// pull-request triggers.
	Needs []string

	// After lists stages that must have succeeded before this stage is
	// attempted. References must point to earlier declared stages.
	After []string

	// Target is the work the stage performs.
	Target Target
}

// Target is the unit of work a stage executes on the instance.
type Target interface {
	Run(ctx context.Context, inst *runner.Instance) error
}

// TargetFunc adapts a function to the Target interface.
type TargetFunc func(ctx context.Context, inst *runner.Instance) error

func (f TargetFunc) Run(ctx context.Context, inst *runner.Instance) error {
	return f(ctx, inst)
}

// ExecTarget runs an external command. Instance metadata is exposed to the
// command through QUARTZ_RUNNER_* environment variables.
type ExecTarget struct {
	// Command is the executable to run. Required.
	Command string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory. Empty means the process default.
	Dir string

	// Env is additional environment, merged over the parent environment.
	Env map[string]string

	// Stdout and Stderr default to the parent's streams when nil.
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes the command under ctx. A non-zero exit is a stage failure.
func (t *ExecTarget) Run(ctx context.Context, inst *runner.Instance) error {
	if t.Command == "" {
		return fmt.Errorf("exec target command is empty")
	}

	cmd := exec.CommandContext(ctx, t.Command, t.Args...)
	cmd.Dir = t.Dir
	cmd.Env = t.environ(inst)
	cmd.Stdout = t.Stdout
	cmd.Stderr = t.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", t.Command, err)
	}
	return nil
}

func (t *ExecTarget) environ(inst *runner.Instance) []string {
	env := os.Environ()
	if inst != nil {
		env = append(env,
			"QUARTZ_RUNNER_HANDLE="+string(inst.Handle),
			"QUARTZ_RUNNER_PROFILE="+inst.Profile.Name,
		)
	}
	for k, v := range t.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// Result records how one stage ended.
type Result struct {
	Stage   string
	Outcome Outcome

	// Reason is set for skipped stages (why the stage was never attempted).
	Reason string

	// Err is the target error for failed stages.
	Err error

	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is the stage's wall time; zero for stages that never ran.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
