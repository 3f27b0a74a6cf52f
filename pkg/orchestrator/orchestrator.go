// Package orchestrator drives one pipeline run end to end.
//
// A run is a single sequential control flow: evaluate the change set,
// resolve stage gates, claim the concurrency group, provision an ephemeral
// instance, execute the gated stages, release the instance, and report. The
// instance is released on every path where provisioning succeeded; failure
// notifications are best-effort and never change the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quartzci/quartz/pkg/changeset"
	"github.com/quartzci/quartz/pkg/dedupe"
	"github.com/quartzci/quartz/pkg/gate"
	"github.com/quartzci/quartz/pkg/notify"
	"github.com/quartzci/quartz/pkg/output"
	"github.com/quartzci/quartz/pkg/runner"
	"github.com/quartzci/quartz/pkg/stage"
)

// RunOutcome is the overall result of one pipeline run.
type RunOutcome string

const (
	// OutcomeSuccess: every gated stage succeeded and the instance was
	// released cleanly.
	OutcomeSuccess RunOutcome = "success"

	// OutcomeFailure: a stage failed, or the instance lifecycle failed.
	OutcomeFailure RunOutcome = "failure"

	// OutcomeCancelled: the run was superseded or externally cancelled.
	OutcomeCancelled RunOutcome = "cancelled"

	// OutcomeSkipped: nothing relevant changed; no instance was provisioned
	// and no stage ran.
	OutcomeSkipped RunOutcome = "skipped"
)

// Request describes one run to execute.
type Request struct {
	// RunID is the run identifier. Generated when empty.
	RunID string

	// Workflow and Ref form the concurrency group key.
	Workflow string
	Ref      string

	// Trigger is what started the run. Required.
	Trigger gate.TriggerKind

	// Base and Head bound the revision range for change detection.
	Base string
	Head string

	// Profile is the capability profile to provision.
	Profile runner.Profile

	// Policy is the concurrency policy for this run. Required.
	Policy dedupe.Policy

	// DefaultBranch is the protected ref under the protect policy.
	DefaultBranch string

	// Link points at the run's detail page, included in notifications.
	Link string
}

// Report is the result of one run.
type Report struct {
	RunID    string
	Outcome  RunOutcome
	Decision gate.Decision
	Stages   []stage.Result

	// Instance is the provisioned instance, nil when provisioning was
	// skipped or failed.
	Instance *runner.Instance

	// ProvisionErr and TeardownErr record lifecycle failures.
	ProvisionErr error
	TeardownErr  error

	StartedAt time.Time
	EndedAt   time.Time
}

// Config assembles an Orchestrator.
type Config struct {
	Evaluator   *changeset.Evaluator
	Resolver    gate.Resolver
	Manager     *runner.Manager
	Coordinator *dedupe.Coordinator
	Stages      []stage.Stage

	// Notifier receives failure events. Wrapped best-effort internally.
	Notifier notify.Notifier

	// Trace receives the structured run trace. Optional.
	Trace output.Writer

	Logger *zap.Logger
}

// Orchestrator executes pipeline runs.
type Orchestrator struct {
	evaluator   *changeset.Evaluator
	resolver    gate.Resolver
	manager     *runner.Manager
	coordinator *dedupe.Coordinator
	stages      []stage.Stage
	stageRunner *stage.Runner
	notifier    notify.Notifier
	trace       output.Writer
	logger      *zap.Logger
}

// New validates the configuration and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("change-set evaluator is required")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("instance manager is required")
	}
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("concurrency coordinator is required")
	}
	if len(cfg.Stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	if err := stage.Validate(cfg.Stages); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		evaluator:   cfg.Evaluator,
		resolver:    cfg.Resolver,
		manager:     cfg.Manager,
		coordinator: cfg.Coordinator,
		stages:      cfg.Stages,
		stageRunner: stage.NewRunner(logger),
		notifier:    notify.NewBestEffort(cfg.Notifier, logger),
		trace:       cfg.Trace,
		logger:      logger,
	}, nil
}

// Run executes one pipeline run.
//
// Run returns an error only when the run could not start at all (invalid
// request, rejected by the concurrency policy). Once started, every ending
// is expressed as a Report outcome, not an error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Trigger == "" {
		return nil, fmt.Errorf("trigger kind is required")
	}
	if req.Workflow == "" || req.Ref == "" {
		return nil, fmt.Errorf("workflow and ref are required")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	report := &Report{RunID: req.RunID, StartedAt: time.Now().UTC()}
	o.logger.Info("Run starting",
		zap.String("run_id", req.RunID),
		zap.String("workflow", req.Workflow),
		zap.String("ref", req.Ref),
		zap.String("trigger", req.Trigger.String()))

	// 1. Evaluate the change set. Detection failure is fail-open, never a
	// silent skip: the run proceeds as if everything changed.
	cs, err := o.evaluator.Evaluate(ctx, req.Base, req.Head)
	if err != nil {
		o.logger.Warn("Change detection failed; running all stages",
			zap.String("run_id", req.RunID), zap.Error(err))
		o.traceError(ctx, &output.ErrorRecord{
			Code:    output.ErrCodeChangeDetection,
			Message: err.Error(),
		})
		cs = changeset.Unknown(o.evaluator.ComponentNames())
	}

	// 2. Resolve gates.
	report.Decision = o.resolver.Resolve(req.Trigger, cs, stage.Deps(o.stages))
	for _, s := range o.stages {
		g := report.Decision.Gates[s.Name]
		o.traceGate(ctx, &output.GateRecord{Stage: g.Stage, Run: g.Run, Reason: string(g.Reason)})
	}

	// Nothing relevant changed on a gated trigger: finish before touching
	// the concurrency group or the platform.
	if !report.Decision.AnyChanged {
		report.Outcome = OutcomeSkipped
		report.EndedAt = time.Now().UTC()
		o.traceSummary(ctx, req, report)
		o.logger.Info("Run skipped, no relevant changes", zap.String("run_id", req.RunID))
		return report, nil
	}

	// 3. Claim the concurrency group.
	slot, err := o.coordinator.Acquire(ctx, dedupe.GroupKey{Workflow: req.Workflow, Ref: req.Ref}, dedupe.AcquireOptions{
		RunID:         req.RunID,
		Policy:        req.Policy,
		DefaultBranch: req.DefaultBranch,
	})
	if err != nil {
		return nil, err
	}
	defer slot.Release()

	o.execute(slot.Ctx, req, report)

	report.EndedAt = time.Now().UTC()
	o.traceSummary(ctx, req, report)
	o.coordinator.Finish(req.RunID, runStateFor(report.Outcome))

	o.logger.Info("Run finished",
		zap.String("run_id", req.RunID),
		zap.String("outcome", string(report.Outcome)),
		zap.Duration("duration", report.EndedAt.Sub(report.StartedAt)))
	return report, nil
}

// execute runs the provisioned portion of the run: instance lifecycle plus
// stages. It fills in report.Outcome.
func (o *Orchestrator) execute(ctx context.Context, req Request, report *Report) {
	// 4. Provision. On failure nothing was provisioned, so there is nothing
	// to tear down and no stage runs.
	o.traceLifecycle(ctx, &output.LifecycleRecord{Phase: output.PhaseProvisioning, Profile: req.Profile.Name})

	inst, err := o.manager.Provision(ctx, req.Profile)
	if err != nil {
		report.ProvisionErr = err
		if ctx.Err() != nil && !errors.Is(err, runner.ErrProvisionTimeout) {
			report.Outcome = OutcomeCancelled
		} else {
			report.Outcome = OutcomeFailure
		}
		o.traceError(ctx, &output.ErrorRecord{Code: output.ErrCodeProvisioning, Message: err.Error()})
		o.notifyLifecycle(req, fmt.Sprintf("instance provisioning failed: %v", err))
		return
	}
	report.Instance = inst
	o.traceLifecycle(ctx, &output.LifecycleRecord{
		Phase:   output.PhaseReady,
		Handle:  string(inst.Handle),
		Profile: inst.Profile.Name,
	})

	// Backstop release for panics. Teardown is idempotent, so the explicit
	// call below and this defer cannot double-release.
	defer func() { _ = o.manager.Teardown(inst) }()

	// 5. Stages.
	inst.Claim()
	report.Stages = o.stageRunner.Run(ctx, o.stages, &report.Decision, inst)
	for _, res := range report.Stages {
		rec := &output.StageRecord{
			Stage:         res.Stage,
			Outcome:       string(res.Outcome),
			Reason:        res.Reason,
			Duration:      res.Duration(),
			DurationHuman: res.Duration().Round(time.Millisecond).String(),
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		o.traceStage(ctx, rec)
	}

	// 6. Release the instance. This happens for every outcome, including
	// cancellation; the manager uses a detached context internally.
	report.TeardownErr = o.manager.Teardown(inst)
	o.traceTeardown(ctx, inst, report.TeardownErr)

	// 7. Derive the outcome and notify. Stage failures and lifecycle
	// failures are observed independently, one notification each.
	report.Outcome = deriveOutcome(report)

	if worst := stage.Worst(report.Stages); worst == stage.OutcomeFailure {
		o.notifyStages(req, report)
	}
	if report.TeardownErr != nil {
		o.traceError(ctx, &output.ErrorRecord{Code: output.ErrCodeTeardown, Message: report.TeardownErr.Error()})
		o.notifyLifecycle(req, fmt.Sprintf("instance teardown failed: %v", report.TeardownErr))
	}
}

// deriveOutcome combines the worst stage outcome with the lifecycle outcome.
func deriveOutcome(report *Report) RunOutcome {
	if report.TeardownErr != nil {
		return OutcomeFailure
	}
	switch stage.Worst(report.Stages) {
	case stage.OutcomeFailure:
		return OutcomeFailure
	case stage.OutcomeCancelled:
		return OutcomeCancelled
	case stage.OutcomeSuccess:
		return OutcomeSuccess
	default:
		return OutcomeSkipped
	}
}

func runStateFor(outcome RunOutcome) dedupe.RunState {
	switch outcome {
	case OutcomeSuccess:
		return dedupe.RunStateSucceeded
	case OutcomeFailure:
		return dedupe.RunStateFailed
	case OutcomeCancelled:
		return dedupe.RunStateCancelled
	default:
		return dedupe.RunStateSkipped
	}
}

func (o *Orchestrator) notifyStages(req Request, report *Report) {
	failed := make([]string, 0, 1)
	for _, res := range report.Stages {
		if res.Outcome == stage.OutcomeFailure {
			failed = append(failed, res.Stage)
		}
	}
	_ = o.notifier.Notify(context.Background(), notify.Event{
		RunID:   req.RunID,
		Status:  string(OutcomeFailure),
		Message: fmt.Sprintf("stages failed: %v", failed),
		Link:    req.Link,
	})
}

func (o *Orchestrator) notifyLifecycle(req Request, message string) {
	_ = o.notifier.Notify(context.Background(), notify.Event{
		RunID:   req.RunID,
		Status:  string(OutcomeFailure),
		Message: message,
		Link:    req.Link,
	})
}

// Trace helpers. The trace is best-effort observability: write failures are
// logged, never propagated. A detached context keeps a cancelled run's
// trailing records (teardown, summary) flowing to the trace.

func (o *Orchestrator) traceGate(ctx context.Context, rec *output.GateRecord) {
	if o.trace == nil {
		return
	}
	if err := o.trace.WriteGate(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("Trace write failed", zap.Error(err))
	}
}

func (o *Orchestrator) traceStage(ctx context.Context, rec *output.StageRecord) {
	if o.trace == nil {
		return
	}
	if err := o.trace.WriteStage(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("Trace write failed", zap.Error(err))
	}
}

func (o *Orchestrator) traceLifecycle(ctx context.Context, rec *output.LifecycleRecord) {
	if o.trace == nil {
		return
	}
	if err := o.trace.WriteLifecycle(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("Trace write failed", zap.Error(err))
	}
}

func (o *Orchestrator) traceTeardown(ctx context.Context, inst *runner.Instance, teardownErr error) {
	rec := &output.LifecycleRecord{
		Phase:   output.PhaseTeardown,
		Handle:  string(inst.Handle),
		Profile: inst.Profile.Name,
	}
	if teardownErr != nil {
		rec.Error = teardownErr.Error()
	}
	o.traceLifecycle(ctx, rec)
}

func (o *Orchestrator) traceError(ctx context.Context, rec *output.ErrorRecord) {
	if o.trace == nil {
		return
	}
	if err := o.trace.WriteError(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("Trace write failed", zap.Error(err))
	}
}

func (o *Orchestrator) traceSummary(ctx context.Context, req Request, report *Report) {
	if o.trace == nil {
		return
	}
	sum := &output.SummaryRecord{
		Outcome:       string(report.Outcome),
		Trigger:       req.Trigger.String(),
		Workflow:      req.Workflow,
		Ref:           req.Ref,
		Duration:      report.EndedAt.Sub(report.StartedAt),
		DurationHuman: report.EndedAt.Sub(report.StartedAt).Round(time.Millisecond).String(),
	}
	for _, res := range report.Stages {
		switch res.Outcome {
		case stage.OutcomeSkipped:
			sum.StagesSkipped++
		case stage.OutcomeFailure:
			sum.StagesFailed++
			sum.StagesRun++
		case stage.OutcomeSuccess, stage.OutcomeCancelled:
			sum.StagesRun++
		}
	}
	if err := o.trace.WriteSummary(context.WithoutCancel(ctx), sum); err != nil {
		o.logger.Warn("Trace write failed", zap.Error(err))
	}
}
