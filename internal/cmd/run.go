package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quartzci/quartz/internal/config"
	"github.com/quartzci/quartz/internal/observability"
	"github.com/quartzci/quartz/pkg/changeset"
	"github.com/quartzci/quartz/pkg/dedupe"
	"github.com/quartzci/quartz/pkg/gate"
	"github.com/quartzci/quartz/pkg/manifest"
	"github.com/quartzci/quartz/pkg/notify"
	"github.com/quartzci/quartz/pkg/orchestrator"
	"github.com/quartzci/quartz/pkg/output/s3sink"
	"github.com/quartzci/quartz/pkg/runner"
	"github.com/quartzci/quartz/pkg/runstore"
	"github.com/quartzci/quartz/pkg/stage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a pipeline run from a manifest",
	Long: `Execute one pipeline run as defined in a YAML or JSON pipeline manifest.

quartz resolves which stages the change actually needs, provisions an
ephemeral runner instance, executes the stages on it, and tears the
instance down when the run ends for any reason.

Example:
  quartz run --pipeline pipeline.yaml --trigger pull-request --ref feature/x --base main --head HEAD --runner-config runner.yaml
  quartz run --pipeline pipeline.yaml --trigger manual --ref main --runner-config runner.yaml
  quartz run --pipeline pipeline.yaml --trigger pull-request --ref feature/x --dry-run`,
	RunE: runRun,
}

var (
	runPipelinePath     string
	runTrigger          string
	runRef              string
	runBase             string
	runHead             string
	runRunID            string
	runLink             string
	runOutput           string
	runRunnerConfigPath string
	runRepoDir          string
	runGitHubRepo       string
	runDryRun           bool
	runPlan             bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runPipelinePath, "pipeline", "p", "", "Path to pipeline manifest (required)")
	runCmd.Flags().StringVar(&runTrigger, "trigger", "", "Trigger kind (pull-request|manual|branch-push) (required)")
	runCmd.Flags().StringVar(&runRef, "ref", "", "Branch ref the run belongs to (required)")
	runCmd.Flags().StringVar(&runBase, "base", "", "Base revision for change detection")
	runCmd.Flags().StringVar(&runHead, "head", "", "Head revision for change detection")
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "Run identifier (generated when empty)")
	runCmd.Flags().StringVar(&runLink, "link", "", "Run detail URL included in notifications")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Override trace destination")
	runCmd.Flags().StringVar(&runRunnerConfigPath, "runner-config", "", "Path to platform configuration")
	runCmd.Flags().StringVar(&runRepoDir, "repo-dir", ".", "Repository checkout for git-based change detection")
	runCmd.Flags().StringVar(&runGitHubRepo, "github-repo", "", "Use the GitHub compare API (owner/name) instead of a local checkout")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate manifest and show plan without executing")
	runCmd.Flags().BoolVar(&runPlan, "plan", false, "Alias for --dry-run")

	_ = runCmd.MarkFlagRequired("pipeline")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := loadPipeline(runPipelinePath)
	if err != nil {
		return err
	}

	if runOutput != "" {
		m.Output.Destination = runOutput
	}

	if runPlan || runDryRun {
		return showRunPlan(m)
	}

	trigger, err := parseTrigger(runTrigger)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid --trigger value", err)
	}
	if runRef == "" {
		return exitError(exitInvalidArgument, "Missing --ref", fmt.Errorf("a branch ref is required"))
	}

	return executeRun(ctx, m, trigger)
}

func executeRun(ctx context.Context, m *manifest.Manifest, trigger gate.TriggerKind) error {
	logger := observability.CLILogger

	runID := runRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	source, err := buildDiffSource(runRepoDir, runGitHubRepo)
	if err != nil {
		logger.Error("Failed to create change source", zap.Error(err))
		return exitError(exitInvalidArgument, "Invalid change-detection settings", err)
	}

	evaluator, err := changeset.NewEvaluator(source, m.ChangesetComponents())
	if err != nil {
		logger.Error("Invalid component patterns", zap.Error(err))
		return exitError(exitInvalidArgument, "Invalid component patterns", err)
	}

	stages, err := m.PipelineStages()
	if err != nil {
		logger.Error("Invalid stage graph", zap.Error(err))
		return exitError(exitInvalidArgument, "Invalid stage graph", err)
	}

	platform, err := buildPlatform(ctx, m, runRunnerConfigPath)
	if err != nil {
		logger.Error("Failed to connect platform", zap.Error(err))
		return exitError(exitExternalServiceUnavailable, "Failed to connect to runner platform", err)
	}

	provisionTimeout, err := m.Runner.ParseProvisionTimeout()
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid runner timeouts", err)
	}
	teardownTimeout, err := m.Runner.ParseTeardownTimeout()
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid runner timeouts", err)
	}

	manager := runner.NewManager(platform, m.Workflow, runner.ManagerConfig{
		ProvisionTimeout: provisionTimeout,
		TeardownTimeout:  teardownTimeout,
		PollRate:         m.Runner.PollRate,
	}, logger)

	cfg := config.GetConfig()
	coordinator := dedupe.NewCoordinator(dedupe.NewStore(cfg.Runs.RegistryDir), logger)

	var notifier notify.Notifier
	if m.Notify.Webhook != "" {
		timeout, err := m.Notify.ParseTimeout()
		if err != nil {
			return exitError(exitInvalidArgument, "Invalid notify timeout", err)
		}
		notifier, err = notify.NewWebhook(m.Notify.Webhook, timeout)
		if err != nil {
			return exitError(exitInvalidArgument, "Invalid notify webhook", err)
		}
	}

	trace, cleanup, tracePath, err := buildTraceWriter(m, runID)
	if err != nil {
		logger.Error("Failed to create trace writer", zap.Error(err))
		return exitError(exitFileWriteError, "Failed to create run trace output", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Evaluator:   evaluator,
		Resolver:    gate.Resolver{SharedComponent: m.SharedComponent},
		Manager:     manager,
		Coordinator: coordinator,
		Stages:      stages,
		Notifier:    notifier,
		Trace:       trace,
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return exitError(exitInvalidArgument, "Invalid pipeline", err)
	}

	logger.Info("Starting run",
		zap.String("run_id", runID),
		zap.String("workflow", m.Workflow),
		zap.String("ref", runRef),
		zap.String("trigger", trigger.String()))

	report, err := orch.Run(ctx, orchestrator.Request{
		RunID:         runID,
		Workflow:      m.Workflow,
		Ref:           runRef,
		Trigger:       trigger,
		Base:          runBase,
		Head:          runHead,
		Profile:       runner.Profile{Name: m.Runner.Profile},
		Policy:        dedupe.Policy(m.Concurrency.Policy),
		DefaultBranch: m.Concurrency.DefaultBranch,
		Link:          runLink,
	})
	cleanup()
	if err != nil {
		if errors.Is(err, dedupe.ErrGroupProtected) {
			logger.Warn("Run rejected by concurrency policy",
				zap.String("run_id", runID),
				zap.String("ref", runRef))
			return exitError(exitRunFailed, "Run rejected by concurrency policy", err)
		}
		logger.Error("Run could not start", zap.String("run_id", runID), zap.Error(err))
		return exitError(exitInvalidArgument, "Run could not start", err)
	}

	recordRun(m, report)
	uploadTrace(m, runID, tracePath)

	logger.Info("Run finished",
		zap.String("run_id", report.RunID),
		zap.String("outcome", string(report.Outcome)),
		zap.Duration("duration", report.EndedAt.Sub(report.StartedAt)))

	switch report.Outcome {
	case orchestrator.OutcomeSuccess, orchestrator.OutcomeSkipped:
		return nil
	case orchestrator.OutcomeCancelled:
		return exitError(exitSignalInt, "Run cancelled", context.Canceled)
	default:
		return exitError(exitRunFailed, "Run failed", runFailure(report))
	}
}

// runFailure summarizes what made the run a failure.
func runFailure(report *orchestrator.Report) error {
	if report.ProvisionErr != nil {
		return fmt.Errorf("provisioning: %w", report.ProvisionErr)
	}

	var failed []string
	for _, r := range report.Stages {
		if r.Outcome == stage.OutcomeFailure {
			failed = append(failed, r.Stage)
		}
	}
	if len(failed) > 0 && report.TeardownErr != nil {
		return fmt.Errorf("stages failed: %s; teardown: %w", strings.Join(failed, ", "), report.TeardownErr)
	}
	if report.TeardownErr != nil {
		return fmt.Errorf("teardown: %w", report.TeardownErr)
	}
	return fmt.Errorf("stages failed: %s", strings.Join(failed, ", "))
}

// recordRun appends the finished run to the local history store. History is
// best-effort; a write failure never changes the run outcome.
func recordRun(m *manifest.Manifest, report *orchestrator.Report) {
	cfg := config.GetConfig()
	store, err := runstore.Open(cfg.Runs.HistoryPath)
	if err != nil {
		observability.CLILogger.Warn("Failed to open run history", zap.Error(err))
		return
	}
	defer func() { _ = store.Close() }()

	run := runstore.Run{
		RunID:     report.RunID,
		Workflow:  m.Workflow,
		Ref:       runRef,
		Trigger:   string(report.Decision.Trigger),
		Outcome:   string(report.Outcome),
		StartedAt: report.StartedAt,
		EndedAt:   report.EndedAt,
	}
	for _, r := range report.Stages {
		so := runstore.StageOutcome{
			Stage:    r.Stage,
			Outcome:  string(r.Outcome),
			Reason:   r.Reason,
			Duration: r.Duration(),
		}
		if r.Err != nil {
			so.Error = r.Err.Error()
		}
		run.Stages = append(run.Stages, so)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Put(ctx, run); err != nil {
		observability.CLILogger.Warn("Failed to record run history",
			zap.String("run_id", report.RunID),
			zap.Error(err))
	}
}

// uploadTrace ships the trace file to S3 when retention is configured.
// Retention is best-effort.
func uploadTrace(m *manifest.Manifest, runID, tracePath string) {
	if m.Output.S3 == nil || tracePath == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sink, err := s3sink.New(ctx, s3sink.Config{
		Bucket: m.Output.S3.Bucket,
		Prefix: m.Output.S3.Prefix,
		Region: m.Output.S3.Region,
	})
	if err != nil {
		observability.CLILogger.Warn("Failed to create trace retention sink", zap.Error(err))
		return
	}
	if err := sink.Upload(ctx, runID, tracePath); err != nil {
		observability.CLILogger.Warn("Failed to upload run trace",
			zap.String("run_id", runID),
			zap.String("path", tracePath),
			zap.Error(err))
		return
	}
	observability.CLILogger.Info("Uploaded run trace",
		zap.String("run_id", runID),
		zap.String("key", sink.Key(runID)))
}

func parseTrigger(raw string) (gate.TriggerKind, error) {
	switch gate.TriggerKind(raw) {
	case gate.TriggerPullRequest, gate.TriggerManual, gate.TriggerBranchPush:
		return gate.TriggerKind(raw), nil
	case "":
		return "", fmt.Errorf("a trigger kind is required")
	default:
		return "", fmt.Errorf("unsupported trigger kind: %s", raw)
	}
}

// showRunPlan displays what would run without executing.
func showRunPlan(m *manifest.Manifest) error {
	fmt.Println("=== Run Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Workflow:    %s\n", m.Workflow)
	fmt.Printf("Platform:    %s\n", m.Runner.Platform)
	if m.Runner.Profile != "" {
		fmt.Printf("Profile:     %s\n", m.Runner.Profile)
	}
	fmt.Println()
	fmt.Println("Components:")
	for _, c := range m.Components {
		fmt.Printf("  %s:\n", c.Name)
		for _, p := range c.Includes {
			fmt.Printf("    - %s\n", p)
		}
		for _, p := range c.Excludes {
			fmt.Printf("    - !%s\n", p)
		}
	}
	fmt.Println()
	fmt.Println("Stages:")
	for _, s := range m.Stages {
		fmt.Printf("  %s:\n", s.Name)
		fmt.Printf("    command: %s\n", strings.Join(s.Command, " "))
		if len(s.Needs) > 0 {
			fmt.Printf("    needs:   %s\n", strings.Join(s.Needs, ", "))
		}
		if len(s.After) > 0 {
			fmt.Printf("    after:   %s\n", strings.Join(s.After, ", "))
		}
	}
	fmt.Println()
	fmt.Printf("Concurrency: %s", m.Concurrency.Policy)
	if m.Concurrency.DefaultBranch != "" {
		fmt.Printf(" (default branch: %s)", m.Concurrency.DefaultBranch)
	}
	fmt.Println()
	if m.Notify.Webhook != "" {
		fmt.Printf("Notify:      %s\n", m.Notify.Webhook)
	}
	fmt.Printf("Output:      %s\n", m.Output.Destination)
	if m.Output.S3 != nil {
		fmt.Printf("Retention:   s3://%s/%s\n", m.Output.S3.Bucket, m.Output.S3.Prefix)
	}
	fmt.Println()
	fmt.Println("Manifest validated successfully. Remove --dry-run to execute.")
	return nil
}
