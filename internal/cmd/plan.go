package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quartzci/quartz/internal/observability"
	"github.com/quartzci/quartz/pkg/changeset"
	"github.com/quartzci/quartz/pkg/gate"
	"github.com/quartzci/quartz/pkg/stage"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Resolve stage gates for a revision range without running anything",
	Long: `Resolve which stages a change would run, using the same change detection
and gating as an actual run. No instance is provisioned and no stage
executes.

Example:
  quartz plan --pipeline pipeline.yaml --trigger pull-request --base main --head HEAD
  quartz plan --pipeline pipeline.yaml --trigger pull-request --base main --head HEAD --github-repo acme/widgets`,
	RunE: runPlanCmd,
}

var (
	planPipelinePath string
	planTrigger      string
	planBase         string
	planHead         string
	planRepoDir      string
	planGitHubRepo   string
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&planPipelinePath, "pipeline", "p", "", "Path to pipeline manifest (required)")
	planCmd.Flags().StringVar(&planTrigger, "trigger", string(gate.TriggerPullRequest), "Trigger kind (pull-request|manual|branch-push)")
	planCmd.Flags().StringVar(&planBase, "base", "", "Base revision for change detection")
	planCmd.Flags().StringVar(&planHead, "head", "", "Head revision for change detection")
	planCmd.Flags().StringVar(&planRepoDir, "repo-dir", ".", "Repository checkout for git-based change detection")
	planCmd.Flags().StringVar(&planGitHubRepo, "github-repo", "", "Use the GitHub compare API (owner/name) instead of a local checkout")

	_ = planCmd.MarkFlagRequired("pipeline")
}

func runPlanCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := loadPipeline(planPipelinePath)
	if err != nil {
		return err
	}

	trigger, err := parseTrigger(planTrigger)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid --trigger value", err)
	}

	source, err := buildDiffSource(planRepoDir, planGitHubRepo)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid change-detection settings", err)
	}

	evaluator, err := changeset.NewEvaluator(source, m.ChangesetComponents())
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid component patterns", err)
	}

	stages, err := m.PipelineStages()
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid stage graph", err)
	}

	cs, err := evaluator.Evaluate(ctx, planBase, planHead)
	if err != nil {
		// Inconclusive change data fails open, same as a real run.
		observability.CLILogger.Warn("Change detection inconclusive, gates fail open",
			zap.Error(err))
		cs = changeset.Unknown(evaluator.ComponentNames())
	}

	resolver := gate.Resolver{SharedComponent: m.SharedComponent}
	decision := resolver.Resolve(trigger, cs, stage.Deps(stages))

	fmt.Printf("Workflow: %s\n", m.Workflow)
	fmt.Printf("Trigger:  %s\n", trigger)
	fmt.Println()
	fmt.Println("Stages:")
	for _, s := range stages {
		g := decision.Gates[s.Name]
		verdict := "skip"
		if g.Run {
			verdict = "run"
		}
		fmt.Printf("  %-20s %-5s (%s)\n", s.Name, verdict, g.Reason)
	}
	fmt.Println()
	if decision.AnyChanged {
		fmt.Println("Run would proceed: at least one stage has work.")
	} else {
		fmt.Println("Run would be skipped: nothing relevant changed.")
	}
	return nil
}
