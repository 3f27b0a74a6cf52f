package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quartzci/quartz/internal/observability"
	"github.com/quartzci/quartz/pkg/preflight"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Verify credentials and connectivity without provisioning",
	Long: `Check that the change source and runner platform are reachable with the
current credentials. Preflight never starts or stops instances.

Example:
  quartz preflight --pipeline pipeline.yaml --runner-config runner.yaml --base main --head HEAD
  quartz preflight --pipeline pipeline.yaml --runner-config runner.yaml --mode plan-only`,
	RunE: runPreflight,
}

var (
	preflightPipelinePath string
	preflightMode         string
	preflightBase         string
	preflightHead         string
	preflightRepoDir      string
	preflightGitHubRepo   string
	preflightRunnerConfig string
)

func init() {
	rootCmd.AddCommand(preflightCmd)

	preflightCmd.Flags().StringVarP(&preflightPipelinePath, "pipeline", "p", "", "Path to pipeline manifest (required)")
	preflightCmd.Flags().StringVar(&preflightMode, "mode", string(preflight.ModeReadSafe), "Preflight mode (plan-only|read-safe)")
	preflightCmd.Flags().StringVar(&preflightBase, "base", "", "Base revision for the diff probe")
	preflightCmd.Flags().StringVar(&preflightHead, "head", "", "Head revision for the diff probe")
	preflightCmd.Flags().StringVar(&preflightRepoDir, "repo-dir", ".", "Repository checkout for git-based change detection")
	preflightCmd.Flags().StringVar(&preflightGitHubRepo, "github-repo", "", "Use the GitHub compare API (owner/name) instead of a local checkout")
	preflightCmd.Flags().StringVar(&preflightRunnerConfig, "runner-config", "", "Path to platform configuration")

	_ = preflightCmd.MarkFlagRequired("pipeline")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := loadPipeline(preflightPipelinePath)
	if err != nil {
		return err
	}

	mode := preflight.Mode(preflightMode)
	switch mode {
	case preflight.ModePlanOnly, preflight.ModeReadSafe:
	default:
		return exitError(exitInvalidArgument, "Invalid --mode value",
			fmt.Errorf("unsupported preflight mode: %s", preflightMode))
	}

	source, err := buildDiffSource(preflightRepoDir, preflightGitHubRepo)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid change-detection settings", err)
	}

	platform, err := buildPlatform(ctx, m, preflightRunnerConfig)
	if err != nil {
		return exitError(exitExternalServiceUnavailable, "Failed to connect to runner platform", err)
	}

	report, pfErr := preflight.Run(ctx, source, platform, preflight.Spec{
		Mode: mode,
		Base: preflightBase,
		Head: preflightHead,
	})

	fmt.Printf("Preflight (%s)\n", report.Mode)
	for _, r := range report.Results {
		status := "ok"
		if !r.Allowed {
			status = "FAIL"
		}
		fmt.Printf("  %-18s %-4s %s", r.Capability, status, r.Method)
		if r.Detail != "" {
			fmt.Printf(": %s", r.Detail)
		}
		fmt.Println()
	}

	if pfErr != nil {
		observability.CLILogger.Error("Preflight failed", zap.Error(pfErr))
		return exitError(exitExternalServiceUnavailable, "Preflight failed", pfErr)
	}
	fmt.Println("All preflight checks passed.")
	return nil
}
