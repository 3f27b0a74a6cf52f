// Package cmd implements the quartz CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quartzci/quartz/internal/config"
	"github.com/quartzci/quartz/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "quartz",
	Short: "Change-driven CI pipeline orchestrator",
	Long: `quartz orchestrates CI pipeline runs: it decides which test stages a
change actually needs, provisions an ephemeral cloud runner for the run,
executes the stages, and guarantees the runner is torn down afterwards.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return exitError(exitInvalidArgument, "Invalid configuration", err)
		}

		level := cfg.Logging.Level
		if rootLogLevel != "" {
			level = rootLogLevel
		}
		profile := cfg.Logging.Profile
		if rootLogProfile != "" {
			profile = rootLogProfile
		}
		if err := observability.Setup(level, profile); err != nil {
			return exitError(exitInvalidArgument, "Invalid logging configuration", err)
		}
		return nil
	},
}

var (
	rootLogLevel   string
	rootLogProfile string
)

// versionInfo is populated at build time via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("quartz %s (commit %s, built %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&rootLogProfile, "log-profile", "", "Log encoding (STRUCTURED|CONSOLE)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	observability.Sync()
	if err == nil {
		return 0
	}

	observability.CLILogger.Error("Command failed", zap.Error(err))

	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return 1
}

// Exit codes follow the foundry CLI conventions used across our tooling.
const (
	exitInvalidArgument            = foundry.ExitInvalidArgument
	exitFileWriteError             = foundry.ExitFileWriteError
	exitExternalServiceUnavailable = foundry.ExitExternalServiceUnavailable
	exitSignalInt                  = foundry.ExitSignalInt
	exitRunFailed                  = 1
)

// codedError carries a process exit code alongside the error chain.
type codedError struct {
	code    int
	message string
	err     error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *codedError) Unwrap() error {
	return e.err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &codedError{code: code, message: message, err: err}
}
