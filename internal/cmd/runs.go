package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quartzci/quartz/internal/config"
	"github.com/quartzci/quartz/pkg/runstore"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE:  runRunsList,
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one run with stage detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

var (
	runsLimit int
	runsJSON  bool
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)

	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
	runsListCmd.Flags().BoolVar(&runsJSON, "json", false, "Emit JSON instead of a table")
}

func openHistory() (*runstore.Store, error) {
	cfg := config.GetConfig()
	store, err := runstore.Open(cfg.Runs.HistoryPath)
	if err != nil {
		return nil, exitError(exitFileWriteError, "Failed to open run history", err)
	}
	return store, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.List(cmd.Context(), runsLimit)
	if err != nil {
		return exitError(exitFileWriteError, "Failed to list runs", err)
	}

	if runsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-24s  %-13s  %-9s  %s\n",
		"RUN ID", "WORKFLOW", "REF", "TRIGGER", "OUTCOME", "STARTED")
	for _, r := range runs {
		fmt.Printf("%-36s  %-20s  %-24s  %-13s  %-9s  %s\n",
			r.RunID, r.Workflow, r.Ref, r.Trigger, r.Outcome,
			r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return exitError(exitInvalidArgument, "Run not found", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}
