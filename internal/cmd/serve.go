package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quartzci/quartz/internal/config"
	"github.com/quartzci/quartz/internal/observability"
	"github.com/quartzci/quartz/internal/server"
	"github.com/quartzci/quartz/internal/server/handlers"
	"github.com/quartzci/quartz/pkg/runstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run history and health endpoints over HTTP",
	Long: `Start the read-only HTTP surface: health probes, version, and the run
history recorded by previous runs.

Example:
  quartz serve
  quartz serve --host 0.0.0.0 --port 9000`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	overrides := map[string]any{}
	if serveHost != "" {
		overrides["server"] = map[string]any{"host": serveHost}
	}
	if servePort != 0 {
		srv, _ := overrides["server"].(map[string]any)
		if srv == nil {
			srv = map[string]any{}
		}
		srv["port"] = servePort
		overrides["server"] = srv
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}

	store, err := runstore.Open(cfg.Runs.HistoryPath)
	if err != nil {
		return exitError(exitFileWriteError, "Failed to open run history", err)
	}
	defer func() { _ = store.Close() }()

	handlers.InitHealthManager(versionInfo.Version)
	if cfg.Health.Enabled {
		mgr := handlers.GetHealthManager()
		mgr.RegisterChecker("history", historyHealthChecker{store: store})
		mgr.RegisterChecker("registry", registryHealthChecker{dir: cfg.Runs.RegistryDir})
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithRunStore(store),
		server.WithVersion(versionInfo.Version),
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server),
	)

	logger.Info("Starting server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("history", cfg.Runs.HistoryPath))

	if err := srv.Run(ctx); err != nil {
		return exitError(exitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}

// historyHealthChecker verifies the run history database answers queries.
type historyHealthChecker struct {
	store *runstore.Store
}

func (c historyHealthChecker) CheckHealth(ctx context.Context) error {
	_, err := c.store.List(ctx, 1)
	return err
}

// registryHealthChecker verifies the run registry directory is usable.
type registryHealthChecker struct {
	dir string
}

func (c registryHealthChecker) CheckHealth(ctx context.Context) error {
	if c.dir == "" {
		return fmt.Errorf("run registry dir is not configured")
	}
	info, err := os.Stat(c.dir)
	if os.IsNotExist(err) {
		// Not created until the first run; that is healthy.
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("run registry path %s is not a directory", c.dir)
	}
	return nil
}
