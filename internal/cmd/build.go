package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/quartzci/quartz/internal/observability"
	"github.com/quartzci/quartz/pkg/diff"
	"github.com/quartzci/quartz/pkg/diff/gitcli"
	"github.com/quartzci/quartz/pkg/diff/github"
	"github.com/quartzci/quartz/pkg/manifest"
	"github.com/quartzci/quartz/pkg/output"
	"github.com/quartzci/quartz/pkg/runner"
	"github.com/quartzci/quartz/pkg/runner/ec2"
)

// githubTokenEnv is read when a GitHub-backed diff source is selected.
const githubTokenEnv = "QUARTZ_GITHUB_TOKEN"

// loadPipeline loads and validates a pipeline manifest.
func loadPipeline(path string) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		observability.CLILogger.Error("Failed to load pipeline manifest",
			zap.String("path", path),
			zap.Error(err))
		return nil, exitError(exitInvalidArgument, "Invalid pipeline manifest", err)
	}

	observability.CLILogger.Debug("Loaded pipeline manifest",
		zap.String("path", path),
		zap.String("workflow", m.Workflow),
		zap.Int("components", len(m.Components)),
		zap.Int("stages", len(m.Stages)))

	return m, nil
}

// buildDiffSource selects the change-detection backend. A --github-repo
// value of "owner/name" selects the GitHub compare API; otherwise the local
// git checkout at repoDir is used.
func buildDiffSource(repoDir, githubRepo string) (diff.Source, error) {
	if githubRepo != "" {
		owner, repo, ok := strings.Cut(githubRepo, "/")
		if !ok || owner == "" || repo == "" {
			return nil, fmt.Errorf("github repo must be owner/name, got %q", githubRepo)
		}
		return github.New(github.Config{
			Owner: owner,
			Repo:  repo,
			Token: os.Getenv(githubTokenEnv),
		})
	}
	return gitcli.New(gitcli.Config{Dir: repoDir})
}

// buildPlatform loads the platform configuration file and connects the
// compute backend named by the manifest.
func buildPlatform(ctx context.Context, m *manifest.Manifest, configPath string) (runner.Platform, error) {
	if m.Runner.Platform != "ec2" {
		return nil, fmt.Errorf("unsupported runner platform: %s", m.Runner.Platform)
	}
	if configPath == "" {
		return nil, fmt.Errorf("--runner-config is required to provision instances")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read runner config %s: %w", configPath, err)
	}

	var cfg ec2.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse runner config %s: %w", configPath, err)
	}

	return ec2.New(ctx, cfg)
}

// buildTraceWriter creates the run trace writer from output configuration.
// Returns the writer, a cleanup function, and the trace file path ("" when
// writing to stdout).
func buildTraceWriter(m *manifest.Manifest, runID string) (output.Writer, func(), string, error) {
	dest := m.Output.Destination

	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID)
		return w, func() { _ = w.Close() }, "", nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("create trace file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, runID)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, path, nil
}
