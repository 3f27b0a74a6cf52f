package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzci/quartz/pkg/manifest"
)

const cmdTestManifest = `
version: "1.0"
workflow: fast-tests
components:
  - name: core
    includes: ["src/**"]
stages:
  - name: unit
    needs: [core]
    command: ["make", "test"]
`

func writeTempManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cmdTestManifest), 0644))
	return path
}

func TestLoadPipeline(t *testing.T) {
	m, err := loadPipeline(writeTempManifest(t))
	require.NoError(t, err)
	assert.Equal(t, "fast-tests", m.Workflow)
}

func TestLoadPipelineInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflow: [broken"), 0644))

	_, err := loadPipeline(path)
	require.Error(t, err)

	var coded *codedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, exitInvalidArgument, coded.code)
}

func TestBuildDiffSourceLocal(t *testing.T) {
	source, err := buildDiffSource(t.TempDir(), "")
	require.NoError(t, err)
	assert.NotNil(t, source)
}

func TestBuildDiffSourceGitHub(t *testing.T) {
	source, err := buildDiffSource(".", "acme/widgets")
	require.NoError(t, err)
	assert.NotNil(t, source)
}

func TestBuildDiffSourceBadRepo(t *testing.T) {
	_, err := buildDiffSource(".", "not-a-repo")
	assert.Error(t, err)

	_, err = buildDiffSource(".", "/name")
	assert.Error(t, err)
}

func TestBuildPlatformRejectsUnknown(t *testing.T) {
	m := &manifest.Manifest{}
	m.Runner.Platform = "kubernetes"

	_, err := buildPlatform(t.Context(), m, "runner.yaml")
	assert.ErrorContains(t, err, "unsupported runner platform")
}

func TestBuildPlatformRequiresConfig(t *testing.T) {
	m := &manifest.Manifest{}
	m.Runner.Platform = "ec2"

	_, err := buildPlatform(t.Context(), m, "")
	assert.ErrorContains(t, err, "--runner-config")
}

func TestBuildTraceWriterStdout(t *testing.T) {
	m := &manifest.Manifest{}
	m.Output.Destination = "stdout"

	w, cleanup, path, err := buildTraceWriter(m, "run-1")
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, w)
	assert.Empty(t, path)
}

func TestBuildTraceWriterFile(t *testing.T) {
	m := &manifest.Manifest{}
	m.Output.Destination = "file:" + filepath.Join(t.TempDir(), "trace.jsonl")

	w, cleanup, path, err := buildTraceWriter(m, "run-1")
	require.NoError(t, err)

	assert.NotNil(t, w)
	require.NotEmpty(t, path)
	cleanup()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestBuildTraceWriterBadPath(t *testing.T) {
	m := &manifest.Manifest{}
	m.Output.Destination = "file:" + filepath.Join(t.TempDir(), "missing", "trace.jsonl")

	_, _, _, err := buildTraceWriter(m, "run-1")
	assert.Error(t, err)
}
