// Package manifest provides loading and validation of quartz pipeline manifests.
//
// A pipeline manifest is a YAML or JSON file that configures one pipeline:
// the gating components, the test stages, the runner platform, the
// concurrency policy, and the notification and output channels.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	workflow: fast-tests
//	components:
//	  - name: core
//	    includes:
//	      - "src/core/**"
//	stages:
//	  - name: unit
//	    needs: [core]
//	    command: ["make", "test"]
//	concurrency:
//	  policy: protect-default-branch
//	  default_branch: main
package manifest

import (
	"fmt"
	"time"

	"github.com/quartzci/quartz/pkg/changeset"
	"github.com/quartzci/quartz/pkg/gate"
	"github.com/quartzci/quartz/pkg/stage"
)

// Manifest represents a validated pipeline manifest.
//
// Required fields are Version, Workflow, Components, and Stages. The
// remaining sections are optional with defaults applied during loading.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	// Example: "https://schemas.quartzci.dev/quartz/v1.0.0/pipeline-manifest.schema.json"
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Workflow is the pipeline identity. Together with the branch ref it
	// forms the concurrency group key.
	Workflow string `json:"workflow" yaml:"workflow"`

	// SharedComponent is the component whose change re-triggers every
	// gated stage. Optional, defaults to "dependencies".
	SharedComponent string `json:"shared_component,omitempty" yaml:"shared_component,omitempty"`

	// Components are the named path groupings used for gating.
	Components []ComponentConfig `json:"components" yaml:"components"`

	// Stages are the test stages in execution order.
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Runner configures the instance platform (optional).
	Runner RunnerConfig `json:"runner,omitempty" yaml:"runner,omitempty"`

	// Concurrency configures run deduplication (optional).
	Concurrency ConcurrencyConfig `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Notify configures failure notification (optional).
	Notify NotifyConfig `json:"notify,omitempty" yaml:"notify,omitempty"`

	// Output configures the run trace destination (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// ComponentConfig declares one gating component.
type ComponentConfig struct {
	// Name identifies the component in stage needs lists.
	Name string `json:"name" yaml:"name"`

	// Includes is a list of glob patterns selecting the component's paths.
	// At least one pattern is required.
	Includes []string `json:"includes" yaml:"includes"`

	// Excludes is a list of glob patterns carving paths out. Optional.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
}

// StageConfig declares one test stage.
type StageConfig struct {
	// Name uniquely identifies the stage.
	Name string `json:"name" yaml:"name"`

	// Needs lists the components whose change gates this stage.
	Needs []string `json:"needs,omitempty" yaml:"needs,omitempty"`

	// After lists earlier stages that must succeed first.
	After []string `json:"after,omitempty" yaml:"after,omitempty"`

	// Command is the stage command and its arguments.
	Command []string `json:"command" yaml:"command"`

	// Dir is the working directory for the command. Optional.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Env is additional environment for the command. Optional.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// RunnerConfig configures the instance platform.
type RunnerConfig struct {
	// Platform selects the compute backend. Currently only "ec2".
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"`

	// Profile is the capability profile to provision.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// ProvisionTimeout bounds how long to wait for instance readiness.
	// Go duration string (e.g., "10m").
	ProvisionTimeout string `json:"provision_timeout,omitempty" yaml:"provision_timeout,omitempty"`

	// TeardownTimeout bounds the teardown request.
	TeardownTimeout string `json:"teardown_timeout,omitempty" yaml:"teardown_timeout,omitempty"`

	// PollRate is the maximum readiness polls per second.
	PollRate float64 `json:"poll_rate,omitempty" yaml:"poll_rate,omitempty"`
}

// ConcurrencyConfig configures run deduplication.
type ConcurrencyConfig struct {
	// Policy is "cancel-always" or "protect-default-branch".
	Policy string `json:"policy,omitempty" yaml:"policy,omitempty"`

	// DefaultBranch is the protected ref under protect-default-branch.
	DefaultBranch string `json:"default_branch,omitempty" yaml:"default_branch,omitempty"`
}

// NotifyConfig configures failure notification.
type NotifyConfig struct {
	// Webhook is the notification webhook URL. Empty disables notification.
	Webhook string `json:"webhook,omitempty" yaml:"webhook,omitempty"`

	// Timeout bounds one delivery attempt. Go duration string.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OutputConfig configures the run trace destination.
type OutputConfig struct {
	// Destination is the trace target.
	// Values: "stdout" or "file:/path/to/trace.jsonl"
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// S3 configures optional trace retention upload.
	S3 *S3OutputConfig `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// S3OutputConfig configures trace retention in S3.
type S3OutputConfig struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultPlatform is the default runner platform.
	DefaultPlatform = "ec2"

	// DefaultProvisionTimeout is the default readiness bound.
	DefaultProvisionTimeout = "10m"

	// DefaultTeardownTimeout is the default teardown bound.
	DefaultTeardownTimeout = "2m"

	// DefaultPollRate is the default readiness polls per second.
	DefaultPollRate = 0.5

	// DefaultPolicy is the default concurrency policy.
	DefaultPolicy = "cancel-always"

	// DefaultDestination is the default trace destination.
	DefaultDestination = "stdout"
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest to ensure
// all optional fields have sensible values.
func (m *Manifest) ApplyDefaults() {
	if m.SharedComponent == "" {
		m.SharedComponent = gate.DefaultSharedComponent
	}

	if m.Runner.Platform == "" {
		m.Runner.Platform = DefaultPlatform
	}
	if m.Runner.ProvisionTimeout == "" {
		m.Runner.ProvisionTimeout = DefaultProvisionTimeout
	}
	if m.Runner.TeardownTimeout == "" {
		m.Runner.TeardownTimeout = DefaultTeardownTimeout
	}
	if m.Runner.PollRate == 0 {
		m.Runner.PollRate = DefaultPollRate
	}

	if m.Concurrency.Policy == "" {
		m.Concurrency.Policy = DefaultPolicy
	}

	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
}

// ChangesetComponents converts the component configs to evaluator components.
func (m *Manifest) ChangesetComponents() []changeset.Component {
	out := make([]changeset.Component, 0, len(m.Components))
	for _, c := range m.Components {
		out = append(out, changeset.Component{
			Name:     c.Name,
			Includes: c.Includes,
			Excludes: c.Excludes,
		})
	}
	return out
}

// PipelineStages converts the stage configs to executable stages with exec
// targets, validating the stage graph.
func (m *Manifest) PipelineStages() ([]stage.Stage, error) {
	out := make([]stage.Stage, 0, len(m.Stages))
	for _, s := range m.Stages {
		if len(s.Command) == 0 {
			return nil, fmt.Errorf("stage %q: command is required", s.Name)
		}
		out = append(out, stage.Stage{
			Name:  s.Name,
			Needs: s.Needs,
			After: s.After,
			Target: &stage.ExecTarget{
				Command: s.Command[0],
				Args:    s.Command[1:],
				Dir:     s.Dir,
				Env:     s.Env,
			},
		})
	}
	if err := stage.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProvisionTimeout parses the runner provision timeout.
func (r RunnerConfig) ParseProvisionTimeout() (time.Duration, error) {
	return parseDuration(r.ProvisionTimeout, "runner.provision_timeout")
}

// ParseTeardownTimeout parses the runner teardown timeout.
func (r RunnerConfig) ParseTeardownTimeout() (time.Duration, error) {
	return parseDuration(r.TeardownTimeout, "runner.teardown_timeout")
}

// ParseTimeout parses the notification timeout. Zero when unset.
func (n NotifyConfig) ParseTimeout() (time.Duration, error) {
	if n.Timeout == "" {
		return 0, nil
	}
	return parseDuration(n.Timeout, "notify.timeout")
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
