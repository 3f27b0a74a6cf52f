// Package output provides the JSONL run trace.
//
// A run emits typed record envelopes: gate decisions, stage outcomes,
// instance lifecycle transitions, errors, and a final summary. Each line is
// a self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: quartz.<type>.v<version>
const (
	// TypeGate identifies per-stage gate decision records.
	TypeGate = "quartz.gate.v1"

	// TypeStage identifies stage outcome records.
	TypeStage = "quartz.stage.v1"

	// TypeLifecycle identifies instance lifecycle records.
	TypeLifecycle = "quartz.lifecycle.v1"

	// TypeError identifies error records.
	TypeError = "quartz.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "quartz.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line contains a Record with a type-specific payload in the Data
// field. The type field determines how to interpret the payload.
type Record struct {
	// Type identifies the record type (e.g., "quartz.stage.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this pipeline run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// GateRecord is the data payload for one stage's gate decision.
type GateRecord struct {
	// Stage is the gated stage name.
	Stage string `json:"stage"`

	// Run is the resolved gate value.
	Run bool `json:"run"`

	// Reason explains the decision (forced, component-changed,
	// shared-dependency-changed, fail-open, unchanged).
	Reason string `json:"reason"`
}

// StageRecord is the data payload for one stage outcome.
type StageRecord struct {
	// Stage is the stage name.
	Stage string `json:"stage"`

	// Outcome is the terminal stage outcome.
	Outcome string `json:"outcome"`

	// Reason is set for skipped stages.
	Reason string `json:"reason,omitempty"`

	// Error is the failure message for failed stages.
	Error string `json:"error,omitempty"`

	// Duration is the stage wall time.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// LifecycleRecord is the data payload for instance lifecycle transitions.
type LifecycleRecord struct {
	// Phase is the lifecycle phase (provisioning, ready, teardown).
	Phase string `json:"phase"`

	// Handle is the platform instance identifier, once known.
	Handle string `json:"handle,omitempty"`

	// Profile is the capability profile.
	Profile string `json:"profile,omitempty"`

	// Error is the failure message when the phase failed.
	Error string `json:"error,omitempty"`
}

// Lifecycle phase constants.
const (
	PhaseProvisioning = "provisioning"
	PhaseReady        = "ready"
	PhaseTeardown     = "teardown"
)

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than aborting the trace, keeping
// partial traces parseable when a run ends badly.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Stage is the stage related to this error, if applicable.
	Stage string `json:"stage,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeChangeDetection indicates the change source failed.
	ErrCodeChangeDetection = "CHANGE_DETECTION"

	// ErrCodeProvisioning indicates instance provisioning failed.
	ErrCodeProvisioning = "PROVISIONING"

	// ErrCodeTeardown indicates instance teardown failed.
	ErrCodeTeardown = "TEARDOWN"

	// ErrCodeStage indicates a stage target failed.
	ErrCodeStage = "STAGE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for the final run summary.
type SummaryRecord struct {
	// Outcome is the overall run outcome.
	Outcome string `json:"outcome"`

	// Trigger is the trigger kind the run started under.
	Trigger string `json:"trigger"`

	// Workflow and Ref identify the concurrency group.
	Workflow string `json:"workflow"`
	Ref      string `json:"ref"`

	// StagesRun, StagesSkipped, StagesFailed count stage outcomes.
	StagesRun     int `json:"stages_run"`
	StagesSkipped int `json:"stages_skipped"`
	StagesFailed  int `json:"stages_failed"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
