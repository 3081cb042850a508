// Package output provides JSONL output for headless plan runs.
//
// Output is structured as typed record envelopes containing completions,
// progress updates, errors, and a final summary. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: phoenixd.<type>.v<version>
const (
	// TypePlan identifies the record describing the installed plan.
	TypePlan = "phoenixd.plan.v1"

	// TypeCompletion identifies per-item completion records.
	TypeCompletion = "phoenixd.completion.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "phoenixd.progress.v1"

	// TypeError identifies error records.
	TypeError = "phoenixd.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "phoenixd.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "phoenixd.completion.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// PlanRecord describes the plan a run starts with.
type PlanRecord struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
	Stale      bool   `json:"stale"`
	Items      int    `json:"items"`
	TotalUnits uint64 `json:"total_units"`
	StartIndex int    `json:"start_index"`
}

// CompletionRecord is the data payload for one finished item.
type CompletionRecord struct {
	DispatchID    string `json:"dispatch_id"`
	ItemType      string `json:"item_type"`
	Path          string `json:"path,omitempty"`
	Success       bool   `json:"success"`
	UnitsProduced uint64 `json:"units_produced"`
	DurationMs    int64  `json:"duration_ms"`
	BatchSize     int    `json:"batch_size,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted periodically while an execution unit runs.
type ProgressRecord struct {
	// Phase indicates the current run phase.
	Phase string `json:"phase"`

	Index        int     `json:"index"`
	HashingUnits uint64  `json:"hashing_units"`
	WritingUnits uint64  `json:"writing_units"`
	TotalUnits   uint64  `json:"total_units"`
	Percent      float64 `json:"percent"`
	SpeedMiBs    float64 `json:"speed_mib_s"`

	// Path is the status path of the unit in flight.
	Path string `json:"path,omitempty"`
}

// Progress phase constants.
const (
	PhaseStarting = "starting"
	PhasePlotting = "plotting"
	PhaseComplete = "complete"
)

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Path is the drive path related to this error, if applicable.
	Path string `json:"path,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeRejected indicates a dispatch was rejected.
	ErrCodeRejected = "REJECTED"

	// ErrCodeResume indicates a resume target could not be resolved.
	ErrCodeResume = "RESUME_FAILED"

	// ErrCodeEngine indicates the engine reported a failure.
	ErrCodeEngine = "ENGINE_FAILED"

	// ErrCodeStopped indicates the run was aborted by a hard stop.
	ErrCodeStopped = "STOPPED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	// Outcome is how the run ended ("complete" or "stopped").
	Outcome string `json:"outcome"`

	// FinalIndex is the plan index the run halted at.
	FinalIndex int `json:"final_index"`

	Items     int    `json:"items"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Units     uint64 `json:"units"`

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
