// Package events defines the JSONL event envelope used for the
// orchestrator-level and per-task durable log streams (spec.md §6, §9).
//
// Producers build an Event with a concrete payload type; Logger appends it
// as one line of `{type, ts, payload}` JSON. Readers decode the envelope
// first, then dispatch on Type to parse payload per event kind — the
// heterogeneous-payload design note from spec.md §9.
package events

import (
	"time"

	"github.com/anthropics/mycelium-executor/internal/fileutil"
)

// Type enumerates every event kind named across spec.md §4 and §6.
type Type string

const (
	TypeRunStart         Type = "run.start"
	TypeRunStop          Type = "run.stop"
	TypeRunStaleRecovery Type = "run.stale_recovery"
	TypeRunSummary       Type = "run.summary"

	TypeBatchStart         Type = "batch.start"
	TypeBatchComplete      Type = "batch.complete"
	TypeBatchMerging       Type = "batch.merging"
	TypeBatchMergeConflict Type = "batch.merge_conflict"

	TypeDoctorIntegrationStart Type = "doctor.integration.start"
	TypeDoctorIntegrationPass  Type = "doctor.integration.pass"
	TypeDoctorIntegrationFail  Type = "doctor.integration.fail"

	TypeDoctorCanaryStart           Type = "doctor.canary.start"
	TypeDoctorCanaryUnexpectedPass  Type = "doctor.canary.unexpected_pass"
	TypeDoctorCanaryExpectedFail    Type = "doctor.canary.expected_fail"
	TypeDoctorCanarySkipped         Type = "doctor.canary.skipped"

	TypeValidatorStart Type = "validator.start"
	TypeValidatorPass  Type = "validator.pass"
	TypeValidatorFail  Type = "validator.fail"
	TypeValidatorError Type = "validator.error"
	TypeValidatorBlock Type = "validator.block"

	TypeBudgetWarn  Type = "budget.warn"
	TypeBudgetBlock Type = "budget.block"

	TypeTaskComplete Type = "task.complete"
	TypeTaskFailed   Type = "task.failed"
	TypeTaskReset    Type = "task.reset"
	TypeTaskRetry    Type = "task.retry"
	TypeTaskStageMove Type = "task.stage.move"

	TypeLedgerWriteStart    Type = "ledger.write.start"
	TypeLedgerWriteComplete Type = "ledger.write.complete"
	TypeLedgerWriteError    Type = "ledger.write.error"

	TypeTurnStart    Type = "turn.start"
	TypeTurnComplete Type = "turn.complete"

	TypeDoctorStart Type = "doctor.start"
	TypeDoctorPass  Type = "doctor.pass"
	TypeDoctorFail  Type = "doctor.fail"

	TypeContainerStart Type = "container.start"
	TypeContainerExit  Type = "container.exit"

	TypeWorkerLocalError Type = "worker.local.error"
)

// Envelope is the stable on-disk shape for every logged event.
type Envelope struct {
	Type    Type        `json:"type"`
	TS      string      `json:"ts"`
	TaskID  string      `json:"task_id,omitempty"`
	Attempt int         `json:"attempt,omitempty"`
	Payload interface{} `json:"payload"`
}

// nowRFC3339Milli returns the current time, RFC3339 with millisecond precision, UTC.
func nowRFC3339Milli() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Logger appends events to a single JSONL file.
type Logger struct {
	path string
}

// NewLogger returns a Logger appending to path. The file and its parent
// directory are created lazily on first Log call.
func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

// Log appends one event. Task-scoped callers should use LogTask instead so
// task_id/attempt are populated.
func (l *Logger) Log(typ Type, payload interface{}) error {
	return fileutil.AppendJSONLine(l.path, Envelope{
		Type:    typ,
		TS:      nowRFC3339Milli(),
		Payload: payload,
	})
}

// LogTask appends a task-scoped event, carrying task_id and attempt.
func (l *Logger) LogTask(typ Type, taskID string, attempt int, payload interface{}) error {
	return fileutil.AppendJSONLine(l.path, Envelope{
		Type:    typ,
		TS:      nowRFC3339Milli(),
		TaskID:  taskID,
		Attempt: attempt,
		Payload: payload,
	})
}

// Path returns the underlying file path, useful for tests asserting content.
func (l *Logger) Path() string {
	return l.path
}
