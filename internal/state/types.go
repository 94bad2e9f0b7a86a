// Package state implements the Run State Store (spec.md §4.1) and the
// RunState/TaskState/BatchRecord data model (spec.md §3).
package state

import "time"

// TaskStatus is the task state machine (spec.md §3, §4.x).
type TaskStatus string

const (
	StatusPending          TaskStatus = "pending"
	StatusRunning          TaskStatus = "running"
	StatusValidated        TaskStatus = "validated"
	StatusComplete         TaskStatus = "complete"
	StatusSkipped          TaskStatus = "skipped"
	StatusFailed           TaskStatus = "failed"
	StatusNeedsHumanReview TaskStatus = "needs_human_review"
	// StatusNeedsRescope is the Open-Question decision from SPEC_FULL.md: a
	// terminal-for-batch human-review variant, never set by this repo's own
	// components — reserved for a future rescope engine's hook point.
	StatusNeedsRescope TaskStatus = "needs_rescope"
)

// IsTerminal reports whether a status is terminal for the run's purposes
// (spec.md §3: "terminal on complete, skipped, or failed").
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// IsNonTerminalPause reports statuses that pause scheduling for a task
// without being terminal (human-review and rescope, per spec.md §3).
func (s TaskStatus) IsNonTerminalPause() bool {
	return s == StatusNeedsHumanReview || s == StatusNeedsRescope
}

// CheckpointCommit records one worker-made commit on the task branch.
type CheckpointCommit struct {
	Attempt   int       `json:"attempt"`
	SHA       string    `json:"sha"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidatorResult is one validator's outcome for a task (spec.md §3, §4.7).
// At most one entry per validator name: a later result replaces an earlier one.
type ValidatorResult struct {
	Validator  string `json:"validator"`
	Status     string `json:"status"` // pass | fail | effective | ineffective
	Mode       string `json:"mode"`
	Summary    string `json:"summary,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
}

// HumanReview records why a task was routed to needs_human_review.
type HumanReview struct {
	Validator  string `json:"validator,omitempty"`
	Reason     string `json:"reason"`
	Summary    string `json:"summary,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
}

// Usage aggregates token/cost usage (spec.md §3, §4.8).
type Usage struct {
	InputTokens       int64   `json:"input_tokens"`
	CachedInputTokens int64   `json:"cached_input_tokens"`
	OutputTokens      int64   `json:"output_tokens"`
	EstimatedCost     float64 `json:"estimated_cost"`
}

// Add folds another usage snapshot into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.OutputTokens += other.OutputTokens
	u.EstimatedCost += other.EstimatedCost
}

// TaskState is the mutable per-task record (spec.md §3).
type TaskState struct {
	Status            TaskStatus         `json:"status"`
	Attempts          int                `json:"attempts"`
	LastError         string             `json:"last_error,omitempty"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	Branch            string             `json:"branch,omitempty"`
	Workspace         string             `json:"workspace,omitempty"`
	BaseSha           string             `json:"base_sha,omitempty"`
	LogsDir           string             `json:"logs_dir,omitempty"`
	ThreadID          string             `json:"thread_id,omitempty"`
	ContainerID       string             `json:"container_id,omitempty"`
	CheckpointCommits []CheckpointCommit `json:"checkpoint_commits,omitempty"`
	ValidatorResults  []ValidatorResult  `json:"validator_results,omitempty"`
	HumanReview       *HumanReview       `json:"human_review,omitempty"`
	Usage             Usage              `json:"usage"`
	RescopeReason     string             `json:"rescope_reason,omitempty"`
}

// SetValidatorResult upserts a result, replacing any prior entry for the
// same validator name (spec.md §3: "at most one entry per validator name").
func (t *TaskState) SetValidatorResult(r ValidatorResult) {
	for i := range t.ValidatorResults {
		if t.ValidatorResults[i].Validator == r.Validator {
			t.ValidatorResults[i] = r
			return
		}
	}
	t.ValidatorResults = append(t.ValidatorResults, r)
}

// AddCheckpointCommit appends a checkpoint, deduping by attempt (spec.md §4.10).
func (t *TaskState) AddCheckpointCommit(c CheckpointCommit) {
	for _, existing := range t.CheckpointCommits {
		if existing.Attempt == c.Attempt {
			return
		}
	}
	t.CheckpointCommits = append(t.CheckpointCommits, c)
}

// BatchStatus is the BatchRecord lifecycle (spec.md §3).
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchRunning  BatchStatus = "running"
	BatchComplete BatchStatus = "complete"
	BatchFailed   BatchStatus = "failed"
)

// CanaryOutcome is the doctor canary's three-way result (spec.md §4.11 step 8).
type CanaryOutcome string

const (
	CanaryExpectedFail   CanaryOutcome = "expected_fail"
	CanaryUnexpectedPass CanaryOutcome = "unexpected_pass"
	CanarySkipped        CanaryOutcome = "skipped"
)

// BatchRecord is one batch's durable summary (spec.md §3).
type BatchRecord struct {
	BatchID                  int           `json:"batch_id"`
	TaskIDs                  []string      `json:"task_ids"`
	Status                   BatchStatus   `json:"status"`
	StartedAt                time.Time     `json:"started_at"`
	CompletedAt              *time.Time    `json:"completed_at,omitempty"`
	MergeCommit              string        `json:"merge_commit,omitempty"`
	IntegrationDoctorPassed  *bool         `json:"integration_doctor_passed"`
	IntegrationDoctorCanary  CanaryOutcome `json:"integration_doctor_canary,omitempty"`
}

// RunStatus is the top-level run lifecycle (spec.md §3, §7).
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunPaused   RunStatus = "paused"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// ContainersDisposition records what happened to containers on stop.
type ContainersDisposition string

const (
	ContainersLeftRunning ContainersDisposition = "left_running"
	ContainersStopped     ContainersDisposition = "stopped"
)

// StopInfo records a cooperative stop signal's effect on the run (spec.md §3).
type StopInfo struct {
	Signal                   string                `json:"signal"`
	Containers               ContainersDisposition `json:"containers"`
	StopContainersRequested  bool                  `json:"stop_containers_requested"`
}

// RunState is the durable per-run document (spec.md §3).
type RunState struct {
	Project   string                `json:"project"`
	RunID     string                `json:"run_id"`
	Status    RunStatus             `json:"status"`
	StartedAt time.Time             `json:"started_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Tasks     map[string]*TaskState `json:"tasks"`
	Batches   []*BatchRecord        `json:"batches"`
	Usage     Usage                 `json:"usage"`
	Stop      *StopInfo             `json:"stop,omitempty"`
}

// New creates a freshly initialized RunState (spec.md §3 lifecycle: "created
// on first run invocation").
func New(project, runID string, now time.Time) *RunState {
	return &RunState{
		Project:   project,
		RunID:     runID,
		Status:    RunPending,
		StartedAt: now,
		UpdatedAt: now,
		Tasks:     make(map[string]*TaskState),
	}
}

// CurrentBatch returns the last non-complete, non-failed BatchRecord, or nil.
func (rs *RunState) CurrentBatch() *BatchRecord {
	if len(rs.Batches) == 0 {
		return nil
	}
	last := rs.Batches[len(rs.Batches)-1]
	if last.Status == BatchComplete || last.Status == BatchFailed {
		return nil
	}
	return last
}

// AllTasksTerminal reports whether every task is complete or skipped, the
// condition for a run to finalize as complete (spec.md §3, invariant 4 in §8).
func (rs *RunState) AllTasksTerminal() bool {
	for _, t := range rs.Tasks {
		if t.Status != StatusComplete && t.Status != StatusSkipped {
			return false
		}
	}
	return true
}
