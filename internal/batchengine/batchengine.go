// Package batchengine is the Batch Engine (spec.md §4.11): finalizes one
// batch of task attempts — compliance, validators, budget, merge,
// integration doctor, canary, ledger, and cleanup.
package batchengine

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/mycelium-executor/internal/budget"
	"github.com/anthropics/mycelium-executor/internal/compliance"
	"github.com/anthropics/mycelium-executor/internal/config"
	"github.com/anthropics/mycelium-executor/internal/events"
	"github.com/anthropics/mycelium-executor/internal/fileutil"
	"github.com/anthropics/mycelium-executor/internal/ledger"
	"github.com/anthropics/mycelium-executor/internal/manifest"
	"github.com/anthropics/mycelium-executor/internal/state"
	"github.com/anthropics/mycelium-executor/internal/taskengine"
	"github.com/anthropics/mycelium-executor/internal/validation"
	"github.com/anthropics/mycelium-executor/internal/vcs"
	"github.com/anthropics/mycelium-executor/internal/worker"
	"github.com/anthropics/mycelium-executor/internal/workspace"
	"github.com/rs/zerolog"
)

// StopReason is the fatal-for-the-run signal finalizeBatch may return
// (spec.md §4.11).
type StopReason string

const (
	StopMergeConflict           StopReason = "merge_conflict"
	StopIntegrationDoctorFailed StopReason = "integration_doctor_failed"
	StopBudgetBlock             StopReason = "budget_block"
)

// Engine finalizes batches for one project/run.
type Engine struct {
	Cfg             *config.ProjectConfig
	RepoPath        string
	Project         string
	RunID           string
	Ledger          *ledger.Ledger
	OrchestratorLog zerolog.Logger
	RunEvents       *events.Logger
	Validators      map[validation.Name]validation.Config
	LLM             validation.LLMClient
	OwnerResolver   compliance.OwnerResolver
	Specs           map[string]*manifest.TaskSpec // keyed by task id, mutated on stage moves

	tasksCompletedSinceCadence int
}

// Input is one finalizeBatch invocation (spec.md §4.11).
type Input struct {
	BatchID    int
	BatchTasks []string // ordered task ids, planner order
	Results    map[string]taskengine.AttemptResult
	RunState   *state.RunState
}

// Finalize runs the full 14-step algorithm and returns a stop reason, if any.
func (e *Engine) Finalize(ctx context.Context, in Input, now time.Time) (StopReason, error) {
	rs := in.RunState
	batch := rs.CurrentBatch()
	if batch == nil {
		return "", fmt.Errorf("no current batch to finalize")
	}

	// Step 1: fold usage (the Task Engine has already added each attempt's
	// worker usage to task.Usage; this step re-sums from task state for the
	// run total, kept idempotent by always recomputing from all tasks).
	e.foldUsage(rs, in.BatchTasks)

	// Step 2: per-task post-processing.
	var validatedTasks []string
	for _, taskID := range in.BatchTasks {
		task := rs.Tasks[taskID]
		result := in.Results[taskID]

		switch {
		case !result.Success && result.ResetToPending:
			task.Status = state.StatusPending
			task.StartedAt = nil
			e.logRun(events.TypeTaskReset, map[string]interface{}{"task_id": taskID})
			continue
		case !result.Success:
			task.Status = state.StatusFailed
			task.LastError = result.ErrorMessage
			e.logRun(events.TypeTaskFailed, map[string]interface{}{"task_id": taskID, "error": result.ErrorMessage})
			continue
		}

		spec := e.Specs[taskID]
		compResult, err := compliance.Check(compliance.Input{
			WorkspacePath:    task.Workspace,
			MainBranch:       e.Cfg.MainBranch,
			BaseSha:          task.BaseSha,
			Manifest:         &spec.Manifest,
			StaticResources:  toComplianceResources(e.Cfg.Resources),
			FallbackResource: e.Cfg.FallbackResource,
			OwnerResolver:    e.OwnerResolver,
			Policy:           compliance.Policy(e.Cfg.CompliancePolicy),
			ReportPath:       fileutil.ValidatorReportPath(e.Project, e.RunID, "compliance", taskID, spec.Slug, now.UTC().Format("20060102T150405")),
		})
		if err != nil {
			e.OrchestratorLog.Warn().Err(err).Str("task_id", taskID).Msg("compliance check failed")
		}
		if compResult.Status == compliance.StatusBlock {
			task.Status = state.StatusNeedsHumanReview
			task.HumanReview = &state.HumanReview{
				Reason:  "compliance block",
				Summary: fmt.Sprintf("%d compliance violation(s)", len(compResult.Violations)),
			}
			continue
		}

		task.Status = state.StatusRunning // stays running pending validators (step 3)
		validatedTasks = append(validatedTasks, taskID)
	}

	// Step 3: validators.
	for _, taskID := range validatedTasks {
		task := rs.Tasks[taskID]
		pr, err := validation.RunTaskValidators(ctx, e.Validators, validation.TaskInput{
			TaskID: taskID,
			LLM:    e.LLM,
		})
		if err != nil {
			e.OrchestratorLog.Warn().Err(err).Str("task_id", taskID).Msg("validators failed to run")
		}
		for _, r := range pr.Results {
			task.SetValidatorResult(state.ValidatorResult{
				Validator:  string(r.Validator),
				Status:     passFailStatus(r.Pass),
				Mode:       string(r.Mode),
				Summary:    r.Summary,
				ReportPath: r.ReportPath,
				Trigger:    r.Trigger,
			})
		}
		if err != nil {
			blockMode := false
			for _, name := range []validation.Name{validation.NameTest, validation.NameStyle, validation.NameArchitecture} {
				if e.Validators[name].Mode == validation.ModeBlock {
					blockMode = true
				}
			}
			if blockMode {
				task.Status = state.StatusNeedsHumanReview
				task.HumanReview = &state.HumanReview{Reason: "validator error", Summary: err.Error()}
				continue
			}
		}
		if len(pr.Blocked) > 0 {
			b := pr.Blocked[0]
			task.Status = state.StatusNeedsHumanReview
			task.HumanReview = &state.HumanReview{
				Validator:  string(b.Validator),
				Reason:     b.Reason,
				Summary:    b.Summary,
				ReportPath: b.ReportPath,
			}
			continue
		}
		task.Status = state.StatusValidated
	}

	currentlyValidated := func() []string {
		var ids []string
		for _, id := range in.BatchTasks {
			if rs.Tasks[id].Status == state.StatusValidated {
				ids = append(ids, id)
			}
		}
		return ids
	}

	// Step 4: budget check.
	breaches, budgetStop := budget.EvaluateBreaches(budget.Config{
		Mode:             budget.Mode(e.Cfg.Budgets.Mode),
		MaxTokensPerTask: e.Cfg.Budgets.MaxTokensPerTask,
		MaxCostPerTask:   e.Cfg.Budgets.MaxCostPerTask,
		MaxTokensPerRun:  e.Cfg.Budgets.MaxTokensPerRun,
		MaxCostPerRun:    e.Cfg.Budgets.MaxCostPerRun,
	}, rs, in.BatchTasks)
	if len(breaches) > 0 {
		typ := events.TypeBudgetWarn
		if budgetStop != "" {
			typ = events.TypeBudgetBlock
		}
		e.logRun(typ, map[string]interface{}{"breaches": breaches})
	}
	var stopReason StopReason
	if budgetStop != "" {
		stopReason = StopBudgetBlock
		rs.Status = state.RunFailed
	}

	// Step 5: cadence doctor validator.
	if stopReason == "" && e.cadenceDue(len(currentlyValidated())) {
		e.runDoctorValidator(ctx, validation.TriggerCadence, currentlyValidated(), rs)
	}

	var mergeCommit string
	// Step 6: merge.
	if stopReason == "" {
		validated := currentlyValidated()
		if len(validated) > 0 {
			result := e.merge(validated, rs)
			if result.Status == vcs.MergeConflict {
				stopReason = StopMergeConflict
				e.logRun(events.TypeBatchMergeConflict, map[string]interface{}{
					"task_id": result.Conflict.TaskID,
					"message": result.Message,
				})
				rs.Status = state.RunFailed
			} else {
				mergeCommit = result.MergeCommit
			}
		}
	}

	// Step 7: integration doctor.
	var integrationPassed *bool
	if stopReason == "" && mergeCommit != "" {
		e.logRun(events.TypeDoctorIntegrationStart, nil)
		res, err := worker.RunDoctorCommand(ctx, e.Cfg.DoctorCommand, e.RepoPath, e.Cfg.DoctorTimeoutSeconds, nil)
		passed := err == nil && res.ExitCode == 0
		integrationPassed = &passed
		if passed {
			e.logRun(events.TypeDoctorIntegrationPass, nil)
		} else {
			e.logRun(events.TypeDoctorIntegrationFail, map[string]interface{}{"output": res.Output})
			stopReason = StopIntegrationDoctorFailed
			rs.Status = state.RunFailed
		}
	}

	// Step 8: doctor canary.
	var canaryOutcome state.CanaryOutcome = state.CanarySkipped
	if integrationPassed != nil && *integrationPassed && e.Cfg.DoctorCanary.Enabled {
		e.logRun(events.TypeDoctorCanaryStart, nil)
		envVar := e.Cfg.DoctorCanary.EnvVar
		res, err := worker.RunDoctorCommand(ctx, e.Cfg.DoctorCommand, e.RepoPath, e.Cfg.DoctorTimeoutSeconds, []string{envVar + "=1"})
		if err == nil && res.ExitCode != 0 {
			canaryOutcome = state.CanaryExpectedFail
			e.logRun(events.TypeDoctorCanaryExpectedFail, nil)
		} else {
			canaryOutcome = state.CanaryUnexpectedPass
			e.logRun(events.TypeDoctorCanaryUnexpectedPass, nil)
			if e.Cfg.DoctorCanary.Severity == "error" {
				e.runDoctorValidator(ctx, validation.TriggerDoctorCanaryFailed, currentlyValidated(), rs)
			}
		}
	}

	// Step 9: finalize task statuses for this batch.
	switch stopReason {
	case StopMergeConflict:
		for _, id := range in.BatchTasks {
			if rs.Tasks[id].Status == state.StatusValidated {
				rs.Tasks[id].Status = state.StatusNeedsHumanReview
				rs.Tasks[id].HumanReview = &state.HumanReview{Reason: "merge conflict"}
			}
		}
	case StopIntegrationDoctorFailed:
		for _, id := range in.BatchTasks {
			if rs.Tasks[id].Status == state.StatusValidated {
				rs.Tasks[id].Status = state.StatusNeedsHumanReview
				rs.Tasks[id].HumanReview = &state.HumanReview{Reason: "integration doctor failed"}
			}
		}
	case StopBudgetBlock:
		for _, id := range in.BatchTasks {
			if rs.Tasks[id].Status == state.StatusValidated {
				rs.Tasks[id].Status = state.StatusNeedsHumanReview
				rs.Tasks[id].HumanReview = &state.HumanReview{Reason: "budget block"}
			}
		}
	case "":
		for _, id := range in.BatchTasks {
			if rs.Tasks[id].Status == state.StatusValidated {
				rs.Tasks[id].Status = state.StatusComplete
				now := now
				rs.Tasks[id].CompletedAt = &now
				e.logRun(events.TypeTaskComplete, map[string]interface{}{"task_id": id})
			}
		}
	}

	// Step 10: complete batch.
	batch.MergeCommit = mergeCommit
	batch.IntegrationDoctorPassed = integrationPassed
	batch.IntegrationDoctorCanary = canaryOutcome
	completedAt := now
	batch.CompletedAt = &completedAt
	if stopReason == "" && e.allTerminalOrComplete(in.BatchTasks, rs) {
		batch.Status = state.BatchComplete
	} else {
		batch.Status = state.BatchFailed
	}

	// Step 11: ledger.
	if integrationPassed != nil && *integrationPassed && mergeCommit != "" {
		for _, id := range in.BatchTasks {
			task := rs.Tasks[id]
			if task.Status != state.StatusComplete && task.Status != state.StatusSkipped {
				continue
			}
			spec := e.Specs[id]
			e.logRun(events.TypeLedgerWriteStart, map[string]interface{}{"task_id": id})
			fp, err := ledger.ComputeFingerprint(spec.ManifestPath, spec.SpecPath)
			if err != nil {
				e.logRun(events.TypeLedgerWriteError, map[string]interface{}{"task_id": id, "error": err.Error()})
				continue
			}
			status := ledger.StatusComplete
			if task.Status == state.StatusSkipped {
				status = ledger.StatusSkipped
			}
			if err := e.Ledger.Upsert(ledger.Entry{
				TaskID:                  id,
				Fingerprint:             fp,
				Status:                  status,
				MergeCommit:             mergeCommit,
				IntegrationDoctorPassed: true,
				CompletedAt:             now,
				RunID:                   e.RunID,
				Source:                  "batch_engine",
			}); err != nil {
				e.logRun(events.TypeLedgerWriteError, map[string]interface{}{"task_id": id, "error": err.Error()})
				continue
			}
			e.logRun(events.TypeLedgerWriteComplete, map[string]interface{}{"task_id": id})
		}
	}

	// Step 12: post-merge suspicious doctor.
	if stopReason == StopIntegrationDoctorFailed && e.Validators[validation.NameDoctor].Mode != validation.ModeOff {
		e.runDoctorValidator(ctx, validation.TriggerIntegrationDoctorFailed, in.BatchTasks, rs)
	}

	// Step 13: stage archive.
	for _, id := range in.BatchTasks {
		if rs.Tasks[id].Status != state.StatusComplete {
			continue
		}
		spec := e.Specs[id]
		if err := manifest.MoveStage(fileutil.TasksDir(e.RepoPath, e.Cfg.TasksDir), spec, manifest.StageArchive, e.RunID); err != nil {
			e.OrchestratorLog.Warn().Err(err).Str("task_id", id).Msg("archiving task directory failed")
		}
	}

	// Step 14: cleanup.
	if integrationPassed != nil && *integrationPassed && rs.Status != state.RunPaused {
		if e.Cfg.Cleanup.Workspaces == "on_success" {
			for _, id := range in.BatchTasks {
				task := rs.Tasks[id]
				if task.Status == state.StatusComplete && task.Workspace != "" {
					_ = workspace.Remove(e.RepoPath, task.Workspace)
				}
			}
		}
		if e.Cfg.Cleanup.Containers == "on_success" {
			for _, id := range in.BatchTasks {
				task := rs.Tasks[id]
				if task.Status == state.StatusComplete && task.ContainerID != "" {
					worker.CleanupTask(ctx, id, task.ContainerID, e.RunEvents)
				}
			}
		}
	}

	return stopReason, nil
}

func (e *Engine) foldUsage(rs *state.RunState, taskIDs []string) {
	var total state.Usage
	for _, t := range rs.Tasks {
		total.Add(t.Usage)
	}
	rs.Usage = total
}

func (e *Engine) cadenceDue(validatedCount int) bool {
	cadence := e.Cfg.Validators.Doctor.CadenceTasks
	if cadence <= 0 || e.Validators[validation.NameDoctor].Mode == validation.ModeOff {
		return false
	}
	e.tasksCompletedSinceCadence += validatedCount
	if e.tasksCompletedSinceCadence >= cadence {
		e.tasksCompletedSinceCadence = 0
		return true
	}
	return false
}

func (e *Engine) runDoctorValidator(ctx context.Context, trigger validation.DoctorTrigger, taskIDs []string, rs *state.RunState) {
	result, err := validation.RunDoctor(ctx, e.Validators[validation.NameDoctor], trigger, e.LLM, nil, "")
	if err != nil {
		e.logRun(events.TypeValidatorError, map[string]interface{}{"validator": "doctor", "error": err.Error()})
		return
	}
	for _, id := range taskIDs {
		if task, ok := rs.Tasks[id]; ok {
			task.SetValidatorResult(state.ValidatorResult{
				Validator: "doctor",
				Status:    effectiveStatus(result.Effective),
				Mode:      string(result.Mode),
				Summary:   result.Summary,
				Trigger:   string(trigger),
			})
		}
	}
}

func (e *Engine) merge(validatedTaskIDs []string, rs *state.RunState) vcs.MergeResult {
	branches := make([]vcs.BranchRef, 0, len(validatedTaskIDs))
	for _, id := range validatedTaskIDs {
		task := rs.Tasks[id]
		branches = append(branches, vcs.BranchRef{TaskID: id, BranchName: task.Branch, WorkspacePath: task.Workspace})
	}
	e.logRun(events.TypeBatchMerging, map[string]interface{}{"task_ids": validatedTaskIDs})
	mainRepo := vcs.NewRepo(e.RepoPath)
	return vcs.MergeTaskBranches(mainRepo, e.Cfg.MainBranch, branches)
}

func (e *Engine) allTerminalOrComplete(taskIDs []string, rs *state.RunState) bool {
	for _, id := range taskIDs {
		status := rs.Tasks[id].Status
		if status == state.StatusFailed || status.IsNonTerminalPause() || status == state.StatusPending {
			return false
		}
	}
	return true
}

func (e *Engine) logRun(typ events.Type, payload interface{}) {
	if e.RunEvents != nil {
		_ = e.RunEvents.Log(typ, payload)
	}
}

func passFailStatus(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}

func effectiveStatus(effective bool) string {
	if effective {
		return "effective"
	}
	return "ineffective"
}

func toComplianceResources(resources []config.ResourceConfig) []compliance.StaticResource {
	out := make([]compliance.StaticResource, 0, len(resources))
	for _, r := range resources {
		out = append(out, compliance.StaticResource{Name: r.Name, Globs: r.Globs})
	}
	return out
}
