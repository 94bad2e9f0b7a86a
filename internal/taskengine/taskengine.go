// Package taskengine is the Task Engine (spec.md §4.10): runs one task's
// attempt end to end — stage move, branch/workspace/policy setup, Worker
// Runner invocation, and state reconciliation.
package taskengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/mycelium-executor/internal/config"
	"github.com/anthropics/mycelium-executor/internal/events"
	"github.com/anthropics/mycelium-executor/internal/fileutil"
	"github.com/anthropics/mycelium-executor/internal/manifest"
	"github.com/anthropics/mycelium-executor/internal/policy"
	"github.com/anthropics/mycelium-executor/internal/state"
	"github.com/anthropics/mycelium-executor/internal/vcs"
	"github.com/anthropics/mycelium-executor/internal/worker"
	"github.com/anthropics/mycelium-executor/internal/workspace"
	"github.com/rs/zerolog"
)

// Engine runs task attempts against one project/run.
type Engine struct {
	Cfg             *config.ProjectConfig
	RepoPath        string
	Project         string
	RunID           string
	OrchestratorLog zerolog.Logger

	// tasksRootMu serialises task directory moves (spec.md §5: "serialised
	// via an in-process lock on the tasks root to avoid rename races").
	tasksRootMu sync.Mutex
}

// New constructs an Engine bound to one project/run.
func New(cfg *config.ProjectConfig, repoPath, project, runID string, logger zerolog.Logger) *Engine {
	return &Engine{Cfg: cfg, RepoPath: repoPath, Project: project, RunID: runID, OrchestratorLog: logger}
}

// AttemptResult is the subset of WorkerRunnerResult the Task Engine returns
// to its caller (spec.md §4.10 step 7).
type AttemptResult struct {
	Success        bool
	ErrorMessage   string
	ResetToPending bool
}

// EnsureTaskActiveStage moves a task's manifest+spec folder from backlog to
// active if it is not already there, logging task.stage.move
// (spec.md §4.10 step 1).
func (e *Engine) EnsureTaskActiveStage(spec *manifest.TaskSpec, taskEvents *events.Logger) error {
	if spec.Stage == manifest.StageActive {
		return nil
	}
	e.tasksRootMu.Lock()
	defer e.tasksRootMu.Unlock()

	fromStage := spec.Stage
	if err := manifest.MoveStage(e.tasksDir(), spec, manifest.StageActive, e.RunID); err != nil {
		return fmt.Errorf("moving task %s to active: %w", spec.Manifest.ID, err)
	}
	if taskEvents != nil {
		_ = taskEvents.LogTask(events.TypeTaskStageMove, spec.Manifest.ID, 0, map[string]interface{}{
			"from": fromStage,
			"to":   manifest.StageActive,
		})
	}
	return nil
}

func (e *Engine) tasksDir() string {
	return fileutil.TasksDir(e.RepoPath, e.Cfg.TasksDir)
}

// RunTaskAttempt implements spec.md §4.10's runTaskAttempt.
func (e *Engine) RunTaskAttempt(ctx context.Context, spec *manifest.TaskSpec, task *state.TaskState, now time.Time) (AttemptResult, error) {
	taskID := spec.Manifest.ID
	eventsPath := fileutil.TaskEventsPath(e.Project, e.RunID, taskID, spec.Slug)
	taskEvents := events.NewLogger(eventsPath)

	if err := e.EnsureTaskActiveStage(spec, taskEvents); err != nil {
		return AttemptResult{Success: false, ErrorMessage: err.Error()}, err
	}

	branch := vcs.BuildTaskBranchName(e.Cfg.TaskBranchPrefix, taskID, spec.Slug)
	task.Branch = branch

	var policyDecision policy.Decision
	if e.Cfg.Checks.Mode != config.ModeOff {
		reportPath := fileutil.ValidatorReportPath(e.Project, e.RunID, "checkset", taskID, spec.Slug, now.UTC().Format("20060102T150405"))
		d, err := policy.Derive(policy.Input{
			Manifest:        &spec.Manifest,
			ChecksMode:      policy.Mode(e.Cfg.Checks.Mode),
			SurfacePatterns: e.Cfg.Checks.Surfaces,
			ReportPath:      reportPath,
		})
		if err != nil {
			e.OrchestratorLog.Warn().Err(err).Str("task_id", taskID).Msg("policy derivation failed")
		}
		policyDecision = d
	}
	effectiveDoctor := policyDecision.Checks.SelectedCommand
	if effectiveDoctor == "" {
		effectiveDoctor = spec.Manifest.Verify.Doctor
	}

	workspaceDir := workspace.Dir(e.Project, e.RunID, taskID, spec.Slug)
	if _, err := workspace.Prepare(e.RepoPath, e.Cfg.MainBranch, branch, workspaceDir); err != nil {
		return AttemptResult{Success: false, ErrorMessage: err.Error()}, err
	}

	logsDir := fileutil.RunRoot(e.Project, e.RunID) + "/tasks/" + fileutil.TaskDirName(taskID, spec.Slug)
	task.Workspace = workspaceDir
	task.LogsDir = logsDir
	task.Status = state.StatusRunning
	startedAt := now
	task.StartedAt = &startedAt
	task.Attempts++

	result := worker.Run(ctx, worker.RunInput{
		TaskID:     taskID,
		TaskSlug:   spec.Slug,
		TaskBranch: branch,
		WorkspacePath: workspaceDir,
		TaskPaths: worker.TaskPaths{
			ManifestPath:    spec.ManifestPath,
			SpecPath:        spec.SpecPath,
			TaskRelativeDir: spec.DirName,
		},
		UseDocker:            e.Cfg.Docker.Enabled,
		DockerImage:          e.Cfg.Docker.Image,
		LintCommand:          e.Cfg.LintCommand,
		LintTimeoutSeconds:   e.Cfg.LintTimeoutSeconds,
		DoctorCommand:        effectiveDoctor,
		DoctorTimeoutSeconds: e.Cfg.DoctorTimeoutSeconds,
		MaxRetries:           e.Cfg.MaxRetries,
		BootstrapCmds:        e.Cfg.BootstrapCmds,
		RunLogsDir:           logsDir,
		AgentConfigDir:       e.Cfg.Agent.ConfigDir,
		AgentCommand:         e.Cfg.Agent.Command,
		AgentArgs:            e.Cfg.Agent.Args,
		AgentModel:           e.Cfg.AgentModel,
		AgentReasoningEffort: e.Cfg.AgentReasoningEffort,
		CheckpointCommits:    e.Cfg.CheckpointCommits,
		DefaultTestPaths:     spec.Manifest.TestPaths,
		TaskEvents:           taskEvents,
		OrchestratorLogger:   e.OrchestratorLog,
		OnContainerReady: func(containerID string) {
			task.ContainerID = containerID
		},
	})

	e.reconcileCheckpoints(task, workspaceDir)
	task.ContainerID = result.ContainerID
	if result.ThreadID != "" {
		task.ThreadID = result.ThreadID
	}
	task.Usage.Add(state.Usage{
		InputTokens:       result.Usage.InputTokens,
		CachedInputTokens: result.Usage.CachedInputTokens,
		OutputTokens:      result.Usage.OutputTokens,
	})
	if !result.Success {
		task.LastError = result.ErrorMessage
	}

	return AttemptResult{
		Success:        result.Success,
		ErrorMessage:   result.ErrorMessage,
		ResetToPending: result.ResetToPending,
	}, nil
}

// reconcileCheckpoints merges checkpoint commits made during the attempt
// into TaskState, deduping by attempt (spec.md §4.10 step 6).
func (e *Engine) reconcileCheckpoints(task *state.TaskState, workspaceDir string) {
	repo := vcs.NewRepo(workspaceDir)
	baseSha, err := repo.MergeBase("HEAD", e.Cfg.MainBranch)
	if err != nil {
		return
	}
	task.BaseSha = baseSha
	commits, err := vcs.ListCheckpointCommits(workspaceDir, baseSha)
	if err != nil {
		return
	}
	for _, c := range commits {
		task.AddCheckpointCommit(c)
	}
}

// ResumeRunningTask re-runs the Worker Runner in resume mode against an
// existing workspace (spec.md §4.10).
func (e *Engine) ResumeRunningTask(ctx context.Context, spec *manifest.TaskSpec, task *state.TaskState) (AttemptResult, error) {
	taskID := spec.Manifest.ID
	eventsPath := fileutil.TaskEventsPath(e.Project, e.RunID, taskID, spec.Slug)
	taskEvents := events.NewLogger(eventsPath)

	result := worker.ResumeAttempt(ctx, worker.ResumeInput{
		TaskID:             taskID,
		TaskSlug:           spec.Slug,
		WorkspacePath:      task.Workspace,
		ContainerIDHint:    task.ContainerID,
		DockerImage:        e.Cfg.Docker.Image,
		TaskEvents:         taskEvents,
		OrchestratorLogger: e.OrchestratorLog,
		RunInput: worker.RunInput{
			TaskID:   taskID,
			TaskSlug: spec.Slug,
			TaskPaths: worker.TaskPaths{
				ManifestPath: spec.ManifestPath,
				SpecPath:     spec.SpecPath,
			},
			UseDocker:            e.Cfg.Docker.Enabled,
			AgentConfigDir:       e.Cfg.Agent.ConfigDir,
			AgentCommand:         e.Cfg.Agent.Command,
			AgentArgs:            e.Cfg.Agent.Args,
			LintCommand:          e.Cfg.LintCommand,
			LintTimeoutSeconds:   e.Cfg.LintTimeoutSeconds,
			DoctorCommand:        spec.Manifest.Verify.Doctor,
			DoctorTimeoutSeconds: e.Cfg.DoctorTimeoutSeconds,
			MaxRetries:           e.Cfg.MaxRetries,
			CheckpointCommits:    e.Cfg.CheckpointCommits,
		},
	})

	e.reconcileCheckpoints(task, task.Workspace)
	if result.ResetToPending {
		_ = taskEvents.LogTask(events.TypeTaskReset, taskID, 0, map[string]interface{}{"reason": "worker requested reset"})
		return AttemptResult{Success: false, ResetToPending: true}, nil
	}

	task.ContainerID = result.ContainerID
	task.Usage.Add(state.Usage{
		InputTokens:       result.Usage.InputTokens,
		CachedInputTokens: result.Usage.CachedInputTokens,
		OutputTokens:      result.Usage.OutputTokens,
	})
	if !result.Success {
		task.LastError = result.ErrorMessage
	}
	return AttemptResult{Success: result.Success, ErrorMessage: result.ErrorMessage}, nil
}
