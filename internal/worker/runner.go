// Package worker is the Worker Runner (spec.md §4.5): runs exactly one
// attempt of one task — bootstrap, agent turns with checkpoint commits,
// lint/doctor — and returns a pure result. It adapts the teacher's
// engine.processConcern/invokeAgent lifecycle (internal/engine/engine.go)
// to the executor's task/attempt vocabulary.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/mycelium-executor/internal/events"
	"github.com/anthropics/mycelium-executor/internal/vcs"
	"github.com/rs/zerolog"
)

// TaskPaths locates a task's canonical manifest/spec inside its workspace.
type TaskPaths struct {
	ManifestPath    string
	SpecPath        string
	TaskRelativeDir string
}

// RunInput is the full input record spec.md §4.5 describes.
type RunInput struct {
	TaskID             string
	TaskSlug           string
	TaskBranch         string
	WorkspacePath      string
	TaskPaths          TaskPaths
	UseDocker          bool
	DockerImage        string
	LintCommand        string
	LintTimeoutSeconds int
	DoctorCommand      string
	DoctorTimeoutSeconds int
	MaxRetries         int
	BootstrapCmds      []string
	RunLogsDir         string
	AgentConfigDir     string
	AgentCommand       string
	AgentArgs          []string
	AgentModel         string
	AgentReasoningEffort string
	CheckpointCommits  bool
	DefaultTestPaths   []string
	CrashAfterStart    bool
	TaskEvents         *events.Logger
	OrchestratorLogger zerolog.Logger
	OnContainerReady   func(containerID string)
}

// Result is WorkerRunnerResult from spec.md §4.5.
type Result struct {
	Success        bool
	ErrorMessage   string
	ResetToPending bool
	ContainerID    string
	ThreadID       string
	Usage          TurnUsage
}

const maxTruncatedOutputBytes = 4096

// Run executes one attempt of one task end to end.
func Run(ctx context.Context, in RunInput) Result {
	attempt := 1

	var containerID string
	if in.UseDocker {
		id, err := startContainer(ctx, in.DockerImage, in.WorkspacePath)
		if err != nil {
			return Result{Success: false, ErrorMessage: fmt.Sprintf("starting container: %s", err)}
		}
		containerID = id
		logTaskEvent(in.TaskEvents, events.TypeContainerStart, in.TaskID, attempt, map[string]interface{}{"container_id": containerID})
		if in.OnContainerReady != nil {
			in.OnContainerReady(containerID)
		}
		if in.CrashAfterStart {
			os.Exit(1)
		}
		defer func() {
			_ = stopContainer(context.Background(), containerID)
			logTaskEvent(in.TaskEvents, events.TypeContainerExit, in.TaskID, attempt, map[string]interface{}{"container_id": containerID})
		}()
	}

	for _, bc := range in.BootstrapCmds {
		res, err := runShellCommand(ctx, bc, in.WorkspacePath, 0, nil)
		if err != nil || res.ExitCode != 0 {
			msg := fmt.Sprintf("bootstrap command %q failed (exit %d): %s", bc, res.ExitCode, truncate(res.Output))
			logWorkerError(in.TaskEvents, in.TaskID, attempt, msg)
			return Result{Success: false, ErrorMessage: msg, ContainerID: containerID}
		}
	}

	threadID := ""
	var lastLintOutput, lastDoctorOutput string
	var lastFailureKind string
	var totalUsage TurnUsage

	for attempt = 1; attempt <= maxInt(in.MaxRetries, 1); attempt++ {
		prompt := buildTurnPrompt(in, attempt, lastFailureKind, lastLintOutput, lastDoctorOutput)
		logTaskEvent(in.TaskEvents, events.TypeTurnStart, in.TaskID, attempt, map[string]interface{}{"thread_id": threadID})

		turnResult, err := invokeAgentTurn(AgentTurnInput{
			WorkspacePath:  in.WorkspacePath,
			AgentCommand:   in.AgentCommand,
			AgentArgs:      in.AgentArgs,
			Prompt:         prompt,
			AgentConfigDir: in.AgentConfigDir,
		}, turnOutputWriter(in))
		if err != nil {
			logWorkerError(in.TaskEvents, in.TaskID, attempt, err.Error())
			return Result{Success: false, ResetToPending: isTransientAgentError(err), ErrorMessage: err.Error(), ContainerID: containerID, Usage: totalUsage}
		}
		if turnResult.ResetToPending {
			logTaskEvent(in.TaskEvents, events.TypeTaskReset, in.TaskID, attempt, map[string]interface{}{"reason": "agent requested reset"})
			return Result{Success: false, ResetToPending: true, ContainerID: containerID, Usage: totalUsage}
		}
		if threadID == "" {
			threadID = deriveThreadID(in.TaskID, attempt)
		}
		totalUsage.InputTokens += turnResult.Usage.InputTokens
		totalUsage.CachedInputTokens += turnResult.Usage.CachedInputTokens
		totalUsage.OutputTokens += turnResult.Usage.OutputTokens
		logTaskEvent(in.TaskEvents, events.TypeTurnComplete, in.TaskID, attempt, map[string]interface{}{
			"usage": turnResult.Usage,
		})

		if in.CheckpointCommits {
			sha, err := vcs.CommitCheckpoint(in.WorkspacePath, attempt, fmt.Sprintf("checkpoint: task %s attempt %d", in.TaskID, attempt))
			if err != nil {
				logWorkerError(in.TaskEvents, in.TaskID, attempt, fmt.Sprintf("checkpoint commit failed: %s", err))
			}
			_ = sha
		}

		if in.LintCommand != "" {
			lintRes, err := runShellCommand(ctx, in.LintCommand, in.WorkspacePath, secondsToDuration(in.LintTimeoutSeconds), nil)
			if err != nil {
				return Result{Success: false, ErrorMessage: err.Error(), ContainerID: containerID, Usage: totalUsage}
			}
			if lintRes.ExitCode != 0 {
				lastLintOutput = truncate(lintRes.Output)
				lastFailureKind = "lint"
				logTaskEvent(in.TaskEvents, events.TypeTaskRetry, in.TaskID, attempt, map[string]interface{}{"reason": "lint_failed"})
				continue
			}
		}

		logTaskEvent(in.TaskEvents, events.TypeDoctorStart, in.TaskID, attempt, nil)
		doctorRes, err := runShellCommand(ctx, in.DoctorCommand, in.WorkspacePath, secondsToDuration(in.DoctorTimeoutSeconds), nil)
		if err != nil {
			return Result{Success: false, ErrorMessage: err.Error(), ContainerID: containerID, Usage: totalUsage}
		}
		if doctorRes.ExitCode == 0 {
			logTaskEvent(in.TaskEvents, events.TypeDoctorPass, in.TaskID, attempt, nil)
			return Result{Success: true, ContainerID: containerID, ThreadID: threadID, Usage: totalUsage}
		}

		lastDoctorOutput = truncate(doctorRes.Output)
		lastFailureKind = "doctor"
		logTaskEvent(in.TaskEvents, events.TypeDoctorFail, in.TaskID, attempt, map[string]interface{}{"output": lastDoctorOutput})

		if attempt < maxInt(in.MaxRetries, 1) {
			logTaskEvent(in.TaskEvents, events.TypeTaskRetry, in.TaskID, attempt, map[string]interface{}{"reason": "doctor_failed"})
		}
	}

	return Result{
		Success:      false,
		ErrorMessage: fmt.Sprintf("doctor still failing after %d attempts: %s", in.MaxRetries, lastDoctorOutput),
		ContainerID:  containerID,
		ThreadID:     threadID,
		Usage:        totalUsage,
	}
}

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func truncate(s string) string {
	if len(s) <= maxTruncatedOutputBytes {
		return s
	}
	return s[len(s)-maxTruncatedOutputBytes:]
}

func deriveThreadID(taskID string, attempt int) string {
	return fmt.Sprintf("%s-thread", taskID)
}

// isTransientAgentError classifies a process-level error from invokeAgentTurn
// as a retry-worthy infra hiccup rather than an agent/task failure. Three
// cases count as transient: the agent process was killed by a signal, the
// pty could not be opened, or the agent process could not be started; a
// nonzero agent exit code is a real task failure, not a transient one.
func isTransientAgentError(err error) bool {
	if err == nil {
		return false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return true
		}
		return false
	}
	return strings.Contains(err.Error(), "opening pty") || strings.Contains(err.Error(), "starting agent")
}

func logTaskEvent(log *events.Logger, typ events.Type, taskID string, attempt int, payload interface{}) {
	if log == nil {
		return
	}
	_ = log.LogTask(typ, taskID, attempt, payload)
}

func logWorkerError(log *events.Logger, taskID string, attempt int, message string) {
	logTaskEvent(log, events.TypeWorkerLocalError, taskID, attempt, map[string]interface{}{"message": message})
}
