package worker

import (
	"context"
	"os/exec"
	"strings"

	"github.com/anthropics/mycelium-executor/internal/events"
	"github.com/rs/zerolog"
)

// ResumeInput is the spec.md §4.5 resumeAttempt call shape.
type ResumeInput struct {
	TaskID             string
	TaskSlug           string
	WorkspacePath      string
	ContainerIDHint    string
	DockerImage        string
	TaskEvents         *events.Logger
	OrchestratorLogger zerolog.Logger
	RunInput           RunInput
}

// ResumeAttempt picks up a thread in an existing workspace. If the hint
// points to a stopped container matching the task, it is restarted before
// the attempt continues (spec.md §4.5).
func ResumeAttempt(ctx context.Context, in ResumeInput) Result {
	containerID := in.ContainerIDHint
	if containerID != "" && !containerRunning(ctx, containerID) && in.RunInput.UseDocker {
		if out, err := exec.CommandContext(ctx, "docker", "start", containerID).CombinedOutput(); err != nil {
			return Result{Success: false, ErrorMessage: "restarting container: " + strings.TrimSpace(string(out)) + ": " + err.Error()}
		}
	}

	runIn := in.RunInput
	runIn.TaskID = in.TaskID
	runIn.TaskSlug = in.TaskSlug
	runIn.WorkspacePath = in.WorkspacePath
	runIn.TaskEvents = in.TaskEvents
	runIn.OrchestratorLogger = in.OrchestratorLogger
	runIn.UseDocker = false // already started/restarted above; avoid double-start

	result := Run(ctx, runIn)
	if containerID != "" {
		result.ContainerID = containerID
	}
	return result
}

// CleanupTask is the spec.md §4.5 cleanupTask: idempotent container
// removal; logs but does not fail on missing containers.
func CleanupTask(ctx context.Context, taskID, containerIDHint string, log *events.Logger) {
	if containerIDHint == "" {
		return
	}
	if err := removeContainer(ctx, containerIDHint); err != nil {
		logWorkerError(log, taskID, 0, "cleanup: "+err.Error())
	}
}
