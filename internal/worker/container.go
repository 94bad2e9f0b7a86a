package worker

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// startContainer starts a detached container mounting workspacePath at
// /workspace, returning its id. No Docker SDK appears anywhere in the
// example corpus this repo was grounded on, so container control shells out
// to the `docker` binary via os/exec — the same invocation style the VCS
// Gateway uses for `git` (internal/vcs.Repo.run).
func startContainer(ctx context.Context, image, workspacePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"-v", workspacePath+":/workspace",
		"-w", "/workspace",
		image, "sleep", "infinity")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("starting container: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// stopContainer stops (not removes) a container, per spec.md §4.5 step 6.
func stopContainer(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "docker", "stop", containerID)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("stopping container %s: %s: %w", containerID, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// removeContainer is the idempotent removal cleanupTask uses (spec.md
// §4.5: "idempotent container removal; logs but does not fail on missing
// containers").
func removeContainer(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", containerID)
	_, _ = cmd.CombinedOutput()
	return nil
}

// containerRunning reports whether a container id is currently running,
// used by resumeAttempt to decide whether to restart it.
func containerRunning(ctx context.Context, containerID string) bool {
	if containerID == "" {
		return false
	}
	cmd := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", containerID)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}
