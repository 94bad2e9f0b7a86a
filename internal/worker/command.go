package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// CommandResult captures a bounded-timeout shell invocation's outcome.
type CommandResult struct {
	ExitCode int
	Output   string
	TimedOut bool
}

// RunDoctorCommand runs the configured doctor/integration command with the
// given timeout and extra environment variables (e.g. the canary env var),
// for use by the Batch Engine's integration-doctor and canary steps
// (spec.md §4.11 steps 7-8, §6).
func RunDoctorCommand(ctx context.Context, command, repoPath string, timeoutSeconds int, extraEnv []string) (CommandResult, error) {
	return runShellCommand(ctx, command, repoPath, time.Duration(timeoutSeconds)*time.Second, extraEnv)
}

// runShellCommand runs command via `sh -c` in dir with the given timeout
// (spec.md §4.5 step 4, §6: "runs the configured shell command with
// cwd=repoPath, shell=true"). A timeout is treated as a normal non-zero
// exit, per spec.md §5.
func runShellCommand(ctx context.Context, command, dir string, timeout time.Duration, extraEnv []string) (CommandResult, error) {
	if command == "" {
		return CommandResult{ExitCode: 0}, nil
	}

	cctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = dir
	if len(extraEnv) > 0 {
		cmd.Env = append(cmd.Environ(), extraEnv...)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	result := CommandResult{Output: buf.String()}

	if cctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if err == nil {
		result.ExitCode = 0
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, fmt.Errorf("running command %q: %w", command, err)
}
