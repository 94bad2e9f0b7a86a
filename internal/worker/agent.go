package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/creack/pty"
)

// AgentTurnInput is what one coding turn needs to invoke the LLM agent.
type AgentTurnInput struct {
	WorkspacePath  string
	AgentCommand   string
	AgentArgs      []string
	Prompt         string
	AgentConfigDir string
}

// AgentTurnResult is the outcome of one agent turn.
type AgentTurnResult struct {
	Usage          TurnUsage
	ResetToPending bool
}

// TurnUsage mirrors the usage fields spec.md §4.5 requires on turn.complete.
type TurnUsage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
}

const promptFileName = ".mycelium-prompt"

// invokeAgentTurn runs the configured coding agent once, streaming its PTY
// output into the task's event log as it arrives. Stdin carries the prompt
// directly so agents that read from stdin (e.g. "claude -p") work, and the
// prompt is also dropped to a file in the workspace for agents that expect
// an on-disk context argument — adapted from the teacher's invokeAgent,
// which does the same dual stdin/file handoff for its coding agent.
func invokeAgentTurn(in AgentTurnInput, output io.Writer) (AgentTurnResult, error) {
	promptFile := filepath.Join(in.WorkspacePath, promptFileName)
	if err := os.WriteFile(promptFile, []byte(in.Prompt), 0644); err != nil {
		return AgentTurnResult{}, fmt.Errorf("writing prompt file: %w", err)
	}
	defer os.Remove(promptFile)

	args := append(append([]string{}, in.AgentArgs...), promptFile)
	cmd := exec.Command(in.AgentCommand, args...)
	cmd.Dir = in.WorkspacePath
	if in.AgentConfigDir != "" {
		cmd.Env = append(os.Environ(), "MYCELIUM_AGENT_CONFIG_DIR="+in.AgentConfigDir)
	}

	ptmx, pts, err := pty.Open()
	if err != nil {
		return AgentTurnResult{}, fmt.Errorf("opening pty: %w", err)
	}
	defer ptmx.Close()

	cmd.Stdin = strings.NewReader(in.Prompt)
	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		pts.Close()
		return AgentTurnResult{}, fmt.Errorf("starting agent: %w", err)
	}
	pts.Close()

	var transcript strings.Builder
	tee := io.MultiWriter(output, &transcript)
	if _, err := io.Copy(tee, ptmx); err != nil {
		var pathErr *os.PathError
		if !(errors.As(err, &pathErr) && pathErr.Err == syscall.EIO) {
			return AgentTurnResult{}, fmt.Errorf("reading agent output: %w", err)
		}
	}

	if err := cmd.Wait(); err != nil {
		return AgentTurnResult{}, fmt.Errorf("agent exited: %w", err)
	}

	out := transcript.String()
	return AgentTurnResult{Usage: parseUsageTrailer(out), ResetToPending: parseResetTrailer(out)}, nil
}
