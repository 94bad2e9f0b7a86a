package worker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var retryGuidance = map[string]string{
	"lint":   "The previous attempt left lint failures. Fix them without reintroducing the original bug.",
	"doctor": "The previous attempt failed the doctor check. Inspect the failure output and address the root cause.",
}

// buildTurnPrompt builds the first-turn or retry prompt (spec.md §4.5 step 3):
// first turn derives from the task spec/manifest; later turns append the
// bounded failure output plus guidance keyed on failure type.
func buildTurnPrompt(in RunInput, attempt int, failureKind, lintOutput, doctorOutput string) string {
	if attempt == 1 {
		return readTaskContext(in.TaskPaths)
	}

	var failureOutput string
	switch failureKind {
	case "lint":
		failureOutput = lintOutput
	case "doctor":
		failureOutput = doctorOutput
	}

	guidance := retryGuidance[failureKind]
	return fmt.Sprintf(
		"%s\n\n---\nAttempt %d. The previous attempt did not pass verification.\n\n%s\n\nFailure output:\n%s\n",
		readTaskContext(in.TaskPaths), attempt, guidance, failureOutput,
	)
}

func readTaskContext(paths TaskPaths) string {
	manifest, _ := os.ReadFile(paths.ManifestPath)
	spec, _ := os.ReadFile(paths.SpecPath)
	return fmt.Sprintf("Task manifest (%s):\n%s\n\nTask spec:\n%s\n",
		filepath.Base(paths.ManifestPath), string(manifest), string(spec))
}

// turnOutputWriter opens (creating if needed) the raw agent transcript log
// for a task's run, appending each turn's PTY output in sequence.
func turnOutputWriter(in RunInput) io.Writer {
	if in.RunLogsDir == "" {
		return io.Discard
	}
	if err := os.MkdirAll(in.RunLogsDir, 0755); err != nil {
		return io.Discard
	}
	f, err := os.OpenFile(filepath.Join(in.RunLogsDir, "agent.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return io.Discard
	}
	return f
}
