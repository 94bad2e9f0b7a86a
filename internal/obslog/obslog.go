// Package obslog provides the orchestrator's operational logger: leveled,
// structured diagnostics distinct from the durable per-run/per-task JSONL
// event streams in internal/events (those have a spec-mandated wire shape;
// this is for everything else — warnings, recoverable errors, lifecycle
// notices an operator tails on stderr).
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger writing to w (os.Stderr in production, a
// buffer in tests) with run/project fields pre-bound.
func New(w io.Writer, project, runID string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("project", project).
		Str("run_id", runID).
		Logger()
}

// Nop returns a logger that discards everything, used where no logger was
// wired (e.g. ad hoc unit tests of a single component).
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
