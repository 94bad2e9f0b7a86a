package fileutil

import (
	"path/filepath"
	"strconv"
)

// MyceliumHome is the process-wide root under which every run's state,
// workspaces, and logs live. It defaults to the absolute path of
// ".mycelium" under the process's working directory; no config key or CLI
// flag overrides it, and tests reassign it to a temporary directory.
var MyceliumHome = defaultMyceliumHome()

func defaultMyceliumHome() string {
	if home, err := filepath.Abs(".mycelium"); err == nil {
		return home
	}
	return ".mycelium"
}

// ProjectStateRoot returns the state root for a project under the Mycelium home.
func ProjectStateRoot(project string) string {
	return filepath.Join(MyceliumHome, "projects", project)
}

// RunRoot returns the root directory for a single run.
func RunRoot(project, runID string) string {
	return filepath.Join(ProjectStateRoot(project), "runs", runID)
}

// RunStatePath returns the path to a run's state.json document.
func RunStatePath(project, runID string) string {
	return filepath.Join(RunRoot(project, runID), "state.json")
}

// LedgerPath returns the path to a project's task ledger file.
func LedgerPath(project string) string {
	return filepath.Join(ProjectStateRoot(project), "ledger.json")
}

// OrchestratorLogPath returns the orchestrator-level JSONL event stream path for a run.
func OrchestratorLogPath(project, runID string) string {
	return filepath.Join(RunRoot(project, runID), "orchestrator.jsonl")
}

// TaskDirName returns a task's log/event directory name, "<id>-<slug>".
func TaskDirName(taskID, slug string) string {
	return taskID + "-" + slug
}

// TaskEventsPath returns the path to a task's per-attempt events.jsonl stream.
func TaskEventsPath(project, runID, taskID, slug string) string {
	return filepath.Join(RunRoot(project, runID), "tasks", TaskDirName(taskID, slug), "events.jsonl")
}

// TaskDoctorLogPath returns the path to the raw doctor output log for one attempt.
func TaskDoctorLogPath(project, runID, taskID, slug string, attempt int) string {
	return filepath.Join(RunRoot(project, runID), "tasks", TaskDirName(taskID, slug),
		doctorLogName(attempt))
}

func doctorLogName(attempt int) string {
	return "doctor-" + strconv.Itoa(attempt) + ".log"
}

// ValidatorReportPath returns the path for a validator's report for one task run.
func ValidatorReportPath(project, runID, validatorName, taskID, slug, timestamp string) string {
	fname := taskID + "-" + slug + "-" + timestamp + ".json"
	return filepath.Join(RunRoot(project, runID), "validators", validatorName, fname)
}

// WorkspaceDir deterministically computes the per-task working directory
// under the Mycelium home, as required by the Workspace Manager (spec.md §4.4).
func WorkspaceDir(project, runID, taskID, slug string) string {
	return filepath.Join(RunRoot(project, runID), "workspaces", TaskDirName(taskID, slug))
}

// TasksDir returns the tasks directory root inside the target repo.
func TasksDir(repoPath, tasksDirName string) string {
	return filepath.Join(repoPath, tasksDirName)
}
