// Package workspace is the Workspace Manager (spec.md §4.4): computes the
// deterministic per-task working directory and owns its lifecycle.
// Workspaces are created on first attempt and, when cleanup.workspaces is
// "on_success", destroyed after a batch merge that passes the integration
// doctor; the Task Engine only ever borrows one for the duration of an
// attempt.
package workspace

import (
	"fmt"
	"os"

	"github.com/anthropics/mycelium-executor/internal/fileutil"
	"github.com/anthropics/mycelium-executor/internal/vcs"
)

// Dir computes the deterministic workspace directory for a task
// (spec.md §4.4: "workspaceDir(project, run, task)").
func Dir(project, runID, taskID, slug string) string {
	return fileutil.WorkspaceDir(project, runID, taskID, slug)
}

// Prepare creates (idempotently) the worktree at the task's workspace
// directory, checked out onto its task branch. The tasks-manifest subtree is
// not copied into the workspace: the worktree holds only the task files
// committed at the checked-out revision, so uncommitted task files and stage
// moves in the main checkout are not present there. The Task Engine hands
// the Worker Runner the manifest and spec paths of the main checkout.
func Prepare(repoPath, mainBranch, taskBranch, dir string) (vcs.PrepareWorkspaceResult, error) {
	result, err := vcs.PrepareWorkspace(vcs.PrepareWorkspaceInput{
		RepoPath:     repoPath,
		MainBranch:   mainBranch,
		TaskBranch:   taskBranch,
		WorkspaceDir: dir,
	})
	if err != nil {
		return result, fmt.Errorf("preparing workspace %s: %w", dir, err)
	}
	return result, nil
}

// Remove deletes a workspace directory and its worktree registration.
// Idempotent: removing an already-removed workspace is not an error
// (spec.md §4.4).
func Remove(repoPath, dir string) error {
	return vcs.RemoveWorkspace(repoPath, dir)
}

// Exists reports whether the workspace directory is present on disk.
func Exists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
