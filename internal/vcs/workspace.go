package vcs

import (
	"os"

	"github.com/anthropics/mycelium-executor/internal/state"
)

// PrepareWorkspaceInput mirrors the spec.md §4.3 prepareWorkspace call shape.
type PrepareWorkspaceInput struct {
	RepoPath     string
	MainBranch   string
	TaskBranch   string
	WorkspaceDir string
}

// PrepareWorkspaceResult reports whether a new worktree was created.
type PrepareWorkspaceResult struct {
	Created bool
}

// PrepareWorkspace is idempotent: if workspaceDir already exists with
// taskBranch checked out, it returns created=false. Otherwise it creates a
// worktree rooted at workspaceDir, checking out (creating if missing)
// taskBranch from mainBranch (spec.md §4.3).
func PrepareWorkspace(in PrepareWorkspaceInput) (PrepareWorkspaceResult, error) {
	if info, err := os.Stat(in.WorkspaceDir); err == nil && info.IsDir() {
		wt := NewRepo(in.WorkspaceDir)
		branch, err := wt.run("rev-parse", "--abbrev-ref", "HEAD")
		if err == nil && branch == in.TaskBranch {
			return PrepareWorkspaceResult{Created: false}, nil
		}
	}

	main := NewRepo(in.RepoPath)
	if !main.BranchExists(in.TaskBranch) {
		if err := main.CreateBranch(in.TaskBranch, in.MainBranch); err != nil {
			return PrepareWorkspaceResult{}, err
		}
	}
	if err := main.CreateWorktree(in.WorkspaceDir, in.TaskBranch); err != nil {
		return PrepareWorkspaceResult{}, err
	}
	return PrepareWorkspaceResult{Created: true}, nil
}

// RemoveWorkspace deletes the worktree registration (best-effort) and the
// directory itself. Idempotent: a missing directory is not an error
// (spec.md §4.4).
func RemoveWorkspace(repoPath, workspaceDir string) error {
	if _, err := os.Stat(workspaceDir); os.IsNotExist(err) {
		return nil
	}
	main := NewRepo(repoPath)
	_ = main.RemoveWorktree(workspaceDir)
	if err := os.RemoveAll(workspaceDir); err != nil {
		return err
	}
	return nil
}

// ListCheckpointCommits reads back the commits a worker made during
// iteration on a task branch, identified by a trailer of the form
// "Mycelium-Attempt: N" in the commit message (spec.md §4.3).
func ListCheckpointCommits(workspacePath, baseSha string) ([]state.CheckpointCommit, error) {
	repo := NewRepo(workspacePath)
	shas, err := repo.CommitsBetween(baseSha, "HEAD")
	if err != nil {
		return nil, err
	}
	var commits []state.CheckpointCommit
	for _, sha := range shas {
		attempt, createdAt, ok := parseCheckpointTrailer(repo, sha)
		if !ok {
			continue
		}
		commits = append(commits, state.CheckpointCommit{
			Attempt:   attempt,
			SHA:       sha,
			CreatedAt: createdAt,
		})
	}
	return commits, nil
}
