package vcs

import (
	"fmt"
	"strings"
)

// BranchRef identifies one task's merge-ready branch.
type BranchRef struct {
	TaskID        string
	BranchName    string
	WorkspacePath string
}

// MergeStatus is the outcome of MergeTaskBranches.
type MergeStatus string

const (
	MergeOK       MergeStatus = "ok"
	MergeConflict MergeStatus = "conflict"
)

// MergeConflictInfo describes which branch first failed to merge.
type MergeConflictInfo struct {
	TaskID     string `json:"task_id"`
	BranchName string `json:"branch_name"`
}

// MergeResult is the tagged union spec.md §4.3 mergeTaskBranches returns.
type MergeResult struct {
	Status      MergeStatus        `json:"status"`
	MergeCommit string             `json:"merge_commit,omitempty"`
	Conflict    *MergeConflictInfo `json:"conflict,omitempty"`
	Message     string             `json:"message,omitempty"`
}

// BuildTaskBranchName derives the deterministic branch name for a task
// (spec.md §4.3: "<prefix>/<id>-<slug>").
func BuildTaskBranchName(prefix, taskID, slug string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s-%s", taskID, slug)
	}
	return fmt.Sprintf("%s/%s-%s", prefix, taskID, slug)
}

// MergeTaskBranches merges branches onto mainBranch in list order, one
// merge commit per branch. On the first conflict it aborts that merge,
// leaves mainline at the last successful merge commit, and reports which
// task conflicted — per spec.md §4.3, no re-ordering is attempted.
func MergeTaskBranches(mainRepo *Repo, mainBranch string, branches []BranchRef) MergeResult {
	if err := mainRepo.Checkout(mainBranch, mainBranch); err != nil {
		return MergeResult{Status: MergeConflict, Message: fmt.Sprintf("checkout mainline: %s", err)}
	}

	var lastMergeCommit string
	for _, b := range branches {
		msg := fmt.Sprintf("Merge task %s (%s)", b.TaskID, b.BranchName)
		sha, err := mainRepo.MergeBranch(b.BranchName, msg)
		if err != nil {
			return MergeResult{
				Status: MergeConflict,
				Conflict: &MergeConflictInfo{
					TaskID:     b.TaskID,
					BranchName: b.BranchName,
				},
				Message:     err.Error(),
				MergeCommit: lastMergeCommit,
			}
		}
		lastMergeCommit = sha
	}

	return MergeResult{Status: MergeOK, MergeCommit: lastMergeCommit}
}
