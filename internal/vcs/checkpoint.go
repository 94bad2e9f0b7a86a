package vcs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const checkpointTrailerKey = "Mycelium-Attempt"

// CommitCheckpoint stages and commits the workspace diff for one attempt,
// tagging the commit with an attempt trailer so ListCheckpointCommits can
// recover it later (spec.md §4.5 step 3: "commit the workspace diff as a
// checkpoint on the task branch").
func CommitCheckpoint(workspacePath string, attempt int, summary string) (string, error) {
	repo := NewRepo(workspacePath)
	repo.EnsureIdentity()

	changed, err := repo.HasChanges()
	if err != nil {
		return "", err
	}
	if !changed {
		return "", nil
	}
	if err := repo.StageAll(); err != nil {
		return "", err
	}
	message := fmt.Sprintf("%s\n\n%s: %d", summary, checkpointTrailerKey, attempt)
	if err := repo.Commit(message); err != nil {
		return "", err
	}
	return repo.HeadCommit("HEAD")
}

func parseCheckpointTrailer(repo *Repo, sha string) (attempt int, createdAt time.Time, ok bool) {
	msg, err := repo.CommitMessage(sha)
	if err != nil {
		return 0, time.Time{}, false
	}
	for _, line := range strings.Split(msg, "\n") {
		line = strings.TrimSpace(line)
		prefix := checkpointTrailerKey + ":"
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, prefix)))
		if err != nil {
			continue
		}
		ts, err := repo.run("log", "-1", "--format=%cI", sha)
		if err != nil {
			return n, time.Time{}, true
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return n, time.Time{}, true
		}
		return n, parsed, true
	}
	return 0, time.Time{}, false
}
