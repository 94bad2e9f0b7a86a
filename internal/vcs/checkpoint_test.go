package vcs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitCheckpoint_NoChangesReturnsEmptySha(t *testing.T) {
	dir := initRepo(t)
	sha, err := CommitCheckpoint(dir, 1, "no-op attempt")
	require.NoError(t, err)
	assert.Empty(t, sha)
}

func TestCommitCheckpoint_CommitsAndTagsAttempt(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "work.txt"), []byte("x"), 0644))

	sha, err := CommitCheckpoint(dir, 3, "worker attempt 3")
	require.NoError(t, err)
	require.NotEmpty(t, sha)

	repo := NewRepo(dir)
	msg, err := repo.CommitMessage(sha)
	require.NoError(t, err)
	assert.Contains(t, msg, "Mycelium-Attempt: 3")
	assert.Contains(t, msg, "worker attempt 3")
}

func TestListCheckpointCommits_RecoversAttemptsInOrder(t *testing.T) {
	dir := initRepo(t)
	repo := NewRepo(dir)
	base, err := repo.HeadCommit("HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	_, err = CommitCheckpoint(dir, 1, "attempt one")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644))
	_, err = CommitCheckpoint(dir, 2, "attempt two")
	require.NoError(t, err)

	commits, err := ListCheckpointCommits(dir, base)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, 1, commits[0].Attempt)
	assert.Equal(t, 2, commits[1].Attempt)
}

func TestListCheckpointCommits_SkipsCommitsWithoutTrailer(t *testing.T) {
	dir := initRepo(t)
	repo := NewRepo(dir)
	repo.EnsureIdentity()
	base, err := repo.HeadCommit("HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "untagged.txt"), []byte("x"), 0644))
	require.NoError(t, repo.StageAll())
	require.NoError(t, repo.Commit("untagged commit"))

	commits, err := ListCheckpointCommits(dir, base)
	require.NoError(t, err)
	assert.Empty(t, commits)
}
