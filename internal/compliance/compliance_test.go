package compliance

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/anthropics/mycelium-executor/internal/manifest"
	"github.com/anthropics/mycelium-executor/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, string(out))
}

func repoWithChangedFiles(t *testing.T, files ...string) (dir, baseSha string) {
	t.Helper()
	dir = t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0644))
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "initial")

	repo := vcs.NewRepo(dir)
	sha, err := repo.HeadCommit("HEAD")
	require.NoError(t, err)

	for _, f := range files {
		full := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte("content"), 0644))
	}
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "changes")

	return dir, sha
}

func TestCheck_PassesWhenFileWithinDeclaredResourceAndGlobs(t *testing.T) {
	dir, base := repoWithChangedFiles(t, "src/api/handler.go")

	result, err := Check(Input{
		WorkspacePath: dir,
		BaseSha:       base,
		Manifest: &manifest.TaskManifest{
			ID:    "t1",
			Locks: manifest.Locks{Writes: []string{"api"}},
			Files: manifest.Files{Writes: []string{"src/api/**"}},
		},
		StaticResources: []StaticResource{{Name: "api", Globs: []string{"src/api/**"}}},
		Policy:          PolicyBlock,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPass, result.Status)
	assert.Empty(t, result.Violations)
}

func TestCheck_BlocksWhenResourceNotLockedForWrite(t *testing.T) {
	dir, base := repoWithChangedFiles(t, "src/api/handler.go")

	result, err := Check(Input{
		WorkspacePath: dir,
		BaseSha:       base,
		Manifest: &manifest.TaskManifest{
			ID:    "t1",
			Locks: manifest.Locks{Writes: []string{"docs"}},
			Files: manifest.Files{Writes: []string{"src/api/**"}},
		},
		StaticResources: []StaticResource{{Name: "api", Globs: []string{"src/api/**"}}},
		Policy:          PolicyBlock,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBlock, result.Status)
	require.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0].Reasons, ReasonResourceNotLocked)
}

func TestCheck_WarnPolicyNeverBlocks(t *testing.T) {
	dir, base := repoWithChangedFiles(t, "unowned.txt")

	result, err := Check(Input{
		WorkspacePath:    dir,
		BaseSha:          base,
		Manifest:         &manifest.TaskManifest{ID: "t1"},
		FallbackResource: "unowned",
		Policy:           PolicyWarn,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, result.Status)
}

func TestCheck_OffPolicyAlwaysPasses(t *testing.T) {
	dir, base := repoWithChangedFiles(t, "random.txt")

	result, err := Check(Input{
		WorkspacePath: dir,
		BaseSha:       base,
		Manifest:      &manifest.TaskManifest{ID: "t1"},
		Policy:        PolicyOff,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPass, result.Status)
}

func TestCheck_FileNotDeclaredInWriteGlobs(t *testing.T) {
	dir, base := repoWithChangedFiles(t, "src/other/file.go")

	result, err := Check(Input{
		WorkspacePath: dir,
		BaseSha:       base,
		Manifest: &manifest.TaskManifest{
			ID:    "t1",
			Locks: manifest.Locks{Writes: []string{"other"}},
			Files: manifest.Files{Writes: []string{"src/api/**"}},
		},
		StaticResources: []StaticResource{{Name: "other", Globs: []string{"src/other/**"}}},
		Policy:          PolicyBlock,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBlock, result.Status)
	assert.Contains(t, result.Violations[0].Reasons, ReasonFileNotDeclared)
}

func TestCheck_OwnerResolverTakesPrecedenceOverStaticResources(t *testing.T) {
	dir, base := repoWithChangedFiles(t, "src/weird/file.go")

	result, err := Check(Input{
		WorkspacePath: dir,
		BaseSha:       base,
		Manifest: &manifest.TaskManifest{
			ID:    "t1",
			Locks: manifest.Locks{Writes: []string{"api"}},
			Files: manifest.Files{Writes: []string{"src/weird/**"}},
		},
		OwnerResolver: func(path string) []string { return []string{"api"} },
		Policy:        PolicyBlock,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPass, result.Status)
}

func TestCheck_WritesReport(t *testing.T) {
	dir, base := repoWithChangedFiles(t, "unowned.txt")
	reportPath := filepath.Join(t.TempDir(), "compliance.json")

	_, err := Check(Input{
		WorkspacePath:    dir,
		BaseSha:          base,
		Manifest:         &manifest.TaskManifest{ID: "t1"},
		FallbackResource: "unowned",
		Policy:           PolicyWarn,
		ReportPath:       reportPath,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var decoded Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StatusWarn, decoded.Status)
}

func TestCheck_GuidanceSetWhenOwnershipResolverHasOpinion(t *testing.T) {
	dir, base := repoWithChangedFiles(t, "src/core/file.go")

	result, err := Check(Input{
		WorkspacePath: dir,
		BaseSha:       base,
		Manifest: &manifest.TaskManifest{
			ID:    "t1",
			Locks: manifest.Locks{Writes: []string{"docs"}},
		},
		OwnershipResolver: func(path string) []string { return []string{"core-team"} },
		Policy:            PolicyBlock,
	})
	require.NoError(t, err)
	require.Len(t, result.Violations, 1)
	assert.ElementsMatch(t, []string{"expand_scope", "split_task"}, result.Violations[0].Guidance)
}
