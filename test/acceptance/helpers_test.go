package acceptance_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/gomega"
)

func runGit(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.com",
	)
	out, err := cmd.CombinedOutput()
	ExpectWithOffset(1, err).NotTo(HaveOccurred(), "git %v: %s", args, string(out))
}

func runGitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	ExpectWithOffset(1, err).NotTo(HaveOccurred(), "git %v: %s", args, string(out))
	return string(out)
}

func writeFile(path, content string) {
	dir := filepath.Dir(path)
	ExpectWithOffset(1, os.MkdirAll(dir, 0755)).To(Succeed())
	ExpectWithOffset(1, os.WriteFile(path, []byte(content), 0644)).To(Succeed())
}

// initTestRepo creates a bare-bones git repo with an initial commit on main.
func initTestRepo(tmpDir string) string {
	repoDir := filepath.Join(tmpDir, "repo")
	runGit(tmpDir, "init", repoDir)
	runGit(repoDir, "checkout", "-b", "main")
	writeFile(filepath.Join(repoDir, "README.md"), "hello\n")
	runGit(repoDir, "add", "README.md")
	runGit(repoDir, "commit", "-m", "initial commit")
	return repoDir
}

// taskManifestInput is the subset of manifest.json fields these acceptance
// tests need to set per scenario.
type taskManifestInput struct {
	ID               string
	Name             string
	EstimatedMinutes int
	Dependencies     []string
	LocksWrites      []string
	LocksReads       []string
	FilesWrites      []string
	DoctorCommand    string
}

// writeBacklogTask writes <tasksDir>/backlog/<id>-<slug>/{manifest.json,spec.md}.
func writeBacklogTask(repoDir, tasksDirName string, in taskManifestInput) {
	if in.EstimatedMinutes == 0 {
		in.EstimatedMinutes = 5
	}
	if in.DoctorCommand == "" {
		in.DoctorCommand = "true"
	}
	manifest := map[string]interface{}{
		"id":                in.ID,
		"name":              in.Name,
		"description":       in.Name,
		"estimated_minutes": in.EstimatedMinutes,
		"dependencies":      in.Dependencies,
		"locks": map[string]interface{}{
			"reads":  in.LocksReads,
			"writes": in.LocksWrites,
		},
		"files": map[string]interface{}{
			"writes": in.FilesWrites,
		},
		"tdd_mode": "off",
		"verify": map[string]interface{}{
			"doctor": in.DoctorCommand,
		},
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	dir := filepath.Join(repoDir, tasksDirName, "backlog", in.ID+"-"+slugFor(in.Name))
	writeFile(filepath.Join(dir, "manifest.json"), string(data)+"\n")
	writeFile(filepath.Join(dir, "spec.md"), "# "+in.Name+"\n\nDo the thing.\n")
}

func slugFor(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '-')
		}
	}
	return string(out)
}

func runOrchestrator(repoDir, runID string) ([]byte, error) {
	cmd := exec.Command(binaryPath, "run", "--config", "orchestrator.yaml", "--repo", ".", "--run-id", runID)
	cmd.Dir = repoDir
	return cmd.CombinedOutput()
}

func readRunState(repoDir, project, runID string) map[string]interface{} {
	path := filepath.Join(repoDir, ".mycelium", "projects", project, "runs", runID, "state.json")
	data, err := os.ReadFile(path)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	var out map[string]interface{}
	ExpectWithOffset(1, json.Unmarshal(data, &out)).To(Succeed())
	return out
}

func cleanupTestRepo(repoDir, tmpDir string) {
	exec.Command("git", "-C", repoDir, "worktree", "prune").Run()
	os.RemoveAll(tmpDir)
}
