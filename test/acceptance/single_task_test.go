package acceptance_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("a single task run", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "orchestrator-test-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = initTestRepo(tmpDir)

		writeFile(filepath.Join(repoDir, "orchestrator.yaml"), `
project: demo
tasks_dir: tasks
main_branch: main
task_branch_prefix: task
max_parallel: 1
max_retries: 1
stale_after_seconds: 3600
checkpoint_commits: true
doctor_command: "true"
doctor_timeout_seconds: 30
agent:
  command: "sh"
  args: ["-c", "echo hello > agent-output.txt"]
cleanup:
  workspaces: on_success
  containers: on_success
`)
		writeBacklogTask(repoDir, "tasks", taskManifestInput{
			ID:          "t1",
			Name:        "add greeting",
			FilesWrites: []string{"agent-output.txt"},
		})
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("completes the task, merges its branch, and cleans up the workspace", func() {
		out, err := runOrchestrator(repoDir, "run-single")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))

		rs := readRunState(repoDir, "demo", "run-single")
		Expect(rs["status"]).To(Equal("complete"))

		tasks := rs["tasks"].(map[string]interface{})
		t1 := tasks["t1"].(map[string]interface{})
		Expect(t1["status"]).To(Equal("complete"))

		// The task's branch was merged into main with a merge commit.
		mergeLog := runGitOutput(repoDir, "log", "-1", "--format=%s", "main")
		Expect(mergeLog).To(ContainSubstring("Merge task t1"))

		// The task folder moved from backlog to archive.
		_, err = os.Stat(filepath.Join(repoDir, "tasks", "backlog", "t1-add-greeting"))
		Expect(os.IsNotExist(err)).To(BeTrue())
		archived, err := os.ReadDir(filepath.Join(repoDir, "tasks", "archive", "run-single"))
		Expect(err).NotTo(HaveOccurred())
		Expect(archived).To(HaveLen(1))

		// Workspace was cleaned up after success.
		workspace := t1["workspace"].(string)
		_, err = os.Stat(workspace)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("is idempotent when resumed with the same run id", func() {
		out1, err := runOrchestrator(repoDir, "run-single-2")
		Expect(err).NotTo(HaveOccurred(), "first run: %s", string(out1))

		out2, err := runOrchestrator(repoDir, "run-single-2")
		Expect(err).NotTo(HaveOccurred(), "second run: %s", string(out2))

		rs := readRunState(repoDir, "demo", "run-single-2")
		Expect(rs["status"]).To(Equal("complete"))
	})
})
