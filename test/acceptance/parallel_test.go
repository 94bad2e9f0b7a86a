package acceptance_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("two tasks with non-conflicting resource locks", func() {
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
max_parallel: 2
max_retries: 1
stale_after_seconds: 3600
doctor_command: "true"
doctor_timeout_seconds: 30
agent:
  command: "sh"
  args: ["-c", "echo hi > agent-output.txt"]
`)
		writeBacklogTask(repoDir, "tasks", taskManifestInput{
			ID:          "t1",
			Name:        "touch api",
			LocksWrites: []string{"api"},
			FilesWrites: []string{"api.txt"},
		})
		writeBacklogTask(repoDir, "tasks", taskManifestInput{
			ID:          "t2",
			Name:        "touch docs",
			LocksWrites: []string{"docs"},
			FilesWrites: []string{"docs.txt"},
		})
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("schedules both in the same batch and completes both", func() {
		out, err := runOrchestrator(repoDir, "run-parallel")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))

		rs := readRunState(repoDir, "demo", "run-parallel")
		Expect(rs["status"]).To(Equal("complete"))

		batches := rs["batches"].([]interface{})
		Expect(batches).NotTo(BeEmpty())
		firstBatch := batches[0].(map[string]interface{})
		taskIDs := firstBatch["task_ids"].([]interface{})
		Expect(taskIDs).To(ConsistOf("t1", "t2"))

		tasks := rs["tasks"].(map[string]interface{})
		Expect(tasks["t1"].(map[string]interface{})["status"]).To(Equal("complete"))
		Expect(tasks["t2"].(map[string]interface{})["status"]).To(Equal("complete"))

		branches := runGitOutput(repoDir, "branch")
		Expect(branches).To(ContainSubstring("task/t1-touch-api"))
		Expect(branches).To(ContainSubstring("task/t2-touch-docs"))
	})
})
