package acceptance_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("a task that breaches its token budget", func() {
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
doctor_command: "true"
doctor_timeout_seconds: 30
agent:
  command: "sh"
  args: ["-c", "echo 'MYCELIUM-USAGE: {\"input_tokens\":10,\"cached_input_tokens\":0,\"output_tokens\":10}'; echo hi > agent-output.txt"]
budgets:
  mode: block
  max_tokens_per_task: 1
`)
		writeBacklogTask(repoDir, "tasks", taskManifestInput{
			ID:          "t1",
			Name:        "expensive change",
			FilesWrites: []string{"agent-output.txt"},
		})
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("fails the run before merging and leaves mainline HEAD unchanged", func() {
		headBefore := runGitOutput(repoDir, "rev-parse", "main")

		out, _ := runOrchestrator(repoDir, "run-budget")
		_ = out

		rs := readRunState(repoDir, "demo", "run-budget")
		Expect(rs["status"]).To(Equal("failed"))

		batches := rs["batches"].([]interface{})
		Expect(batches).To(HaveLen(1))
		batch := batches[0].(map[string]interface{})
		Expect(batch["merge_commit"]).To(BeEmpty())

		headAfter := runGitOutput(repoDir, "rev-parse", "main")
		Expect(headAfter).To(Equal(headBefore))

		tasks := rs["tasks"].(map[string]interface{})
		t1 := tasks["t1"].(map[string]interface{})
		Expect(t1["status"]).To(Equal("needs_human_review"))
	})
})
