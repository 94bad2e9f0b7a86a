package acceptance_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("a batch whose integration doctor fails after merge", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "orchestrator-test-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = initTestRepo(tmpDir)

		// The per-task doctor passes (so the worker attempt itself
		// succeeds) but the project-wide integration doctor always fails,
		// so the batch must stop after merging.
		writeFile(filepath.Join(repoDir, "orchestrator.yaml"), `
project: demo
tasks_dir: tasks
main_branch: main
task_branch_prefix: task
max_parallel: 1
max_retries: 1
stale_after_seconds: 3600
doctor_command: "false"
doctor_timeout_seconds: 30
agent:
  command: "sh"
  args: ["-c", "echo hi > agent-output.txt"]
`)
		writeBacklogTask(repoDir, "tasks", taskManifestInput{
			ID:            "t1",
			Name:          "risky change",
			FilesWrites:   []string{"agent-output.txt"},
			DoctorCommand: "true",
		})
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("routes the task to needs_human_review and fails the run", func() {
		out, _ := runOrchestrator(repoDir, "run-doctor-fail")
		_ = out // non-zero exit expected; assertions are on state, not process exit

		rs := readRunState(repoDir, "demo", "run-doctor-fail")
		Expect(rs["status"]).To(Equal("failed"))

		tasks := rs["tasks"].(map[string]interface{})
		t1 := tasks["t1"].(map[string]interface{})
		Expect(t1["status"]).To(Equal("needs_human_review"))
		Expect(t1["human_review"].(map[string]interface{})["reason"]).To(Equal("integration doctor failed"))

		batches := rs["batches"].([]interface{})
		Expect(batches).To(HaveLen(1))
		batch := batches[0].(map[string]interface{})
		Expect(batch["integration_doctor_passed"]).To(Equal(false))
		// The merge itself succeeded before the doctor ran.
		Expect(batch["merge_commit"]).NotTo(BeEmpty())

		// The task stays in active, not archived, pending human review.
		_, err := os.Stat(filepath.Join(repoDir, "tasks", "active", "t1-risky-change"))
		Expect(err).NotTo(HaveOccurred())
	})
})
