package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
project: demo
doctor_command: "make doctor"
agent:
  command: "claude"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tasks", cfg.TasksDir)
	assert.Equal(t, "main", cfg.MainBranch)
	assert.Equal(t, "task/", cfg.TaskBranchPrefix)
	assert.Equal(t, 1, cfg.MaxParallel)
	assert.Equal(t, 600, cfg.DoctorTimeoutSeconds)
	assert.Equal(t, 300, cfg.LintTimeoutSeconds)
	assert.Equal(t, 3600, cfg.StaleAfterSeconds)
	assert.Equal(t, ModeWarn, cfg.CompliancePolicy)
	assert.Equal(t, "unowned", cfg.FallbackResource)
	assert.Equal(t, "ORCH_CANARY", cfg.DoctorCanary.EnvVar)
	assert.Equal(t, "error", cfg.DoctorCanary.Severity)
	assert.Equal(t, "never", cfg.Cleanup.Workspaces)
	assert.Equal(t, ModeOff, cfg.Validators.Test.Mode)
	assert.Equal(t, ModeOff, cfg.Budgets.Mode)
	assert.Equal(t, ModeOff, cfg.Checks.Mode)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_RequiredFields(t *testing.T) {
	cfg := &ProjectConfig{}
	errs := Validate(cfg)
	assert.NotEmpty(t, errs)

	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	assert.Contains(t, msgs, "project is required")
	assert.Contains(t, msgs, "doctor_command is required")
	assert.Contains(t, msgs, "agent.command is required")
}

func TestValidate_MaxParallelMustBePositive(t *testing.T) {
	cfg := &ProjectConfig{Project: "p", DoctorCommand: "true", Agent: AgentConfig{Command: "sh"}, MaxParallel: 0}
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Error() == "max_parallel must be positive, got 0" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_InvalidMode(t *testing.T) {
	cfg := &ProjectConfig{
		Project:       "p",
		DoctorCommand: "true",
		Agent:         AgentConfig{Command: "sh"},
		MaxParallel:   1,
		Validators:    ValidatorsConfig{Test: ValidatorConfig{Mode: "bogus"}},
	}
	errs := Validate(cfg)
	assert.NotEmpty(t, errs)
}

func TestValidate_DuplicateResourceNames(t *testing.T) {
	cfg := &ProjectConfig{
		Project:       "p",
		DoctorCommand: "true",
		Agent:         AgentConfig{Command: "sh"},
		MaxParallel:   1,
		Resources: []ResourceConfig{
			{Name: "api", Globs: []string{"a/**"}},
			{Name: "api", Globs: []string{"b/**"}},
		},
	}
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Error() == `resources[1]: duplicate name "api"` {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_ValidConfigHasNoErrors(t *testing.T) {
	cfg := &ProjectConfig{
		Project:          "p",
		DoctorCommand:    "true",
		Agent:            AgentConfig{Command: "sh"},
		MaxParallel:      1,
		CompliancePolicy: ModeWarn,
		Validators: ValidatorsConfig{
			Test:         ValidatorConfig{Mode: ModeOff},
			Style:        ValidatorConfig{Mode: ModeOff},
			Architecture: ValidatorConfig{Mode: ModeOff},
			Doctor:       ValidatorConfig{Mode: ModeOff},
		},
		Budgets: BudgetsConfig{Mode: ModeOff},
		Checks:  ChecksConfig{Mode: ModeOff},
	}
	errs := Validate(cfg)
	assert.Empty(t, errs)
}
