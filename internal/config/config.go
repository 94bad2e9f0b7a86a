// Package config loads and validates the executor's ProjectConfig (spec.md
// §6, external collaborator). It follows the teacher's config package shape
// (Load reads + parses, Validate returns every error rather than failing on
// the first).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode is the enforcement tier shared by validators, budgets, and compliance.
type Mode string

const (
	ModeOff   Mode = "off"
	ModeWarn  Mode = "warn"
	ModeBlock Mode = "block"
)

// ValidatorConfig is one entry of the dynamic, name-keyed validators map
// (spec.md §9 design note: represented as a fixed record of known validator
// configs rather than an open map, so unknown keys are a load-time error).
type ValidatorConfig struct {
	Mode             Mode `yaml:"mode"`
	FailIfDocsMissing bool `yaml:"fail_if_docs_missing,omitempty"`
	CadenceTasks     int  `yaml:"cadence_tasks,omitempty"`
}

// ValidatorsConfig is the fixed set of validators spec.md §4.7 names.
type ValidatorsConfig struct {
	Test         ValidatorConfig `yaml:"test"`
	Style        ValidatorConfig `yaml:"style"`
	Architecture ValidatorConfig `yaml:"architecture"`
	Doctor       ValidatorConfig `yaml:"doctor"`
}

// BudgetsConfig configures the Budget Tracker (spec.md §4.8).
type BudgetsConfig struct {
	Mode             Mode    `yaml:"mode"`
	MaxTokensPerTask int64   `yaml:"max_tokens_per_task,omitempty"`
	MaxCostPerTask   float64 `yaml:"max_cost_per_task,omitempty"`
	MaxTokensPerRun  int64   `yaml:"max_tokens_per_run,omitempty"`
	MaxCostPerRun    float64 `yaml:"max_cost_per_run,omitempty"`
}

// ChecksConfig configures the Policy/Checkset Engine (spec.md §4.9).
type ChecksConfig struct {
	Mode     Mode     `yaml:"mode"`
	Surfaces []string `yaml:"surfaces,omitempty"`
}

// AgentConfig names the coding-agent binary the Worker Runner invokes over a
// PTY for each turn (spec.md §4.5).
type AgentConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args,omitempty"`
	ConfigDir string   `yaml:"config_dir,omitempty"`
}

// DockerConfig controls whether Worker Runner attempts run in containers.
type DockerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image,omitempty"`
}

// ControlPlaneConfig toggles consultation of the code-analysis ownership model.
type ControlPlaneConfig struct {
	Enabled         bool `yaml:"enabled"`
	DerivedResources bool `yaml:"derived_resources,omitempty"`
}

// DoctorCanaryConfig configures the post-merge canary run (spec.md §4.11 step 8).
type DoctorCanaryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	EnvVar   string `yaml:"env_var,omitempty"`
	Severity string `yaml:"severity,omitempty"` // "error" | "warn", see SPEC_FULL.md supplement
}

// CleanupConfig controls workspace/container teardown after a successful batch.
type CleanupConfig struct {
	Workspaces string `yaml:"workspaces,omitempty"` // "on_success" | "never"
	Containers string `yaml:"containers,omitempty"` // "on_success" | "never"
}

// ResourceConfig is a single named resource the Compliance Checker can resolve files to.
type ResourceConfig struct {
	Name  string   `yaml:"name"`
	Globs []string `yaml:"globs"`
}

// ProjectConfig is the validated configuration consumed throughout spec.md §4.
type ProjectConfig struct {
	Project             string              `yaml:"project"`
	TasksDir            string              `yaml:"tasks_dir"`
	MainBranch          string              `yaml:"main_branch"`
	TaskBranchPrefix    string              `yaml:"task_branch_prefix"`
	MaxParallel         int                 `yaml:"max_parallel"`
	Agent               AgentConfig         `yaml:"agent"`
	DoctorCommand       string              `yaml:"doctor_command"`
	DoctorTimeoutSeconds int                `yaml:"doctor_timeout_seconds"`
	LintCommand         string              `yaml:"lint_command,omitempty"`
	LintTimeoutSeconds  int                 `yaml:"lint_timeout_seconds,omitempty"`
	MaxRetries          int                 `yaml:"max_retries"`
	StaleAfterSeconds   int                 `yaml:"stale_after_seconds"`
	Resources           []ResourceConfig    `yaml:"resources,omitempty"`
	FallbackResource    string              `yaml:"fallback_resource,omitempty"`
	CompliancePolicy    Mode                `yaml:"compliance_policy"`
	Validators          ValidatorsConfig    `yaml:"validators"`
	Budgets             BudgetsConfig       `yaml:"budgets"`
	Checks              ChecksConfig        `yaml:"checks"`
	Docker              DockerConfig        `yaml:"docker"`
	ControlPlane        ControlPlaneConfig  `yaml:"control_plane"`
	DoctorCanary        DoctorCanaryConfig  `yaml:"doctor_canary"`
	Cleanup             CleanupConfig       `yaml:"cleanup"`
	DoctorCadenceTasks  int                 `yaml:"doctor_cadence_tasks,omitempty"`
	AgentModel          string              `yaml:"agent_model,omitempty"`
	AgentReasoningEffort string             `yaml:"agent_reasoning_effort,omitempty"`
	BootstrapCmds       []string            `yaml:"bootstrap_cmds,omitempty"`
	CheckpointCommits   bool                `yaml:"checkpoint_commits"`
}

// Load reads and parses a ProjectConfig file, filling in defaults.
func Load(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*ProjectConfig, error) {
	var cfg ProjectConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if cfg.TasksDir == "" {
		cfg.TasksDir = "tasks"
	}
	if cfg.MainBranch == "" {
		cfg.MainBranch = "main"
	}
	if cfg.TaskBranchPrefix == "" {
		cfg.TaskBranchPrefix = "task/"
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 1
	}
	if cfg.DoctorTimeoutSeconds == 0 {
		cfg.DoctorTimeoutSeconds = 600
	}
	if cfg.LintTimeoutSeconds == 0 {
		cfg.LintTimeoutSeconds = 300
	}
	if cfg.StaleAfterSeconds == 0 {
		cfg.StaleAfterSeconds = 3600
	}
	if cfg.CompliancePolicy == "" {
		cfg.CompliancePolicy = ModeWarn
	}
	if cfg.FallbackResource == "" {
		cfg.FallbackResource = "unowned"
	}
	if cfg.DoctorCanary.EnvVar == "" {
		cfg.DoctorCanary.EnvVar = "ORCH_CANARY"
	}
	if cfg.DoctorCanary.Severity == "" {
		cfg.DoctorCanary.Severity = "error"
	}
	if cfg.Cleanup.Workspaces == "" {
		cfg.Cleanup.Workspaces = "never"
	}
	if cfg.Cleanup.Containers == "" {
		cfg.Cleanup.Containers = "never"
	}
	if cfg.Validators.Test.Mode == "" {
		cfg.Validators.Test.Mode = ModeOff
	}
	if cfg.Validators.Style.Mode == "" {
		cfg.Validators.Style.Mode = ModeOff
	}
	if cfg.Validators.Architecture.Mode == "" {
		cfg.Validators.Architecture.Mode = ModeOff
	}
	if cfg.Validators.Doctor.Mode == "" {
		cfg.Validators.Doctor.Mode = ModeOff
	}
	if cfg.Budgets.Mode == "" {
		cfg.Budgets.Mode = ModeOff
	}
	if cfg.Checks.Mode == "" {
		cfg.Checks.Mode = ModeOff
	}

	return &cfg, nil
}

// Validate returns every configuration error found, rather than stopping at
// the first (matching the teacher's config.Validate contract).
func Validate(cfg *ProjectConfig) []error {
	var errs []error

	if cfg.Project == "" {
		errs = append(errs, fmt.Errorf("project is required"))
	}
	if cfg.DoctorCommand == "" {
		errs = append(errs, fmt.Errorf("doctor_command is required"))
	}
	if cfg.Agent.Command == "" {
		errs = append(errs, fmt.Errorf("agent.command is required"))
	}
	if cfg.MaxParallel <= 0 {
		errs = append(errs, fmt.Errorf("max_parallel must be positive, got %d", cfg.MaxParallel))
	}

	for _, mode := range []Mode{cfg.Validators.Test.Mode, cfg.Validators.Style.Mode, cfg.Validators.Architecture.Mode, cfg.Validators.Doctor.Mode, cfg.Budgets.Mode, cfg.Checks.Mode, cfg.CompliancePolicy} {
		if mode != ModeOff && mode != ModeWarn && mode != ModeBlock {
			errs = append(errs, fmt.Errorf("invalid mode %q: must be one of off, warn, block", mode))
		}
	}

	names := make(map[string]bool)
	for i, r := range cfg.Resources {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("resources[%d]: name is required", i))
		} else if names[r.Name] {
			errs = append(errs, fmt.Errorf("resources[%d]: duplicate name %q", i, r.Name))
		} else {
			names[r.Name] = true
		}
	}

	if cfg.DoctorCanary.Severity != "" && cfg.DoctorCanary.Severity != "error" && cfg.DoctorCanary.Severity != "warn" {
		errs = append(errs, fmt.Errorf("doctor_canary.severity must be error or warn, got %q", cfg.DoctorCanary.Severity))
	}

	return errs
}
