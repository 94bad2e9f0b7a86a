// Package compliance is the Compliance Checker (spec.md §4.6): verifies a
// task's changed files stayed inside the resources and file globs it was
// granted.
package compliance

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/mycelium-executor/internal/fileutil"
	"github.com/anthropics/mycelium-executor/internal/manifest"
	"github.com/anthropics/mycelium-executor/internal/vcs"
)

// Policy is the enforcement level for the check.
type Policy string

const (
	PolicyOff   Policy = "off"
	PolicyWarn  Policy = "warn"
	PolicyBlock Policy = "block"
)

// Status is the checker's verdict.
type Status string

const (
	StatusPass  Status = "pass"
	StatusWarn  Status = "warn"
	StatusBlock Status = "block"
)

// Violation reasons (spec.md §4.6).
const (
	ReasonResourceNotLocked   = "resource_not_locked_for_write"
	ReasonFileNotDeclared     = "file_not_declared_for_write"
)

// Violation records one changed file's compliance failure.
type Violation struct {
	File      string   `json:"file"`
	Reasons   []string `json:"reasons"`
	Resources []string `json:"resources,omitempty"`
	Guidance  []string `json:"guidance,omitempty"`
}

// StaticResource is a config-declared resource and its glob set.
type StaticResource struct {
	Name  string
	Globs []string
}

// OwnerResolver resolves a changed file to the resource(s) a code-analysis
// model believes own it. Returns nil if the model has no opinion.
type OwnerResolver func(path string) []string

// OwnershipResolver resolves a changed file to owning components, used only
// to build the expand_scope/split_task guidance pair for component owners.
type OwnershipResolver func(path string) []string

// Input bundles everything the checker needs for one task (spec.md §4.6).
type Input struct {
	WorkspacePath     string
	MainBranch        string
	BaseSha           string
	Manifest          *manifest.TaskManifest
	StaticResources   []StaticResource
	FallbackResource  string
	OwnerResolver     OwnerResolver
	OwnershipResolver OwnershipResolver
	Policy            Policy
	ReportPath        string
}

// Result is what the checker returns and the Batch Engine consumes.
type Result struct {
	Status       Status      `json:"status"`
	ChangedFiles []string    `json:"changed_files"`
	Violations   []Violation `json:"violations"`
}

// Check runs the compliance check for one task's workspace (spec.md §4.6).
func Check(in Input) (Result, error) {
	repo := vcs.NewRepo(in.WorkspacePath)
	changed, err := repo.ListChangedFiles(in.BaseSha)
	if err != nil {
		return Result{}, fmt.Errorf("listing changed files: %w", err)
	}

	lockedWrites := toSet(in.Manifest.Locks.Writes)
	writeGlobs := in.Manifest.Files.Writes

	var violations []Violation
	for _, file := range changed {
		resources := resolveResources(file, in)
		var reasons []string

		lockOK := len(resources) > 0
		for _, r := range resources {
			if !lockedWrites[r] {
				lockOK = false
				break
			}
		}
		if !lockOK {
			reasons = append(reasons, ReasonResourceNotLocked)
		}

		if !manifest.MatchesGlobs(file, writeGlobs) {
			reasons = append(reasons, ReasonFileNotDeclared)
		}

		if len(reasons) > 0 {
			v := Violation{File: file, Reasons: reasons, Resources: resources}
			if in.OwnershipResolver != nil && len(in.OwnershipResolver(file)) > 0 {
				v.Guidance = []string{"expand_scope", "split_task"}
			}
			violations = append(violations, v)
		}
	}

	result := Result{ChangedFiles: changed, Violations: violations}
	switch {
	case len(violations) == 0 || in.Policy == PolicyOff:
		result.Status = StatusPass
	case in.Policy == PolicyBlock:
		result.Status = StatusBlock
	default:
		result.Status = StatusWarn
	}

	if in.ReportPath != "" {
		if err := writeReport(in.ReportPath, result); err != nil {
			return result, fmt.Errorf("writing compliance report: %w", err)
		}
	}

	return result, nil
}

// resolveResources resolves a changed file's owning resource(s): the
// code-analysis model first, then static config globs, then the fallback
// resource (spec.md §4.6).
func resolveResources(file string, in Input) []string {
	if in.OwnerResolver != nil {
		if owners := in.OwnerResolver(file); len(owners) > 0 {
			return owners
		}
	}
	for _, res := range in.StaticResources {
		if manifest.MatchesGlobs(file, res.Globs) {
			return []string{res.Name}
		}
	}
	if in.FallbackResource != "" {
		return []string{in.FallbackResource}
	}
	return nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func writeReport(path string, result Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(path, append(data, '\n'), 0644)
}
