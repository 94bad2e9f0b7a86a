// Package manifest models the planner's output: TaskManifest and TaskSpec
// (spec.md §3), the tasks directory stage layout (spec.md §6), and the
// glob-matching helpers the Compliance Checker and fingerprinting rely on.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// TDDMode is the verification strictness declared by a task.
type TDDMode string

const (
	TDDOff    TDDMode = "off"
	TDDStrict TDDMode = "strict"
)

// Stage is the filesystem location of a task's manifest+spec folder.
type Stage string

const (
	StageBacklog Stage = "backlog"
	StageActive  Stage = "active"
	StageArchive Stage = "archive"
	StageLegacy  Stage = "legacy"
)

// Verify holds the task's required verification commands.
type Verify struct {
	Doctor string `json:"doctor"`
	Fast   string `json:"fast,omitempty"`
}

// Locks declares the named resources a task reads and writes, used only for
// batch scheduling (spec.md §5) — never a runtime mutex.
type Locks struct {
	Reads  []string `json:"reads,omitempty"`
	Writes []string `json:"writes,omitempty"`
}

// Files declares the path globs a task is permitted to read/write.
type Files struct {
	Reads  []string `json:"reads,omitempty"`
	Writes []string `json:"writes,omitempty"`
}

// TaskManifest is immutable once written by the planner (spec.md §3).
type TaskManifest struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	EstimatedMinutes   int      `json:"estimated_minutes"`
	Dependencies      []string `json:"dependencies,omitempty"`
	Locks             Locks    `json:"locks"`
	Files             Files    `json:"files"`
	AffectedTests     []string `json:"affected_tests,omitempty"`
	TestPaths         []string `json:"test_paths,omitempty"`
	TDDMode           TDDMode  `json:"tdd_mode"`
	Verify            Verify   `json:"verify"`
}

// Validate enforces the invariants from spec.md §3: positive estimate, no
// self-dependency, and the strict-mode non-empty requirements.
func (m *TaskManifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest: id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("manifest %s: name is required", m.ID)
	}
	if m.EstimatedMinutes <= 0 {
		return fmt.Errorf("manifest %s: estimated_minutes must be positive", m.ID)
	}
	for _, dep := range m.Dependencies {
		if dep == m.ID {
			return fmt.Errorf("manifest %s: depends on itself", m.ID)
		}
	}
	if m.Verify.Doctor == "" {
		return fmt.Errorf("manifest %s: verify.doctor is required", m.ID)
	}
	if m.TDDMode == TDDStrict {
		if len(m.TestPaths) == 0 {
			return fmt.Errorf("manifest %s: tdd_mode=strict requires non-empty test_paths", m.ID)
		}
		if len(m.AffectedTests) == 0 {
			return fmt.Errorf("manifest %s: tdd_mode=strict requires non-empty affected_tests", m.ID)
		}
		if m.Verify.Fast == "" {
			return fmt.Errorf("manifest %s: tdd_mode=strict requires verify.fast", m.ID)
		}
	}
	return nil
}

// TaskSpec is the runtime wrapper around a manifest: filesystem stage,
// directory name, and slug (spec.md §3).
type TaskSpec struct {
	Manifest  TaskManifest
	SpecText  string
	Stage     Stage
	DirName   string // "<id>-<slug>"
	Slug      string
	ManifestPath string
	SpecPath     string
}

// slugify mirrors the planner's kebab-case naming convention; names are
// already kebab-case per spec.md §3 so this only defends against stray
// characters making it into a directory name.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			b.WriteByte('-')
		}
	}
	slug := b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}

// DirNameFor builds the "<id>-<slug>" directory name for a task.
func DirNameFor(id, name string) string {
	return id + "-" + slugify(name)
}

// LoadStage reads every task folder under <tasksDir>/<stage> (or
// <tasksDir>/archive/<runID> for the archive stage).
func LoadStage(tasksDir string, stage Stage, runID string) ([]TaskSpec, error) {
	dir := filepath.Join(tasksDir, string(stage))
	if stage == StageArchive {
		dir = filepath.Join(tasksDir, "archive", runID)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading stage directory %s: %w", dir, err)
	}

	var specs []TaskSpec
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		spec, err := loadTaskDir(filepath.Join(dir, e.Name()), stage, e.Name())
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Manifest.ID < specs[j].Manifest.ID })
	return specs, nil
}

func loadTaskDir(dir string, stage Stage, dirName string) (TaskSpec, error) {
	manifestPath := filepath.Join(dir, "manifest.json")
	specPath := filepath.Join(dir, "spec.md")

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return TaskSpec{}, fmt.Errorf("reading %s: %w", manifestPath, err)
	}
	var m TaskManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return TaskSpec{}, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	if err := m.Validate(); err != nil {
		return TaskSpec{}, err
	}

	specText := ""
	if b, err := os.ReadFile(specPath); err == nil {
		specText = string(b)
	} else if !os.IsNotExist(err) {
		return TaskSpec{}, fmt.Errorf("reading %s: %w", specPath, err)
	}

	idx := strings.IndexByte(dirName, '-')
	slug := ""
	if idx >= 0 && idx+1 < len(dirName) {
		slug = dirName[idx+1:]
	}

	return TaskSpec{
		Manifest:     m,
		SpecText:     specText,
		Stage:        stage,
		DirName:      dirName,
		Slug:         slug,
		ManifestPath: manifestPath,
		SpecPath:     specPath,
	}, nil
}

// LoadAll loads backlog, active, and legacy stage tasks (spec.md §4.12 step 2).
func LoadAll(tasksDir string) ([]TaskSpec, error) {
	var all []TaskSpec
	for _, stage := range []Stage{StageBacklog, StageActive, StageLegacy} {
		specs, err := LoadStage(tasksDir, stage, "")
		if err != nil {
			return nil, err
		}
		all = append(all, specs...)
	}
	return all, nil
}

// MoveStage moves a task directory between stages, serialized by the
// caller's in-process tasks-root lock (spec.md §5).
func MoveStage(tasksDir string, spec *TaskSpec, newStage Stage, runID string) error {
	oldDir := filepath.Join(tasksDir, string(spec.Stage), spec.DirName)
	if spec.Stage == StageArchive {
		oldDir = filepath.Join(tasksDir, "archive", runID, spec.DirName)
	}

	newParent := filepath.Join(tasksDir, string(newStage))
	if newStage == StageArchive {
		newParent = filepath.Join(tasksDir, "archive", runID)
	}
	if err := os.MkdirAll(newParent, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", newParent, err)
	}

	newDir := filepath.Join(newParent, spec.DirName)
	if err := os.Rename(oldDir, newDir); err != nil {
		return fmt.Errorf("moving task %s from %s to %s: %w", spec.Manifest.ID, spec.Stage, newStage, err)
	}

	spec.Stage = newStage
	spec.ManifestPath = filepath.Join(newDir, "manifest.json")
	spec.SpecPath = filepath.Join(newDir, "spec.md")
	return nil
}

// MatchesGlobs reports whether path matches any of the given gitignore-style
// glob patterns, using the same matcher the Compliance Checker uses so path
// semantics (directory prefixes, doublestar, negation) are identical across
// files.reads/files.writes evaluation and ignore-file handling.
func MatchesGlobs(path string, globs []string) bool {
	if len(globs) == 0 {
		return false
	}
	gi := ignore.CompileIgnoreLines(globs...)
	return gi.MatchesPath(path)
}

// BuildDependencyIndex returns task-id -> TaskSpec for quick lookup.
func BuildDependencyIndex(specs []TaskSpec) map[string]TaskSpec {
	idx := make(map[string]TaskSpec, len(specs))
	for _, s := range specs {
		idx[s.Manifest.ID] = s
	}
	return idx
}

// PrintTaskGraph renders the task dependency DAG as an indented tree,
// adapted from the teacher's concern-graph visualizer (cli/viz.go) for the
// TUI/HTTP read model named as an external collaborator in spec.md §1.
func PrintTaskGraph(w interface{ Write([]byte) (int, error) }, specs []TaskSpec) {
	byID := BuildDependencyIndex(specs)
	downstream := make(map[string][]string)
	var roots []string
	for _, s := range specs {
		if len(s.Manifest.Dependencies) == 0 {
			roots = append(roots, s.Manifest.ID)
			continue
		}
		for _, dep := range s.Manifest.Dependencies {
			downstream[dep] = append(downstream[dep], s.Manifest.ID)
		}
	}
	sort.Strings(roots)
	for _, root := range roots {
		printGraphLine(w, fmt.Sprintf("[%s] %s\n", root, byID[root].Manifest.Name))
		printBranch(w, byID, downstream, root, "", true)
	}
}

func printGraphLine(w interface{ Write([]byte) (int, error) }, s string) {
	_, _ = w.Write([]byte(s))
}

func printBranch(w interface{ Write([]byte) (int, error) }, byID map[string]TaskSpec, downstream map[string][]string, id, prefix string, isLast bool) {
	children := append([]string(nil), downstream[id]...)
	sort.Strings(children)
	for i, child := range children {
		connector := "├── "
		childPrefix := prefix + "│   "
		if i == len(children)-1 {
			connector = "└── "
			childPrefix = prefix + "    "
		}
		printGraphLine(w, fmt.Sprintf("%s%s%s %s\n", prefix, connector, child, byID[child].Manifest.Name))
		printBranch(w, byID, downstream, child, childPrefix, i == len(children)-1)
	}
}
