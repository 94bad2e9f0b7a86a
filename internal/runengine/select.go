// Package runengine is the Run Engine (spec.md §4.12): the top-level loop
// that selects batches, fans out attempts, and finalizes them until the
// tasks directory is exhausted or a stop reason fires.
package runengine

import (
	"sort"
	"strings"

	"github.com/anthropics/mycelium-executor/internal/manifest"
	"github.com/anthropics/mycelium-executor/internal/state"
)

// normalizeResourceSet trims, dedupes, and sorts a resource name list
// (spec.md §5: "conflict check is performed on the normalized resource
// sets").
func normalizeResourceSet(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// resourcesConflict reports whether two tasks' normalized lock sets
// conflict: (A.writes∩B.writes) ∪ (A.writes∩B.reads) ∪ (A.reads∩B.writes) is
// non-empty (spec.md §5). Read/read is always allowed.
func resourcesConflict(a, b manifest.Locks) bool {
	aw := normalizeResourceSet(a.Writes)
	bw := normalizeResourceSet(b.Writes)
	ar := normalizeResourceSet(a.Reads)
	br := normalizeResourceSet(b.Reads)

	return intersects(aw, bw) || intersects(aw, br) || intersects(ar, bw)
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, y := range b {
		if set[y] {
			return true
		}
	}
	return false
}

// SelectBatch picks the maximal set of pending tasks whose dependencies are
// all complete/skipped and whose pairwise resource locks do not conflict
// (spec.md §4.12 step 4a, §5). Tasks are considered in planner (id) order so
// selection is deterministic; a task is added to the batch only if it does
// not conflict with any task already selected.
func SelectBatch(specs []manifest.TaskSpec, rs *state.RunState) []string {
	byID := manifest.BuildDependencyIndex(specs)

	var candidates []string
	for _, s := range specs {
		task, ok := rs.Tasks[s.Manifest.ID]
		if !ok || task.Status != state.StatusPending {
			continue
		}
		if !dependenciesSatisfied(s.Manifest.Dependencies, rs) {
			continue
		}
		candidates = append(candidates, s.Manifest.ID)
	}
	sort.Strings(candidates)

	var batch []string
	for _, id := range candidates {
		locks := byID[id].Manifest.Locks
		conflict := false
		for _, chosen := range batch {
			if resourcesConflict(locks, byID[chosen].Manifest.Locks) {
				conflict = true
				break
			}
		}
		if !conflict {
			batch = append(batch, id)
		}
	}
	return batch
}

func dependenciesSatisfied(deps []string, rs *state.RunState) bool {
	for _, dep := range deps {
		t, ok := rs.Tasks[dep]
		if !ok {
			return false
		}
		if t.Status != state.StatusComplete && t.Status != state.StatusSkipped {
			return false
		}
	}
	return true
}

// RunningTasks returns task ids currently in status running from a prior
// process, needing resumeRunningTask rather than a fresh attempt
// (spec.md §4.12 step 4d).
func RunningTasks(specs []manifest.TaskSpec, rs *state.RunState) []string {
	var ids []string
	for _, s := range specs {
		if t, ok := rs.Tasks[s.Manifest.ID]; ok && t.Status == state.StatusRunning {
			ids = append(ids, s.Manifest.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
