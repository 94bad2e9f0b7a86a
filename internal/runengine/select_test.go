package runengine

import (
	"testing"
	"time"

	"github.com/anthropics/mycelium-executor/internal/manifest"
	"github.com/anthropics/mycelium-executor/internal/state"
	"github.com/stretchr/testify/assert"
)

func spec(id string, deps []string, locks manifest.Locks) manifest.TaskSpec {
	return manifest.TaskSpec{Manifest: manifest.TaskManifest{ID: id, Dependencies: deps, Locks: locks}}
}

func pendingState(ids ...string) *state.RunState {
	rs := state.New("demo", "run-1", time.Now())
	for _, id := range ids {
		rs.Tasks[id] = &state.TaskState{Status: state.StatusPending}
	}
	return rs
}

func TestNormalizeResourceSet_TrimsDedupesAndSorts(t *testing.T) {
	out := normalizeResourceSet([]string{"b", "", "a", "b"})
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestResourcesConflict_WriteWriteConflicts(t *testing.T) {
	a := manifest.Locks{Writes: []string{"api"}}
	b := manifest.Locks{Writes: []string{"api"}}
	assert.True(t, resourcesConflict(a, b))
}

func TestResourcesConflict_ReadReadNeverConflicts(t *testing.T) {
	a := manifest.Locks{Reads: []string{"api"}}
	b := manifest.Locks{Reads: []string{"api"}}
	assert.False(t, resourcesConflict(a, b))
}

func TestResourcesConflict_WriteReadConflicts(t *testing.T) {
	a := manifest.Locks{Writes: []string{"api"}}
	b := manifest.Locks{Reads: []string{"api"}}
	assert.True(t, resourcesConflict(a, b))
	assert.True(t, resourcesConflict(b, a))
}

func TestResourcesConflict_DisjointResourcesNeverConflict(t *testing.T) {
	a := manifest.Locks{Writes: []string{"api"}}
	b := manifest.Locks{Writes: []string{"frontend"}}
	assert.False(t, resourcesConflict(a, b))
}

func TestSelectBatch_PicksAllNonConflictingPendingTasks(t *testing.T) {
	specs := []manifest.TaskSpec{
		spec("t1", nil, manifest.Locks{Writes: []string{"api"}}),
		spec("t2", nil, manifest.Locks{Writes: []string{"frontend"}}),
	}
	rs := pendingState("t1", "t2")
	batch := SelectBatch(specs, rs)
	assert.ElementsMatch(t, []string{"t1", "t2"}, batch)
}

func TestSelectBatch_ExcludesConflictingSecondTask(t *testing.T) {
	specs := []manifest.TaskSpec{
		spec("t1", nil, manifest.Locks{Writes: []string{"api"}}),
		spec("t2", nil, manifest.Locks{Writes: []string{"api"}}),
	}
	rs := pendingState("t1", "t2")
	batch := SelectBatch(specs, rs)
	assert.Equal(t, []string{"t1"}, batch, "planner (id) order picks t1 first and excludes the conflicting t2")
}

func TestSelectBatch_SkipsTaskWithUnsatisfiedDependency(t *testing.T) {
	specs := []manifest.TaskSpec{
		spec("t1", nil, manifest.Locks{}),
		spec("t2", []string{"t1"}, manifest.Locks{}),
	}
	rs := pendingState("t1", "t2")
	batch := SelectBatch(specs, rs)
	assert.Equal(t, []string{"t1"}, batch)
}

func TestSelectBatch_IncludesTaskWhoseDependencyIsComplete(t *testing.T) {
	specs := []manifest.TaskSpec{
		spec("t1", nil, manifest.Locks{}),
		spec("t2", []string{"t1"}, manifest.Locks{}),
	}
	rs := pendingState("t2")
	rs.Tasks["t1"] = &state.TaskState{Status: state.StatusComplete}
	batch := SelectBatch(specs, rs)
	assert.Equal(t, []string{"t2"}, batch)
}

func TestSelectBatch_SkippedDependencySatisfiesLikeComplete(t *testing.T) {
	specs := []manifest.TaskSpec{
		spec("t1", nil, manifest.Locks{}),
		spec("t2", []string{"t1"}, manifest.Locks{}),
	}
	rs := pendingState("t2")
	rs.Tasks["t1"] = &state.TaskState{Status: state.StatusSkipped}
	batch := SelectBatch(specs, rs)
	assert.Equal(t, []string{"t2"}, batch)
}

func TestSelectBatch_OnlyConsidersPendingTasks(t *testing.T) {
	specs := []manifest.TaskSpec{
		spec("t1", nil, manifest.Locks{}),
	}
	rs := pendingState()
	rs.Tasks["t1"] = &state.TaskState{Status: state.StatusRunning}
	batch := SelectBatch(specs, rs)
	assert.Empty(t, batch)
}

func TestRunningTasks_ReturnsOnlyRunningSorted(t *testing.T) {
	specs := []manifest.TaskSpec{
		spec("t2", nil, manifest.Locks{}),
		spec("t1", nil, manifest.Locks{}),
		spec("t3", nil, manifest.Locks{}),
	}
	rs := pendingState()
	rs.Tasks["t1"] = &state.TaskState{Status: state.StatusRunning}
	rs.Tasks["t2"] = &state.TaskState{Status: state.StatusPending}
	rs.Tasks["t3"] = &state.TaskState{Status: state.StatusRunning}

	running := RunningTasks(specs, rs)
	assert.Equal(t, []string{"t1", "t3"}, running)
}
