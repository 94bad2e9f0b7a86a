package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/mycelium-executor/internal/events"
	"github.com/anthropics/mycelium-executor/internal/fileutil"
)

// Error kinds for Load (spec.md §4.1).
var (
	ErrNotFound        = errors.New("run state not found")
	ErrCorruptDocument = errors.New("run state document is corrupt")
	ErrSchemaMismatch  = errors.New("run state document failed schema validation")
)

// StaleRecoveryReset describes one task demoted by stale recovery.
type StaleRecoveryReset struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// Load reads the RunState document at path. If it does not exist, ErrNotFound
// is returned — callers distinguish "no prior run" (create New) from a read
// failure. If allowStaleRecovery is true and the document's updated_at is
// older than staleAfter, every running task is demoted to pending and the
// run is marked paused (spec.md §4.1, §8 invariant 6).
func Load(path string, allowStaleRecovery bool, staleAfter time.Duration, now time.Time, log *events.Logger) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrCorruptDocument, path, err)
	}
	if err := validateSchema(&rs); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemaMismatch, err)
	}

	if allowStaleRecovery && now.Sub(rs.UpdatedAt) > staleAfter {
		resets := resetStaleRunning(&rs)
		if len(resets) > 0 {
			rs.Status = RunPaused
			if log != nil {
				_ = log.Log(events.TypeRunStaleRecovery, map[string]interface{}{
					"count": len(resets),
					"tasks": resets,
				})
			}
		}
		if err := Save(path, &rs, now); err != nil {
			return nil, fmt.Errorf("saving after stale recovery: %w", err)
		}
	}

	return &rs, nil
}

func resetStaleRunning(rs *RunState) []StaleRecoveryReset {
	var resets []StaleRecoveryReset
	for id, t := range rs.Tasks {
		if t.Status == StatusRunning {
			t.Status = StatusPending
			resets = append(resets, StaleRecoveryReset{
				TaskID: id,
				Reason: "stale: updated_at older than staleness threshold",
			})
		}
	}
	return resets
}

// Recover force-resets every running task to pending regardless of
// staleness, for an explicit resume after a known crash (spec.md §4.1).
func Recover(path string, reason string, now time.Time) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptDocument, err)
	}
	if err := validateSchema(&rs); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemaMismatch, err)
	}
	for _, t := range rs.Tasks {
		if t.Status == StatusRunning {
			t.Status = StatusPending
			t.LastError = reason
		}
	}
	rs.Status = RunPaused
	if err := Save(path, &rs, now); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Save writes state to a sibling temp file, fsyncs, then atomically renames
// (spec.md §4.1, §6). updated_at is set to now before writing.
func Save(path string, rs *RunState, now time.Time) error {
	if err := validateSchema(rs); err != nil {
		return fmt.Errorf("refusing to save invalid state: %w", err)
	}
	rs.UpdatedAt = now
	return fileutil.WriteJSON(path, rs)
}

// validateSchema checks RunState's own internal consistency before a save:
// project and run_id are set, updated_at >= started_at, a complete run has
// every task complete or skipped, and no task appears in more than one
// non-failed batch. Dependency references are not checked here
// (dependencies live in the manifest, not RunState).
func validateSchema(rs *RunState) error {
	if rs.Project == "" {
		return fmt.Errorf("project is required")
	}
	if rs.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if rs.UpdatedAt.Before(rs.StartedAt) {
		return fmt.Errorf("updated_at (%s) is before started_at (%s)", rs.UpdatedAt, rs.StartedAt)
	}
	if rs.Status == RunComplete {
		for id, t := range rs.Tasks {
			if t.Status != StatusComplete && t.Status != StatusSkipped {
				return fmt.Errorf("run marked complete but task %s has status %s", id, t.Status)
			}
		}
	}
	seen := make(map[string]int)
	for _, b := range rs.Batches {
		if b.Status == BatchComplete || b.Status == BatchRunning || b.Status == BatchPending {
			for _, id := range b.TaskIDs {
				seen[id]++
			}
		}
	}
	for id, count := range seen {
		if count > 1 {
			return fmt.Errorf("task %s appears in more than one non-failed batch", id)
		}
	}
	return nil
}
