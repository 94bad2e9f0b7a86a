// Package ledger implements the Task Ledger (spec.md §4.2): a
// content-addressed record of previously completed tasks, letting future
// runs skip work whose fingerprint already merged successfully.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/anthropics/mycelium-executor/internal/fileutil"
)

// Status is the outcome a ledger entry records.
type Status string

const (
	StatusComplete Status = "complete"
	StatusSkipped  Status = "skipped"
)

// Entry is one ledger record, keyed by TaskID.
type Entry struct {
	TaskID                  string    `json:"task_id"`
	Fingerprint             string    `json:"fingerprint"`
	Status                  Status    `json:"status"`
	MergeCommit             string    `json:"merge_commit"`
	IntegrationDoctorPassed bool      `json:"integration_doctor_passed"`
	CompletedAt             time.Time `json:"completed_at"`
	RunID                   string    `json:"run_id"`
	Source                  string    `json:"source"`
}

// Ledger is the in-memory view of a project's ledger.json file.
type Ledger struct {
	path    string
	entries map[string]Entry
}

// Load reads a project's ledger file, treating a missing file as empty.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]Entry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}
	var list []Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing ledger %s: %w", path, err)
	}
	for _, e := range list {
		l.entries[e.TaskID] = e
	}
	return l, nil
}

// Lookup returns the entry for a task id, and whether it was present.
func (l *Ledger) Lookup(taskID string) (Entry, bool) {
	e, ok := l.entries[taskID]
	return e, ok
}

// Upsert replaces any prior entry for entry.TaskID and writes the ledger
// atomically (temp+rename), matching the store contract spec.md §4.2 requires.
func (l *Ledger) Upsert(entry Entry) error {
	l.entries[entry.TaskID] = entry
	return l.flush()
}

func (l *Ledger) flush() error {
	list := make([]Entry, 0, len(l.entries))
	// Deterministic order (by task id) so upsertLedger(E); upsertLedger(E)
	// yields byte-identical output (spec.md §8 idempotence law).
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		list = append(list, l.entries[id])
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(l.path, append(data, '\n'), 0644)
}
