package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)
	_, ok := l.Lookup("t1")
	assert.False(t, ok)
}

func TestUpsertAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path)
	require.NoError(t, err)

	entry := Entry{
		TaskID:                  "t1",
		Fingerprint:             "abc123",
		Status:                  StatusComplete,
		MergeCommit:             "deadbeef",
		IntegrationDoctorPassed: true,
		CompletedAt:             time.Now().UTC(),
		RunID:                   "run-1",
		Source:                  "batch_engine",
	}
	require.NoError(t, l.Upsert(entry))

	got, ok := l.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, entry.Fingerprint, got.Fingerprint)
	assert.Equal(t, entry.Status, got.Status)

	// Reloading from disk should see the same entry.
	reloaded, err := Load(path)
	require.NoError(t, err)
	got2, ok := reloaded.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, entry.Fingerprint, got2.Fingerprint)
}

func TestUpsertReplacesPriorEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, l.Upsert(Entry{TaskID: "t1", Fingerprint: "v1", Status: StatusComplete}))
	require.NoError(t, l.Upsert(Entry{TaskID: "t1", Fingerprint: "v2", Status: StatusSkipped}))

	got, ok := l.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Fingerprint)
	assert.Equal(t, StatusSkipped, got.Status)

	reloaded, err := Load(path)
	require.NoError(t, err)
	all := reloaded.entries
	assert.Len(t, all, 1)
}

func TestFlushIsDeterministicByTaskID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, l.Upsert(Entry{TaskID: "zzz", Status: StatusComplete}))
	require.NoError(t, l.Upsert(Entry{TaskID: "aaa", Status: StatusComplete}))

	data1, err := os.ReadFile(path)
	require.NoError(t, err)

	// Re-upsert the same entries in a different order; output bytes must match.
	l2, err := Load(filepath.Join(t.TempDir(), "other.json"))
	require.NoError(t, err)
	require.NoError(t, l2.Upsert(Entry{TaskID: "aaa", Status: StatusComplete}))
	require.NoError(t, l2.Upsert(Entry{TaskID: "zzz", Status: StatusComplete}))
	data2, err := os.ReadFile(l2.path)
	require.NoError(t, err)

	assert.Equal(t, data1, data2)
}
