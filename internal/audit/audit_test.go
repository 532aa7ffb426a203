package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAppendsEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	trail := NewTrail(path)

	require.NoError(t, trail.Record(Entry{
		Action:       "rotation_completed",
		CredentialID: "ci/deploy-key",
		Token:        "tok-1",
		Outcome:      "success",
	}))
	require.NoError(t, trail.Record(Entry{
		Action:     "workflow_started",
		WorkflowID: "rot-tok-1",
		Outcome:    "waiting",
	}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, "rotation_completed", entries[0].Action)
	assert.Equal(t, "ci/deploy-key", entries[0].CredentialID)
	assert.NotEmpty(t, entries[0].Timestamp)
	assert.Equal(t, "rot-tok-1", entries[1].WorkflowID)
}

func TestRecordPreservesExplicitTimestamp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")
	trail := NewTrail(path)

	require.NoError(t, trail.Record(Entry{
		Timestamp: "2026-01-02T03:04:05Z",
		Action:    "rotation_failed",
		Outcome:   "failed",
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var e Entry
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "2026-01-02T03:04:05Z", e.Timestamp)
}

func TestDefaultPathHonorsOverride(t *testing.T) {
	t.Setenv("CREDROTATE_AUDIT_LOG", "/tmp/custom-audit.log")
	assert.Equal(t, "/tmp/custom-audit.log", DefaultPath())
}
