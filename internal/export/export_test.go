package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nobreak/internal/snapshot"
)

// Mixed directory, retention_days=90, now=2026-02-15T00:00:00Z. Cutoff
// day is 2025-11-17; only nobreak-2025-11-16.jsonl should be removed.
func TestPruneRetainsExactCutoffAndIgnoresUnmatched(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"nobreak-2025-11-16.jsonl",
		"nobreak-2025-11-17.jsonl",
		"nobreak-2026-02-15.jsonl",
		"notes.txt",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0o644))
	}

	now := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, Prune(dir, 90, now))

	remaining := map[string]bool{}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		remaining[e.Name()] = true
	}

	require.False(t, remaining["nobreak-2025-11-16.jsonl"], "strictly older than cutoff must be removed")
	require.True(t, remaining["nobreak-2025-11-17.jsonl"], "exactly at cutoff must be kept")
	require.True(t, remaining["nobreak-2026-02-15.jsonl"])
	require.True(t, remaining["notes.txt"], "non-matching files must never be touched")
}

func TestWriterRotatesOnDayChangeAndWritesLatest(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 90)
	require.NoError(t, err)
	defer w.Close()

	day1 := time.Date(2026, 2, 14, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 15, 0, 1, 0, 0, time.UTC)

	snap1 := snapshot.Snapshot{TS: day1, Device: snapshot.Device{ID: "cdc:/dev/ttyACM0", Connected: true}}
	snap2 := snapshot.Snapshot{TS: day2, Device: snapshot.Device{ID: "cdc:/dev/ttyACM0", Connected: true}}

	require.NoError(t, w.Write(snap1))
	require.NoError(t, w.Write(snap2))

	_, err = os.Stat(filepath.Join(dir, "nobreak-2026-02-14.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "nobreak-2026-02-15.jsonl"))
	require.NoError(t, err)

	latest, err := os.ReadFile(filepath.Join(dir, "latest.json"))
	require.NoError(t, err)
	require.Contains(t, string(latest), "cdc:/dev/ttyACM0")
}
