package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battlewithbytes/modstore/internal/downloads"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func finished(id string, state downloads.State, at time.Time) downloads.Record {
	return downloads.Record{
		ID:          id,
		SourceURL:   "http://x/" + id + ".zip",
		DisplayName: id,
		State:       state,
		BytesTotal:  1000,
		StartedAt:   at.Add(-time.Minute),
		FinishedAt:  &at,
	}
}

func downloadIDs(entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.DownloadID)
	}
	return ids
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/history.db")
	assert.Error(t, err)
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ok := finished("d1", downloads.StateCompleted, base)
	ok.InstalledPath = "/mods/d1"
	failed := finished("bk9", downloads.StateFailed, base.Add(time.Second))
	failed.ErrorDetail = "disk full"

	require.NoError(t, s.Record(ok))
	require.NoError(t, s.Record(failed))

	entries, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bk9", entries[0].DownloadID)
	assert.Equal(t, "disk full", entries[0].ErrorDetail)
	assert.Equal(t, "/mods/d1", entries[1].InstalledPath)
	assert.Equal(t, downloads.StateCompleted, entries[1].State)
	assert.True(t, entries[1].FinishedAt.Equal(base), "finished_at = %v", entries[1].FinishedAt)

	entries, err = s.Recent(1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecentOrdersSubSecondTimestamps(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Whole seconds and fractions must compare by time, not by text length.
	require.NoError(t, s.Record(finished("whole", downloads.StateCompleted, base)))
	require.NoError(t, s.Record(finished("tenth", downloads.StateCompleted, base.Add(100*time.Millisecond))))
	require.NoError(t, s.Record(finished("next", downloads.StateCompleted, base.Add(time.Second))))
	require.NoError(t, s.Record(finished("early", downloads.StateCompleted, base.Add(-900*time.Millisecond))))

	entries, err := s.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"next", "tenth", "whole", "early"}, downloadIDs(entries))
	assert.True(t, entries[1].FinishedAt.Equal(base.Add(100*time.Millisecond)))

	n, err := s.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	entries, err = s.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"next", "tenth"}, downloadIDs(entries))
}

func TestRecordRejectsActive(t *testing.T) {
	s := newTestStore(t)
	rec := downloads.Record{ID: "d1", State: downloads.StateDownloading, StartedAt: time.Now()}
	assert.Error(t, s.Record(rec))
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Record(finished(id, downloads.StateCompleted, base.Add(time.Duration(i)*time.Second))))
	}

	n, err := s.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := s.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, downloadIDs(entries))
}

func TestRecorderWritesFinishedRecords(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecorder(s, 0, nil)
	reg := downloads.New(downloads.OnFinished(rec.Hook))
	defer reg.Close()

	reg.Begin("http://x/mod.zip", "")
	reg.Complete("d1", "Cool Mod", "/mods/cool")
	reg.Begin("http://x/other.zip", "")
	reg.Cancel("d2")
	rec.Close()

	entries, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	states := map[string]downloads.State{}
	for _, e := range entries {
		states[e.DownloadID] = e.State
	}
	assert.Equal(t, map[string]downloads.State{
		"d1": downloads.StateCompleted,
		"d2": downloads.StateCancelled,
	}, states)
}

func TestRecorderIgnoresHookAfterClose(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecorder(s, 0, nil)
	rec.Close()
	rec.Close()

	rec.Hook(finished("late", downloads.StateCompleted, time.Now()))

	entries, err := s.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
