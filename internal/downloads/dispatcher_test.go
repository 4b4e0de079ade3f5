package downloads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchBackendInitiatedFailure(t *testing.T) {
	reg, sched, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	assert.Equal(t, OutcomeApplied, d.Dispatch(Event{Type: EventInstallStart, BackendID: "bk9", SourceURL: "http://y/z.7z"}))
	rec, ok := reg.Get("bk9")
	require.True(t, ok)
	assert.Equal(t, "z.7z", rec.DisplayName)
	assert.Equal(t, StateDownloading, rec.State)

	assert.Equal(t, OutcomeApplied, d.Dispatch(Event{Type: EventInstallError, BackendID: "bk9", Error: "disk full"}))
	rec, _ = reg.Get("bk9")
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, "disk full", rec.ErrorDetail)
	assert.Len(t, reg.Snapshot().Active, 1)

	sched.Advance(DefaultFailureRetention)
	assert.Empty(t, reg.Snapshot().Active)
}

func TestDispatchFallbackForUnknownSuccess(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)
	reg.Begin("http://x/mod.zip", "")

	assert.Equal(t, OutcomeFallback, d.Dispatch(Event{Type: EventInstallSuccess, BackendID: "unknown-123", ModName: "M"}))

	snap := reg.Snapshot()
	require.Len(t, snap.Completed, 1)
	assert.Equal(t, "d1", snap.Completed[0].ID)
	assert.Equal(t, "M", snap.Completed[0].DisplayName)
}

func TestDispatchUnknownProgressIsDropped(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)
	reg.Begin("http://x/mod.zip", "")

	assert.Equal(t, OutcomeDropped, d.Dispatch(Event{Type: EventDownloadProgress, BackendID: "ghost", Percent: 90}))
	assert.Equal(t, OutcomeDropped, d.Dispatch(Event{Type: EventExtractStart, BackendID: "ghost"}))

	rec, _ := reg.Get("d1")
	assert.Equal(t, 0.0, rec.ProgressPercent)
	assert.Equal(t, StateDownloading, rec.State)
}

func TestDispatchAdoptsUIMintedID(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)
	id := reg.Begin("http://x/mod.zip", "")

	assert.Equal(t, OutcomeIgnored, d.Dispatch(Event{Type: EventInstallStart, BackendID: id, SourceURL: "http://x/mod.zip"}))
	assert.Len(t, reg.Snapshot().Active, 1)
	rec, _ := reg.Get(id)
	assert.Equal(t, id, rec.BackendID)

	assert.Equal(t, OutcomeApplied, d.Dispatch(Event{Type: EventDownloadProgress, BackendID: id, Percent: 50, ReceivedBytes: 500, TotalBytes: 1000}))
	rec, _ = reg.Get(id)
	assert.Equal(t, 50.0, rec.ProgressPercent)
}

func TestDispatchRoutesCorrelatedBackendID(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)
	id := reg.Begin("http://x/mod.zip", "")
	require.NoError(t, reg.Correlate(id, "bk7"))

	assert.Equal(t, OutcomeIgnored, d.Dispatch(Event{Type: EventInstallStart, BackendID: "bk7"}))
	assert.Equal(t, OutcomeApplied, d.Dispatch(Event{Type: EventExtractStart, BackendID: "bk7"}))
	assert.Equal(t, OutcomeApplied, d.Dispatch(Event{Type: EventInstallSuccess, BackendID: "bk7", ModName: "Cool Mod", FolderPath: "/mods/cool"}))

	snap := reg.Snapshot()
	assert.Empty(t, snap.Active)
	require.Len(t, snap.Completed, 1)
	assert.Equal(t, id, snap.Completed[0].ID)
	assert.Equal(t, "/mods/cool", snap.Completed[0].InstalledPath)
}

func TestDispatchExtractComplete(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)
	d.Dispatch(Event{Type: EventInstallStart, BackendID: "bk1", SourceURL: "http://x/a.zip"})
	d.Dispatch(Event{Type: EventDownloadProgress, BackendID: "bk1", Percent: 60, ReceivedBytes: 6, TotalBytes: 10})

	assert.Equal(t, OutcomeIgnored, d.Dispatch(Event{Type: EventExtractComplete, BackendID: "bk1"}))

	d.Dispatch(Event{Type: EventExtractStart, BackendID: "bk1"})
	assert.Equal(t, OutcomeApplied, d.Dispatch(Event{Type: EventExtractComplete, BackendID: "bk1"}))
	rec, _ := reg.Get("bk1")
	assert.Equal(t, StateExtracting, rec.State)
	assert.Equal(t, 100.0, rec.ProgressPercent)
	assert.Equal(t, int64(0), rec.BytesTotal)
}

func TestDispatchIgnoresRestartOfCancelledID(t *testing.T) {
	reg, sched, canc := newTestRegistry(t)
	d := NewDispatcher(reg, nil)
	d.Dispatch(Event{Type: EventInstallStart, BackendID: "bk1", SourceURL: "http://x/a.zip"})
	require.True(t, reg.Cancel("bk1"))
	assert.Equal(t, []string{"bk1"}, canc.Calls())

	sched.Advance(DefaultCancelRetention)
	assert.Equal(t, OutcomeIgnored, d.Dispatch(Event{Type: EventInstallStart, BackendID: "bk1", SourceURL: "http://x/a.zip"}))
	assert.Equal(t, OutcomeDropped, d.Dispatch(Event{Type: EventDownloadProgress, BackendID: "bk1", Percent: 10}))
	assert.Equal(t, OutcomeDropped, d.Dispatch(Event{Type: EventInstallSuccess, BackendID: "bk1"}))
	assert.False(t, reg.Snapshot().Visible)
}

func TestDispatchNotifiesObservers(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	var seen []Outcome
	d := NewDispatcher(reg, nil, func(_ Event, o Outcome) { seen = append(seen, o) })

	d.Dispatch(Event{Type: EventInstallStart, BackendID: "bk1"})
	d.Dispatch(Event{Type: EventInstallSuccess, BackendID: "bk1"})
	d.Dispatch(Event{Type: EventInstallSuccess, BackendID: "bk1"})
	d.Dispatch(Event{Type: "bogus"})

	assert.Equal(t, []Outcome{OutcomeApplied, OutcomeApplied, OutcomeIgnored, OutcomeDropped}, seen)
}

func TestDispatchInstallStartBeforeInstallReturns(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)
	id := reg.Begin("http://x/mod.zip", "")

	// The backend picked its own id and reported it before Install returned.
	assert.Equal(t, OutcomeApplied, d.Dispatch(Event{Type: EventInstallStart, BackendID: "B7", SourceURL: "http://x/mod.zip"}))
	require.NoError(t, reg.Correlate(id, "B7"))

	assert.Equal(t, OutcomeApplied, d.Dispatch(Event{Type: EventInstallSuccess, BackendID: "B7", ModName: "Cool Mod"}))

	snap := reg.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Equal(t, 0, snap.ActiveCount)
	require.Len(t, snap.Completed, 1)
	assert.Equal(t, id, snap.Completed[0].ID)
	assert.Equal(t, "Cool Mod", snap.Completed[0].DisplayName)
}

func TestDispatchInstallStartWithoutBackendIDIsDropped(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	assert.Equal(t, OutcomeDropped, d.Dispatch(Event{Type: EventInstallStart, SourceURL: "http://x/mod.zip"}))
	ev, err := DecodeEvent([]byte(`{"type":"install-start","sourceUrl":"http://x/mod.zip"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, d.Dispatch(ev))

	snap := reg.Snapshot()
	assert.Empty(t, snap.Active)
	assert.False(t, snap.Visible)
}
