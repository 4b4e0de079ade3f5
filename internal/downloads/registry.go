// Package downloads tracks mod installations driven by the Installer Backend.
//
// The Registry is the single source of truth for in-flight and recently
// finished installs. The Correlator routes backend ids onto Registry ids and
// the Dispatcher applies backend lifecycle events through both.
package downloads

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default retention windows for terminal records.
const (
	DefaultFailureRetention = 5 * time.Second
	DefaultCancelRetention  = 2 * time.Second
)

// ErrUnknownRecord is returned by operations that require a live record.
var ErrUnknownRecord = errors.New("unknown download")

// Canceller asks the Installer Backend to abort a transfer. Implementations
// must not block.
type Canceller interface {
	Cancel(backendID string)
}

// Outcome describes what an id-addressed operation did.
type Outcome string

const (
	// OutcomeApplied means the record addressed by the id changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the record exists but the precondition failed.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFallback means the id was unknown and the change was applied
	// to the most recently created active record.
	OutcomeFallback Outcome = "fallback"
	// OutcomeDropped means there was nothing to apply the change to.
	OutcomeDropped Outcome = "dropped"
)

type recordSet int

const (
	setActive recordSet = iota
	setCompleted
	setCancelled
)

type entry struct {
	rec   Record
	set   recordSet
	timer Timer
}

// Registry owns every installation record. All mutation goes through its
// methods; each one is applied atomically and followed by exactly one change
// notification.
type Registry struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	records   map[string]*entry
	seq       uint64
	nextLocal uint64
	version   uint64

	subs    map[int]func(Snapshot)
	nextSub int

	corr             *Correlator
	sched            Scheduler
	canceller        Canceller
	now              func() time.Time
	log              *zap.SugaredLogger
	failureRetention time.Duration
	cancelRetention  time.Duration
	onFinished       []func(Record)
}

// Option configures a Registry.
type Option func(*Registry)

// WithCorrelator shares an existing Correlator with the Registry.
func WithCorrelator(c *Correlator) Option {
	return func(r *Registry) { r.corr = c }
}

// WithScheduler replaces the timer source used for retention windows.
func WithScheduler(s Scheduler) Option {
	return func(r *Registry) { r.sched = s }
}

// WithCanceller sets where cancellation requests are forwarded.
func WithCanceller(c Canceller) Option {
	return func(r *Registry) { r.canceller = c }
}

// WithRetention overrides how long failed and cancelled records stay visible.
func WithRetention(failure, cancel time.Duration) Option {
	return func(r *Registry) {
		r.failureRetention = failure
		r.cancelRetention = cancel
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Registry) { r.log = l }
}

// OnFinished registers a hook run once per record when it reaches a
// terminal state. Hooks run after the mutation is committed, in order, and
// must not call back into the Registry.
func OnFinished(fn func(Record)) Option {
	return func(r *Registry) { r.onFinished = append(r.onFinished, fn) }
}

type noopCanceller struct{}

func (noopCanceller) Cancel(string) {}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		records:          make(map[string]*entry),
		subs:             make(map[int]func(Snapshot)),
		sched:            RealScheduler{},
		canceller:        noopCanceller{},
		now:              time.Now,
		log:              zap.NewNop().Sugar(),
		failureRetention: DefaultFailureRetention,
		cancelRetention:  DefaultCancelRetention,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.corr == nil {
		r.corr = NewCorrelator()
	}
	return r
}

// Correlator returns the id correlator the Registry evicts from.
func (r *Registry) Correlator() *Correlator {
	return r.corr
}

// Begin creates a downloading record and returns its id. A non-empty
// explicitID is a backend-originated id and is used verbatim; otherwise a
// fresh local id is minted. Calling Begin twice with the same explicit id
// returns the existing record's id without creating another.
func (r *Registry) Begin(sourceURL, explicitID string) string {
	id, _ := r.begin(sourceURL, explicitID)
	return id
}

func (r *Registry) begin(sourceURL, explicitID string) (string, bool) {
	r.mu.Lock()
	id := explicitID
	if id == "" {
		id = r.mintLocked()
	} else if _, ok := r.records[id]; ok {
		r.mu.Unlock()
		return id, false
	}

	r.seq++
	e := &entry{
		rec: Record{
			ID:          id,
			SourceURL:   sourceURL,
			DisplayName: nameFromURL(sourceURL),
			State:       StateDownloading,
			StartedAt:   r.now(),
			seq:         r.seq,
		},
		set: setActive,
	}
	if explicitID != "" {
		e.rec.BackendID = explicitID
		if err := r.corr.Bind(explicitID, id); err != nil {
			r.log.Warnw("could not bind backend id", "id", id, "err", err)
		}
	}
	r.records[id] = e
	r.log.Debugw("download started", "id", id, "url", sourceURL)
	r.commitLocked(nil)
	return id, true
}

// Expect tracks an install the backend accepted under backendID before its
// install-start arrives, so a display name known up front is shown from the
// start. A later install-start for backendID finds the record and is
// ignored. Cancelled backend ids are not revived.
func (r *Registry) Expect(sourceURL, backendID, displayName string) (string, Outcome) {
	if backendID == "" {
		return "", OutcomeDropped
	}
	if r.corr.Buried(backendID) {
		return "", OutcomeIgnored
	}
	id := r.corr.Resolve(backendID)
	if id == backendID {
		id, _ = r.begin(sourceURL, backendID)
	}
	if displayName == "" {
		return id, OutcomeApplied
	}
	return id, r.Rename(id, displayName)
}

// Rename replaces the display name of a non-terminal record.
func (r *Registry) Rename(id, displayName string) Outcome {
	r.mu.Lock()
	e, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return OutcomeDropped
	}
	if displayName == "" || e.rec.State.IsTerminal() {
		r.mu.Unlock()
		return OutcomeIgnored
	}
	e.rec.DisplayName = displayName
	r.commitLocked(nil)
	return OutcomeApplied
}

func (r *Registry) mintLocked() string {
	for {
		r.nextLocal++
		id := "d" + strconv.FormatUint(r.nextLocal, 10)
		if _, taken := r.records[id]; !taken && !r.corr.Buried(id) {
			return id
		}
	}
}

// Correlate records backendID as the backend's id for the live record id.
// A record's backend id is set once; re-correlating with the same value is a
// no-op.
//
// If the backend already reported install-start under backendID, that
// record is folded into id so the install is tracked once, under id.
func (r *Registry) Correlate(id, backendID string) error {
	r.mu.Lock()
	e, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("correlate %q: %w", id, ErrUnknownRecord)
	}
	if e.rec.BackendID == backendID {
		r.mu.Unlock()
		return nil
	}
	if e.rec.BackendID != "" {
		cur := e.rec.BackendID
		r.mu.Unlock()
		return fmt.Errorf("correlate %q with %q (has %q): %w", id, backendID, cur, ErrAlreadyBound)
	}
	if dup, ok := r.records[backendID]; ok && dup != e && dup.rec.BackendID == backendID &&
		r.corr.Resolve(backendID) == backendID && e.set == setActive && !e.rec.State.IsTerminal() {
		r.mergeLocked(e, dup)
		r.commitLocked(nil)
		return nil
	}
	if err := r.corr.Bind(backendID, id); err != nil {
		r.mu.Unlock()
		return err
	}
	e.rec.BackendID = backendID
	r.commitLocked(nil)
	return nil
}

// mergeLocked moves the backend-created record dup into e. e keeps its id
// and creation order; everything the backend has reported so far comes
// from dup.
func (r *Registry) mergeLocked(e, dup *entry) {
	backendID := dup.rec.ID
	r.stopTimerLocked(dup)
	delete(r.records, backendID)
	r.corr.Forget(backendID)

	e.rec.BackendID = backendID
	e.rec.State = dup.rec.State
	e.rec.ProgressPercent = dup.rec.ProgressPercent
	e.rec.BytesReceived = dup.rec.BytesReceived
	e.rec.BytesTotal = dup.rec.BytesTotal
	e.rec.FinishedAt = dup.rec.clone().FinishedAt
	e.rec.ErrorDetail = dup.rec.ErrorDetail
	e.rec.InstalledPath = dup.rec.InstalledPath
	if dup.rec.State == StateCompleted {
		e.rec.DisplayName = dup.rec.DisplayName
	}
	e.set = dup.set
	if err := r.corr.Bind(backendID, e.rec.ID); err != nil {
		r.log.Warnw("could not rebind merged backend id", "id", e.rec.ID, "backend_id", backendID, "err", err)
	}

	switch e.rec.State {
	case StateFailed:
		r.scheduleEvictionLocked(e, r.failureRetention)
	case StateCancelled:
		r.corr.Tombstone(e.rec.ID)
		r.scheduleEvictionLocked(e, r.cancelRetention)
	}
	r.log.Infow("merged backend download into local record", "id", e.rec.ID, "backend_id", backendID, "state", e.rec.State)
}

// UpdateProgress overwrites the progress fields of a non-terminal record.
// Progress is not required to be monotonic; the last write wins.
func (r *Registry) UpdateProgress(id string, percent float64, received, total int64) Outcome {
	return r.updateProgress(id, "", percent, received, total)
}

// updateProgress is UpdateProgress restricted to records in state want, or
// to any non-terminal record when want is empty.
func (r *Registry) updateProgress(id string, want State, percent float64, received, total int64) Outcome {
	r.mu.Lock()
	e, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return OutcomeDropped
	}
	if e.rec.State.IsTerminal() || (want != "" && e.rec.State != want) {
		r.mu.Unlock()
		return OutcomeIgnored
	}
	e.rec.ProgressPercent = clampPercent(percent)
	e.rec.BytesReceived = max(received, 0)
	e.rec.BytesTotal = max(total, 0)
	r.commitLocked(nil)
	return OutcomeApplied
}

// MarkExtracting moves a downloading record to extracting.
func (r *Registry) MarkExtracting(id string) Outcome {
	r.mu.Lock()
	e, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return OutcomeDropped
	}
	if e.rec.State != StateDownloading || !r.transitionLocked(e, StateExtracting) {
		r.mu.Unlock()
		return OutcomeIgnored
	}
	r.commitLocked(nil)
	return OutcomeApplied
}

// Complete finishes a record successfully and moves it to the completed set.
// A non-empty displayName replaces the URL-derived name. If id is not a live
// record, the completion goes to the most recently created active record.
// It returns the id that was completed, if any.
func (r *Registry) Complete(id, displayName, installedPath string) (string, Outcome) {
	r.mu.Lock()
	e, outcome := r.targetLocked(id)
	if e == nil || !r.transitionLocked(e, StateCompleted) {
		if e != nil {
			outcome = OutcomeIgnored
		}
		r.mu.Unlock()
		return "", outcome
	}
	if outcome == OutcomeFallback {
		r.log.Warnw("completion for unknown id applied to latest active download", "id", id, "target", e.rec.ID)
	}
	finished := r.now()
	e.rec.FinishedAt = &finished
	e.rec.ProgressPercent = 100
	if e.rec.BytesTotal > 0 {
		e.rec.BytesReceived = e.rec.BytesTotal
	}
	if displayName != "" {
		e.rec.DisplayName = displayName
	}
	if installedPath != "" {
		e.rec.InstalledPath = installedPath
	}
	e.set = setCompleted
	r.stopTimerLocked(e)
	r.log.Infow("download completed", "id", e.rec.ID, "name", e.rec.DisplayName, "path", e.rec.InstalledPath)
	target := e.rec.ID
	r.commitLocked(e)
	return target, outcome
}

// Fail marks a record failed with errorDetail. The record stays in the
// active set for the failure retention window and is then evicted. Unknown
// ids fall back like Complete.
func (r *Registry) Fail(id, errorDetail string) (string, Outcome) {
	r.mu.Lock()
	e, outcome := r.targetLocked(id)
	if e == nil || !r.transitionLocked(e, StateFailed) {
		if e != nil {
			outcome = OutcomeIgnored
		}
		r.mu.Unlock()
		return "", outcome
	}
	if outcome == OutcomeFallback {
		r.log.Warnw("failure for unknown id applied to latest active download", "id", id, "target", e.rec.ID)
	}
	finished := r.now()
	e.rec.FinishedAt = &finished
	e.rec.ErrorDetail = errorDetail
	r.scheduleEvictionLocked(e, r.failureRetention)
	r.log.Infow("download failed", "id", e.rec.ID, "error", errorDetail)
	target := e.rec.ID
	r.commitLocked(e)
	return target, outcome
}

// Cancel marks a record cancelled and removes it from the active set at
// once; it stays listed as cancelled for the cancel retention window. The
// backend is always asked to abort, whether or not the record is known
// locally, and the Registry never waits for an acknowledgment. It reports
// whether a live record was cancelled.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	backendID := id
	e, ok := r.records[id]
	if ok && e.rec.BackendID != "" {
		backendID = e.rec.BackendID
	}
	cancelled := ok && r.transitionLocked(e, StateCancelled)
	if cancelled {
		finished := r.now()
		e.rec.FinishedAt = &finished
		e.set = setCancelled
		r.corr.Tombstone(id)
		if backendID != id {
			r.corr.Tombstone(backendID)
		}
		r.scheduleEvictionLocked(e, r.cancelRetention)
		r.log.Infow("download cancelled", "id", id)
		r.commitLocked(e)
	} else {
		r.mu.Unlock()
	}

	r.canceller.Cancel(backendID)
	return cancelled
}

// ClearCompleted purges completed records together with any terminal
// records still waiting out a retention window. It returns how many records
// were removed.
func (r *Registry) ClearCompleted() int {
	r.mu.Lock()
	n := 0
	for id, e := range r.records {
		if !e.rec.State.IsTerminal() {
			continue
		}
		r.stopTimerLocked(e)
		delete(r.records, id)
		r.corr.Forget(id)
		n++
	}
	if n == 0 {
		r.mu.Unlock()
		return 0
	}
	r.commitLocked(nil)
	return n
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return e.rec.clone(), true
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every mutation. fn runs
// synchronously on the mutating goroutine and must not call back into the
// Registry; hand the snapshot off instead.
// The returned function unsubscribes.
func (r *Registry) Subscribe(fn func(Snapshot)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Close stops all pending retention timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.records {
		r.stopTimerLocked(e)
	}
}

// targetLocked finds the record a completion or failure for id applies to.
func (r *Registry) targetLocked(id string) (*entry, Outcome) {
	if e, ok := r.records[id]; ok {
		return e, OutcomeApplied
	}
	if r.corr.Buried(id) {
		return nil, OutcomeDropped
	}
	if e := r.latestActiveLocked(); e != nil {
		return e, OutcomeFallback
	}
	return nil, OutcomeDropped
}

func (r *Registry) latestActiveLocked() *entry {
	var latest *entry
	for _, e := range r.records {
		if e.set != setActive || e.rec.State.IsTerminal() {
			continue
		}
		if latest == nil || e.rec.seq > latest.rec.seq {
			latest = e
		}
	}
	return latest
}

func (r *Registry) transitionLocked(e *entry, to State) bool {
	if !CanTransition(e.rec.State, to) {
		return false
	}
	e.rec.State = to
	return true
}

func (r *Registry) scheduleEvictionLocked(e *entry, d time.Duration) {
	r.stopTimerLocked(e)
	e.timer = r.sched.AfterFunc(d, func() { r.evict(e) })
}

func (r *Registry) stopTimerLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// evict removes e if it is still the live record under its id.
func (r *Registry) evict(e *entry) {
	r.mu.Lock()
	id := e.rec.ID
	if cur, ok := r.records[id]; !ok || cur != e {
		r.mu.Unlock()
		return
	}
	e.timer = nil
	delete(r.records, id)
	r.corr.Forget(id)
	r.log.Debugw("download evicted", "id", id, "state", e.rec.State)
	r.commitLocked(nil)
}

// commitLocked publishes the mutation just applied. It must be called with
// r.mu held and releases it. Notifications are handed over under notifyMu
// before r.mu is released so subscribers observe mutations in order.
func (r *Registry) commitLocked(finished *entry) {
	r.version++
	snap := r.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(r.subs))
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, r.subs[id])
	}
	var done Record
	if finished != nil {
		done = finished.rec.clone()
	}

	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()

	if finished != nil {
		for _, fn := range r.onFinished {
			fn(done)
		}
	}
	for _, fn := range subs {
		fn(snap.clone())
	}
}

func (r *Registry) snapshotLocked() Snapshot {
	s := Snapshot{
		Version:   r.version,
		Active:    []Record{},
		Completed: []Record{},
		Cancelled: []Record{},
	}
	for _, e := range r.records {
		switch e.set {
		case setActive:
			s.Active = append(s.Active, e.rec.clone())
			if !e.rec.State.IsTerminal() {
				s.ActiveCount++
			}
		case setCompleted:
			s.Completed = append(s.Completed, e.rec.clone())
		case setCancelled:
			s.Cancelled = append(s.Cancelled, e.rec.clone())
		}
	}
	sort.Slice(s.Active, func(i, j int) bool { return s.Active[i].seq < s.Active[j].seq })
	sort.Slice(s.Cancelled, func(i, j int) bool { return s.Cancelled[i].seq < s.Cancelled[j].seq })
	sort.Slice(s.Completed, func(i, j int) bool {
		a, b := s.Completed[i], s.Completed[j]
		if !a.FinishedAt.Equal(*b.FinishedAt) {
			return a.FinishedAt.After(*b.FinishedAt)
		}
		return a.seq > b.seq
	})
	s.Visible = len(s.Active) > 0 || len(s.Completed) > 0
	return s
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.Active = append([]Record{}, s.Active...)
	c.Completed = append([]Record{}, s.Completed...)
	c.Cancelled = append([]Record{}, s.Cancelled...)
	for i := range c.Completed {
		c.Completed[i] = c.Completed[i].clone()
	}
	for i := range c.Active {
		c.Active[i] = c.Active[i].clone()
	}
	for i := range c.Cancelled {
		c.Cancelled[i] = c.Cancelled[i].clone()
	}
	return c
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
