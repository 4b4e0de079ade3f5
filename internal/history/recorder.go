package history

import (
	"sync"

	"go.uber.org/zap"

	"github.com/battlewithbytes/modstore/internal/downloads"
)

// recorderQueue bounds how many finished records may wait for the writer.
const recorderQueue = 128

// Recorder writes finished records to a Store off the caller's goroutine,
// so it can be registered as a Registry OnFinished hook.
type Recorder struct {
	store *Store
	keep  int
	log   *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	queue  chan downloads.Record
	done   chan struct{}
}

// NewRecorder starts a writer for store. After each write the table is
// pruned to keep entries when keep > 0.
func NewRecorder(store *Store, keep int, log *zap.SugaredLogger) *Recorder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Recorder{
		store: store,
		keep:  keep,
		log:   log,
		queue: make(chan downloads.Record, recorderQueue),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Hook enqueues rec. It never blocks; when the queue is full the record is
// dropped and a warning logged. Records offered after Close are ignored.
func (r *Recorder) Hook(rec downloads.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.log.Warnw("history queue full, dropping record", "id", rec.ID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		if err := r.store.Record(rec); err != nil {
			r.log.Warnw("could not record history", "id", rec.ID, "err", err)
			continue
		}
		if r.keep > 0 {
			if _, err := r.store.Prune(r.keep); err != nil {
				r.log.Warnw("could not prune history", "err", err)
			}
		}
	}
}

// Close drains pending records.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
