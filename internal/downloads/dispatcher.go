package downloads

import "go.uber.org/zap"

// Observer is told the outcome of every dispatched event.
type Observer func(ev Event, outcome Outcome)

// Dispatcher applies backend lifecycle events to a Registry, routing each
// event's backend id through the Registry's Correlator.
type Dispatcher struct {
	reg       *Registry
	corr      *Correlator
	log       *zap.SugaredLogger
	observers []Observer
}

// NewDispatcher creates a Dispatcher for reg.
func NewDispatcher(reg *Registry, log *zap.SugaredLogger, observers ...Observer) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		reg:       reg,
		corr:      reg.Correlator(),
		log:       log,
		observers: observers,
	}
}

// Dispatch applies a single event. Events the Registry cannot apply are not
// errors: they come back as OutcomeIgnored or OutcomeDropped.
func (d *Dispatcher) Dispatch(ev Event) Outcome {
	id := d.corr.Resolve(ev.BackendID)

	var outcome Outcome
	switch ev.Type {
	case EventInstallStart:
		outcome = d.installStart(id, ev)
	case EventDownloadProgress:
		outcome = d.reg.UpdateProgress(id, ev.Percent, ev.ReceivedBytes, ev.TotalBytes)
	case EventExtractStart:
		outcome = d.reg.MarkExtracting(id)
	case EventExtractComplete:
		// Sizes are reset to the processing marker until install-success.
		outcome = d.reg.updateProgress(id, StateExtracting, 100, 0, 0)
	case EventInstallSuccess:
		_, outcome = d.reg.Complete(id, ev.ModName, ev.FolderPath)
	case EventInstallError:
		_, outcome = d.reg.Fail(id, ev.Error)
	default:
		outcome = OutcomeDropped
	}

	switch outcome {
	case OutcomeDropped:
		d.log.Debugw("dropped event", "type", ev.Type, "backend_id", ev.BackendID, "id", id)
	case OutcomeIgnored:
		d.log.Debugw("ignored event", "type", ev.Type, "backend_id", ev.BackendID, "id", id)
	}
	for _, obs := range d.observers {
		obs(ev, outcome)
	}
	return outcome
}

func (d *Dispatcher) installStart(id string, ev Event) Outcome {
	// A record without a backend id could never be addressed again.
	if ev.BackendID == "" {
		return OutcomeDropped
	}
	if d.corr.Buried(id) {
		return OutcomeIgnored
	}
	newID, created := d.reg.begin(ev.SourceURL, id)
	if created {
		return OutcomeApplied
	}
	// The UI already created this record and the backend adopted its id.
	if rec, ok := d.reg.Get(newID); ok && rec.BackendID == "" && ev.BackendID != "" && !rec.State.IsTerminal() {
		if err := d.reg.Correlate(newID, ev.BackendID); err != nil {
			d.log.Warnw("could not correlate install-start", "id", newID, "backend_id", ev.BackendID, "err", err)
		}
	}
	return OutcomeIgnored
}
