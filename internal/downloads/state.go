package downloads

// State is the lifecycle state of an installation record.
type State string

// Installation states. completed, failed and cancelled are terminal.
const (
	StateDownloading State = "downloading"
	StateExtracting  State = "extracting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// transitions is the full table of legal state changes. Anything not listed
// is rejected by the Registry.
var transitions = map[State][]State{
	StateDownloading: {StateExtracting, StateCompleted, StateFailed, StateCancelled},
	StateExtracting:  {StateCompleted, StateFailed, StateCancelled},
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
