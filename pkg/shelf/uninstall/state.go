package uninstall

import "time"

// State is a step of an uninstall run.
type State string

// Uninstall states, in order. StateAborted is reachable from every
// non-terminal state.
const (
	StateValidating           State = "validating"
	StatePlanningRestoration  State = "planning_restoration"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateSnapshotCreated      State = "snapshot_created"
	StateRestoring            State = "restoring"
	StateCleaningUp           State = "cleaning_up"
	StateDone                 State = "done"
	StateAborted              State = "aborted"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Transition is one entry of a run's trace.
type Transition struct {
	From State     `json:"from" yaml:"from"`
	To   State     `json:"to" yaml:"to"`
	At   time.Time `json:"at" yaml:"at"`
	Note string    `json:"note,omitempty" yaml:"note,omitempty"`
}

// allowed lists the legal transitions.
var allowed = map[State][]State{
	StateValidating:           {StatePlanningRestoration},
	StatePlanningRestoration:  {StatePlanningRestoration, StateAwaitingConfirmation},
	StateAwaitingConfirmation: {StateSnapshotCreated, StateRestoring},
	StateSnapshotCreated:      {StateRestoring},
	StateRestoring:            {StateCleaningUp},
	StateCleaningUp:           {StateDone},
}

// Valid reports whether the move from one state to another is legal.
func Valid(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTrace reports the first illegal transition in trace, and whether
// Restoring was entered without a snapshot or an explicit skip. skipped
// says whether the snapshot was disabled for the run.
func CheckTrace(trace []Transition, skipped bool) (Transition, bool) {
	snap := false
	for _, t := range trace {
		if !Valid(t.From, t.To) {
			return t, false
		}
		if t.To == StateSnapshotCreated {
			snap = true
		}
		if t.To == StateRestoring && !snap && !skipped {
			return t, false
		}
	}
	return Transition{}, true
}
