package autosave

// State is the position of a Controller in the save cycle.
type State int

const (
	// StateClean means the document matches the last confirmed save.
	StateClean State = iota
	// StateDirtyPending means an edit is waiting for the debounce timer.
	StateDirtyPending
	// StateSaving means a save is in flight and no edit arrived since it started.
	StateSaving
	// StateDirtyAgain means an edit arrived while a save was in flight.
	StateDirtyAgain
	// StateUnsaved means the document is dirty and nothing is scheduled, e.g. after a failed save.
	StateUnsaved
)

var stateNames = [...]string{
	StateClean:        "clean",
	StateDirtyPending: "dirty_pending",
	StateSaving:       "saving",
	StateDirtyAgain:   "dirty_again",
	StateUnsaved:      "unsaved",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
