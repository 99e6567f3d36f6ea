package autosave

import (
	"time"
)

// Outcome of a flush attempt.
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeSkipped   Outcome = "skipped"   // nothing changed since the last save
	OutcomeFailed    Outcome = "failed"    // the gateway returned an error
	OutcomeDiscarded Outcome = "discarded" // a newer flush started before this one completed
)

// Event describes a state transition or a flush outcome.
// Outcome is empty for plain state transitions.
type Event struct {
	Kind    string
	OwnerID string
	State   State
	Outcome Outcome
	Seq     uint64
	Err     error
	At      time.Time
}

// Hook receives controller events. Hooks run outside the controller lock, on the
// goroutine that caused the event, and must not block for long.
type Hook interface {
	Notify(event Event)
}

// HookFunc allows plain functions to satisfy Hook.
type HookFunc func(event Event)

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(event Event) {
	if fn == nil {
		return
	}
	fn(event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []Hook

func (h Hooks) Notify(event Event) {
	for _, hook := range h {
		if hook == nil {
			continue
		}
		hook.Notify(event)
	}
}
