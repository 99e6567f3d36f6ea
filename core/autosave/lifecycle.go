package autosave

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Trigger is an event outside of editing that must persist pending edits before it completes.
type Trigger string

const (
	TriggerNavigate   Trigger = "navigate"
	TriggerBackground Trigger = "background"
	TriggerTeardown   Trigger = "teardown"
)

var ErrUnknownTrigger = errors.New("unknown lifecycle trigger")

// ParseTrigger parses a trigger name, case-insensitively.
func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(strings.ToLower(strings.TrimSpace(s))); t {
	case TriggerNavigate, TriggerBackground, TriggerTeardown:
		return t, nil
	}
	return "", errors.Wrapf(ErrUnknownTrigger, "%q", s)
}

// OnLifecycle force-flushes the controller for the given trigger and waits for the attempt.
// Teardown also closes the controller.
// A failed flush is returned but does not prevent the transition: the document stays dirty.
func (c *Controller[T]) OnLifecycle(ctx context.Context, trigger Trigger) error {
	switch trigger {
	case TriggerTeardown:
		return c.Close(ctx)
	case TriggerNavigate, TriggerBackground:
		return c.ForceFlush(ctx)
	}
	return errors.Wrapf(ErrUnknownTrigger, "%q", trigger)
}
