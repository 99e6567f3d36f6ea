package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mitchellh/copystructure"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/trezcool/gakuten/core"
)

const (
	DefaultQuietInterval = 600 * time.Millisecond
	DefaultFlushTimeout  = 5 * time.Second
)

// ErrClosed is returned by mutators once the controller has been closed.
var ErrClosed = errors.New("autosave controller is closed")

var tracer = otel.Tracer("github.com/trezcool/gakuten/core/autosave")

type Options struct {
	Kind          string // label used in events, logs and spans (e.g. the table name)
	QuietInterval time.Duration
	FlushTimeout  time.Duration // bounds timer-driven and forced flushes without a deadline
	Clock         clock.WithDelayedExecution
	Logger        core.Logger
	Hooks         Hooks
}

func (o Options) withDefaults() Options {
	if o.QuietInterval <= 0 {
		o.QuietInterval = DefaultQuietInterval
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = DefaultFlushTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = core.NopLogger
	}
	return o
}

// Controller holds one owner's Document and persists it through a Gateway
// once edits pause for Options.QuietInterval.
//
// All methods are safe for concurrent use. Gateway calls happen outside the controller lock,
// so edits keep flowing while a save is in flight.
type Controller[T any] struct {
	gw      Gateway[T]
	ownerID string
	opts    Options

	saving chan struct{} // held for the duration of a gateway call

	mu        sync.Mutex
	doc       T
	dirty     bool
	editGen   uint64 // incremented on every mutation
	flushGen  uint64 // editGen captured by the latest started flush
	seq       uint64 // save sequence counter
	lastSaved string // canonical key of the last confirmed save; empty when unknown
	timer     clock.Timer
	timerGen  uint64
	inFlight  int
	closed    bool
	lastErr   error
	state     State
}

func NewController[T any](gw Gateway[T], ownerID string, opts Options) *Controller[T] {
	return &Controller[T]{
		gw:      gw,
		ownerID: ownerID,
		opts:    opts.withDefaults(),
		saving:  make(chan struct{}, 1),
	}
}

func (c *Controller[T]) OwnerID() string {
	return c.ownerID
}

// Hydrate loads doc without marking it dirty or scheduling a save.
// When persisted is true, doc is what the store holds and becomes the last-saved snapshot.
// The result of a save in flight at that point is discarded.
func (c *Controller[T]) Hydrate(doc T, persisted bool) error {
	doc, err := deepCopy(doc)
	if err != nil {
		return err
	}
	key := ""
	if persisted {
		if key, err = Canonicalize(doc); err != nil {
			return errors.Wrap(err, "canonicalizing document")
		}
	}

	c.mu.Lock()
	c.stopTimerLocked()
	c.seq++
	c.doc = doc
	c.dirty = false
	c.lastSaved = key
	c.lastErr = nil
	evs := c.transitionLocked()
	c.mu.Unlock()

	c.emit(evs...)
	return nil
}

// MarkDirty flags the document as changed. It does not schedule a save.
func (c *Controller[T]) MarkDirty() {
	c.mu.Lock()
	c.markDirtyLocked()
	evs := c.transitionLocked()
	c.mu.Unlock()

	c.emit(evs...)
}

func (c *Controller[T]) markDirtyLocked() {
	c.dirty = true
	c.editGen++
}

// ScheduleSave (re)arms the debounce timer if the document is dirty.
func (c *Controller[T]) ScheduleSave() {
	c.mu.Lock()
	c.scheduleLocked()
	evs := c.transitionLocked()
	c.mu.Unlock()

	c.emit(evs...)
}

func (c *Controller[T]) scheduleLocked() {
	if !c.dirty || c.closed {
		return
	}
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = c.opts.Clock.AfterFunc(c.opts.QuietInterval, func() { c.fire(gen) })
}

func (c *Controller[T]) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Controller[T]) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.closed {
		// superseded by a newer edit, a flush or Close
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FlushTimeout)
	defer cancel()
	_ = c.Flush(ctx) // failures are logged and reported to hooks
}

// Update applies fn to a copy of the document, stores the result, marks it dirty and re-arms the timer.
// fn runs under the controller lock and must not call back into the controller.
func (c *Controller[T]) Update(fn func(doc *T) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	next, err := deepCopy(c.doc)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err = fn(&next); err != nil {
		c.mu.Unlock()
		return err
	}
	c.doc = next
	c.markDirtyLocked()
	c.scheduleLocked()
	evs := c.transitionLocked()
	c.mu.Unlock()

	c.emit(evs...)
	return nil
}

// Replace swaps the whole document.
func (c *Controller[T]) Replace(doc T) error {
	doc, err := deepCopy(doc)
	if err != nil {
		return err
	}
	return c.Update(func(d *T) error {
		*d = doc
		return nil
	})
}

// SetField replaces one top-level field, addressed by its JSON name.
func (c *Controller[T]) SetField(name string, raw json.RawMessage) error {
	return c.Update(func(d *T) error {
		return SetField(d, name, raw)
	})
}

// Document returns a deep copy of the current document.
func (c *Controller[T]) Document() T {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := deepCopy(c.doc)
	if err != nil {
		c.opts.Logger.Error("autosave: copying document", err, c.logContext())
		return c.doc
	}
	return doc
}

func (c *Controller[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computeStateLocked()
}

func (c *Controller[T]) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// LastSavedKey returns the canonical key of the last confirmed save.
func (c *Controller[T]) LastSavedKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSaved
}

// Err returns the error of the last failed save, cleared by the next successful one.
func (c *Controller[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Flush persists the current document now, bypassing the debounce timer.
//
// Gateway calls of one controller never overlap: Flush first waits for the save in flight,
// then snapshots the document. When it equals the last-saved snapshot, the flush is a no-op.
// A completion superseded by Hydrate is discarded.
// On failure the document stays dirty and nothing is re-armed: the next edit or forced flush retries.
func (c *Controller[T]) Flush(ctx context.Context) error {
	select {
	case c.saving <- struct{}{}:
	default:
		select {
		case c.saving <- struct{}{}:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for the save in flight")
		}
	}
	defer func() { <-c.saving }()

	c.mu.Lock()
	c.stopTimerLocked()
	doc, err := deepCopy(c.doc)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	key, err := Canonicalize(doc)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, "canonicalizing document")
	}
	if key == c.lastSaved && c.inFlight == 0 {
		c.dirty = false
		evs := c.transitionLocked()
		evs = append(evs, c.outcomeLocked(OutcomeSkipped, c.seq, nil))
		c.mu.Unlock()

		c.emit(evs...)
		return nil
	}
	c.seq++
	mySeq := c.seq
	gen := c.editGen
	c.flushGen = gen
	c.inFlight++
	evs := c.transitionLocked()
	c.mu.Unlock()
	c.emit(evs...)

	ctx, span := tracer.Start(ctx, "autosave.Flush", trace.WithAttributes(
		attribute.String("autosave.kind", c.opts.Kind),
		attribute.String("autosave.owner_id", c.ownerID),
		attribute.Int64("autosave.seq", int64(mySeq)),
	))
	defer span.End()

	_, err = Upsert(ctx, c.gw, c.ownerID, doc, c.opts.Clock.Now().UTC())

	c.mu.Lock()
	c.inFlight--
	if mySeq != c.seq {
		evs = c.transitionLocked()
		evs = append(evs, c.outcomeLocked(OutcomeDiscarded, mySeq, err))
		c.mu.Unlock()

		span.SetAttributes(attribute.Bool("autosave.discarded", true))
		c.emit(evs...)
		return nil
	}
	if err != nil {
		c.lastErr = err
		evs = c.transitionLocked()
		evs = append(evs, c.outcomeLocked(OutcomeFailed, mySeq, err))
		c.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		c.opts.Logger.Error("autosave: save failed", err, c.logContext())
		c.emit(evs...)
		return errors.Wrap(err, "saving document")
	}
	c.lastSaved = key
	c.lastErr = nil
	if gen == c.editGen {
		c.dirty = false
	}
	evs = c.transitionLocked()
	evs = append(evs, c.outcomeLocked(OutcomeSaved, mySeq, nil))
	c.mu.Unlock()

	c.emit(evs...)
	return nil
}

// ForceFlush flushes immediately if the document is dirty and waits for the attempt.
// Without a deadline on ctx, the attempt is bounded by Options.FlushTimeout.
func (c *Controller[T]) ForceFlush(ctx context.Context) error {
	if !c.Dirty() {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FlushTimeout)
		defer cancel()
	}
	return c.Flush(ctx)
}

// Close stops the debounce timer, rejects further edits and force-flushes pending ones.
func (c *Controller[T]) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	evs := c.transitionLocked()
	c.mu.Unlock()

	c.emit(evs...)
	return c.ForceFlush(ctx)
}

func (c *Controller[T]) computeStateLocked() State {
	switch {
	case c.inFlight > 0 && c.editGen != c.flushGen:
		return StateDirtyAgain
	case c.inFlight > 0:
		return StateSaving
	case c.timer != nil:
		return StateDirtyPending
	case c.dirty:
		return StateUnsaved
	}
	return StateClean
}

// transitionLocked records the current state and returns an event if it changed.
func (c *Controller[T]) transitionLocked() []Event {
	s := c.computeStateLocked()
	if s == c.state {
		return nil
	}
	c.state = s
	return []Event{c.eventLocked("", c.seq, nil)}
}

func (c *Controller[T]) outcomeLocked(o Outcome, seq uint64, err error) Event {
	countOutcome(o)
	return c.eventLocked(o, seq, err)
}

func (c *Controller[T]) eventLocked(o Outcome, seq uint64, err error) Event {
	return Event{
		Kind:    c.opts.Kind,
		OwnerID: c.ownerID,
		State:   c.state,
		Outcome: o,
		Seq:     seq,
		Err:     err,
		At:      c.opts.Clock.Now(),
	}
}

func (c *Controller[T]) emit(evs ...Event) {
	if len(c.opts.Hooks) == 0 {
		return
	}
	for _, ev := range evs {
		c.opts.Hooks.Notify(ev)
	}
}

func (c *Controller[T]) logContext() map[string]interface{} {
	return map[string]interface{}{"kind": c.opts.Kind, "owner_id": c.ownerID}
}

func deepCopy[T any](v T) (T, error) {
	cp, err := copystructure.Copy(v)
	if err != nil {
		var zero T
		return zero, errors.Wrap(err, "copying document")
	}
	if cp == nil {
		var zero T
		return zero, nil
	}
	return cp.(T), nil
}
