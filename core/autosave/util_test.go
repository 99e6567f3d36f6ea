package autosave

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

type workEntry struct {
	Company  string `json:"company"`
	Position string `json:"position"`
}

// manualClock only moves when Step is called. Due AfterFunc callbacks run synchronously on the caller.
type manualClock struct {
	clock.RealClock

	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clk: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Step advances the clock by d and runs the callbacks of the timers that became due, in order.
func (c *manualClock) Step(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, pending []*manualTimer
	for _, t := range c.timers {
		if t.stopped {
			continue
		}
		if !t.at.After(c.now) {
			t.stopped = true
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Armed returns the number of timers waiting to fire.
func (c *manualClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type manualTimer struct {
	clk     *manualClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *manualTimer) C() <-chan time.Time {
	return nil
}

func (t *manualTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (t *manualTimer) Reset(d time.Duration) bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = false
	t.at = t.clk.now.Add(d)
	if !wasActive {
		t.clk.timers = append(t.clk.timers, t)
	}
	return wasActive
}

// fakeGateway is an in-memory Gateway recording every write.
type fakeGateway struct {
	mu      sync.Mutex
	rows    map[string]Row[workEntry] // by owner
	finds   int
	writes  []workEntry
	failErr error
	// gate, when set, is called before a write is applied, outside the lock.
	gate func(doc workEntry)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{rows: make(map[string]Row[workEntry])}
}

func (g *fakeGateway) FindOwnerRow(_ context.Context, ownerID string) (*Row[workEntry], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finds++
	row, ok := g.rows[ownerID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (g *fakeGateway) InsertRow(_ context.Context, ownerID string, doc workEntry, at time.Time) (Row[workEntry], error) {
	g.wait(doc)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes = append(g.writes, doc)
	if g.failErr != nil {
		return Row[workEntry]{}, g.failErr
	}
	if _, ok := g.rows[ownerID]; ok {
		return Row[workEntry]{}, ErrDuplicateOwner
	}
	row := Row[workEntry]{ID: uuid.NewString(), OwnerID: ownerID, Document: doc, CreatedAt: at, UpdatedAt: at}
	g.rows[ownerID] = row
	return row, nil
}

func (g *fakeGateway) UpdateRow(_ context.Context, rowID string, doc workEntry, at time.Time) (Row[workEntry], error) {
	g.wait(doc)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes = append(g.writes, doc)
	if g.failErr != nil {
		return Row[workEntry]{}, g.failErr
	}
	for owner, row := range g.rows {
		if row.ID == rowID {
			row.Document = doc
			row.UpdatedAt = at
			g.rows[owner] = row
			return row, nil
		}
	}
	return Row[workEntry]{}, ErrRowNotFound
}

func (g *fakeGateway) wait(doc workEntry) {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		gate(doc)
	}
}

func (g *fakeGateway) setFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failErr = err
}

func (g *fakeGateway) setGate(gate func(doc workEntry)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = gate
}

func (g *fakeGateway) Writes() []workEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]workEntry(nil), g.writes...)
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finds + len(g.writes)
}

func (g *fakeGateway) Stored(ownerID string) (workEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[ownerID]
	return row.Document, ok
}

const (
	testOwner = "owner-1"
	quiet     = 600 * time.Millisecond
)

func newTestController(gw Gateway[workEntry], clk *manualClock, hooks ...Hook) *Controller[workEntry] {
	return NewController[workEntry](gw, testOwner, Options{
		Kind:          "work_entries",
		QuietInterval: quiet,
		Clock:         clk,
		Hooks:         hooks,
	})
}

func mustKey(v interface{}) string {
	key, err := Canonicalize(v)
	if err != nil {
		panic(err)
	}
	return key
}
