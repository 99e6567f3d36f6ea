package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func setCompany(name string) func(*workEntry) error {
	return func(w *workEntry) error {
		w.Company = name
		return nil
	}
}

func TestController_FlushTwiceIsIdempotent(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	ctrl := newTestController(gw, clk)
	if err := ctrl.Hydrate(workEntry{}, false); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if err := ctrl.Update(setCompany("Acme")); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	ctx := context.Background()
	assert.NoError(t, ctrl.Flush(ctx))
	assert.NoError(t, ctrl.Flush(ctx))

	assert.Len(t, gw.Writes(), 1)
	assert.False(t, ctrl.Dirty())
	assert.Equal(t, StateClean, ctrl.State())
}

func TestController_DebounceCoalescesEdits(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	ctrl := newTestController(gw, clk)
	_ = ctrl.Hydrate(workEntry{}, false)

	for _, name := range []string{"A", "Ac", "Acm", "Acme", "Acme Inc"} {
		if err := ctrl.Update(setCompany(name)); err != nil {
			t.Fatalf("Update(%q) error = %v", name, err)
		}
		assert.Equal(t, StateDirtyPending, ctrl.State())
		clk.Step(quiet / 3)
	}
	assert.Empty(t, gw.Writes())
	assert.Equal(t, 1, clk.Armed())

	clk.Step(quiet)
	assert.Equal(t, []workEntry{{Company: "Acme Inc"}}, gw.Writes())
	assert.Equal(t, StateClean, ctrl.State())
	assert.Equal(t, 0, clk.Armed())
}

// outcomeRecorder collects the save outcomes reported to hooks.
type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *outcomeRecorder) Notify(ev Event) {
	if ev.Outcome == "" {
		return
	}
	r.mu.Lock()
	r.outcomes = append(r.outcomes, ev.Outcome)
	r.mu.Unlock()
}

func (r *outcomeRecorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

// gateCompany blocks writes of company until the returned release func is called.
func gateCompany(gw *fakeGateway, company string) (started <-chan struct{}, release func()) {
	startedCh := make(chan struct{})
	releaseCh := make(chan struct{})
	var startOnce, releaseOnce sync.Once
	gw.setGate(func(doc workEntry) {
		if doc.Company == company {
			startOnce.Do(func() { close(startedCh) })
			<-releaseCh
		}
	})
	return startedCh, func() { releaseOnce.Do(func() { close(releaseCh) }) }
}

func TestController_FlushWaitsForSaveInFlight(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	rec := new(outcomeRecorder)
	ctrl := newTestController(gw, clk, rec)
	_ = ctrl.Hydrate(workEntry{}, false)
	started, release := gateCompany(gw, "A")
	defer release()

	_ = ctrl.Update(setCompany("A"))
	errA := make(chan error, 1)
	go func() { errA <- ctrl.Flush(context.Background()) }()
	<-started
	assert.Equal(t, StateSaving, ctrl.State())

	_ = ctrl.Update(setCompany("B"))
	assert.Equal(t, StateDirtyAgain, ctrl.State())
	errB := make(chan error, 1)
	go func() { errB <- ctrl.Flush(context.Background()) }()

	select {
	case err := <-errB:
		t.Fatalf("Flush() returned %v while a save was in flight", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, gw.Writes())

	release()
	assert.NoError(t, <-errA)
	assert.NoError(t, <-errB)

	assert.Equal(t, []workEntry{{Company: "A"}, {Company: "B"}}, gw.Writes())
	stored, _ := gw.Stored(testOwner)
	assert.Equal(t, workEntry{Company: "B"}, stored)
	assert.Equal(t, mustKey(workEntry{Company: "B"}), ctrl.LastSavedKey())
	assert.Equal(t, StateClean, ctrl.State())
	assert.Equal(t, []Outcome{OutcomeSaved, OutcomeSaved}, rec.Outcomes())
}

func TestController_TeardownDuringTimerSaveKeepsLastEdit(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	ctrl := newTestController(gw, clk)
	_ = ctrl.Hydrate(workEntry{}, false)
	started, release := gateCompany(gw, "A")
	defer release()

	_ = ctrl.Update(setCompany("A"))
	stepped := make(chan struct{})
	go func() {
		clk.Step(quiet) // the timer flush blocks on the gate
		close(stepped)
	}()
	<-started

	_ = ctrl.Update(setCompany("B"))
	closed := make(chan error, 1)
	go func() { closed <- ctrl.OnLifecycle(context.Background(), TriggerTeardown) }()

	release()
	<-stepped
	assert.NoError(t, <-closed)

	stored, ok := gw.Stored(testOwner)
	assert.True(t, ok)
	assert.Equal(t, workEntry{Company: "B"}, stored)
	assert.Equal(t, mustKey(workEntry{Company: "B"}), ctrl.LastSavedKey())
	assert.False(t, ctrl.Dirty())
	assert.Equal(t, StateClean, ctrl.State())
}

func TestController_HydrateDiscardsSaveInFlight(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	rec := new(outcomeRecorder)
	ctrl := newTestController(gw, clk, rec)
	_ = ctrl.Hydrate(workEntry{}, false)
	started, release := gateCompany(gw, "A")
	defer release()

	_ = ctrl.Update(setCompany("A"))
	done := make(chan error, 1)
	go func() { done <- ctrl.Flush(context.Background()) }()
	<-started

	server := workEntry{Company: "Server", Position: "Lead"}
	assert.NoError(t, ctrl.Hydrate(server, true))
	release()
	assert.NoError(t, <-done)

	assert.Equal(t, server, ctrl.Document())
	assert.Equal(t, mustKey(server), ctrl.LastSavedKey())
	assert.False(t, ctrl.Dirty())
	assert.Equal(t, StateClean, ctrl.State())
	assert.Equal(t, []Outcome{OutcomeDiscarded}, rec.Outcomes())
}

func TestController_FlushGivesUpWaitingOnContext(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	ctrl := newTestController(gw, clk)
	_ = ctrl.Hydrate(workEntry{}, false)
	started, release := gateCompany(gw, "A")
	defer release()

	_ = ctrl.Update(setCompany("A"))
	done := make(chan error, 1)
	go func() { done <- ctrl.Flush(context.Background()) }()
	<-started

	_ = ctrl.Update(setCompany("B"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ctrl.ForceFlush(ctx)
	if errors.Cause(err) != context.DeadlineExceeded {
		t.Errorf("ForceFlush() error = %v, wantErr %v", err, context.DeadlineExceeded)
	}
	assert.True(t, ctrl.Dirty())

	release()
	assert.NoError(t, <-done)
	assert.Equal(t, []workEntry{{Company: "A"}}, gw.Writes())
}

func TestController_EditDuringSaveStaysDirty(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	ctrl := newTestController(gw, clk)
	_ = ctrl.Hydrate(workEntry{}, false)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gw.setGate(func(doc workEntry) {
		if doc.Company == "A" {
			once.Do(func() { close(started) })
			<-release
		}
	})

	_ = ctrl.Update(setCompany("A"))
	done := make(chan error, 1)
	go func() { done <- ctrl.Flush(context.Background()) }()
	<-started

	_ = ctrl.Update(func(w *workEntry) error {
		w.Position = "Engineer"
		return nil
	})
	close(release)
	assert.NoError(t, <-done)

	// the save confirmed {A, ""} but the position edit is still pending
	assert.True(t, ctrl.Dirty())
	assert.Equal(t, StateDirtyPending, ctrl.State())
	assert.Equal(t, mustKey(workEntry{Company: "A"}), ctrl.LastSavedKey())

	clk.Step(quiet)
	stored, _ := gw.Stored(testOwner)
	assert.Equal(t, workEntry{Company: "A", Position: "Engineer"}, stored)
	assert.False(t, ctrl.Dirty())
}

func TestController_NoSaveAfterHydrate(t *testing.T) {
	tests := []struct {
		name      string
		persisted bool
	}{
		{name: "defaults", persisted: false},
		{name: "persisted row", persisted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, clk := newFakeGateway(), newManualClock()
			ctrl := newTestController(gw, clk)
			if err := ctrl.Hydrate(workEntry{Company: "Prefilled"}, tt.persisted); err != nil {
				t.Fatalf("Hydrate() error = %v", err)
			}
			clk.Step(10 * quiet)

			assert.Equal(t, 0, gw.Calls())
			assert.Equal(t, StateClean, ctrl.State())
			assert.NoError(t, ctrl.ForceFlush(context.Background()))
			assert.Equal(t, 0, gw.Calls())
		})
	}
}

func TestController_HydratedSnapshotSkipsUnchangedSave(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	ctrl := newTestController(gw, clk)
	_ = ctrl.Hydrate(workEntry{Company: "Acme"}, true)

	// edit and revert before the timer fires
	_ = ctrl.Update(setCompany("Acme Corp"))
	_ = ctrl.Update(setCompany("Acme"))
	clk.Step(quiet)

	assert.Equal(t, 0, gw.Calls())
	assert.False(t, ctrl.Dirty())
}

func TestController_ForcedFlushOnLifecycle(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		closed  bool
	}{
		{name: "navigate", trigger: TriggerNavigate},
		{name: "background", trigger: TriggerBackground},
		{name: "teardown", trigger: TriggerTeardown, closed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, clk := newFakeGateway(), newManualClock()
			ctrl := newTestController(gw, clk)
			_ = ctrl.Hydrate(workEntry{}, false)
			_ = ctrl.Update(setCompany("Acme"))
			clk.Step(quiet / 2)

			if err := ctrl.OnLifecycle(context.Background(), tt.trigger); err != nil {
				t.Errorf("OnLifecycle() error = %v", err)
			}
			assert.Equal(t, []workEntry{{Company: "Acme"}}, gw.Writes())

			clk.Step(quiet)
			assert.Len(t, gw.Writes(), 1)

			err := ctrl.Update(setCompany("Later"))
			if tt.closed {
				assert.Equal(t, ErrClosed, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestController_ForceFlushWhenCleanIsNoop(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	ctrl := newTestController(gw, clk)
	_ = ctrl.Hydrate(workEntry{}, false)

	assert.NoError(t, ctrl.OnLifecycle(context.Background(), TriggerNavigate))
	assert.NoError(t, ctrl.Close(context.Background()))
	assert.Equal(t, 0, gw.Calls())
}

func TestController_FailureLeavesDirtyWithoutRetryTimer(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	var failures []error
	hook := HookFunc(func(ev Event) {
		if ev.Outcome == OutcomeFailed {
			failures = append(failures, ev.Err)
		}
	})
	ctrl := newTestController(gw, clk, hook)
	_ = ctrl.Hydrate(workEntry{}, false)

	errBackend := errors.New("backend unavailable")
	gw.setFailure(errBackend)
	_ = ctrl.Update(setCompany("Acme"))
	clk.Step(quiet)

	assert.Len(t, gw.Writes(), 1)
	assert.True(t, ctrl.Dirty())
	assert.Equal(t, StateUnsaved, ctrl.State())
	assert.Equal(t, errBackend, errors.Cause(ctrl.Err()))
	assert.Equal(t, 0, clk.Armed())
	assert.Len(t, failures, 1)

	// no automatic retry
	clk.Step(10 * quiet)
	assert.Len(t, gw.Writes(), 1)

	// a forced flush reports the failure and the transition goes on
	err := ctrl.OnLifecycle(context.Background(), TriggerNavigate)
	assert.Equal(t, errBackend, errors.Cause(err))
	assert.True(t, ctrl.Dirty())

	// the next edit is the retry
	gw.setFailure(nil)
	_ = ctrl.Update(func(w *workEntry) error {
		w.Position = "Engineer"
		return nil
	})
	clk.Step(quiet)
	stored, ok := gw.Stored(testOwner)
	assert.True(t, ok)
	assert.Equal(t, workEntry{Company: "Acme", Position: "Engineer"}, stored)
	assert.False(t, ctrl.Dirty())
	assert.NoError(t, ctrl.Err())
}

func TestController_EndToEnd(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	ctrl := newTestController(gw, clk)
	_ = ctrl.Hydrate(workEntry{Company: "", Position: ""}, false)

	_ = ctrl.SetField("company", json.RawMessage(`"Acme"`))
	clk.Step(quiet + time.Millisecond)
	assert.Equal(t, []workEntry{{Company: "Acme", Position: ""}}, gw.Writes())

	_ = ctrl.SetField("position", json.RawMessage(`"Engineer"`))
	if err := ctrl.OnLifecycle(context.Background(), TriggerTeardown); err != nil {
		t.Fatalf("OnLifecycle(teardown) error = %v", err)
	}
	clk.Step(10 * quiet)

	assert.Equal(t, []workEntry{
		{Company: "Acme", Position: ""},
		{Company: "Acme", Position: "Engineer"},
	}, gw.Writes())
	stored, _ := gw.Stored(testOwner)
	assert.Equal(t, workEntry{Company: "Acme", Position: "Engineer"}, stored)
}

func TestController_DocumentIsACopy(t *testing.T) {
	type withList struct {
		Skills []string `json:"skills"`
	}
	ctrl := NewController[withList](nil, testOwner, Options{Clock: newManualClock()})
	_ = ctrl.Hydrate(withList{Skills: []string{"go"}}, true)

	doc := ctrl.Document()
	doc.Skills[0] = "mutated"
	assert.Equal(t, []string{"go"}, ctrl.Document().Skills)
}

func TestController_UpdateErrorLeavesDocument(t *testing.T) {
	gw, clk := newFakeGateway(), newManualClock()
	ctrl := newTestController(gw, clk)
	_ = ctrl.Hydrate(workEntry{Company: "Acme"}, true)

	errBad := errors.New("bad edit")
	err := ctrl.Update(func(w *workEntry) error {
		w.Company = "half-applied"
		return errBad
	})
	assert.Equal(t, errBad, err)
	assert.Equal(t, workEntry{Company: "Acme"}, ctrl.Document())
	assert.False(t, ctrl.Dirty())
	assert.Equal(t, 0, clk.Armed())
}

func TestController_SetFieldUnknown(t *testing.T) {
	ctrl := newTestController(newFakeGateway(), newManualClock())
	_ = ctrl.Hydrate(workEntry{}, false)

	err := ctrl.SetField("salary", json.RawMessage(`1`))
	assert.Equal(t, ErrUnknownField, errors.Cause(err))
	assert.False(t, ctrl.Dirty())
}

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		in      string
		want    Trigger
		wantErr bool
	}{
		{in: "navigate", want: TriggerNavigate},
		{in: " Background ", want: TriggerBackground},
		{in: "TEARDOWN", want: TriggerTeardown},
		{in: "reload", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTrigger(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTrigger() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "dirty_again", StateDirtyAgain.String())
	assert.Equal(t, "unknown", State(42).String())
}
