package monitor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modoterra/droidwatch/pkg/core"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(testLogger())
	a, b := newTraceRecorder(), newTraceRecorder()
	mustAdd(t, r, a)
	mustAdd(t, r, b)

	trace := core.Trace{Serial: "dev", PID: 1, Lines: []string{"x"}}
	if n := r.Dispatch(trace); n != 2 {
		t.Errorf("Dispatch delivered to %d listeners, want 2", n)
	}
	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Errorf("each listener should get exactly one trace: %d, %d", len(a.all()), len(b.all()))
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(testLogger())
	rec := newTraceRecorder()
	id := mustAdd(t, r, rec)

	if !r.Remove(id) {
		t.Fatal("expected Remove to find the listener")
	}
	if r.Remove(id) {
		t.Error("second Remove should report false")
	}
	r.Dispatch(core.Trace{})
	if len(rec.all()) != 0 {
		t.Error("removed listener received a trace")
	}
}

func TestRegistryRemoveDuringDispatch(t *testing.T) {
	r := NewRegistry(testLogger())
	late := newTraceRecorder()
	var lateID ListenerID

	var selfID ListenerID
	selfCalls := 0
	selfID = mustAdd(t, r, ListenerFunc(func(core.Trace) {
		selfCalls++
		r.Remove(selfID)
		r.Remove(lateID)
	}))
	lateID = mustAdd(t, r, late)

	r.Dispatch(core.Trace{})
	r.Dispatch(core.Trace{})

	if selfCalls != 1 {
		t.Errorf("self-removing listener called %d times, want 1", selfCalls)
	}
	if n := len(late.all()); n != 0 {
		t.Errorf("listener removed mid-dispatch still received %d traces", n)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistryAddDuringDispatch(t *testing.T) {
	r := NewRegistry(testLogger())
	added := newTraceRecorder()
	once := sync.Once{}
	mustAdd(t, r, ListenerFunc(func(core.Trace) {
		once.Do(func() { mustAdd(t, r, added) })
	}))

	r.Dispatch(core.Trace{PID: 1})
	if len(added.all()) != 0 {
		t.Error("listener added during dispatch must not get the in-flight trace")
	}
	r.Dispatch(core.Trace{PID: 2})
	got := added.all()
	if len(got) != 1 || got[0].PID != 2 {
		t.Errorf("expected only the next trace, got %+v", got)
	}
}

func TestRegistryPanicIsolation(t *testing.T) {
	r := NewRegistry(testLogger())
	before, after := newTraceRecorder(), newTraceRecorder()
	mustAdd(t, r, before)
	mustAdd(t, r, ListenerFunc(func(core.Trace) { panic("listener bug") }))
	mustAdd(t, r, after)

	if n := r.Dispatch(core.Trace{}); n != 2 {
		t.Errorf("expected 2 successful deliveries, got %d", n)
	}
	if len(before.all()) != 1 || len(after.all()) != 1 {
		t.Error("healthy listeners must still receive the trace")
	}
	if r.Panics() != 1 {
		t.Errorf("Panics() = %d, want 1", r.Panics())
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(testLogger())
	rec := newTraceRecorder()
	mustAdd(t, r, rec)

	r.Close()
	if r.Len() != 0 {
		t.Error("Close should drop listeners")
	}
	if n := r.Dispatch(core.Trace{}); n != 0 {
		t.Errorf("closed registry delivered to %d listeners", n)
	}
	if _, err := r.Add(rec); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after Close = %v, want ErrClosed", err)
	}
}

func TestRegistryClearKeepsOpen(t *testing.T) {
	r := NewRegistry(testLogger())
	mustAdd(t, r, newTraceRecorder())
	r.Clear()
	if r.Len() != 0 {
		t.Error("Clear should drop listeners")
	}
	mustAdd(t, r, newTraceRecorder())
	if r.Len() != 1 {
		t.Error("registry should accept listeners after Clear")
	}
}

// Removal racing with dispatch: once Remove has returned, the listener must
// not be entered again.
func TestRegistryRemoveFromAnotherGoroutine(t *testing.T) {
	r := NewRegistry(testLogger())

	entered := make(chan struct{})
	release := make(chan struct{})
	mustAdd(t, r, ListenerFunc(func(core.Trace) {
		close(entered)
		<-release
	}))
	later := newTraceRecorder()
	laterID := mustAdd(t, r, later)

	done := make(chan int)
	go func() { done <- r.Dispatch(core.Trace{}) }()

	<-entered
	if !r.Dispatching() {
		t.Error("Dispatching should report the running dispatch")
	}
	// The dispatch copied laterID into its snapshot but has not reached it.
	if !r.Remove(laterID) {
		t.Fatal("Remove reported laterID as unknown")
	}
	close(release)

	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("delivered = %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not finish")
	}
	if n := len(later.all()); n != 0 {
		t.Errorf("listener removed before the dispatch reached it got %d traces", n)
	}
	if r.Dispatching() {
		t.Error("Dispatching should be false once dispatch returns")
	}
}

func TestRegistryConcurrentRemove(t *testing.T) {
	r := NewRegistry(testLogger())

	var removed atomic.Bool
	var lateCalls atomic.Int64
	id := mustAdd(t, r, ListenerFunc(func(core.Trace) {
		if removed.Load() {
			lateCalls.Add(1)
		}
	}))
	for range 4 {
		mustAdd(t, r, ListenerFunc(func(core.Trace) {}))
	}

	const dispatchers = 4
	var rounds [dispatchers]atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := range dispatchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					r.Dispatch(core.Trace{})
					rounds[i].Add(1)
				}
			}
		}()
	}

	for range 100 {
		extra := mustAdd(t, r, ListenerFunc(func(core.Trace) {}))
		r.Remove(extra)
	}
	r.Remove(id)
	removed.Store(true)

	// Wait until every dispatcher has finished the dispatch it was in when
	// Remove returned and then one more complete dispatch.
	var seen [dispatchers]int64
	for i := range dispatchers {
		seen[i] = rounds[i].Load()
	}
	deadline := time.Now().Add(5 * time.Second)
	for i := range dispatchers {
		for rounds[i].Load() < seen[i]+2 {
			if time.Now().After(deadline) {
				t.Fatal("dispatchers stalled")
			}
			time.Sleep(time.Millisecond)
		}
	}
	settled := lateCalls.Load()

	for range 100 {
		r.Dispatch(core.Trace{})
	}
	close(stop)
	wg.Wait()

	// Only a dispatch that passed the removed check before Remove returned
	// may still call the listener: at most one per dispatcher.
	if settled > dispatchers {
		t.Errorf("removed listener entered %d times after Remove returned", settled)
	}
	if n := lateCalls.Load(); n != settled {
		t.Errorf("removed listener called %d more times by later dispatches", n-settled)
	}
}
