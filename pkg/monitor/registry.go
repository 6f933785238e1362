package monitor

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/modoterra/droidwatch/pkg/core"
)

// ErrClosed is returned when registering on a closed registry.
var ErrClosed = errors.New("listener registry closed")

// Listener receives captured stack traces.
type Listener interface {
	StackTrace(trace core.Trace)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(trace core.Trace)

// StackTrace calls f(trace).
func (f ListenerFunc) StackTrace(trace core.Trace) { f(trace) }

// ListenerID identifies a registration.
type ListenerID string

type registration struct {
	id       ListenerID
	listener Listener
	removed  atomic.Bool
}

// Registry is the set of trace listeners for one session. It is safe for
// concurrent use; registrations may change while a dispatch is running.
type Registry struct {
	mu     sync.RWMutex
	regs   []*registration
	closed bool
	logger *slog.Logger
	panics atomic.Int64
	active atomic.Int32 // dispatches in progress
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Add registers l and returns its handle.
func (r *Registry) Add(l Listener) (ListenerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	reg := &registration{id: ListenerID(uuid.NewString()), listener: l}
	r.regs = append(r.regs, reg)
	return reg.id, nil
}

// Remove unregisters id and reports whether it was registered.
//
// Dispatch checks each listener's removed flag immediately before calling
// it. Every dispatch that reaches the listener after Remove returns skips
// it, including the dispatch Remove was called from. A dispatch running on
// another goroutine that already passed the check still makes that one
// call, so at most one call per concurrent Dispatch can land after Remove
// returns. Sessions dispatch from a single goroutine, which bounds this to
// one trace, and only when Remove races that exact delivery.
func (r *Registry) Remove(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.regs {
		if reg.id == id {
			reg.removed.Store(true)
			r.regs = append(r.regs[:i:i], r.regs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// Clear unregisters every listener.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

// Close clears the registry and refuses further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.clearLocked()
}

func (r *Registry) clearLocked() {
	for _, reg := range r.regs {
		reg.removed.Store(true)
	}
	r.regs = nil
}

// Dispatch delivers trace to every listener registered when the dispatch
// started and not removed since. It returns how many listeners ran.
func (r *Registry) Dispatch(trace core.Trace) int {
	r.mu.RLock()
	if r.closed || len(r.regs) == 0 {
		r.mu.RUnlock()
		return 0
	}
	regs := make([]*registration, len(r.regs))
	copy(regs, r.regs)
	r.mu.RUnlock()

	r.active.Add(1)
	defer r.active.Add(-1)

	delivered := 0
	for _, reg := range regs {
		if reg.removed.Load() {
			continue
		}
		if r.invoke(reg, trace) {
			delivered++
		}
	}
	return delivered
}

// Dispatching reports whether a Dispatch is delivering to listeners.
func (r *Registry) Dispatching() bool {
	return r.active.Load() > 0
}

// Panics returns how many listener invocations panicked.
func (r *Registry) Panics() int {
	return int(r.panics.Load())
}

func (r *Registry) invoke(reg *registration, trace core.Trace) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.logger.Error("listener panicked", "listener", reg.id, "serial", trace.Serial, "panic", p)
			ok = false
		}
	}()
	reg.listener.StackTrace(trace)
	return true
}
