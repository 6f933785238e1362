package monitor

import (
	"slices"
	"sync"
)

// ProcessTracker is the set of app pids currently believed alive.
// It is safe for concurrent use.
type ProcessTracker struct {
	mu   sync.RWMutex
	pids map[int]struct{}
}

// NewProcessTracker creates an empty tracker.
func NewProcessTracker() *ProcessTracker {
	return &ProcessTracker{pids: make(map[int]struct{})}
}

// Start marks pid as active. Starting an active pid is a no-op.
func (t *ProcessTracker) Start(pid int) {
	t.mu.Lock()
	t.pids[pid] = struct{}{}
	t.mu.Unlock()
}

// End marks pid as gone. Ending an unknown pid is a no-op.
func (t *ProcessTracker) End(pid int) {
	t.mu.Lock()
	delete(t.pids, pid)
	t.mu.Unlock()
}

// IsActive reports whether pid is in the active set.
func (t *ProcessTracker) IsActive(pid int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.pids[pid]
	return ok
}

// Active returns the active pids in ascending order.
func (t *ProcessTracker) Active() []int {
	t.mu.RLock()
	pids := make([]int, 0, len(t.pids))
	for pid := range t.pids {
		pids = append(pids, pid)
	}
	t.mu.RUnlock()
	slices.Sort(pids)
	return pids
}

// Len returns the number of active pids.
func (t *ProcessTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pids)
}
