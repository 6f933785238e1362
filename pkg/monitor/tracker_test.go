package monitor

import (
	"slices"
	"sync"
	"testing"
)

func TestTrackerStartIdempotent(t *testing.T) {
	tr := NewProcessTracker()
	tr.Start(100)
	tr.Start(100)
	if tr.Len() != 1 {
		t.Errorf("expected one membership, got %d", tr.Len())
	}
	if !tr.IsActive(100) {
		t.Error("expected 100 to be active")
	}
}

func TestTrackerEnd(t *testing.T) {
	tr := NewProcessTracker()
	tr.End(42) // unknown pid
	if tr.Len() != 0 {
		t.Errorf("ending an unknown pid changed the set: %v", tr.Active())
	}

	tr.Start(42)
	tr.End(42)
	if tr.IsActive(42) {
		t.Error("expected 42 to be inactive after End")
	}
	tr.End(42)
	if tr.Len() != 0 {
		t.Errorf("expected empty set, got %v", tr.Active())
	}
}

func TestTrackerActiveSorted(t *testing.T) {
	tr := NewProcessTracker()
	for _, pid := range []int{30, 10, 20} {
		tr.Start(pid)
	}
	if got := tr.Active(); !slices.Equal(got, []int{10, 20, 30}) {
		t.Errorf("Active() = %v", got)
	}
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewProcessTracker()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pid := range 100 {
				tr.Start(i*1000 + pid)
				tr.IsActive(pid)
				tr.Active()
			}
		}()
	}
	wg.Wait()
	if tr.Len() != 800 {
		t.Errorf("expected 800 pids, got %d", tr.Len())
	}
}
