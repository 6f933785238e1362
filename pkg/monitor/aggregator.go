package monitor

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/modoterra/droidwatch/pkg/logcat"
)

// Aggregator buffers runtime error lines until a signal 3 flushes them.
type Aggregator struct {
	mode    BufferMode
	tracker *ProcessTracker
	echo    io.Writer

	mu     sync.Mutex
	shared []string
	byPID  map[int][]string
}

// NewAggregator creates an aggregator. Appended lines are echoed to echo.
func NewAggregator(mode BufferMode, tracker *ProcessTracker, echo io.Writer) *Aggregator {
	return &Aggregator{
		mode:    mode,
		tracker: tracker,
		echo:    echo,
		byPID:   make(map[int][]string),
	}
}

// IsTraceLine reports whether e belongs to a runtime stack trace,
// ignoring whether its process is active.
func IsTraceLine(e logcat.Entry) bool {
	return e.Tag == TagRuntime &&
		e.Severity == logcat.Error &&
		!strings.HasPrefix(e.Message, uncaughtPrefix)
}

// Append buffers e if it is a trace line from an active process.
func (a *Aggregator) Append(e logcat.Entry) bool {
	if !IsTraceLine(e) || !a.tracker.IsActive(e.PID) {
		return false
	}
	a.mu.Lock()
	if a.mode == BufferPerProcess {
		a.byPID[e.PID] = append(a.byPID[e.PID], e.Message)
	} else {
		a.shared = append(a.shared, e.Message)
	}
	a.mu.Unlock()

	if a.echo != nil {
		fmt.Fprintln(a.echo, e.Message)
	}
	return true
}

// Flush snapshots and clears the buffer for pid. In shared mode pid is
// ignored and the whole session buffer is drained. The returned slice is
// never nil and never aliased by the aggregator. ok is false when there
// was nothing buffered.
func (a *Aggregator) Flush(pid int) (lines []string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var buf []string
	if a.mode == BufferPerProcess {
		buf = a.byPID[pid]
		delete(a.byPID, pid)
	} else {
		buf = a.shared
		a.shared = nil
	}

	lines = make([]string, len(buf))
	copy(lines, buf)
	return lines, len(lines) > 0
}

// Pending returns how many lines are buffered across all pids.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.shared)
	for _, buf := range a.byPID {
		n += len(buf)
	}
	return n
}
