package monitor

import (
	"fmt"
	"io"

	"github.com/modoterra/droidwatch/pkg/logcat"
)

// Console mirrors the app's own stdout/stderr lines to local writers.
type Console struct {
	tracker *ProcessTracker
	stdout  io.Writer
	stderr  io.Writer
}

// NewConsole creates a console mirror.
func NewConsole(tracker *ProcessTracker, stdout, stderr io.Writer) *Console {
	return &Console{tracker: tracker, stdout: stdout, stderr: stderr}
}

// Mirror writes e's message if it is app console output from an active
// process. Everything else is dropped.
func (c *Console) Mirror(e logcat.Entry) bool {
	if e.Tag != TagStdout && e.Tag != TagStderr {
		return false
	}
	if !c.tracker.IsActive(e.PID) {
		return false
	}
	w := c.stdout
	if e.Severity.UseErrorStream() {
		w = c.stderr
	}
	fmt.Fprintln(w, e.Message)
	return true
}
