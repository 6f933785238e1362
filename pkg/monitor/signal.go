package monitor

import (
	"regexp"
	"strconv"

	"github.com/modoterra/droidwatch/pkg/logcat"
)

// Signal numbers acted upon.
const (
	SignalQuit = 3
	SignalKill = 9
)

// I/Process ( 9213): Sending signal. PID: 9213 SIG: 9
var signalPattern = regexp.MustCompile(`PID:\s+(\d+)\s+SIG:\s+(\d+)`)

// Signal is a process-management event reported in the log.
type Signal struct {
	PID    int
	Number int
}

// ParseSignal extracts the first "PID: <n> SIG: <n>" pair from msg.
func ParseSignal(msg string) (Signal, bool) {
	m := signalPattern.FindStringSubmatch(msg)
	if m == nil {
		return Signal{}, false
	}
	pid, err := strconv.Atoi(m[1])
	if err != nil {
		return Signal{}, false
	}
	num, err := strconv.Atoi(m[2])
	if err != nil {
		return Signal{}, false
	}
	return Signal{PID: pid, Number: num}, true
}

// SignalInterpreter acts on entries from the OS process manager.
type SignalInterpreter struct {
	tracker *ProcessTracker
	flush   func(pid int)
}

// NewSignalInterpreter wires signal 9 to tracker.End and signal 3 to flush.
func NewSignalInterpreter(tracker *ProcessTracker, flush func(pid int)) *SignalInterpreter {
	return &SignalInterpreter{tracker: tracker, flush: flush}
}

// Interpret handles e if it is a process-manager entry carrying a signal.
// It returns the signal it acted on, if any.
func (si *SignalInterpreter) Interpret(e logcat.Entry) (Signal, bool) {
	if e.Tag != TagProcess {
		return Signal{}, false
	}
	sig, ok := ParseSignal(e.Message)
	if !ok {
		return Signal{}, false
	}
	switch sig.Number {
	case SignalKill:
		si.tracker.End(sig.PID)
	case SignalQuit:
		si.flush(sig.PID)
	default:
		return Signal{}, false
	}
	return sig, true
}
