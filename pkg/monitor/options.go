package monitor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Sentinel source tags.
const (
	TagLifecycle = "PROCESSING"
	TagProcess   = "Process"
	TagRuntime   = "AndroidRuntime"
	TagStdout    = "System.out"
	TagStderr    = "System.err"
)

// uncaughtPrefix starts the runtime's banner line printed ahead of a trace.
const uncaughtPrefix = "Uncaught handler"

// BufferMode selects how the Aggregator partitions buffered trace lines.
type BufferMode int

const (
	// BufferShared keeps one buffer for the whole session. Traces from two
	// processes crashing at the same time interleave.
	BufferShared BufferMode = iota
	// BufferPerProcess keys the buffer by pid; a flush for pid only drains
	// that pid's lines.
	BufferPerProcess
)

func (m BufferMode) String() string {
	switch m {
	case BufferShared:
		return "shared"
	case BufferPerProcess:
		return "per-process"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseBufferMode parses "shared" or "per-process". Empty means shared.
func ParseBufferMode(s string) (BufferMode, error) {
	switch s {
	case "", "shared":
		return BufferShared, nil
	case "per-process":
		return BufferPerProcess, nil
	default:
		return 0, fmt.Errorf("unknown trace buffer mode %q (want shared or per-process)", s)
	}
}

// InterruptPolicy decides what happens when a device command's wait is
// interrupted by context cancellation.
type InterruptPolicy int

const (
	// InterruptSwallow treats an interrupted command as neither success nor
	// failure: nothing is reported.
	InterruptSwallow InterruptPolicy = iota
	// InterruptReport surfaces the interruption like any other error.
	InterruptReport
)

func (p InterruptPolicy) String() string {
	switch p {
	case InterruptSwallow:
		return "swallow"
	case InterruptReport:
		return "report"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseInterruptPolicy parses "swallow" or "report". Empty means swallow.
func ParseInterruptPolicy(s string) (InterruptPolicy, error) {
	switch s {
	case "", "swallow":
		return InterruptSwallow, nil
	case "report":
		return InterruptReport, nil
	default:
		return 0, fmt.Errorf("unknown interrupt policy %q (want swallow or report)", s)
	}
}

// Options configures a Pipeline or Session. The zero value is usable.
type Options struct {
	// Stdout and Stderr receive mirrored app output and echoed trace lines.
	Stdout io.Writer
	Stderr io.Writer

	Logger    *slog.Logger
	Buffer    BufferMode
	Interrupt InterruptPolicy

	// Now stamps captured traces. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
