package core

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
)

// LineSource is the abstraction over a live device log stream.
type LineSource interface {
	// Start begins streaming. Lines are delivered on Lines() in the order
	// the device emitted them, per stream.
	Start(ctx context.Context) error

	// Stop terminates the underlying stream. Lines() is closed afterwards.
	Stop() error

	// Lines returns the channel carrying both the main and the stderr stream.
	Lines() <-chan LogLine
}

// CommandRunner executes a device-scoped command to completion.
type CommandRunner interface {
	// Run blocks until the command exits. A non-zero exit is reported through
	// CommandResult.Succeeded, not as an error; errors mean the command could
	// not be run or the wait was interrupted (ctx cancelled).
	Run(ctx context.Context, args ...string) (CommandResult, error)
}

// CommandResult is the outcome of a completed device command.
type CommandResult struct {
	Args      []string `json:"args"`
	Succeeded bool     `json:"succeeded"`
	ExitCode  int      `json:"exit_code"`
	Output    []string `json:"output,omitempty"`
}

// Lines iterates over the captured output.
func (r CommandResult) Lines() iter.Seq[string] {
	return slices.Values(r.Output)
}

func (r CommandResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (exit %d)", strings.Join(r.Args, " "), r.ExitCode)
	for _, line := range r.Output {
		b.WriteString("\n  ")
		b.WriteString(line)
	}
	return b.String()
}

// Environment owns device sessions and is told when one goes away.
type Environment interface {
	DeviceRemoved(serial string)
}

// StatusSink receives user-visible progress and failures from device commands.
type StatusSink interface {
	StatusNotice(msg string)
	StatusError(err error)
}
