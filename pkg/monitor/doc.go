// Package monitor turns a device's logcat stream into process lifecycle
// state and captured stack traces.
//
// # Pipeline
//
// Every raw line goes through Pipeline.Handle, which parses it with
// logcat.Parse and routes the entry to exactly one of:
//
//   - the lifecycle marker handler (tag or message prefix "PROCESSING",
//     keyword onStart/onStop), which updates the ProcessTracker
//   - the SignalInterpreter (tag "Process"), which ends a process on signal 9
//     and flushes the stack trace buffer on signal 3
//   - the Aggregator (tag "AndroidRuntime", severity Error, active pid)
//   - the Console mirror (tags "System.out"/"System.err", active pid)
//
// A line is fully handled, including listener dispatch for a flush, before
// the next one is looked at.
//
// # Sessions
//
// A Session binds a Pipeline to one device: it clears the device log,
// starts a core.LineSource and consumes it on a single goroutine. Shutdown
// stops the source, tells the core.Environment the device is gone and
// closes the listener Registry so no listener runs afterwards. Called from
// outside a listener, it also waits for the stream goroutine, so nothing is
// written to the console once it returns.
//
// # Listeners
//
// The Registry copies its listener list at the start of each dispatch and
// invokes listeners without holding a lock. Each listener's removed flag is
// checked right before it is called, so a dispatch that reaches a listener
// after Remove returned skips it. The only late call is from a dispatch on
// another goroutine that had already passed that check when Remove ran;
// there is at most one per concurrent dispatch. A panicking listener is
// logged and skipped, the rest still get the trace.
package monitor
