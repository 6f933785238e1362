package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/modoterra/droidwatch/pkg/core"
)

// ErrNotCreated is returned by Initialize on a session that already left
// the Created state.
var ErrNotCreated = errors.New("session already initialized or shut down")

// State is the lifecycle state of a Session.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateShuttingDown
	StateTerminated
)

// String returns a human-readable state name.
func (s State) String() string {
	return string(s.DeviceState())
}

// DeviceState maps s onto the transport-level state.
func (s State) DeviceState() core.DeviceState {
	switch s {
	case StateCreated:
		return core.DeviceCreated
	case StateInitialized:
		return core.DeviceInitialized
	case StateShuttingDown:
		return core.DeviceShuttingDown
	case StateTerminated:
		return core.DeviceTerminated
	default:
		return core.DeviceState(fmt.Sprintf("unknown(%d)", int32(s)))
	}
}

// Session monitors one device. It owns the device's pipeline and consumes
// its log stream on a single goroutine.
type Session struct {
	serial   string
	runner   core.CommandRunner
	source   core.LineSource
	env      core.Environment
	pipeline *Pipeline
	stderr   io.Writer
	policy   InterruptPolicy
	logger   *slog.Logger

	state  atomic.Int32
	mu     sync.Mutex // serializes state transitions
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates a session in the Created state. env may be nil.
func NewSession(serial string, runner core.CommandRunner, source core.LineSource, env core.Environment, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		serial:   serial,
		runner:   runner,
		source:   source,
		env:      env,
		pipeline: NewPipeline(serial, opts),
		stderr:   opts.Stderr,
		policy:   opts.Interrupt,
		logger:   opts.Logger.With("serial", serial),
		done:     make(chan struct{}),
	}
}

// Serial returns the device serial.
func (s *Session) Serial() string { return s.serial }

// IsEmulator reports whether the device is an emulator.
func (s *Session) IsEmulator() bool { return core.IsEmulatorSerial(s.serial) }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Pipeline returns the session's pipeline.
func (s *Session) Pipeline() *Pipeline { return s.pipeline }

// Done is closed once the session stops consuming its log stream.
func (s *Session) Done() <-chan struct{} { return s.done }

// ActiveProcesses returns the pids currently believed alive.
func (s *Session) ActiveProcesses() []int { return s.pipeline.tracker.Active() }

// Anomalies returns how many signal 3 flushes found no buffered trace.
func (s *Session) Anomalies() int { return s.pipeline.Anomalies() }

// AddListener registers l for captured traces.
func (s *Session) AddListener(l Listener) (ListenerID, error) {
	return s.pipeline.registry.Add(l)
}

// RemoveListener unregisters a listener.
func (s *Session) RemoveListener(id ListenerID) bool {
	return s.pipeline.registry.Remove(id)
}

// Info returns a snapshot for status reporting.
func (s *Session) Info() core.DeviceInfo {
	return core.DeviceInfo{
		Serial:     s.serial,
		State:      s.State().DeviceState(),
		Emulator:   s.IsEmulator(),
		ActivePIDs: s.ActiveProcesses(),
		Traces:     s.pipeline.Traces(),
		Anomalies:  s.pipeline.Anomalies(),
	}
}

// Initialize clears the device log buffer and starts consuming the live
// stream. The stream stops when ctx is cancelled or Shutdown is called.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateCreated {
		return fmt.Errorf("initialize %s: %w", s.serial, ErrNotCreated)
	}

	res, err := s.runner.Run(ctx, "logcat", "-c")
	if err != nil {
		return fmt.Errorf("clear device log: %w", err)
	}
	if !res.Succeeded {
		s.logger.Warn("clearing device log failed", "result", res.String())
	}

	loopCtx, cancel := context.WithCancel(ctx)
	if err := s.source.Start(loopCtx); err != nil {
		cancel()
		return fmt.Errorf("start log stream: %w", err)
	}

	s.cancel = cancel
	s.state.Store(int32(StateInitialized))
	s.logger.Info("session initialized")

	go s.run(loopCtx)
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	lines := s.source.Lines()
	for {
		select {
		case <-ctx.Done():
			s.stopFromLoop("context cancelled")
			return
		case line, ok := <-lines:
			if !ok {
				s.stopFromLoop("log stream ended")
				return
			}
			if s.State() != StateInitialized {
				return
			}
			s.handle(line)
		}
	}
}

func (s *Session) handle(line core.LogLine) {
	if line.Stream == core.StreamStderr {
		fmt.Fprintln(s.stderr, line.Line)
		return
	}
	s.pipeline.Handle(line.Line)
}

func (s *Session) stopFromLoop(reason string) {
	if s.State() != StateInitialized {
		return
	}
	s.logger.Info("stopping session", "reason", reason)
	s.shutdown(false)
}

// Shutdown stops the log stream, notifies the environment and drops all
// listeners. It is idempotent.
//
// Shutdown returns once the stream goroutine has stopped, so no line is
// handled or mirrored afterwards. Called from a listener callback it does
// not wait; the dispatch is already the last effect of its line.
func (s *Session) Shutdown() {
	s.shutdown(!s.pipeline.registry.Dispatching())
}

func (s *Session) shutdown(wait bool) {
	s.mu.Lock()
	prev := s.State()
	if prev == StateShuttingDown || prev == StateTerminated {
		s.mu.Unlock()
		if wait {
			<-s.done
		}
		return
	}
	s.state.Store(int32(StateShuttingDown))
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if prev == StateInitialized {
		if err := s.source.Stop(); err != nil {
			s.logger.Warn("stop log stream", "err", err)
		}
	}
	if s.env != nil {
		s.env.DeviceRemoved(s.serial)
	}
	s.pipeline.registry.Close()
	s.state.Store(int32(StateTerminated))

	if prev == StateCreated {
		close(s.done)
	}
	s.logger.Info("session terminated")

	if wait {
		<-s.done
	}
}
