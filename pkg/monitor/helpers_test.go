package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/modoterra/droidwatch/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a test reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Lines() []string {
	s := strings.TrimSuffix(b.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type runCall struct {
	args []string
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []runCall
	results map[string]core.CommandResult // keyed by args[0]
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: make(map[string]core.CommandResult),
		errs:    make(map[string]error),
	}
}

func (r *fakeRunner) Run(_ context.Context, args ...string) (core.CommandResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{args: args})
	if err, ok := r.errs[args[0]]; ok {
		return core.CommandResult{}, err
	}
	if res, ok := r.results[args[0]]; ok {
		res.Args = args
		return res, nil
	}
	return core.CommandResult{Args: args, Succeeded: true}, nil
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = strings.Join(c.args, " ")
	}
	return out
}

type fakeSource struct {
	ch       chan core.LogLine
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
	once    sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan core.LogLine)}
}

func (s *fakeSource) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Lines() <-chan core.LogLine { return s.ch }

func (s *fakeSource) close() { s.once.Do(func() { close(s.ch) }) }

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeEnv struct {
	mu      sync.Mutex
	removed []string
}

func (e *fakeEnv) DeviceRemoved(serial string) {
	e.mu.Lock()
	e.removed = append(e.removed, serial)
	e.mu.Unlock()
}

func (e *fakeEnv) removedSerials() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.removed...)
}

type fakeStatus struct {
	notices []string
	errors  []error
}

func (s *fakeStatus) StatusNotice(msg string) { s.notices = append(s.notices, msg) }
func (s *fakeStatus) StatusError(err error)   { s.errors = append(s.errors, err) }

// traceRecorder collects delivered traces.
type traceRecorder struct {
	mu     sync.Mutex
	traces []core.Trace
	ch     chan core.Trace
}

func newTraceRecorder() *traceRecorder {
	return &traceRecorder{ch: make(chan core.Trace, 16)}
}

func (r *traceRecorder) StackTrace(t core.Trace) {
	r.mu.Lock()
	r.traces = append(r.traces, t)
	r.mu.Unlock()
	select {
	case r.ch <- t:
	default:
	}
}

func (r *traceRecorder) all() []core.Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Trace(nil), r.traces...)
}

func mustAdd(t *testing.T, r *Registry, l Listener) ListenerID {
	t.Helper()
	id, err := r.Add(l)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id
}
