package adb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/modoterra/droidwatch/pkg/core"
)

// ErrStarted is returned when Start is called on a Logcat more than once.
var ErrStarted = errors.New("logcat already started")

// Logcat streams `adb -s <serial> logcat`. Lines from stdout arrive as
// core.StreamMain and lines from stderr as core.StreamStderr, each stream in
// the order adb wrote it. Lines are never dropped; a slow consumer blocks
// the reader.
type Logcat struct {
	runner *Runner
	logger *slog.Logger
	now    func() time.Time
	lines  chan core.LogLine

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLogcat creates a log source for the runner's device.
func NewLogcat(runner *Runner, logger *slog.Logger) *Logcat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logcat{
		runner: runner,
		logger: logger.With("serial", runner.Serial()),
		now:    time.Now,
		lines:  make(chan core.LogLine, 256),
		done:   make(chan struct{}),
	}
}

// Lines returns the stream channel. It is closed once adb exits and both
// pipes are drained, or after Stop.
func (l *Logcat) Lines() <-chan core.LogLine { return l.lines }

// Start spawns adb. The process is terminated when ctx is cancelled.
func (l *Logcat) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrStarted
	}

	cctx, cancel := context.WithCancel(ctx)
	cmd := l.runner.command(cctx, "logcat")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start logcat: %w", err)
	}

	l.started = true
	l.cancel = cancel
	l.logger.Info("logcat started", "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go l.forward(cctx, &wg, stdout, core.StreamMain)
	go l.forward(cctx, &wg, stderr, core.StreamStderr)

	go func() {
		wg.Wait()
		err := cmd.Wait()
		cancel()
		l.logger.Info("logcat exited", "exit_code", cmd.ProcessState.ExitCode(), "err", err)
		close(l.lines)
		close(l.done)
	}()
	return nil
}

func (l *Logcat) forward(ctx context.Context, wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	err := scanLines(r, func(line string, truncated bool) {
		if ctx.Err() != nil {
			return
		}
		if truncated {
			l.logger.Warn("logcat line truncated", "stream", stream, "max_bytes", maxLineLen)
		}
		select {
		case l.lines <- core.LogLine{
			Serial:   l.runner.Serial(),
			TsUnixMs: l.now().UnixMilli(),
			Stream:   stream,
			Line:     line,
		}:
		case <-ctx.Done():
		}
	})
	if err != nil && ctx.Err() == nil {
		l.logger.Warn("read logcat", "stream", stream, "err", err)
	}
}

// Stop terminates adb and waits until the line channel is closed. It is
// safe to call more than once and before Start.
func (l *Logcat) Stop() error {
	l.mu.Lock()
	started, cancel := l.started, l.cancel
	l.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	<-l.done
	return nil
}
