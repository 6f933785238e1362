package monitor

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/modoterra/droidwatch/pkg/core"
	"github.com/modoterra/droidwatch/pkg/logcat"
)

// Pipeline routes parsed log entries for one device. Handle must not be
// called concurrently; everything else is safe for concurrent use.
type Pipeline struct {
	serial   string
	tracker  *ProcessTracker
	signals  *SignalInterpreter
	agg      *Aggregator
	console  *Console
	registry *Registry
	now      func() time.Time
	logger   *slog.Logger

	traces    atomic.Int64
	anomalies atomic.Int64
}

// NewPipeline builds the tracker, aggregator, console mirror and listener
// registry for serial.
func NewPipeline(serial string, opts Options) *Pipeline {
	opts = opts.withDefaults()
	logger := opts.Logger.With("serial", serial)

	p := &Pipeline{
		serial:   serial,
		tracker:  NewProcessTracker(),
		registry: NewRegistry(logger),
		now:      opts.Now,
		logger:   logger,
	}
	p.agg = NewAggregator(opts.Buffer, p.tracker, opts.Stderr)
	p.console = NewConsole(p.tracker, opts.Stdout, opts.Stderr)
	p.signals = NewSignalInterpreter(p.tracker, p.flush)
	return p
}

// Tracker returns the pipeline's process tracker.
func (p *Pipeline) Tracker() *ProcessTracker { return p.tracker }

// Registry returns the pipeline's listener registry.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Aggregator returns the pipeline's stack trace aggregator.
func (p *Pipeline) Aggregator() *Aggregator { return p.agg }

// Traces returns how many traces have been flushed.
func (p *Pipeline) Traces() int { return int(p.traces.Load()) }

// Anomalies returns how many flushes found an empty buffer.
func (p *Pipeline) Anomalies() int { return int(p.anomalies.Load()) }

// Handle parses one raw logcat line and applies all of its effects.
func (p *Pipeline) Handle(raw string) {
	e := logcat.Parse(raw)

	switch {
	case isLifecycleMarker(e):
		p.handleMarker(e)
	case e.Tag == TagProcess:
		p.signals.Interpret(e)
	case e.HasPID() && p.tracker.IsActive(e.PID):
		if !p.agg.Append(e) {
			p.console.Mirror(e)
		}
	}
}

func isLifecycleMarker(e logcat.Entry) bool {
	return e.Tag == TagLifecycle || strings.HasPrefix(e.Message, TagLifecycle)
}

func (p *Pipeline) handleMarker(e logcat.Entry) {
	if !e.HasPID() {
		return
	}
	switch {
	case strings.Contains(e.Message, "onStart"):
		p.tracker.Start(e.PID)
		p.logger.Debug("process started", "pid", e.PID)
	case strings.Contains(e.Message, "onStop"):
		p.tracker.End(e.PID)
		p.logger.Debug("process stopped", "pid", e.PID)
	}
}

func (p *Pipeline) flush(pid int) {
	lines, ok := p.agg.Flush(pid)
	if !ok {
		p.anomalies.Add(1)
		p.logger.Warn("signal 3 without a buffered stack trace", "pid", pid)
	}
	p.traces.Add(1)

	p.registry.Dispatch(core.Trace{
		Serial:   p.serial,
		PID:      pid,
		TsUnixMs: p.now().UnixMilli(),
		Lines:    lines,
	})
}
