package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/core"
	"github.com/modoterra/droidwatch/pkg/monitor"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
)

// ErrUnknownDevice is returned for a serial with no session.
var ErrUnknownDevice = errors.New("unknown device")

// SessionFactory builds an unstarted session for serial. env must be
// passed through to the session.
type SessionFactory func(serial string, env core.Environment) *monitor.Session

// ADBSessionFactory returns a factory backed by the adb binary at adbPath.
func ADBSessionFactory(adbPath string, opts monitor.Options) SessionFactory {
	return func(serial string, env core.Environment) *monitor.Session {
		runner := adb.NewRunner(adbPath, serial)
		return monitor.NewSession(serial, runner, adb.NewLogcat(runner, opts.Logger), env, opts)
	}
}

type broadcaster interface {
	Broadcast(msg uds.Message)
}

// Daemon is the droidwatchd process: it owns one session per connected
// device and serves them over the socket.
type Daemon struct {
	server     *uds.Server
	events     broadcaster
	newSession SessionFactory
	sessions   map[string]*monitor.Session
	devices    map[string]core.DeviceInfo // last poll snapshot
	mu         sync.RWMutex
	logger     *slog.Logger
}

// New creates a new daemon instance.
func New(socketPath string, factory SessionFactory, logger *slog.Logger) *Daemon {
	srv := uds.NewServer(socketPath, logger)
	d := &Daemon{
		server:     srv,
		events:     srv,
		newSession: factory,
		sessions:   make(map[string]*monitor.Session),
		devices:    make(map[string]core.DeviceInfo),
		logger:     logger,
	}
	d.registerHandlers()
	return d
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	return d.server.Start(ctx)
}

// Shutdown stops every session and the server.
func (d *Daemon) Shutdown() {
	d.mu.RLock()
	sessions := make([]*monitor.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.RUnlock()

	for _, s := range sessions {
		s.Shutdown()
	}
	timeout := time.After(5 * time.Second)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-timeout:
			d.logger.Warn("session did not stop in time", "serial", s.Serial())
		}
	}
	if d.server != nil {
		d.server.Shutdown()
	}
}

// Server returns the underlying UDS server (for broadcasting events).
func (d *Daemon) Server() *uds.Server {
	return d.server
}

// Connect starts monitoring serial. The session lives until ctx is
// cancelled, the device's log stream ends or Disconnect is called.
// Connecting an already monitored device is a no-op.
func (d *Daemon) Connect(ctx context.Context, serial string) error {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return fmt.Errorf("serial is required")
	}

	d.mu.Lock()
	if old, ok := d.sessions[serial]; ok && old.State() < monitor.StateShuttingDown {
		d.mu.Unlock()
		return nil
	}
	s := d.newSession(serial, d)
	d.sessions[serial] = s
	d.mu.Unlock()

	if _, err := s.AddListener(monitor.ListenerFunc(d.broadcastTrace)); err != nil {
		d.forget(serial, s)
		return err
	}
	if err := s.Initialize(ctx); err != nil {
		d.forget(serial, s)
		return fmt.Errorf("connect %s: %w", serial, err)
	}
	d.logger.Info("device connected", "serial", serial)
	return nil
}

// Disconnect shuts down the session for serial.
func (d *Daemon) Disconnect(serial string) error {
	s, err := d.session(serial)
	if err != nil {
		return err
	}
	s.Shutdown()
	return nil
}

// DeviceRemoved implements core.Environment. Sessions call it while
// shutting down.
func (d *Daemon) DeviceRemoved(serial string) {
	d.mu.Lock()
	s, ok := d.sessions[serial]
	if ok && s.State() < monitor.StateShuttingDown {
		// A newer session took the serial over.
		ok = false
	}
	if ok {
		delete(d.sessions, serial)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	d.logger.Info("device removed", "serial", serial)
	d.broadcast(uds.EventDeviceRemoved, uds.DeviceRemovedEvent{Serial: serial})
}

// Devices returns a snapshot of every session, sorted by serial.
func (d *Daemon) Devices() []core.DeviceInfo {
	d.mu.RLock()
	out := make([]core.DeviceInfo, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s.Info())
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b core.DeviceInfo) int {
		return strings.Compare(a.Serial, b.Serial)
	})
	return out
}

// Install installs apk on serial. Status messages reported along the way
// are returned in the response.
func (d *Daemon) Install(ctx context.Context, serial, apk string) (uds.InstallResponse, error) {
	s, err := d.session(serial)
	if err != nil {
		return uds.InstallResponse{}, err
	}
	if apk == "" {
		return uds.InstallResponse{}, fmt.Errorf("apk path is required")
	}

	var sink statusCollector
	ok := s.InstallApp(ctx, apk, &sink)
	d.logger.Info("install finished", "serial", serial, "apk", apk, "ok", ok)
	return uds.InstallResponse{OK: ok, Notices: sink.notices, Errors: sink.errors}, nil
}

// Launch starts an activity on serial.
func (d *Daemon) Launch(ctx context.Context, serial, pkg, activity string) (bool, error) {
	s, err := d.session(serial)
	if err != nil {
		return false, err
	}
	if pkg == "" || activity == "" {
		return false, fmt.Errorf("package and activity are required")
	}
	return s.LaunchApp(ctx, pkg, activity)
}

// BringToFront shows the launcher on serial.
func (d *Daemon) BringToFront(ctx context.Context, serial string) error {
	s, err := d.session(serial)
	if err != nil {
		return err
	}
	s.BringLauncherToFront(ctx)
	return nil
}

func (d *Daemon) session(serial string) (*monitor.Session, error) {
	d.mu.RLock()
	s, ok := d.sessions[serial]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, serial)
	}
	return s, nil
}

func (d *Daemon) forget(serial string, s *monitor.Session) {
	d.mu.Lock()
	if d.sessions[serial] == s {
		delete(d.sessions, serial)
	}
	d.mu.Unlock()
}

func (d *Daemon) broadcastTrace(trace core.Trace) {
	d.logger.Info("stack trace captured", "serial", trace.Serial, "pid", trace.PID, "lines", len(trace.Lines))
	d.broadcast(uds.EventTraceCaptured, trace)
}

func (d *Daemon) broadcast(method string, data any) {
	if d.events == nil {
		return
	}
	evt, err := uds.NewEvent(method, data)
	if err != nil {
		d.logger.Error("encode event", "method", method, "err", err)
		return
	}
	d.events.Broadcast(evt)
}

// statusCollector records status messages for a response.
type statusCollector struct {
	notices []string
	errors  []string
}

func (c *statusCollector) StatusNotice(msg string) { c.notices = append(c.notices, msg) }
func (c *statusCollector) StatusError(err error)   { c.errors = append(c.errors, err.Error()) }
