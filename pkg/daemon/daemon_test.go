package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/modoterra/droidwatch/pkg/core"
	"github.com/modoterra/droidwatch/pkg/monitor"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	results map[string]core.CommandResult // keyed by args[0]
	errs    map[string]error
}

func (r *fakeRunner) Run(_ context.Context, args ...string) (core.CommandResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	if err, ok := r.errs[args[0]]; ok {
		return core.CommandResult{}, err
	}
	if res, ok := r.results[args[0]]; ok {
		res.Args = args
		return res, nil
	}
	return core.CommandResult{Args: args, Succeeded: true}, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeSource struct {
	ch   chan core.LogLine
	once sync.Once
}

func (s *fakeSource) Start(context.Context) error { return nil }
func (s *fakeSource) Stop() error                 { return nil }
func (s *fakeSource) Lines() <-chan core.LogLine  { return s.ch }
func (s *fakeSource) close()                      { s.once.Do(func() { close(s.ch) }) }

type eventRecorder struct {
	mu     sync.Mutex
	events []uds.Message
	notify chan struct{}
}

func (r *eventRecorder) Broadcast(msg uds.Message) {
	r.mu.Lock()
	r.events = append(r.events, msg)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *eventRecorder) find(method string) (uds.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Method == method {
			return e, true
		}
	}
	return uds.Message{}, false
}

func (r *eventRecorder) wait(t *testing.T, method string) uds.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if msg, ok := r.find(method); ok {
			return msg
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", method)
		}
	}
}

type fixture struct {
	daemon  *Daemon
	events  *eventRecorder
	mu      sync.Mutex
	runners map[string]*fakeRunner
	sources map[string]*fakeSource
	made    int
	// configure runs against every new runner.
	configure func(*fakeRunner)
}

func newTestDaemon(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f := &fixture{
		events:  &eventRecorder{notify: make(chan struct{}, 1)},
		runners: make(map[string]*fakeRunner),
		sources: make(map[string]*fakeSource),
	}
	opts := monitor.Options{Stdout: io.Discard, Stderr: io.Discard, Logger: logger}
	f.daemon = &Daemon{
		events:   f.events,
		sessions: make(map[string]*monitor.Session),
		devices:  make(map[string]core.DeviceInfo),
		logger:   logger,
		newSession: func(serial string, env core.Environment) *monitor.Session {
			r := &fakeRunner{results: make(map[string]core.CommandResult), errs: make(map[string]error)}
			if f.configure != nil {
				f.configure(r)
			}
			src := &fakeSource{ch: make(chan core.LogLine)}
			f.mu.Lock()
			f.runners[serial] = r
			f.sources[serial] = src
			f.made++
			f.mu.Unlock()
			return monitor.NewSession(serial, r, src, env, opts)
		},
	}
	t.Cleanup(f.daemon.Shutdown)
	return f
}

func (f *fixture) source(serial string) *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[serial]
}

func (f *fixture) runner(serial string) *fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runners[serial]
}

func (f *fixture) connect(t *testing.T, serial string) {
	t.Helper()
	if err := f.daemon.Connect(context.Background(), serial); err != nil {
		t.Fatalf("connect %s: %v", serial, err)
	}
}

func makeMsg(t *testing.T, req any) uds.Message {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return uds.Message{Data: data}
}

func TestConnectAndListDevices(t *testing.T) {
	f := newTestDaemon(t)
	f.connect(t, "emulator-5556")
	f.connect(t, "0123456789ABCDEF")

	devices := f.daemon.Devices()
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Serial != "0123456789ABCDEF" || devices[0].Emulator {
		t.Errorf("first device = %+v", devices[0])
	}
	if devices[1].Serial != "emulator-5556" || !devices[1].Emulator {
		t.Errorf("second device = %+v", devices[1])
	}
	for _, d := range devices {
		if d.State != core.DeviceInitialized {
			t.Errorf("%s state = %s", d.Serial, d.State)
		}
	}
	if n := f.runner("emulator-5556").count(); n != 1 {
		t.Errorf("expected the log clear command only, got %d calls", n)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	f := newTestDaemon(t)
	f.connect(t, "emulator-5554")
	f.connect(t, "emulator-5554")
	if f.made != 1 {
		t.Errorf("sessions created = %d, want 1", f.made)
	}
}

func TestConnectErrors(t *testing.T) {
	f := newTestDaemon(t)
	if err := f.daemon.Connect(context.Background(), "  "); err == nil {
		t.Error("expected error for empty serial")
	}

	f.configure = func(r *fakeRunner) { r.errs["logcat"] = errors.New("adb: device not found") }
	if err := f.daemon.Connect(context.Background(), "emulator-5554"); err == nil {
		t.Fatal("expected error when the device log cannot be cleared")
	}
	if len(f.daemon.Devices()) != 0 {
		t.Error("failed session should not be kept")
	}
}

func TestTraceBroadcast(t *testing.T) {
	f := newTestDaemon(t)
	f.connect(t, "emulator-5554")

	src := f.source("emulator-5554")
	for _, line := range []string{
		"I/PROCESSING(  321): onStart",
		"E/AndroidRuntime(  321): FATAL EXCEPTION: main",
		"E/AndroidRuntime(  321): java.lang.IllegalStateException",
		"I/Process(  100): Sending signal. PID: 321 SIG: 3",
	} {
		src.ch <- core.LogLine{Serial: "emulator-5554", Stream: core.StreamMain, Line: line}
	}

	msg := f.events.wait(t, uds.EventTraceCaptured)
	var trace core.Trace
	if err := msg.UnmarshalData(&trace); err != nil {
		t.Fatal(err)
	}
	if trace.Serial != "emulator-5554" || trace.PID != 321 || len(trace.Lines) != 2 {
		t.Errorf("trace = %+v", trace)
	}
}

func TestDisconnect(t *testing.T) {
	f := newTestDaemon(t)
	f.connect(t, "emulator-5554")

	if err := f.daemon.Disconnect("emulator-5554"); err != nil {
		t.Fatal(err)
	}
	msg := f.events.wait(t, uds.EventDeviceRemoved)
	var evt uds.DeviceRemovedEvent
	if err := msg.UnmarshalData(&evt); err != nil || evt.Serial != "emulator-5554" {
		t.Errorf("event = %+v, err = %v", evt, err)
	}
	if len(f.daemon.Devices()) != 0 {
		t.Error("device should be gone")
	}
	if err := f.daemon.Disconnect("emulator-5554"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("second disconnect = %v, want ErrUnknownDevice", err)
	}

	// The serial can be monitored again.
	f.connect(t, "emulator-5554")
	if f.made != 2 {
		t.Errorf("sessions created = %d, want 2", f.made)
	}
}

func TestStreamEndRemovesDevice(t *testing.T) {
	f := newTestDaemon(t)
	f.connect(t, "emulator-5554")
	f.source("emulator-5554").close()

	f.events.wait(t, uds.EventDeviceRemoved)
	if len(f.daemon.Devices()) != 0 {
		t.Error("device should be gone after its log stream ended")
	}
}

func TestInstall(t *testing.T) {
	f := newTestDaemon(t)
	f.configure = func(r *fakeRunner) {
		r.results["install"] = core.CommandResult{Succeeded: true, Output: []string{"Success"}}
	}
	f.connect(t, "emulator-5554")

	resp, err := f.daemon.Install(context.Background(), "emulator-5554", "/tmp/app.apk")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.OK || len(resp.Notices) != 1 || resp.Notices[0] != "Done installing." || len(resp.Errors) != 0 {
		t.Errorf("response = %+v", resp)
	}

	if _, err := f.daemon.Install(context.Background(), "emulator-5554", ""); err == nil {
		t.Error("expected error for empty apk path")
	}
	if _, err := f.daemon.Install(context.Background(), "nope", "/tmp/app.apk"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device: got %v", err)
	}
}

func TestInstallFailureReported(t *testing.T) {
	f := newTestDaemon(t)
	f.configure = func(r *fakeRunner) {
		r.results["install"] = core.CommandResult{Succeeded: true, Output: []string{"Failure [INSTALL_FAILED_INVALID_APK]"}}
	}
	f.connect(t, "emulator-5554")

	result, err := f.daemon.handleInstall(context.Background(), makeMsg(t, uds.InstallRequest{Serial: "emulator-5554", APK: "/tmp/bad.apk"}))
	if err != nil {
		t.Fatal(err)
	}
	resp := result.(uds.InstallResponse)
	if resp.OK || len(resp.Errors) != 1 || resp.Errors[0] != "Error while installing [INSTALL_FAILED_INVALID_APK]" {
		t.Errorf("response = %+v", resp)
	}
}

func TestLaunchAndFront(t *testing.T) {
	f := newTestDaemon(t)
	f.connect(t, "emulator-5554")

	ok, err := f.daemon.Launch(context.Background(), "emulator-5554", "com.example", "Main")
	if err != nil || !ok {
		t.Fatalf("launch = %v, %v", ok, err)
	}
	if _, err := f.daemon.Launch(context.Background(), "emulator-5554", "", "Main"); err == nil {
		t.Error("expected error for empty package")
	}
	if err := f.daemon.BringToFront(context.Background(), "emulator-5554"); err != nil {
		t.Fatal(err)
	}
	// logcat -c, am start (launch), am start (home)
	if n := f.runner("emulator-5554").count(); n != 3 {
		t.Errorf("runner calls = %d, want 3", n)
	}
	if err := f.daemon.BringToFront(context.Background(), "nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device: got %v", err)
	}
}

func TestHandlers(t *testing.T) {
	f := newTestDaemon(t)
	ctx := context.Background()

	result, err := f.daemon.handlePing(ctx, uds.Message{})
	if err != nil || !result.(uds.PingResponse).Pong {
		t.Errorf("ping = %v, %v", result, err)
	}

	if _, err := f.daemon.handleConnect(ctx, makeMsg(t, uds.DeviceRequest{Serial: "emulator-5554"})); err != nil {
		t.Fatal(err)
	}
	result, err = f.daemon.handleListDevices(ctx, uds.Message{})
	if err != nil || len(result.([]core.DeviceInfo)) != 1 {
		t.Errorf("list = %v, %v", result, err)
	}

	result, err = f.daemon.handleLaunch(ctx, makeMsg(t, uds.LaunchRequest{Serial: "emulator-5554", Package: "p", Activity: "A"}))
	if err != nil || !result.(uds.OKResponse).OK {
		t.Errorf("launch = %v, %v", result, err)
	}
	if _, err := f.daemon.handleBringToFront(ctx, makeMsg(t, uds.DeviceRequest{Serial: "emulator-5554"})); err != nil {
		t.Errorf("front: %v", err)
	}
	if _, err := f.daemon.handleDisconnect(ctx, makeMsg(t, uds.DeviceRequest{Serial: "emulator-5554"})); err != nil {
		t.Errorf("disconnect: %v", err)
	}
	if _, err := f.daemon.handleDisconnect(ctx, makeMsg(t, uds.DeviceRequest{Serial: "emulator-5554"})); err == nil {
		t.Error("expected error for unknown device")
	}
	if _, err := f.daemon.handleConnect(ctx, uds.Message{Data: []byte("{")}); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestShutdownStopsSessions(t *testing.T) {
	f := newTestDaemon(t)
	f.connect(t, "emulator-5554")
	f.connect(t, "emulator-5556")

	f.daemon.Shutdown()
	if len(f.daemon.Devices()) != 0 {
		t.Errorf("devices left after shutdown: %v", f.daemon.Devices())
	}
}
