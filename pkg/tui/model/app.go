package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/droidwatch/pkg/core"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
)

// maxTraces bounds the trace pane history.
const maxTraces = 200

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneList Pane = iota
	PaneDetail
	PaneTraces
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeForm
	ModeConfirmDisconnect
)

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	events     chan tea.Msg

	// State
	devices     []core.DeviceInfo
	selectedIdx int
	traces      []core.Trace
	tracePaused bool

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	width      int
	height     int

	// Install/launch form
	form *FormModel

	// Disconnect confirmation
	disconnectTarget string

	// Error display
	statusMsg string
}

// New creates a new TUI app model.
func New(socketPath string) App {
	si := textinput.New()
	si.Placeholder = "search..."
	si.CharLimit = 64

	return App{
		socketPath: socketPath,
		events:     make(chan tea.Msg, 64),
		search:     si,
		activePane: PaneList,
		mode:       ModeNormal,
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("droidwatch"),
	)
}

// tickMsg triggers periodic refresh.
type tickMsg time.Time

// connectedMsg indicates successful daemon connection.
type connectedMsg struct{ client *uds.Client }

// devicesMsg carries the device list from the daemon.
type devicesMsg struct{ devices []core.DeviceInfo }

// traceMsg carries a captured stack trace pushed by the daemon.
type traceMsg core.Trace

// devicesChangedMsg asks for a device list refresh.
type devicesChangedMsg struct{}

// errorMsg carries an error to display.
type errorMsg struct{ err error }

// actionResultMsg carries the result of an action.
type actionResultMsg struct{ msg string }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		return connectedMsg{client}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitEventCmd delivers the next pushed event.
func waitEventCmd(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

// eventToMsg maps a daemon event onto a TUI message. It returns nil for
// events the TUI does not show and for undecodable payloads.
func eventToMsg(m uds.Message) tea.Msg {
	switch m.Method {
	case uds.EventTraceCaptured:
		var t core.Trace
		if err := m.UnmarshalData(&t); err != nil {
			return nil
		}
		return traceMsg(t)
	case uds.EventDevicesDelta, uds.EventDeviceRemoved:
		return devicesChangedMsg{}
	}
	return nil
}

func fetchDevicesCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var devices []core.DeviceInfo
		if err := client.Call(ctx, uds.MethodListDevices, nil, &devices); err != nil {
			return errorMsg{err}
		}
		return devicesMsg{devices}
	}
}

func deviceCmd(client *uds.Client, method, serial string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Call(ctx, method, uds.DeviceRequest{Serial: serial}, nil); err != nil {
			return errorMsg{err}
		}
		return actionResultMsg{msg: strings.ToLower(method) + " → " + serial}
	}
}

func installCmd(client *uds.Client, serial, apk string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		var resp uds.InstallResponse
		if err := client.Call(ctx, uds.MethodInstall, uds.InstallRequest{Serial: serial, APK: apk}, &resp); err != nil {
			return errorMsg{err}
		}
		if !resp.OK {
			return errorMsg{errors.New(strings.Join(resp.Errors, "; "))}
		}
		return actionResultMsg{msg: strings.Join(resp.Notices, " ")}
	}
}

func launchCmd(client *uds.Client, serial, pkg, activity string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var resp uds.OKResponse
		req := uds.LaunchRequest{Serial: serial, Package: pkg, Activity: activity}
		if err := client.Call(ctx, uds.MethodLaunch, req, &resp); err != nil {
			return errorMsg{err}
		}
		if !resp.OK {
			return errorMsg{errors.New("launch failed: " + pkg + "/." + activity)}
		}
		return actionResultMsg{msg: "launched " + pkg + "/." + activity}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.connected = true
		a.statusMsg = "connected"

		events := a.events
		a.client.OnEvent(func(m uds.Message) {
			if tm := eventToMsg(m); tm != nil {
				select {
				case events <- tm:
				default:
				}
			}
		})

		return a, tea.Batch(tickCmd(), fetchDevicesCmd(a.client), waitEventCmd(a.events))

	case tickMsg:
		if a.client != nil {
			return a, tea.Batch(tickCmd(), fetchDevicesCmd(a.client))
		}
		return a, tickCmd()

	case devicesMsg:
		a.devices = msg.devices
		if a.selectedIdx >= len(a.filteredDevices()) {
			a.selectedIdx = max(0, len(a.filteredDevices())-1)
		}
		return a, nil

	case devicesChangedMsg:
		if a.client == nil {
			return a, waitEventCmd(a.events)
		}
		return a, tea.Batch(fetchDevicesCmd(a.client), waitEventCmd(a.events))

	case traceMsg:
		if !a.tracePaused {
			a.traces = append(a.traces, core.Trace(msg))
			if len(a.traces) > maxTraces {
				a.traces = a.traces[len(a.traces)-maxTraces:]
			}
		}
		return a, waitEventCmd(a.events)

	case actionResultMsg:
		a.statusMsg = msg.msg
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Search mode
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			a.selectedIdx = 0
			return a, cmd
		}
	}

	// Form mode
	if a.mode == ModeForm && a.form != nil {
		return a.form.HandleKey(a, msg)
	}

	// Disconnect confirmation mode
	if a.mode == ModeConfirmDisconnect {
		switch msg.String() {
		case "y", "Y":
			serial := a.disconnectTarget
			a.mode = ModeNormal
			a.disconnectTarget = ""
			if a.client == nil {
				a.statusMsg = "not connected"
				return a, nil
			}
			a.statusMsg = "disconnecting " + serial + "..."
			return a, deviceCmd(a.client, uds.MethodDisconnect, serial)
		default:
			a.mode = ModeNormal
			a.disconnectTarget = ""
			a.statusMsg = "disconnect cancelled"
			return a, nil
		}
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		if a.activePane == PaneList && len(a.filteredDevices()) > 0 {
			a.selectedIdx = min(a.selectedIdx+1, len(a.filteredDevices())-1)
		}
	case "k", "up":
		if a.activePane == PaneList && a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "t":
		a.activePane = PaneTraces

	case " ":
		a.tracePaused = !a.tracePaused

	case "c":
		a.traces = nil

	case "f":
		if d := a.selectedDevice(); d != nil && a.client != nil {
			return a, deviceCmd(a.client, uds.MethodBringToFront, d.Serial)
		}

	case "i":
		if d := a.selectedDevice(); d != nil {
			a.form = NewInstallForm(d.Serial)
			a.mode = ModeForm
		}

	case "L":
		if d := a.selectedDevice(); d != nil {
			a.form = NewLaunchForm(d.Serial)
			a.mode = ModeForm
		}

	case "d":
		if d := a.selectedDevice(); d != nil {
			a.disconnectTarget = d.Serial
			a.mode = ModeConfirmDisconnect
			a.statusMsg = "Disconnect " + d.Serial + "? (y/n)"
		}
	}

	return a, nil
}

func (a App) filteredDevices() []core.DeviceInfo {
	q := strings.ToLower(a.search.Value())
	if q == "" {
		return a.devices
	}
	var filtered []core.DeviceInfo
	for _, d := range a.devices {
		if strings.Contains(strings.ToLower(d.Serial), q) ||
			strings.Contains(strings.ToLower(string(d.State)), q) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func (a App) selectedDevice() *core.DeviceInfo {
	devices := a.filteredDevices()
	if a.selectedIdx < len(devices) {
		return &devices[a.selectedIdx]
	}
	return nil
}

// visibleTraces returns the traces of the selected device, or all traces
// when nothing is selected.
func (a App) visibleTraces() []core.Trace {
	d := a.selectedDevice()
	if d == nil {
		return a.traces
	}
	var out []core.Trace
	for _, t := range a.traces {
		if t.Serial == d.Serial {
			out = append(out, t)
		}
	}
	return out
}
