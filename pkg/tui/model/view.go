package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/droidwatch/pkg/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	stateLive     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stateStopped  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	stateStopping = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	traceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	// Form overlay
	if a.mode == ModeForm && a.form != nil {
		formView := a.form.View(a.width - 4)
		return paneStyle.Width(a.width - 4).Height(a.height - 2).Render(formView)
	}

	statusBarH := 2
	tracePaneH := max(a.height/3, 6)
	mainH := a.height - tracePaneH - statusBarH - 2
	listW := a.width*2/5 - 2
	detailW := a.width - listW - 4

	list := a.renderList(listW, mainH)
	listPane := a.paneBox(PaneList, " Devices ", list, listW, mainH)

	detail := a.renderDetail()
	detailPane := a.paneBox(PaneDetail, " Detail ", detail, detailW, mainH)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)

	traces := a.renderTraces(a.width-4, tracePaneH)
	tracePane := a.paneBox(PaneTraces, a.traceTitle(), traces, a.width-4, tracePaneH)

	return lipgloss.JoinVertical(lipgloss.Left, topRow, tracePane, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderList(w, h int) string {
	devices := a.filteredDevices()
	if len(devices) == 0 {
		if !a.connected {
			return dimStyle.Render("not connected to droidwatchd")
		}
		return dimStyle.Render("no devices (droidwatch connect <serial>)")
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(devices) && i-start < maxVisible; i++ {
		d := devices[i]
		name := truncate(d.Serial, w-10)
		line := fmt.Sprintf(" %s %-*s", stateIndicator(d.State), w-10, name)
		if d.Traces > 0 {
			line += traceStyle.Render(fmt.Sprintf(" %d", d.Traces))
		}

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}

	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}

	return b.String()
}

func (a App) renderDetail() string {
	d := a.selectedDevice()
	if d == nil {
		return dimStyle.Render("select a device")
	}

	kind := "physical device"
	if d.Emulator {
		kind = "emulator"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Serial:     %s\n", d.Serial)
	fmt.Fprintf(&b, "Kind:       %s\n", kind)
	fmt.Fprintf(&b, "State:      %s\n", colorState(d.State))
	fmt.Fprintf(&b, "Traces:     %d\n", d.Traces)
	if d.Anomalies > 0 {
		fmt.Fprintf(&b, "Anomalies:  %s\n", traceStyle.Render(fmt.Sprint(d.Anomalies)))
	}
	if len(d.ActivePIDs) > 0 {
		fmt.Fprintf(&b, "Active:     %v\n", d.ActivePIDs)
	} else {
		fmt.Fprintf(&b, "Active:     %s\n", dimStyle.Render("none"))
	}
	return b.String()
}

func (a App) renderTraces(w, h int) string {
	traces := a.visibleTraces()
	if len(traces) == 0 {
		return dimStyle.Render("no stack traces captured")
	}

	var lines []string
	for _, t := range traces {
		ts := time.UnixMilli(t.TsUnixMs).Format("15:04:05")
		lines = append(lines, traceStyle.Render(fmt.Sprintf("%s %s pid %d", ts, t.Serial, t.PID)))
		if len(t.Lines) == 0 {
			lines = append(lines, dimStyle.Render("  (empty)"))
		}
		for _, l := range t.Lines {
			lines = append(lines, "  "+truncate(l, w-2))
		}
	}

	if len(lines) > h-1 {
		lines = lines[len(lines)-h+1:]
	}
	return strings.Join(lines, "\n")
}

func (a App) traceTitle() string {
	title := " Stack traces "
	if a.tracePaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "j/k:nav tab:pane /:search f:front i:install L:launch d:disconnect space:pause c:clear q:quit"
	if a.mode == ModeSearch {
		right = "enter:apply esc:cancel"
	}

	gap := a.width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func stateIndicator(state core.DeviceState) string {
	switch state {
	case core.DeviceInitialized:
		return stateLive.Render("●")
	case core.DeviceShuttingDown:
		return stateStopping.Render("↻")
	case core.DeviceCreated, core.DeviceTerminated:
		return stateStopped.Render("○")
	default:
		return dimStyle.Render("?")
	}
}

func colorState(state core.DeviceState) string {
	s := string(state)
	switch state {
	case core.DeviceInitialized:
		return stateLive.Render(s)
	case core.DeviceShuttingDown:
		return stateStopping.Render(s)
	case core.DeviceCreated, core.DeviceTerminated:
		return stateStopped.Render(s)
	default:
		return dimStyle.Render(s)
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
