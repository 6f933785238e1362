package model

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// FormKind selects what a form submits.
type FormKind int

const (
	FormInstall FormKind = iota
	FormLaunch
)

// FormField is a named text input in a form.
type FormField struct {
	Label string
	Input textinput.Model
}

// FormModel is the inline install/launch form for one device.
type FormModel struct {
	kind      FormKind
	serial    string
	fields    []FormField
	activeIdx int
}

// NewInstallForm asks for the apk to install on serial.
func NewInstallForm(serial string) *FormModel {
	fields := []FormField{newField("apk", "")}
	fields[0].Input.Focus()
	return &FormModel{kind: FormInstall, serial: serial, fields: fields}
}

// NewLaunchForm asks for the package and activity to start on serial.
func NewLaunchForm(serial string) *FormModel {
	fields := []FormField{
		newField("package", ""),
		newField("activity", "MainActivity"),
	}
	fields[0].Input.Focus()
	return &FormModel{kind: FormLaunch, serial: serial, fields: fields}
}

func newField(label, value string) FormField {
	ti := textinput.New()
	ti.Placeholder = label
	ti.SetValue(value)
	ti.CharLimit = 256
	return FormField{Label: label, Input: ti}
}

func (f *FormModel) value(label string) string {
	for _, fld := range f.fields {
		if fld.Label == label {
			return strings.TrimSpace(fld.Input.Value())
		}
	}
	return ""
}

// submit returns the request command, or an error message when a field
// is missing.
func (f *FormModel) submit(a App) (string, tea.Cmd) {
	for _, fld := range f.fields {
		if strings.TrimSpace(fld.Input.Value()) == "" {
			return fld.Label + " is required", nil
		}
	}
	if a.client == nil {
		return "not connected", nil
	}
	switch f.kind {
	case FormLaunch:
		pkg, activity := f.value("package"), f.value("activity")
		return "launching " + pkg + "...", launchCmd(a.client, f.serial, pkg, activity)
	default:
		apk := f.value("apk")
		return "installing " + apk + "...", installCmd(a.client, f.serial, apk)
	}
}

// HandleKey processes key events in form mode.
func (f *FormModel) HandleKey(a App, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = ModeNormal
		a.form = nil
		return a, nil

	case "enter":
		status, cmd := f.submit(a)
		a.statusMsg = status
		if cmd == nil && a.client != nil {
			// Keep the form open so the missing field can be filled in.
			return a, nil
		}
		a.mode = ModeNormal
		a.form = nil
		return a, cmd

	case "tab":
		f.fields[f.activeIdx].Input.Blur()
		f.activeIdx = (f.activeIdx + 1) % len(f.fields)
		f.fields[f.activeIdx].Input.Focus()
		return a, textinput.Blink

	case "shift+tab":
		f.fields[f.activeIdx].Input.Blur()
		f.activeIdx = (f.activeIdx - 1 + len(f.fields)) % len(f.fields)
		f.fields[f.activeIdx].Input.Focus()
		return a, textinput.Blink

	default:
		var cmd tea.Cmd
		f.fields[f.activeIdx].Input, cmd = f.fields[f.activeIdx].Input.Update(msg)
		return a, cmd
	}
}

// View renders the form.
func (f *FormModel) View(width int) string {
	title := "Install on " + f.serial
	if f.kind == FormLaunch {
		title = "Launch on " + f.serial
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(" "+title+" ") + "\n\n")
	for i, fld := range f.fields {
		prefix := "  "
		if i == f.activeIdx {
			prefix = "▸ "
		}
		b.WriteString(prefix + dimStyle.Render(fld.Label+": ") + fld.Input.View() + "\n")
	}
	b.WriteString("\n" + helpStyle.Render(truncate("  tab:next  shift+tab:prev  enter:submit  esc:cancel", width)))
	return b.String()
}
