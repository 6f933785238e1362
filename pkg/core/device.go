package core

import (
	"slices"
	"strings"
)

// DeviceState is the lifecycle state of a device session as reported to clients.
type DeviceState string

const (
	DeviceCreated      DeviceState = "created"
	DeviceInitialized  DeviceState = "initialized"
	DeviceShuttingDown DeviceState = "shutting-down"
	DeviceTerminated   DeviceState = "terminated"
)

// DeviceInfo is a point-in-time view of one device session.
type DeviceInfo struct {
	Serial     string      `json:"serial"`
	State      DeviceState `json:"state"`
	Emulator   bool        `json:"emulator"`
	ActivePIDs []int       `json:"active_pids,omitempty"`
	Traces     int         `json:"traces"`
	Anomalies  int         `json:"anomalies"`
}

// Equal reports whether two snapshots describe the same device state.
func (d DeviceInfo) Equal(o DeviceInfo) bool {
	return d.Serial == o.Serial &&
		d.State == o.State &&
		d.Emulator == o.Emulator &&
		d.Traces == o.Traces &&
		d.Anomalies == o.Anomalies &&
		slices.Equal(d.ActivePIDs, o.ActivePIDs)
}

// Trace is an immutable captured stack trace. Holders must not modify Lines.
type Trace struct {
	Serial   string   `json:"serial"`
	PID      int      `json:"pid"`
	TsUnixMs int64    `json:"ts_unix_ms"`
	Lines    []string `json:"lines"`
}

// Text joins the trace lines with newlines.
func (t Trace) Text() string {
	return strings.Join(t.Lines, "\n")
}

// IsEmulatorSerial reports whether an adb serial names an emulator.
func IsEmulatorSerial(serial string) bool {
	return strings.HasPrefix(serial, "emulator")
}
