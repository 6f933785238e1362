package daemon

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/modoterra/droidwatch/pkg/core"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
)

// PollLoop snapshots every session each interval and emits delta events.
type PollLoop struct {
	daemon   *Daemon
	interval time.Duration
	logger   *slog.Logger
}

// NewPollLoop creates a poll loop for the given daemon.
func NewPollLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *PollLoop {
	return &PollLoop{daemon: d, interval: interval, logger: logger}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
func (pl *PollLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pl.tick()
		}
	}
}

func (pl *PollLoop) tick() Delta {
	newDevices := make(map[string]core.DeviceInfo)
	for _, info := range pl.daemon.Devices() {
		newDevices[info.Serial] = info
	}

	pl.daemon.mu.Lock()
	oldDevices := pl.daemon.devices
	pl.daemon.devices = newDevices
	pl.daemon.mu.Unlock()

	delta := computeDelta(oldDevices, newDevices)
	if delta.HasChanges() {
		pl.logger.Debug("devices changed",
			"added", len(delta.Added), "updated", len(delta.Updated), "removed", len(delta.Removed))
		pl.daemon.broadcast(uds.EventDevicesDelta, delta)
	}
	return delta
}

// Delta represents changes between poll cycles.
type Delta struct {
	Added   []core.DeviceInfo `json:"added,omitempty"`
	Updated []core.DeviceInfo `json:"updated,omitempty"`
	Removed []string          `json:"removed,omitempty"`
}

// HasChanges returns true if the delta contains any changes.
func (d Delta) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Updated) > 0 || len(d.Removed) > 0
}

func computeDelta(old, new map[string]core.DeviceInfo) Delta {
	var d Delta

	for serial, info := range new {
		prev, existed := old[serial]
		if !existed {
			d.Added = append(d.Added, info)
		} else if !prev.Equal(info) {
			d.Updated = append(d.Updated, info)
		}
	}

	for serial := range old {
		if _, exists := new[serial]; !exists {
			d.Removed = append(d.Removed, serial)
		}
	}

	bySerial := func(a, b core.DeviceInfo) int { return strings.Compare(a.Serial, b.Serial) }
	slices.SortFunc(d.Added, bySerial)
	slices.SortFunc(d.Updated, bySerial)
	slices.Sort(d.Removed)
	return d
}
