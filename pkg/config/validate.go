package config

import (
	"fmt"

	"github.com/modoterra/droidwatch/pkg/monitor"
)

// Validate checks the config for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.ADB == "" {
		errs = append(errs, fmt.Errorf("adb is required"))
	}
	if _, err := monitor.ParseBufferMode(c.TraceBuffer); err != nil {
		errs = append(errs, fmt.Errorf("trace_buffer: %w", err))
	}
	if _, err := monitor.ParseInterruptPolicy(c.Commands.Interrupt); err != nil {
		errs = append(errs, fmt.Errorf("commands.interrupt: %w", err))
	}

	seen := make(map[string]bool)
	for i, d := range c.Devices {
		switch {
		case d.Serial == "":
			errs = append(errs, fmt.Errorf("device %d: serial is required", i))
		case seen[d.Serial]:
			errs = append(errs, fmt.Errorf("device %q listed more than once", d.Serial))
		}
		seen[d.Serial] = true
	}

	return errs
}
