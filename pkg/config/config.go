// Package config loads and saves the droidwatch YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/monitor"
)

// Defaults.
const (
	DefaultSocket       = "/tmp/droidwatch.sock"
	DefaultPollInterval = time.Second
	FileName            = "config.yaml"
)

// Config represents a droidwatch config.yaml file.
type Config struct {
	Version      int           `yaml:"version"       json:"version"`
	ADB          string        `yaml:"adb"           json:"adb"`
	Socket       string        `yaml:"socket"        json:"socket"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	TraceBuffer  string        `yaml:"trace_buffer"  json:"trace_buffer"` // shared|per-process
	Commands     Commands      `yaml:"commands"      json:"commands"`
	Devices      []Device      `yaml:"devices"       json:"devices,omitempty"`

	// FilePath is where the config was loaded from.
	FilePath string `yaml:"-" json:"-"`
}

// Commands configures one-shot device commands.
type Commands struct {
	Interrupt string `yaml:"interrupt" json:"interrupt"` // swallow|report
}

// Device is a device connected when the daemon starts.
type Device struct {
	Serial string `yaml:"serial" json:"serial"`
}

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		Version:      1,
		ADB:          adb.DefaultPath,
		Socket:       DefaultSocket,
		PollInterval: DefaultPollInterval,
		TraceBuffer:  monitor.BufferShared.String(),
		Commands:     Commands{Interrupt: monitor.InterruptSwallow.String()},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/droidwatch/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(dir, "droidwatch", FileName)
}

// Parse decodes YAML, fills unset fields with defaults and expands
// environment variables in the adb path.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.ADB = os.ExpandEnv(c.ADB)
	if c.ADB == "" {
		c.ADB = adb.DefaultPath
	}
	if c.Socket == "" {
		c.Socket = DefaultSocket
	}
	return c, nil
}

// Load reads and parses the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.FilePath = path
	return c, nil
}

// Save writes c to path, creating parent directories as needed.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Serials returns the configured device serials in file order.
func (c *Config) Serials() []string {
	out := make([]string, 0, len(c.Devices))
	for _, d := range c.Devices {
		out = append(out, d.Serial)
	}
	return out
}

// MonitorOptions maps the trace and command settings onto session options.
func (c *Config) MonitorOptions() (monitor.Options, error) {
	buf, err := monitor.ParseBufferMode(c.TraceBuffer)
	if err != nil {
		return monitor.Options{}, fmt.Errorf("trace_buffer: %w", err)
	}
	policy, err := monitor.ParseInterruptPolicy(c.Commands.Interrupt)
	if err != nil {
		return monitor.Options{}, fmt.Errorf("commands.interrupt: %w", err)
	}
	return monitor.Options{Buffer: buf, Interrupt: policy}, nil
}
