package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/droidwatch/internal/buildinfo"
	"github.com/modoterra/droidwatch/pkg/config"
	"github.com/modoterra/droidwatch/pkg/core"
	"github.com/modoterra/droidwatch/pkg/daemon/service"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
	tuimodel "github.com/modoterra/droidwatch/pkg/tui/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	conn daemonConnection
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "droidwatch",
		Short: "Android device log and crash monitor",
		Long:  "droidwatch is a TUI + daemon that follows the logs of connected Android devices and captures the stack traces of crashing apps.",
		RunE:  c.runTUI,
	}
	c.conn.AddFlags(root.PersistentFlags())

	root.AddCommand(
		c.pingCmd(),
		versionCmd(),
		daemonCmd(),
		c.devicesCmd(),
		c.connectCmd(),
		c.disconnectCmd(),
		c.installCmd(),
		c.launchCmd(),
		c.frontCmd(),
		c.watchCmd(),
		configCmd(),
		c.serviceCmd(),
	)
	return root
}

// --- Root: TUI ---

func (c *cli) runTUI(_ *cobra.Command, _ []string) error {
	c.ensureDaemon()
	app := tuimodel.New(c.conn.SocketPath)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (c *cli) ensureDaemon() {
	if _, err := os.Stat(c.conn.SocketPath); err == nil {
		return
	}
	cmd := exec.Command("droidwatchd", "--socket", c.conn.SocketPath)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Start()
	for i := 0; i < 30; i++ {
		if _, err := os.Stat(c.conn.SocketPath); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: could not start daemon, continuing anyway")
}

func (c *cli) dialDaemon() (*uds.Client, error) {
	client, err := uds.Dial(c.conn.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", c.conn.SocketPath, err)
	}
	return client, nil
}

// call dials the daemon, sends one request and decodes the response into out.
func (c *cli) call(timeout time.Duration, method string, req, out any) error {
	client, err := c.dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.Call(ctx, method, req, out)
}

// --- Ping ---

func (c *cli) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check if daemon is running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var pong uds.PingResponse
			if err := c.call(2*time.Second, uds.MethodPing, nil, &pong); err != nil {
				return err
			}
			if pong.Pong {
				fmt.Fprintln(cmd.OutOrStdout(), "pong ✓")
			}
			return nil
		},
	}
}

// --- Version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("droidwatch"))
		},
	}
}

// --- Daemon ---

func daemonCmd() *cobra.Command {
	var configFlag string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start daemon in foreground (for debugging)",
		Long:  "Normally the TUI auto-spawns the daemon. Use this to run it manually.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var args []string
			if configFlag != "" {
				args = append(args, "--config", configFlag)
			}
			if f := cmd.Flag("socket"); f != nil && f.Changed {
				args = append(args, "--socket", f.Value.String())
			}
			d := exec.Command("droidwatchd", args...)
			d.Stdout = os.Stdout
			d.Stderr = os.Stderr
			return d.Run()
		},
	}
	cmd.Flags().StringVar(&configFlag, "config", "", "path to config.yaml")
	return cmd
}

// --- Devices ---

func (c *cli) devicesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List monitored devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var devices []core.DeviceInfo
			if err := c.call(2*time.Second, uds.MethodListDevices, nil, &devices); err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), devices, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printDevices(w io.Writer, devices []core.DeviceInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}

	if len(devices) == 0 {
		fmt.Fprintln(w, "no devices")
		return nil
	}

	fmt.Fprintf(w, "%-24s %-9s %-14s %-7s %-9s %s\n", "SERIAL", "KIND", "STATE", "TRACES", "ANOMALIES", "ACTIVE")
	for _, d := range devices {
		kind := "device"
		if d.Emulator {
			kind = "emulator"
		}
		pids := make([]string, len(d.ActivePIDs))
		for i, pid := range d.ActivePIDs {
			pids[i] = fmt.Sprint(pid)
		}
		fmt.Fprintf(w, "%-24s %-9s %-14s %-7d %-9d %s\n",
			d.Serial, kind, d.State, d.Traces, d.Anomalies, strings.Join(pids, ","))
	}
	return nil
}

// --- Device commands ---

func (c *cli) connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <serial>",
		Short: "Start monitoring a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.call(30*time.Second, uds.MethodConnect, uds.DeviceRequest{Serial: args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected → %s ✓\n", args[0])
			return nil
		},
	}
}

func (c *cli) disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <serial>",
		Short: "Stop monitoring a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.call(10*time.Second, uds.MethodDisconnect, uds.DeviceRequest{Serial: args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disconnected → %s ✓\n", args[0])
			return nil
		},
	}
}

func (c *cli) frontCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "front <serial>",
		Short: "Bring the launcher to the front",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.call(30*time.Second, uds.MethodBringToFront, uds.DeviceRequest{Serial: args[0]}, nil)
		},
	}
}

func (c *cli) installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <serial> <apk>",
		Short: "Install (or reinstall) an apk on a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			apk, err := filepath.Abs(args[1])
			if err != nil {
				return fmt.Errorf("resolve apk path: %w", err)
			}
			if _, err := os.Stat(apk); err != nil {
				return err
			}

			var resp uds.InstallResponse
			req := uds.InstallRequest{Serial: args[0], APK: apk}
			if err := c.call(5*time.Minute, uds.MethodInstall, req, &resp); err != nil {
				return err
			}
			for _, n := range resp.Notices {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			for _, e := range resp.Errors {
				fmt.Fprintln(cmd.ErrOrStderr(), e)
			}
			if !resp.OK {
				return errors.New("install failed")
			}
			return nil
		},
	}
}

func (c *cli) launchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch <serial> <package> <activity>",
		Short: "Start an activity with the debug extra set",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp uds.OKResponse
			req := uds.LaunchRequest{Serial: args[0], Package: args[1], Activity: args[2]}
			if err := c.call(30*time.Second, uds.MethodLaunch, req, &resp); err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("launch %s/.%s failed", args[1], args[2])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "launched → %s/.%s ✓\n", args[1], args[2])
			return nil
		},
	}
}

// --- Watch ---

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [serial]",
		Short: "Print stack traces as they are captured",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var serial string
			if len(args) > 0 {
				serial = args[0]
			}

			client, err := c.dialDaemon()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchTraces(ctx, client, cmd.OutOrStdout(), serial)
		},
	}
}

// watchTraces prints every captured trace for serial (all devices when
// empty) until ctx is done or the connection drops.
func watchTraces(ctx context.Context, client *uds.Client, w io.Writer, serial string) error {
	traces := make(chan core.Trace, 16)
	client.OnEvent(func(m uds.Message) {
		if m.Method != uds.EventTraceCaptured {
			return
		}
		var t core.Trace
		if err := m.UnmarshalData(&t); err != nil {
			return
		}
		if serial != "" && t.Serial != serial {
			return
		}
		select {
		case traces <- t:
		case <-ctx.Done():
		}
	})

	for {
		select {
		case t := <-traces:
			ts := time.UnixMilli(t.TsUnixMs).Format(time.TimeOnly)
			fmt.Fprintf(w, "=== %s %s pid %d ===\n", ts, t.Serial, t.PID)
			if len(t.Lines) == 0 {
				fmt.Fprintln(w, "(signal 3 without a buffered trace)")
			}
			for _, line := range t.Lines {
				fmt.Fprintln(w, line)
			}
		case <-client.Done():
			return uds.ErrConnClosed
		case <-ctx.Done():
			return nil
		}
	}
}

// --- Config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the droidwatch config file",
	}

	var output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}
			if err := config.Save(config.Default(), output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVar(&output, "output", config.DefaultPath(), "output file path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if len(args) > 0 {
				path = args[0]
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			errs := config.Validate(cfg)
			if len(errs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d devices)\n", path, len(cfg.Devices))
				return nil
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d error(s)\n", path, len(errs))
			for _, e := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
			}
			return fmt.Errorf("%s is invalid", path)
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

// --- Service ---

func (c *cli) serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the droidwatchd systemd user service",
	}

	var configFlag string
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install, enable and start the user service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := service.Install(cmd.Context(), configFlag); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "droidwatchd.service installed ✓")
			return nil
		},
	}
	installCmd.Flags().StringVar(&configFlag, "config", "", "config file passed to droidwatchd")

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop, disable and remove the user service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := service.Uninstall(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "droidwatchd.service removed ✓")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show socket and service status",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), service.Status(cmd.Context(), c.conn.SocketPath))
		},
	}

	cmd.AddCommand(installCmd, uninstallCmd, statusCmd)
	return cmd
}
