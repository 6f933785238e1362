package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/pflag"

	"github.com/modoterra/droidwatch/internal/buildinfo"
	"github.com/modoterra/droidwatch/pkg/config"
	"github.com/modoterra/droidwatch/pkg/daemon"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(buildinfo.String("droidwatchd"))
		return
	}

	flags := pflag.NewFlagSet("droidwatchd", pflag.ExitOnError)
	configPath := flags.String("config", config.DefaultPath(), "path to config.yaml")
	socketPath := flags.String("socket", "", "daemon socket path (overrides config)")
	debug := flags.Bool("debug", false, "enable debug logging")
	flags.Parse(os.Args[1:])

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}
	if *socketPath != "" {
		cfg.Socket = *socketPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
		cancel()
	}()

	opts, err := cfg.MonitorOptions()
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}
	opts.Logger = logger
	d := daemon.New(cfg.Socket, daemon.ADBSessionFactory(cfg.ADB, opts), logger)
	defer d.Shutdown()

	for _, serial := range cfg.Serials() {
		if err := d.Connect(ctx, serial); err != nil {
			logger.Warn("connect configured device", "serial", serial, "err", err)
		}
	}

	pollLoop := daemon.NewPollLoop(d, cfg.PollInterval, logger)
	go pollLoop.Run(ctx)
	go notifyReady(ctx, cfg.Socket, logger)

	logger.Info("starting droidwatchd", "version", buildinfo.Version, "socket", cfg.Socket, "adb", cfg.ADB)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "err", err)
		os.Exit(1)
	}
}

// loadConfig loads path, falling back to defaults when it does not exist.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no config file, using defaults", "path", path)
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			logger.Error("config validation", "path", path, "err", e)
		}
		return nil, fmt.Errorf("%s: %d validation error(s)", path, len(errs))
	}
	logger.Info("config loaded", "path", path, "devices", len(cfg.Devices))
	return cfg, nil
}

// notifyReady tells systemd the daemon is up once the socket exists.
func notifyReady(ctx context.Context, socketPath string, logger *slog.Logger) {
	for i := 0; i < 100; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
			if err != nil {
				logger.Warn("sd_notify", "err", err)
			} else if sent {
				logger.Debug("notified systemd")
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	logger.Warn("socket did not appear, systemd not notified", "socket", socketPath)
}
