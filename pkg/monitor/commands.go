package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modoterra/droidwatch/pkg/core"
)

// ErrInterrupted wraps a context error from an interrupted device command
// when the session reports interruptions.
var ErrInterrupted = errors.New("device command interrupted")

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// BringLauncherToFront shows the home screen. Failures are only logged.
func (s *Session) BringLauncherToFront(ctx context.Context) {
	_, err := s.runner.Run(ctx, "shell", "am", "start",
		"-a", "android.intent.action.MAIN",
		"-c", "android.intent.category.HOME")
	if err != nil {
		s.logger.Warn("bring launcher to front", "err", err)
	}
}

// InstallApp (re)installs the apk at apkPath and reports progress to
// status. It returns true only when the package manager reported success.
func (s *Session) InstallApp(ctx context.Context, apkPath string, status core.StatusSink) bool {
	s.BringLauncherToFront(ctx)

	// -r: reinstall, keeping data; otherwise a second install fails with
	// INSTALL_FAILED_ALREADY_EXISTS.
	res, err := s.runner.Run(ctx, "install", "-r", apkPath)
	if err != nil {
		if isInterrupted(err) {
			if s.policy == InterruptReport {
				status.StatusError(fmt.Errorf("%w: %w", ErrInterrupted, err))
			}
			return false
		}
		status.StatusError(err)
		return false
	}
	if !res.Succeeded {
		status.StatusError(errors.New("Could not install the app."))
		fmt.Fprintln(s.stderr, res.String())
		return false
	}

	var failure string
	found := false
	for line := range res.Lines() {
		if rest, ok := strings.CutPrefix(line, "Failure"); ok {
			failure = strings.TrimSpace(rest)
			found = true
			fmt.Fprintln(s.stderr, line)
		}
	}
	if found {
		status.StatusError(fmt.Errorf("Error while installing %s", failure))
		return false
	}

	status.StatusNotice("Done installing.")
	return true
}

// LaunchApp starts activity of pkg with the debug extra set.
func (s *Session) LaunchApp(ctx context.Context, pkg, activity string) (bool, error) {
	res, err := s.runner.Run(ctx, "shell", "am", "start",
		"-e", "debug", "true",
		"-a", "android.intent.action.MAIN",
		"-c", "android.intent.category.LAUNCHER",
		"-n", pkg+"/."+activity)
	if err != nil {
		if isInterrupted(err) {
			if s.policy == InterruptReport {
				return false, fmt.Errorf("%w: %w", ErrInterrupted, err)
			}
			return false, nil
		}
		return false, fmt.Errorf("launch %s/.%s: %w", pkg, activity, err)
	}
	return res.Succeeded, nil
}
