// Package adb runs the Android Debug Bridge on behalf of a device session.
package adb

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/modoterra/droidwatch/pkg/core"
)

// DefaultPath is used when no adb binary is configured.
const DefaultPath = "adb"

// waitDelay bounds how long Wait lingers after a cancelled adb process was
// sent SIGTERM before it is killed and its pipes are closed.
const waitDelay = 5 * time.Second

// Runner runs one-shot adb commands against a single device.
type Runner struct {
	path   string
	serial string
}

// NewRunner returns a runner for serial. An empty path means DefaultPath.
func NewRunner(path, serial string) *Runner {
	if path == "" {
		path = DefaultPath
	}
	return &Runner{path: path, serial: serial}
}

// Serial returns the device the runner targets.
func (r *Runner) Serial() string { return r.serial }

func (r *Runner) command(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"-s", r.serial}, args...)
	cmd := exec.CommandContext(ctx, r.path, full...)
	// Cancel signals the whole process group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// Run executes `adb -s <serial> args...` and waits for it. Output from both
// streams is captured line by line. A non-zero exit is not an error.
func (r *Runner) Run(ctx context.Context, args ...string) (core.CommandResult, error) {
	if len(args) == 0 {
		return core.CommandResult{}, errors.New("adb: no command")
	}
	res := core.CommandResult{Args: args, ExitCode: -1}

	var out bytes.Buffer
	cmd := r.command(ctx, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("adb %s: %w", args[0], ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
	default:
		return res, fmt.Errorf("adb %s: %w", args[0], err)
	}

	res.ExitCode = cmd.ProcessState.ExitCode()
	res.Succeeded = res.ExitCode == 0
	for line := range strings.Lines(out.String()) {
		res.Output = append(res.Output, trimEOL(line))
	}
	return res, nil
}

// maxLineLen caps a single streamed line.
const maxLineLen = 1024 * 1024

// scanLines reads lines from r until EOF and calls fn for each. A line
// longer than maxLineLen is cut to that length, reported with truncated set,
// and the rest of it is skipped. r is always drained, even after a read
// error, so the writing process never blocks on a full pipe.
func scanLines(r io.Reader, fn func(line string, truncated bool)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	skipping := false
	for {
		chunk, err := br.ReadSlice('\n')
		data := chunk
		if err == nil {
			data = bytes.TrimSuffix(chunk[:len(chunk)-1], []byte("\r"))
		}
		if !skipping {
			if room := maxLineLen - len(line); len(data) > room {
				line = append(line, data[:room]...)
				skipping = true
			} else {
				line = append(line, data...)
			}
		}

		switch {
		case err == nil:
			fn(trimEOL(string(line)), skipping)
			line, skipping = line[:0], false
		case errors.Is(err, bufio.ErrBufferFull):
		default:
			if len(line) > 0 {
				fn(trimEOL(string(line)), skipping)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			io.Copy(io.Discard, r)
			return err
		}
	}
}

func trimEOL(line string) string {
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}
