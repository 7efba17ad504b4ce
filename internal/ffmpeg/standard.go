//go:build unix

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultTimeout bounds a standard run when no timeout is configured.
const DefaultTimeout = time.Hour

// StandardOptions configures RunStandard.
type StandardOptions struct {
	Logger     *slog.Logger
	Timeout    time.Duration
	OnProgress func(Progress)
	Env        []string
}

// StandardResult is the outcome of a successful standard run.
type StandardResult struct {
	ExitCode int
	Duration time.Duration
	// Log is the merged stdout and stderr text.
	Log      string
	Progress *Progress
}

// RunStandard runs cmd with stdout and stderr merged into one stream and a
// wall-clock timeout. It does not open the PCM or output pipes; a command
// that writes to them fails.
func RunStandard(ctx context.Context, c *Command, opts StandardOptions) (*StandardResult, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "ffmpeg"))

	if err := c.Validate(); err != nil {
		return nil, &LaunchError{Binary: c.Binary, Err: err}
	}
	if c.WantsPCM() || c.WantsOutputPipe() {
		return nil, &LaunchError{Binary: c.Binary, Err: errors.New("standard execution cannot serve pipe outputs")}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Env = opts.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Binary: c.Binary, Err: fmt.Errorf("getting stdout pipe: %w", err)}
	}
	cmd.Stderr = cmd.Stdout

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Binary: c.Binary, Err: err}
	}
	log.Debug("ffmpeg started", slog.Int("pid", cmd.Process.Pid), slog.String("command", c.String()))

	var (
		merged  bytes.Buffer
		tracker progressTracker
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, DefaultReadSize), progressBufferMax)
	scanner.Split(scanLinesCR)
	for scanner.Scan() {
		line := append(append([]byte(nil), scanner.Bytes()...), '\n')
		merged.Write(line)
		if over := merged.Len() - maxStderrBytes; over > 0 {
			merged.Next(over)
		}
		if snap, ok := tracker.write(line); ok && opts.OnProgress != nil {
			opts.OnProgress(snap)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug("reading ffmpeg output", slog.String("error", err.Error()))
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Warn("ffmpeg killed", slog.Duration("elapsed", elapsed), slog.Duration("timeout", timeout))
		return nil, &TimeoutError{Timeout: timeout, Elapsed: elapsed, Cause: ctxErr}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, &ExitError{ExitCode: exitErr.ExitCode(), Stderr: merged.String()}
		}
		return nil, &WaitError{Err: waitErr}
	}

	res := &StandardResult{Duration: elapsed, Log: merged.String()}
	if p, ok := tracker.latest(); ok {
		res.Progress = &p
	}
	return res, nil
}

// scanLinesCR splits on \n or \r so the stats line ffmpeg rewrites in place
// yields one token per update.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
