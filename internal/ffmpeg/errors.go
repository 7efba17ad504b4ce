package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("ffmpeg timed out")

	// ErrSessionUsed is returned when Run is called on a session twice.
	ErrSessionUsed = errors.New("session already run")
)

// LaunchError reports that the child process could not be started.
type LaunchError struct {
	Binary string
	Err    error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Binary, e.Err)
}

// Unwrap returns the underlying error.
func (e *LaunchError) Unwrap() error { return e.Err }

// WaitError reports a failure of the readiness wait or of reaping the child.
type WaitError struct {
	Err error
}

// Error implements the error interface.
func (e *WaitError) Error() string {
	return fmt.Sprintf("waiting for ffmpeg: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *WaitError) Unwrap() error { return e.Err }

// ExitError reports a non-zero exit status together with the captured
// error log.
type ExitError struct {
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if last := lastLine(e.Stderr); last != "" {
		return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, last)
	}
	return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
}

// TimeoutError reports that the child was killed because the deadline
// passed or the context was cancelled.
type TimeoutError struct {
	Timeout time.Duration
	Elapsed time.Duration
	Cause   error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("ffmpeg killed after %s (timeout %s): %v", e.Elapsed.Round(time.Millisecond), e.Timeout, e.Cause)
	}
	return fmt.Sprintf("ffmpeg killed after %s: %v", e.Elapsed.Round(time.Millisecond), e.Cause)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Unwrap returns the context error that triggered the kill.
func (e *TimeoutError) Unwrap() error { return e.Cause }

// ExitCodeOf extracts a process exit code from err. Errors that do not
// carry one map to -1; nil maps to 0.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}
	return -1
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n ")
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
