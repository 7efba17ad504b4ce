package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/ffpeaks/internal/peaks"
)

// Drain loop defaults.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReadSize     = 8 << 10

	maxStderrBytes = 1 << 20
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateDraining
	StateExited
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Logger *slog.Logger

	// Timeout bounds the whole run. Zero relies on the context alone.
	Timeout time.Duration
	// PollInterval is the longest single readiness wait.
	PollInterval time.Duration
	// ReadSize is the most bytes taken from one channel per wakeup.
	ReadSize int

	// Peaks configures the reducer fed from the PCM channel. Required when
	// the command writes PCM.
	Peaks *peaks.Config
	// PeaksFor is the output path the peaks filename is derived from.
	PeaksFor string

	// OnProgress is called from the drain loop for every new snapshot.
	OnProgress func(Progress)

	// MonitorInterval enables resource sampling of the child when positive.
	MonitorInterval time.Duration

	// Env overrides the child's environment when non-nil.
	Env []string
}

// SessionResult is the outcome of a successful run.
type SessionResult struct {
	ExitCode int
	Duration time.Duration

	// Output holds the transcoded bytes when the command pipes its output.
	Output []byte
	// Stderr is the captured error log.
	Stderr string
	// Progress is the last snapshot seen, if any.
	Progress *Progress

	// Peaks is nil when PCM was not requested or could not be reduced.
	Peaks         *peaks.Result
	PeaksFilename string
	// PeaksErr is a best-effort failure of the peaks step.
	PeaksErr error

	BytesRead map[Role]int64
	Stats     *ProcessStats
}

// Session runs one FFmpeg command and drains all of its channels from a
// single loop. A Session is single use.
type Session struct {
	id   string
	cmd  *Command
	opts SessionOptions
	log  *slog.Logger

	mu        sync.Mutex
	state     State
	startedAt time.Time
	exitCode  int
}

// NewSession creates a session for cmd.
func NewSession(cmd *Command, opts SessionOptions) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}
	id := ulid.Make().String()
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		id:   id,
		cmd:  cmd,
		opts: opts,
		log:  log.With(slog.String("component", "ffmpeg"), slog.String("session_id", id)),
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Command returns the command the session runs.
func (s *Session) Command() *Command { return s.cmd }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when the child was launched.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// ExitCode returns the child's exit code once it has exited.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// sessionSinks are the per-role consumers of drained bytes.
type sessionSinks struct {
	progress progressTracker
	stderr   bytes.Buffer
	output   bytes.Buffer
	reducer  *peaks.Reducer
	onProg   func(Progress)
	monitor  *ProcessMonitor
}

func (k *sessionSinks) deliver(role Role, p []byte) {
	if k.monitor != nil {
		k.monitor.AddBytesRead(uint64(len(p)))
	}
	switch role {
	case RoleProgress:
		if snap, ok := k.progress.write(p); ok && k.onProg != nil {
			k.onProg(snap)
		}
	case RoleErrorLog:
		k.stderr.Write(p)
		if over := k.stderr.Len() - maxStderrBytes; over > 0 {
			k.stderr.Next(over)
		}
	case RolePCM:
		if k.reducer != nil {
			k.reducer.Push(p)
		}
	case RoleOutput:
		k.output.Write(p)
	}
}

// Run launches the command and drains every channel until the child exits.
// On failure the output buffer and peaks are discarded.
func (s *Session) Run(ctx context.Context) (*SessionResult, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrSessionUsed
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.cmd.Validate(); err != nil {
		s.setState(StateFailed)
		return nil, &LaunchError{Binary: s.cmd.Binary, Err: err}
	}

	sinks := &sessionSinks{onProg: s.opts.OnProgress}
	if s.cmd.WantsPCM() {
		cfg := peaks.Config{}
		if s.opts.Peaks != nil {
			cfg = *s.opts.Peaks
		}
		cfg = cfg.WithDefaults()
		r, err := peaks.NewReducer(s.cmd.PCM.Channels, s.cmd.PCM.SampleRate, cfg.SamplesPerPixel, cfg.Normalize)
		if err != nil {
			s.setState(StateFailed)
			return nil, fmt.Errorf("creating peaks reducer: %w", err)
		}
		sinks.reducer = r
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	set, err := openChannels(s.cmd, s.opts.Env)
	if err != nil {
		s.setState(StateFailed)
		return nil, err
	}
	defer set.closeAll()

	start := time.Now()
	s.mu.Lock()
	s.startedAt = start
	s.state = StateDraining
	s.mu.Unlock()

	s.log.Debug("ffmpeg started",
		slog.Int("pid", set.Pid()),
		slog.String("command", s.cmd.String()),
		slog.Bool("pcm", s.cmd.WantsPCM()),
		slog.Bool("output_pipe", s.cmd.WantsOutputPipe()))

	var monitor *ProcessMonitor
	if s.opts.MonitorInterval > 0 {
		monitor = NewProcessMonitor(set.Pid()).WithInterval(s.opts.MonitorInterval)
		monitor.Start()
		sinks.monitor = monitor
	}

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = set.cmd.Wait()
		close(exited)
	}()

	loopErr := s.drain(ctx, set, sinks, exited)

	var stats *ProcessStats
	if monitor != nil {
		monitor.Stop()
		st := monitor.Stats()
		stats = &st
	}
	elapsed := time.Since(start)

	if loopErr != nil {
		if killErr := set.kill(); killErr != nil {
			s.log.Warn("failed to kill ffmpeg", slog.String("error", killErr.Error()))
		}
		<-exited
		s.setState(StateFailed)

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(loopErr, ctxErr) {
			s.log.Warn("ffmpeg killed",
				slog.Duration("elapsed", elapsed),
				slog.Duration("timeout", s.opts.Timeout),
				slog.String("reason", ctxErr.Error()))
			return nil, &TimeoutError{Timeout: s.opts.Timeout, Elapsed: elapsed, Cause: ctxErr}
		}
		return nil, &WaitError{Err: loopErr}
	}

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			s.setState(StateFailed)
			return nil, &WaitError{Err: waitErr}
		}
		code = exitErr.ExitCode()
	}

	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()

	if code != 0 {
		s.setState(StateFailed)
		s.log.Debug("ffmpeg exited with error", slog.Int("exit_code", code), slog.Duration("duration", elapsed))
		return nil, &ExitError{ExitCode: code, Stderr: sinks.stderr.String()}
	}
	s.setState(StateExited)

	res := &SessionResult{
		ExitCode:  code,
		Duration:  elapsed,
		Stderr:    sinks.stderr.String(),
		BytesRead: make(map[Role]int64, len(set.channels)),
		Stats:     stats,
	}
	for _, c := range set.channels {
		res.BytesRead[c.Role] = c.BytesRead
	}
	if s.cmd.WantsOutputPipe() {
		res.Output = sinks.output.Bytes()
	}
	if p, ok := sinks.progress.latest(); ok {
		res.Progress = &p
	}
	if sinks.reducer != nil {
		s.finishPeaks(res, sinks.reducer)
	}

	s.log.Debug("ffmpeg completed",
		slog.Duration("duration", elapsed),
		slog.Int("output_bytes", len(res.Output)))
	return res, nil
}

func (s *Session) finishPeaks(res *SessionResult, r *peaks.Reducer) {
	cfg := peaks.Config{}
	if s.opts.Peaks != nil {
		cfg = *s.opts.Peaks
	}

	result, name, err := peaks.Build(r, cfg, s.opts.PeaksFor)
	res.PeaksFilename = name
	if err != nil {
		res.PeaksErr = err
		s.log.Warn("discarding peaks", slog.String("error", err.Error()))
		return
	}
	res.Peaks = result
}

// drain runs the readiness loop until the child has exited and every
// channel has been emptied.
func (s *Session) drain(ctx context.Context, set *ChannelSet, sinks *sessionSinks, exited <-chan struct{}) error {
	buf := make([]byte, s.opts.ReadSize)
	timeoutMs := int(s.opts.PollInterval / time.Millisecond)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-exited:
			return s.finalDrain(set, sinks, buf)
		default:
		}

		if len(set.open()) == 0 {
			// Every channel hit EOF; nothing left to read until exit.
			select {
			case <-exited:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		ready, err := set.poll(timeoutMs)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		for _, c := range ready {
			s.readOnce(c, sinks, buf)
		}
	}
}

// finalDrain empties whatever the child left in its pipes after exit. A
// descendant holding a pipe open cannot stall it since reads never block.
func (s *Session) finalDrain(set *ChannelSet, sinks *sessionSinks, buf []byte) error {
	for {
		ready, err := set.poll(0)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if len(ready) == 0 {
			return nil
		}
		progressed := false
		for _, c := range ready {
			if s.readOnce(c, sinks, buf) {
				progressed = true
			}
		}
		if !progressed {
			return nil
		}
	}
}

// readOnce reads at most one buffer from c and reports whether anything
// changed.
func (s *Session) readOnce(c *Channel, sinks *sessionSinks, buf []byte) bool {
	n, kind, err := c.read(buf)
	switch kind {
	case readData:
		sinks.deliver(c.Role, buf[:n])
		return true
	case readEOF:
		if err != nil {
			s.log.Debug("channel read failed", slog.String("channel", c.Role.String()), slog.String("error", err.Error()))
		}
		c.close()
		return true
	default:
		return false
	}
}
