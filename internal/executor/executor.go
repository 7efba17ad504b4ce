// Package executor runs a transcode request end to end. It picks between
// streaming execution, where every pipe is drained by one session, and
// standard execution followed by a separate peaks pass, then commits the
// output and peaks file to a storage.Store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/ffpeaks/internal/events"
	"github.com/jmylchreest/ffpeaks/internal/ffmpeg"
	"github.com/jmylchreest/ffpeaks/internal/observability"
	"github.com/jmylchreest/ffpeaks/internal/peaks"
	"github.com/jmylchreest/ffpeaks/internal/storage"
)

// Mode is the execution path chosen for a request.
type Mode string

const (
	// ModeStreaming drains progress, stderr, PCM and piped output from one session.
	ModeStreaming Mode = "streaming"
	// ModeStandard runs the transcode with merged logs and extracts peaks afterwards.
	ModeStandard Mode = "standard"
	// ModePeaksOnly decodes the input for peaks without producing media.
	ModePeaksOnly Mode = "peaks_only"
)

// Prober reports the audio layout of a file.
type Prober interface {
	ProbeAudio(ctx context.Context, path string) (*ffmpeg.AudioInfo, error)
}

// Request describes one transcode.
type Request struct {
	// Command is the transcode to run. When the store uploads directly it
	// must pipe its output (CommandBuilder.OutputToPipe); otherwise it
	// writes to Command.Output.
	Command *ffmpeg.Command
	// Destination is the store path for the output. Defaults to Command.Output.
	Destination string
	// Peaks enables waveform extraction when set.
	Peaks *peaks.Config
	// Store receives piped output and the peaks file. May be nil when the
	// output is local and no peaks file should be written.
	Store storage.Store

	// OnProgress is called from the drain loop, never after Execute returns.
	OnProgress func(ffmpeg.Progress)
	// OnError is called at most once, only when the request fails.
	OnError func(*Result, error)
}

// Result is the outcome of Execute.
type Result struct {
	JobID    string        `json:"job_id"`
	Mode     Mode          `json:"mode"`
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	// Diagnostic is the captured error log, set whenever Success is false.
	Diagnostic string `json:"diagnostic,omitempty"`

	Output      string           `json:"output,omitempty"`
	OutputBytes int64            `json:"output_bytes,omitempty"`
	Progress    *ffmpeg.Progress `json:"progress,omitempty"`

	Peaks     *peaks.Result `json:"-"`
	PeaksPath string        `json:"peaks_path,omitempty"`
	// Warnings lists non-fatal problems, such as a failed peaks pass.
	Warnings []string `json:"warnings,omitempty"`

	Stats *ffmpeg.ProcessStats `json:"stats,omitempty"`
}

// Options configures an Executor.
type Options struct {
	FFmpegPath string
	Prober     Prober
	Sink       events.Sink
	Logger     *slog.Logger

	Timeout         time.Duration
	PollInterval    time.Duration
	ReadSize        int
	MonitorInterval time.Duration
}

// Executor runs requests. It holds no per-request state and is safe for
// concurrent use.
type Executor struct {
	opts   Options
	sink   events.Sink
	logger *slog.Logger
}

// New creates an Executor.
func New(opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = ffmpeg.DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.Nop
	}
	return &Executor{
		opts:   opts,
		sink:   sink,
		logger: observability.WithComponent(logger, "executor"),
	}
}

// run carries the state of one Execute call.
type run struct {
	e      *Executor
	req    Request
	cfg    peaks.Config
	res    *Result
	logger *slog.Logger
	output string
}

// Execute runs req. On failure it returns both a Result with Success=false
// and the error; OnError has been called by then.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		e:   e,
		req: req,
		res: &Result{JobID: ulid.Make().String()},
	}
	r.logger = e.logger.With(slog.String("job_id", r.res.JobID))

	if err := r.validate(); err != nil {
		return r.fail(ctx, err, time.Time{})
	}
	r.res.Mode = r.mode()
	r.res.Output = r.output

	e.sink.Emit(ctx, events.Event{
		Type:      events.TypeStarted,
		JobID:     r.res.JobID,
		Timestamp: time.Now(),
		Command:   req.Command.String(),
		Inputs:    req.Command.Inputs,
		Output:    r.output,
		Mode:      string(r.res.Mode),
	})

	var err error
	done := observability.TimedOperationWithError(ctx, r.logger, string(r.res.Mode), &err)
	start := time.Now()

	switch r.res.Mode {
	case ModePeaksOnly:
		err = r.peaksOnly(ctx)
	case ModeStreaming:
		err = r.streaming(ctx)
	default:
		err = r.standard(ctx)
	}
	done()

	if err != nil {
		return r.fail(ctx, err, start)
	}

	r.res.Success = true
	r.res.Duration = time.Since(start)
	r.savePeaks(ctx)

	// Terminal events must reach the sinks even when the caller has gone.
	e.sink.Emit(context.WithoutCancel(ctx), events.Event{
		Type:      events.TypeCompleted,
		JobID:     r.res.JobID,
		Timestamp: time.Now(),
		Output:    r.output,
		Duration:  r.res.Duration,
		PeaksPath: r.res.PeaksPath,
		Warnings:  r.res.Warnings,
	})
	return r.res, nil
}

func (r *run) validate() error {
	c := r.req.Command
	if c == nil {
		return errors.New("request has no command")
	}
	if err := c.Validate(); err != nil {
		return &ffmpeg.LaunchError{Binary: c.Binary, Err: err}
	}
	if c.WantsPCM() {
		return errors.New("command already writes pcm; peaks are configured through the request")
	}

	r.output = r.req.Destination
	if r.output == "" {
		r.output = c.Output
	}

	if r.req.Peaks != nil {
		r.cfg = r.req.Peaks.WithDefaults()
		if err := r.cfg.Validate(); err != nil {
			return fmt.Errorf("invalid peaks config: %w", err)
		}
		if len(c.Inputs) == 0 {
			return errors.New("peaks requested but the command has no input")
		}
	}

	direct := r.req.Store != nil && r.output != "" && r.req.Store.SupportsDirectUpload(r.output)
	if direct && !c.WantsOutputPipe() && !r.peaksOnlyRequested() {
		return fmt.Errorf("store uploads %s directly but the command does not pipe its output", r.output)
	}
	if c.WantsOutputPipe() && !direct {
		return errors.New("command pipes its output but no store accepts it")
	}
	return nil
}

func (r *run) peaksOnlyRequested() bool {
	return r.req.Peaks != nil && r.cfg.Only
}

// mode picks the execution path. Remote destinations and live peaks need the
// multi-pipe session; everything else runs standard.
func (r *run) mode() Mode {
	switch {
	case r.peaksOnlyRequested():
		return ModePeaksOnly
	case r.req.Command.WantsOutputPipe():
		return ModeStreaming
	case r.req.Peaks != nil && r.cfg.Live:
		return ModeStreaming
	default:
		return ModeStandard
	}
}

func (r *run) onProgress(ctx context.Context) func(ffmpeg.Progress) {
	return func(p ffmpeg.Progress) {
		if r.req.OnProgress != nil {
			r.req.OnProgress(p)
		}
		r.e.sink.Emit(ctx, events.Event{
			Type:      events.TypeProgress,
			JobID:     r.res.JobID,
			Timestamp: time.Now(),
			Progress:  &events.Progress{TimeProcessed: p.TimeProcessed, FPS: p.FPS, Speed: p.Speed},
		})
	}
}

func (r *run) sessionOptions(ctx context.Context) ffmpeg.SessionOptions {
	return ffmpeg.SessionOptions{
		Logger:          r.logger,
		Timeout:         r.e.opts.Timeout,
		PollInterval:    r.e.opts.PollInterval,
		ReadSize:        r.e.opts.ReadSize,
		MonitorInterval: r.e.opts.MonitorInterval,
		OnProgress:      r.onProgress(ctx),
		PeaksFor:        r.output,
	}
}

func (r *run) streaming(ctx context.Context) error {
	cmd := r.req.Command
	opts := r.sessionOptions(ctx)

	if r.req.Peaks != nil {
		cfg := r.cfg
		layout := r.layout(ctx, &cfg, cmd.Inputs[0])
		cmd = cmd.WithPCM(layout)
		opts.Peaks = &cfg
	}
	if err := ensureOutputDir(cmd.Output); err != nil {
		return err
	}

	res, err := ffmpeg.NewSession(cmd, opts).Run(ctx)
	if err != nil {
		return err
	}
	r.absorb(res)

	if cmd.WantsOutputPipe() {
		if err := r.req.Store.WriteBuffer(ctx, r.output, res.Output); err != nil {
			return fmt.Errorf("committing output: %w", err)
		}
		r.res.OutputBytes = int64(len(res.Output))
	}
	return nil
}

func (r *run) standard(ctx context.Context) error {
	cmd := r.req.Command
	if err := ensureOutputDir(cmd.Output); err != nil {
		return err
	}

	res, err := ffmpeg.RunStandard(ctx, cmd, ffmpeg.StandardOptions{
		Logger:     r.logger,
		Timeout:    r.e.opts.Timeout,
		OnProgress: r.onProgress(ctx),
	})
	if err != nil {
		return err
	}
	r.res.ExitCode = res.ExitCode
	r.res.Progress = res.Progress
	if info, statErr := os.Stat(cmd.Output); statErr == nil {
		r.res.OutputBytes = info.Size()
	}

	if r.req.Peaks == nil {
		return nil
	}

	source := ""
	if r.cfg.UseProcessedOutput {
		source = cmd.Output
	} else {
		source = cmd.Inputs[0]
	}
	if _, statErr := os.Stat(source); statErr != nil {
		r.warn(fmt.Sprintf("peaks skipped: source %s not found", source))
		return nil
	}

	// A failed peaks pass never fails the transcode.
	if pe, perr := r.extract(ctx, source); perr != nil {
		r.warn("peaks extraction failed: " + perr.Error())
	} else {
		r.absorbPeaks(pe)
	}
	return nil
}

func (r *run) peaksOnly(ctx context.Context) error {
	source := r.req.Command.Inputs[0]
	if r.cfg.UseProcessedOutput && r.req.Command.Output != "" {
		source = r.req.Command.Output
	}
	res, err := r.extract(ctx, source)
	if err != nil {
		return err
	}
	r.absorb(res)
	return nil
}

func (r *run) extract(ctx context.Context, source string) (*ffmpeg.SessionResult, error) {
	cfg := r.cfg
	r.layout(ctx, &cfg, source)

	return ffmpeg.ExtractPeaks(ctx, r.ffmpegPath(), source, cfg, ffmpeg.ExtractOptions{
		Logger:       r.logger,
		Timeout:      r.e.opts.Timeout,
		PollInterval: r.e.opts.PollInterval,
		ReadSize:     r.e.opts.ReadSize,
		PeaksFor:     r.peaksFor(source),
		OnProgress:   r.onProgress(ctx),
	})
}

func (r *run) ffmpegPath() string {
	if r.e.opts.FFmpegPath != "" {
		return r.e.opts.FFmpegPath
	}
	return r.req.Command.Binary
}

// peaksFor is the path the default peaks filename derives from.
func (r *run) peaksFor(source string) string {
	if r.output != "" {
		return r.output
	}
	return source
}

// layout fills in the PCM layout, probing source for unset fields. A failed
// probe falls back to stereo at 44.1 kHz.
func (r *run) layout(ctx context.Context, cfg *peaks.Config, source string) ffmpeg.PCMFormat {
	if cfg.Channels > 0 && cfg.SampleRate > 0 {
		return ffmpeg.PCMFormat{Channels: cfg.Channels, SampleRate: cfg.SampleRate}
	}

	var info *ffmpeg.AudioInfo
	var err error
	if r.e.opts.Prober != nil {
		info, err = r.e.opts.Prober.ProbeAudio(ctx, source)
	} else {
		err = errors.New("no prober configured")
	}
	if err != nil {
		r.logger.Warn("probe failed, using default pcm layout",
			slog.String("source", source),
			slog.String("error", err.Error()),
			slog.Int("channels", peaks.DefaultChannels),
			slog.Int("sample_rate", peaks.DefaultSampleRate),
		)
		info = &ffmpeg.AudioInfo{}
	}

	if cfg.Channels <= 0 {
		cfg.Channels = info.Channels
		if cfg.Channels <= 0 {
			cfg.Channels = peaks.DefaultChannels
		}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = info.SampleRate
		if cfg.SampleRate <= 0 {
			cfg.SampleRate = peaks.DefaultSampleRate
		}
	}
	return ffmpeg.PCMFormat{Channels: cfg.Channels, SampleRate: cfg.SampleRate}
}

func (r *run) absorb(res *ffmpeg.SessionResult) {
	r.res.ExitCode = res.ExitCode
	r.res.Progress = res.Progress
	r.res.Stats = res.Stats
	r.absorbPeaks(res)
}

func (r *run) absorbPeaks(res *ffmpeg.SessionResult) {
	if res.PeaksErr != nil {
		r.warn("peaks discarded: " + res.PeaksErr.Error())
		return
	}
	if res.Peaks != nil {
		r.res.Peaks = res.Peaks
		r.res.PeaksPath = res.PeaksFilename
	}
}

// savePeaks writes the peaks file through the store. Failures are warnings.
func (r *run) savePeaks(ctx context.Context) {
	if r.res.Peaks == nil {
		r.res.PeaksPath = ""
		return
	}
	if r.req.Store == nil {
		r.res.PeaksPath = ""
		return
	}

	data, err := peaks.Encode(r.res.Peaks, r.cfg.Format)
	if err != nil {
		r.warn("encoding peaks: " + err.Error())
		r.res.PeaksPath = ""
		return
	}
	if err := r.req.Store.WriteBuffer(ctx, r.res.PeaksPath, data); err != nil {
		r.warn("saving peaks: " + err.Error())
		r.res.PeaksPath = ""
		return
	}
	r.logger.InfoContext(ctx, "peaks saved",
		slog.String("path", r.res.PeaksPath),
		slog.Int("length", r.res.Peaks.Length))
}

func (r *run) warn(msg string) {
	r.res.Warnings = append(r.res.Warnings, msg)
	r.logger.Warn(msg)
}

func (r *run) fail(ctx context.Context, err error, start time.Time) (*Result, error) {
	r.res.Success = false
	r.res.ExitCode = ffmpeg.ExitCodeOf(err)
	r.res.Diagnostic = diagnostic(err)
	r.res.Peaks = nil
	r.res.PeaksPath = ""
	r.res.OutputBytes = 0
	if !start.IsZero() {
		r.res.Duration = time.Since(start)
	}

	r.e.sink.Emit(context.WithoutCancel(ctx), events.Event{
		Type:      events.TypeFailed,
		JobID:     r.res.JobID,
		Timestamp: time.Now(),
		Output:    r.output,
		Duration:  r.res.Duration,
		ExitCode:  r.res.ExitCode,
		Error:     err.Error(),
	})
	if r.req.OnError != nil {
		r.req.OnError(r.res, err)
	}
	return r.res, err
}

// diagnostic prefers the process's own error log over the Go error text.
func diagnostic(err error) string {
	var exitErr *ffmpeg.ExitError
	if errors.As(err, &exitErr) {
		if s := strings.TrimSpace(exitErr.Stderr); s != "" {
			return s
		}
	}
	return err.Error()
}

func ensureOutputDir(output string) error {
	if output == "" {
		return nil
	}
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	return nil
}
