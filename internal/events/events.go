// Package events carries transcode lifecycle notifications to sinks such as
// the log, the job history table, and SSE subscribers.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Type identifies a lifecycle event.
type Type string

// Lifecycle event types.
const (
	TypeStarted   Type = "started"
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
)

// IsTerminal reports whether no further events follow for the job.
func (t Type) IsTerminal() bool {
	return t == TypeCompleted || t == TypeFailed
}

// Progress mirrors a progress snapshot.
type Progress struct {
	TimeProcessed float64  `json:"time_processed"`
	FPS           *float64 `json:"fps,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
}

// Event is a single lifecycle notification for one job.
type Event struct {
	Type      Type      `json:"type"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`

	// Set on started.
	Command string   `json:"command,omitempty"`
	Inputs  []string `json:"inputs,omitempty"`
	Output  string   `json:"output,omitempty"`
	Mode    string   `json:"mode,omitempty"`

	// Set on progress.
	Progress *Progress `json:"progress,omitempty"`

	// Set on completed and failed.
	Duration  time.Duration `json:"duration,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Error     string        `json:"error,omitempty"`
	PeaksPath string        `json:"peaks_path,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// Sink receives events. Emit must not block for long since progress events
// are delivered from the drain loop.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Nop discards every event.
var Nop Sink = SinkFunc(func(context.Context, Event) {})

type multi []Sink

// Multi fans events out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Nop
	case 1:
		return out[0]
	}
	return out
}

func (m multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// LogSink writes events to a structured logger. Progress events are logged
// at debug level, failures at error.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("component", "events"))}
}

// Emit logs ev.
func (s *LogSink) Emit(ctx context.Context, ev Event) {
	attrs := []slog.Attr{slog.String("job_id", ev.JobID)}

	switch ev.Type {
	case TypeStarted:
		attrs = append(attrs,
			slog.String("command", ev.Command),
			slog.Any("inputs", ev.Inputs),
			slog.String("output", ev.Output),
			slog.String("mode", ev.Mode),
		)
		s.logger.LogAttrs(ctx, slog.LevelInfo, "ffmpeg process started", attrs...)
	case TypeProgress:
		if ev.Progress != nil {
			attrs = append(attrs, slog.Float64("time_processed", ev.Progress.TimeProcessed))
			if ev.Progress.Speed != nil {
				attrs = append(attrs, slog.Float64("speed", *ev.Progress.Speed))
			}
		}
		s.logger.LogAttrs(ctx, slog.LevelDebug, "ffmpeg progress", attrs...)
	case TypeCompleted:
		attrs = append(attrs,
			slog.String("output", ev.Output),
			slog.Duration("duration", ev.Duration),
		)
		if ev.PeaksPath != "" {
			attrs = append(attrs, slog.String("peaks_path", ev.PeaksPath))
		}
		if len(ev.Warnings) > 0 {
			attrs = append(attrs, slog.Any("warnings", ev.Warnings))
		}
		s.logger.LogAttrs(ctx, slog.LevelInfo, "ffmpeg process completed", attrs...)
	case TypeFailed:
		attrs = append(attrs,
			slog.Int("exit_code", ev.ExitCode),
			slog.String("error", ev.Error),
			slog.Duration("duration", ev.Duration),
		)
		s.logger.LogAttrs(ctx, slog.LevelError, "ffmpeg process failed", attrs...)
	}
}
