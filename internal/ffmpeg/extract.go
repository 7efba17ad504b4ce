package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/ffpeaks/internal/peaks"
)

// ExtractOptions configures ExtractPeaks.
type ExtractOptions struct {
	Logger       *slog.Logger
	Timeout      time.Duration
	PollInterval time.Duration
	ReadSize     int
	// PeaksFor is the output path the peaks filename is derived from.
	PeaksFor   string
	OnProgress func(Progress)
}

// ExtractPeaks decodes source once and reduces its first audio stream. The
// layout comes from cfg.Channels and cfg.SampleRate, which must be set.
// Only the PCM channel carries data; stdout and stderr are drained as usual.
func ExtractPeaks(ctx context.Context, ffmpegPath, source string, cfg peaks.Config, opts ExtractOptions) (*SessionResult, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Channels <= 0 || cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("extracting peaks: pcm layout not set (%d channels at %d Hz)", cfg.Channels, cfg.SampleRate)
	}

	cmd := NewCommandBuilder(ffmpegPath).
		HideBanner().
		Input(source).
		NoOutput().
		PeaksPCM(cfg.Channels, cfg.SampleRate).
		Build()

	session := NewSession(cmd, SessionOptions{
		Logger:       opts.Logger,
		Timeout:      opts.Timeout,
		PollInterval: opts.PollInterval,
		ReadSize:     opts.ReadSize,
		Peaks:        &cfg,
		PeaksFor:     opts.PeaksFor,
		OnProgress:   opts.OnProgress,
	})
	return session.Run(ctx)
}
