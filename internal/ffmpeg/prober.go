package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds a single ffprobe call.
const DefaultProbeTimeout = 30 * time.Second

// ErrNoAudioStream is returned when a file has no audio stream.
var ErrNoAudioStream = errors.New("no audio stream found")

// ProbeResult contains the ffprobe output the prober reads.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string            `json:"filename"`
	NumStreams int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"` // video, audio, subtitle, data
	SampleFmt     string `json:"sample_fmt,omitempty"`
	SampleRate    string `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	Duration      string `json:"duration,omitempty"`
	BitRate       string `json:"bit_rate,omitempty"`
}

// AudioInfo describes the first audio stream of a file.
type AudioInfo struct {
	Index         int           `json:"index"`
	Codec         string        `json:"codec"`
	Channels      int           `json:"channels"`
	ChannelLayout string        `json:"channel_layout,omitempty"`
	SampleRate    int           `json:"sample_rate"`
	Duration      time.Duration `json:"duration"`
	Container     string        `json:"container,omitempty"`
}

// PCMFormat returns the layout to request for peak extraction.
func (a *AudioInfo) PCMFormat() PCMFormat {
	return PCMFormat{Channels: a.Channels, SampleRate: a.SampleRate}
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     DefaultProbeTimeout,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// Probe runs ffprobe on path.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// ProbeAudio returns the layout of the first audio stream in path.
func (p *Prober) ProbeAudio(ctx context.Context, path string) (*AudioInfo, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return audioInfo(result)
}

func audioInfo(result *ProbeResult) (*AudioInfo, error) {
	for _, s := range result.Streams {
		if s.CodecType != "audio" {
			continue
		}

		info := &AudioInfo{
			Index:         s.Index,
			Codec:         s.CodecName,
			Channels:      s.Channels,
			ChannelLayout: s.ChannelLayout,
			Container:     result.Format.FormatName,
		}
		if rate, err := strconv.Atoi(s.SampleRate); err == nil {
			info.SampleRate = rate
		}

		dur := s.Duration
		if dur == "" {
			dur = result.Format.Duration
		}
		if secs, err := strconv.ParseFloat(dur, 64); err == nil {
			info.Duration = time.Duration(secs * float64(time.Second))
		}

		if info.Channels <= 0 || info.SampleRate <= 0 {
			return nil, fmt.Errorf("audio stream %d has no usable layout (%d channels at %d Hz)", s.Index, info.Channels, info.SampleRate)
		}
		return info, nil
	}
	return nil, ErrNoAudioStream
}
