// Package peaks reduces interleaved signed 16-bit PCM into min/max waveform
// windows and publishes them as JSON peak files.
package peaks

import (
	"errors"
	"fmt"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultSamplesPerPixel = 512
	DefaultChannels        = 2
	DefaultSampleRate      = 44100
)

// Format selects what a peaks file contains.
type Format string

const (
	// FormatSimple publishes only the data sequence.
	FormatSimple Format = "simple"
	// FormatFull publishes the whole Result including metadata.
	FormatFull Format = "full"
)

// ParseFormat parses a format name. An empty name yields FormatSimple.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatSimple:
		return FormatSimple, nil
	case FormatFull:
		return FormatFull, nil
	default:
		return "", fmt.Errorf("invalid peaks format %q: must be %q or %q", s, FormatSimple, FormatFull)
	}
}

// Range is an output range for normalized peak values.
type Range struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Validate checks that Lo is strictly below Hi.
func (r Range) Validate() error {
	if r.Lo >= r.Hi {
		return fmt.Errorf("invalid normalize range [%g, %g]: lo must be less than hi", r.Lo, r.Hi)
	}
	return nil
}

// FilenameRule determines where a peaks file is written. Func takes
// precedence over Literal. A zero rule derives the name from the output path.
type FilenameRule struct {
	Literal string
	Func    func(outputPath string) string
}

// IsZero reports whether no rule was supplied.
func (r FilenameRule) IsZero() bool {
	return r.Literal == "" && r.Func == nil
}

// Config is the caller-supplied peaks configuration. It is not modified
// once a session starts.
type Config struct {
	// SamplesPerPixel is the number of PCM frames per output window.
	SamplesPerPixel int
	// Normalize rescales output values into the range when set.
	Normalize *Range
	// Only skips producing transcoded media entirely.
	Only bool
	// Live extracts peaks from the running transcode even when the
	// destination is local.
	Live bool
	// Format selects the published structure.
	Format Format
	// Filename is the peaks file naming rule.
	Filename FilenameRule
	// UseProcessedOutput takes peaks from the transcoded output instead
	// of the original input. Only meaningful for the post-transcode pass.
	UseProcessedOutput bool
	// Channels and SampleRate describe the PCM layout. Zero means probe.
	Channels   int
	SampleRate int
}

// WithDefaults returns a copy with unset fields filled in.
func (c Config) WithDefaults() Config {
	if c.SamplesPerPixel == 0 {
		c.SamplesPerPixel = DefaultSamplesPerPixel
	}
	if c.Format == "" {
		c.Format = FormatSimple
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.SamplesPerPixel <= 0 {
		errs = append(errs, fmt.Errorf("samples per pixel must be positive, got %d", c.SamplesPerPixel))
	}
	if c.Normalize != nil {
		if err := c.Normalize.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := ParseFormat(string(c.Format)); err != nil {
		errs = append(errs, err)
	}
	if c.Channels < 0 {
		errs = append(errs, fmt.Errorf("channels must not be negative, got %d", c.Channels))
	}
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("sample rate must not be negative, got %d", c.SampleRate))
	}
	return errors.Join(errs...)
}
