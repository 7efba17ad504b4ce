package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Fixed pipe numbers used by a streaming session.
const (
	ProgressPipe = "pipe:1"
	PCMPipe      = "pipe:3"
	OutputPipe   = "pipe:4"
)

// PCMFormat describes the raw audio written to PCMPipe.
type PCMFormat struct {
	Channels   int `json:"channels"`
	SampleRate int `json:"sample_rate"`
}

// FrameSize returns the size of one interleaved s16 frame in bytes.
func (f PCMFormat) FrameSize() int {
	return f.Channels * 2
}

// Command represents an FFmpeg command to execute.
type Command struct {
	Binary string
	Args   []string

	// Inputs lists every -i source in order.
	Inputs []string
	// Output is the file destination, empty when output is piped or absent.
	Output string
	// OutputFormat is the muxer used when the output goes to OutputPipe.
	OutputFormat string
	// PCM is set when raw s16le audio is written to PCMPipe.
	PCM *PCMFormat
	// Progress is set when machine-readable progress goes to ProgressPipe.
	Progress bool
}

// WantsPCM reports whether the command writes raw audio to PCMPipe.
func (c *Command) WantsPCM() bool {
	return c.PCM != nil
}

// WantsOutputPipe reports whether the transcoded output is written to OutputPipe.
func (c *Command) WantsOutputPipe() bool {
	return c.OutputFormat != ""
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Clone returns a deep copy of the command.
func (c *Command) Clone() *Command {
	out := *c
	out.Args = append([]string(nil), c.Args...)
	out.Inputs = append([]string(nil), c.Inputs...)
	if c.PCM != nil {
		pcm := *c.PCM
		out.PCM = &pcm
	}
	return &out
}

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary       string
	globalArgs   []string
	inputs       []builderInput
	pendingInput []string
	filterArgs   []string
	outputArgs   []string
	output       string
	outputFormat string
	noOutput     bool
	pcm          *PCMFormat
	logLevel     string
	overwrite    bool
	progress     bool
}

type builderInput struct {
	args []string
	path string
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Stats enables progress stats output on stderr.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// ProgressToPipe writes key=value progress to ProgressPipe and disables
// the interactive stats line.
func (b *CommandBuilder) ProgressToPipe() *CommandBuilder {
	b.progress = true
	return b
}

// InputArgs adds arguments applied to the next Input.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.pendingInput = append(b.pendingInput, args...)
	return b
}

// Input adds an input source. Pending InputArgs are attached to it.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.inputs = append(b.inputs, builderInput{args: b.pendingInput, path: input})
	b.pendingInput = nil
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// AudioChannels sets the number of audio channels.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// AudioSampleRate sets the output sample rate.
func (b *CommandBuilder) AudioSampleRate(rate int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(rate))
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// NoVideo drops video streams from the output.
func (b *CommandBuilder) NoVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// AudioFilter adds an audio filter.
func (b *CommandBuilder) AudioFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// ApplyCustomOutputOptions parses and applies custom output options string.
// Options are appended after existing output args.
func (b *CommandBuilder) ApplyCustomOutputOptions(opts string) *CommandBuilder {
	if opts == "" {
		return b
	}
	b.outputArgs = append(b.outputArgs, parseOptionsString(opts)...)
	return b
}

// Output sets a file destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	b.outputFormat = ""
	b.noOutput = false
	return b
}

// OutputToPipe writes the transcoded output to OutputPipe using the given
// muxer. Piped output needs an explicit format since there is no extension.
func (b *CommandBuilder) OutputToPipe(format string) *CommandBuilder {
	b.output = ""
	b.outputFormat = format
	b.noOutput = false
	return b
}

// NoOutput omits the transcoded output entirely, leaving only the PCM tap.
func (b *CommandBuilder) NoOutput() *CommandBuilder {
	b.output = ""
	b.outputFormat = ""
	b.noOutput = true
	return b
}

// PeaksPCM adds a second output that writes the first audio stream as
// interleaved s16le to PCMPipe.
func (b *CommandBuilder) PeaksPCM(channels, sampleRate int) *CommandBuilder {
	b.pcm = &PCMFormat{Channels: channels, SampleRate: sampleRate}
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)
	if b.progress {
		args = append(args, "-progress", ProgressPipe, "-nostats")
	}
	if b.overwrite {
		args = append(args, "-y")
	}

	inputs := make([]string, 0, len(b.inputs))
	for _, in := range b.inputs {
		args = append(args, in.args...)
		args = append(args, "-i", in.path)
		inputs = append(inputs, in.path)
	}

	cmd := &Command{
		Binary:   b.binary,
		Inputs:   inputs,
		Progress: b.progress,
	}

	if !b.noOutput {
		if len(b.filterArgs) > 0 {
			args = append(args, "-af", strings.Join(b.filterArgs, ","))
		}
		args = append(args, b.outputArgs...)
		switch {
		case b.outputFormat != "":
			args = append(args, "-f", b.outputFormat, OutputPipe)
			cmd.OutputFormat = b.outputFormat
		case b.output != "":
			args = append(args, b.output)
			cmd.Output = b.output
		}
	}

	if b.pcm != nil {
		args = append(args, pcmArgs(*b.pcm)...)
		pcm := *b.pcm
		cmd.PCM = &pcm
	}

	cmd.Args = args
	return cmd
}

// WithPCM returns a copy of c that also writes its first audio stream to
// PCMPipe. The PCM output is always last on the command line, so this is
// equivalent to building with PeaksPCM. It returns c unchanged when a PCM
// output is already present.
func (c *Command) WithPCM(f PCMFormat) *Command {
	if c.PCM != nil {
		return c
	}
	out := c.Clone()
	out.Args = append(out.Args, pcmArgs(f)...)
	out.PCM = &f
	return out
}

func pcmArgs(f PCMFormat) []string {
	return []string{
		"-map", "0:a:0",
		"-vn",
		"-c:a", "pcm_s16le",
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le",
		PCMPipe,
	}
}

// parseOptionsString splits an options string respecting quotes.
func parseOptionsString(s string) []string {
	var result []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)
	escaped := false

	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		if r == '\\' {
			escaped = true
			continue
		}

		if r == '"' || r == '\'' {
			if !inQuote {
				inQuote = true
				quoteChar = r
			} else if r == quoteChar {
				inQuote = false
			} else {
				current.WriteRune(r)
			}
			continue
		}

		if r == ' ' && !inQuote {
			if current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
			continue
		}

		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// Validate checks that the command can be run.
func (c *Command) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("ffmpeg binary not set")
	}
	if c.PCM != nil && (c.PCM.Channels <= 0 || c.PCM.SampleRate <= 0) {
		return fmt.Errorf("invalid pcm format: %d channels at %d Hz", c.PCM.Channels, c.PCM.SampleRate)
	}
	return nil
}
