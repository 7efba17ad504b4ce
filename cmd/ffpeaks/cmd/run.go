package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/ffpeaks/internal/events"
	"github.com/jmylchreest/ffpeaks/internal/executor"
	"github.com/jmylchreest/ffpeaks/internal/ffmpeg"
	"github.com/jmylchreest/ffpeaks/internal/peaks"
	"github.com/jmylchreest/ffpeaks/internal/storage"
)

// pipeMuxers maps output extensions to muxers that can write to a pipe.
var pipeMuxers = map[string]string{
	".mp3":  "mp3",
	".ogg":  "ogg",
	".opus": "ogg",
	".oga":  "ogg",
	".flac": "flac",
	".wav":  "wav",
	".aac":  "adts",
	".webm": "webm",
	".mkv":  "matroska",
	".mka":  "matroska",
}

type runOptions struct {
	inputs     []string
	output     string
	codec      string
	bitrate    string
	channels   int
	sampleRate int
	muxer      string
	filter     string
	extraArgs  string

	peaks        bool
	peaksOnly    bool
	live         bool
	spp          int
	peaksFormat  string
	peaksFile    string
	useOutput    bool
	normalize    []float64
	record       bool
	showProgress bool
	jsonOutput   bool
	// printPeaks writes the peaks document to stdout instead of storage.
	printPeaks bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run -i INPUT -o OUTPUT",
	Short: "Transcode a file and optionally extract peaks",
	Long: `Run an FFmpeg transcode.

Local outputs are written below storage.base_dir/storage.output_dir. When
storage.upload.endpoint is set the output is streamed from FFmpeg and
uploaded to OUTPUT, and peaks are extracted from the same pass.

Examples:
  ffpeaks run -i in.wav -o out.mp3 --codec libmp3lame --bitrate 192k --peaks
  ffpeaks run -i in.flac -o in.flac --peaks-only --spp 256 --normalize=-1,1`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runTranscode(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), runOpts)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringArrayVarP(&runOpts.inputs, "input", "i", nil, "input file (repeatable)")
	f.StringVarP(&runOpts.output, "output", "o", "", "output destination")
	f.StringVar(&runOpts.codec, "codec", "", "audio codec (e.g. libmp3lame, aac, libopus)")
	f.StringVar(&runOpts.bitrate, "bitrate", "", "audio bitrate (e.g. 192k)")
	f.IntVar(&runOpts.channels, "channels", 0, "output channel count")
	f.IntVar(&runOpts.sampleRate, "sample-rate", 0, "output sample rate")
	f.StringVar(&runOpts.muxer, "format", "", "output muxer; inferred from the output extension when uploading")
	f.StringVar(&runOpts.filter, "af", "", "audio filter graph")
	f.StringVar(&runOpts.extraArgs, "args", "", "additional output options, quoted as on a shell")

	f.BoolVar(&runOpts.peaks, "peaks", false, "extract waveform peaks")
	f.BoolVar(&runOpts.peaksOnly, "peaks-only", false, "extract peaks without producing media")
	f.BoolVar(&runOpts.live, "live", false, "extract peaks during the transcode instead of afterwards")
	f.IntVar(&runOpts.spp, "spp", 0, "samples per pixel (default from config)")
	f.StringVar(&runOpts.peaksFormat, "peaks-format", "", "peaks file format: simple or full (default from config)")
	f.StringVar(&runOpts.peaksFile, "peaks-file", "", "peaks filename (default <output stem>-peaks.json)")
	f.BoolVar(&runOpts.useOutput, "use-output", false, "extract peaks from the transcoded output instead of the input")
	f.Float64SliceVar(&runOpts.normalize, "normalize", nil, "normalize peaks into lo,hi")
	f.BoolVar(&runOpts.record, "record", false, "record the job in the history database")
	f.BoolVar(&runOpts.showProgress, "progress", false, "print progress to stderr")
	f.BoolVar(&runOpts.jsonOutput, "json", false, "print the result as JSON")

	_ = runCmd.MarkFlagRequired("input")
}

func runTranscode(ctx context.Context, stdout, stderr io.Writer, opts runOptions) error {
	info, err := detectBinaries(ctx)
	if err != nil {
		return err
	}
	var store storage.Store
	if !opts.printPeaks {
		if store, err = newStore(); err != nil {
			return err
		}
	}

	sinks := []events.Sink{events.NewLogSink(logger)}
	if opts.record {
		recorder, closeDB, err := newRecorderSink(ctx)
		if err != nil {
			return err
		}
		defer closeDB()
		sinks = append(sinks, recorder)
	}

	req, err := buildRequest(info.FFmpegPath, store, opts)
	if err != nil {
		return err
	}
	if opts.showProgress {
		req.OnProgress = func(p ffmpeg.Progress) {
			fmt.Fprintln(stderr, formatProgress(p))
		}
	}

	res, runErr := newExecutor(info, events.Multi(sinks...)).Execute(ctx, req)
	if runErr == nil && opts.printPeaks {
		return printPeaks(stdout, res, req.Peaks.Format)
	}
	if err := printResult(stdout, res, opts.jsonOutput); err != nil {
		return err
	}
	return runErr
}

func printPeaks(w io.Writer, res *executor.Result, format peaks.Format) error {
	if res.Peaks == nil {
		return fmt.Errorf("no peaks produced: %s", strings.Join(res.Warnings, "; "))
	}
	data, err := peaks.Encode(res.Peaks, format)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// buildRequest assembles the command and peaks configuration. Local outputs
// are resolved inside the sandbox; remote outputs are piped.
func buildRequest(ffmpegPath string, store storage.Store, opts runOptions) (executor.Request, error) {
	if len(opts.inputs) == 0 {
		return executor.Request{}, errors.New("at least one --input is required")
	}
	if opts.output == "" && !opts.peaksOnly {
		return executor.Request{}, errors.New("--output is required unless --peaks-only is set")
	}

	b := ffmpeg.NewCommandBuilder(ffmpegPath).HideBanner().Overwrite().ProgressToPipe()
	for _, in := range opts.inputs {
		b.Input(in)
	}
	if opts.codec != "" {
		b.AudioCodec(opts.codec)
	}
	if opts.bitrate != "" {
		b.AudioBitrate(opts.bitrate)
	}
	if opts.channels > 0 {
		b.AudioChannels(opts.channels)
	}
	if opts.sampleRate > 0 {
		b.AudioSampleRate(opts.sampleRate)
	}
	if opts.filter != "" {
		b.AudioFilter(opts.filter)
	}
	b.ApplyCustomOutputOptions(opts.extraArgs)

	req := executor.Request{Store: store, Destination: opts.output}
	if opts.peaksOnly && store == nil {
		b.NoOutput()
		req.Command = b.Build()
		pc, err := peaksConfig(opts)
		if err != nil {
			return executor.Request{}, err
		}
		req.Peaks = &pc
		return req, nil
	}

	switch local, isLocal := store.(*storage.LocalStore); {
	case opts.peaksOnly:
		b.NoOutput()
		if isLocal && opts.output != "" {
			path, err := local.Resolve(filepath.Join(cfg.Storage.OutputDir, opts.output))
			if err != nil {
				return executor.Request{}, err
			}
			req.Destination = path
		}
	case store.SupportsDirectUpload(opts.output):
		muxer := opts.muxer
		if muxer == "" {
			muxer = pipeMuxers[strings.ToLower(filepath.Ext(opts.output))]
		}
		if muxer == "" {
			return executor.Request{}, fmt.Errorf("cannot infer a pipe muxer for %q; set --format", opts.output)
		}
		b.OutputToPipe(muxer)
	case isLocal:
		path, err := local.Resolve(filepath.Join(cfg.Storage.OutputDir, opts.output))
		if err != nil {
			return executor.Request{}, err
		}
		b.Output(path)
		req.Destination = path
	default:
		b.Output(opts.output)
	}
	req.Command = b.Build()

	if opts.peaks || opts.peaksOnly || opts.live {
		pc, err := peaksConfig(opts)
		if err != nil {
			return executor.Request{}, err
		}
		req.Peaks = &pc
	}
	return req, nil
}

func peaksConfig(opts runOptions) (peaks.Config, error) {
	pc := peaksDefaults(cfg.Peaks)
	pc.Only = opts.peaksOnly
	pc.Live = opts.live
	pc.UseProcessedOutput = opts.useOutput
	if opts.spp > 0 {
		pc.SamplesPerPixel = opts.spp
	}
	if opts.peaksFormat != "" {
		format, err := peaks.ParseFormat(opts.peaksFormat)
		if err != nil {
			return peaks.Config{}, err
		}
		pc.Format = format
	}
	if opts.peaksFile != "" {
		pc.Filename = peaks.FilenameRule{Literal: opts.peaksFile}
	}
	switch len(opts.normalize) {
	case 0:
	case 2:
		pc.Normalize = &peaks.Range{Lo: opts.normalize[0], Hi: opts.normalize[1]}
	default:
		return peaks.Config{}, fmt.Errorf("--normalize takes exactly two values, got %d", len(opts.normalize))
	}
	return pc, pc.Validate()
}

func formatProgress(p ffmpeg.Progress) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "time=%.2fs", p.TimeProcessed)
	if p.Speed != nil {
		fmt.Fprintf(&sb, " speed=%.2fx", *p.Speed)
	}
	if p.FPS != nil {
		fmt.Fprintf(&sb, " fps=%.1f", *p.FPS)
	}
	return sb.String()
}

func printResult(w io.Writer, res *executor.Result, asJSON bool) error {
	if res == nil {
		return nil
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	status := "completed"
	if !res.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "job %s %s (%s, %s)\n", res.JobID, status, res.Mode, res.Duration.Round(time.Millisecond))
	if res.Output != "" {
		fmt.Fprintf(w, "  output: %s", res.Output)
		if res.OutputBytes > 0 {
			fmt.Fprintf(w, " (%s)", humanize.Bytes(uint64(res.OutputBytes)))
		}
		fmt.Fprintln(w)
	}
	if res.PeaksPath != "" {
		fmt.Fprintf(w, "  peaks: %s (%d windows)\n", res.PeaksPath, res.Peaks.Length)
	} else if res.Peaks != nil {
		fmt.Fprintf(w, "  peaks: %d windows (not saved)\n", res.Peaks.Length)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	if !res.Success && res.Diagnostic != "" {
		fmt.Fprintf(w, "  exit code %d: %s\n", res.ExitCode, lastLines(res.Diagnostic, 5))
	}
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n    ")
}
