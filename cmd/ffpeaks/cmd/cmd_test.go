package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ffpeaks/internal/config"
	"github.com/jmylchreest/ffpeaks/internal/executor"
	"github.com/jmylchreest/ffpeaks/internal/ffmpeg"
	"github.com/jmylchreest/ffpeaks/internal/models"
	"github.com/jmylchreest/ffpeaks/internal/observability"
	"github.com/jmylchreest/ffpeaks/internal/peaks"
	"github.com/jmylchreest/ffpeaks/internal/storage"
)

// useTestConfig installs default configuration rooted in a temp dir.
func useTestConfig(t *testing.T) {
	t.Helper()
	loaded, err := config.Load("")
	require.NoError(t, err)
	loaded.Storage.BaseDir = t.TempDir()

	prevCfg, prevLogger := cfg, logger
	cfg, logger = loaded, observability.Discard()
	t.Cleanup(func() { cfg, logger = prevCfg, prevLogger })
}

type uploadStore struct{}

func (uploadStore) SupportsDirectUpload(string) bool { return true }

func (uploadStore) RequestUploadTarget(context.Context, string) (*storage.UploadTarget, error) {
	return &storage.UploadTarget{URL: "http://upload.test/put"}, nil
}

func (uploadStore) WriteBuffer(context.Context, string, []byte) error { return nil }

func TestBuildRequest_LocalOutput(t *testing.T) {
	useTestConfig(t)
	store, err := newLocalStore()
	require.NoError(t, err)

	req, err := buildRequest("/usr/bin/ffmpeg", store, runOptions{
		inputs:  []string{"in.wav"},
		output:  "out.mp3",
		codec:   "libmp3lame",
		bitrate: "192k",
		peaks:   true,
	})
	require.NoError(t, err)

	want, err := store.Resolve(filepath.Join(cfg.Storage.OutputDir, "out.mp3"))
	require.NoError(t, err)
	assert.Equal(t, want, req.Destination)
	assert.Equal(t, want, req.Command.Output)
	assert.Equal(t, []string{"in.wav"}, req.Command.Inputs)
	assert.True(t, req.Command.Progress)
	assert.Contains(t, req.Command.Args, "libmp3lame")
	assert.Contains(t, req.Command.Args, "192k")
	assert.False(t, req.Command.WantsOutputPipe())
	require.NotNil(t, req.Peaks)
	assert.Equal(t, cfg.Peaks.SamplesPerPixel, req.Peaks.SamplesPerPixel)
}

func TestBuildRequest_NoPeaksUnlessAsked(t *testing.T) {
	useTestConfig(t)
	store, err := newLocalStore()
	require.NoError(t, err)

	req, err := buildRequest("ffmpeg", store, runOptions{inputs: []string{"a.flac"}, output: "a.ogg"})
	require.NoError(t, err)
	assert.Nil(t, req.Peaks)
}

func TestBuildRequest_DirectUpload(t *testing.T) {
	useTestConfig(t)

	req, err := buildRequest("ffmpeg", uploadStore{}, runOptions{
		inputs: []string{"in.wav"},
		output: "shows/ep1.OPUS",
		live:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "shows/ep1.OPUS", req.Destination)
	assert.Equal(t, "ogg", req.Command.OutputFormat)
	assert.True(t, req.Command.WantsOutputPipe())
	assert.Contains(t, req.Command.Args, ffmpeg.OutputPipe)
	require.NotNil(t, req.Peaks)
	assert.True(t, req.Peaks.Live)
}

func TestBuildRequest_DirectUploadExplicitMuxer(t *testing.T) {
	useTestConfig(t)

	req, err := buildRequest("ffmpeg", uploadStore{}, runOptions{
		inputs: []string{"in.wav"},
		output: "raw/take1",
		muxer:  "wav",
	})
	require.NoError(t, err)
	assert.Equal(t, "wav", req.Command.OutputFormat)
}

func TestBuildRequest_PeaksOnlyWithoutStore(t *testing.T) {
	useTestConfig(t)

	req, err := buildRequest("ffmpeg", nil, runOptions{
		inputs:    []string{"in.wav"},
		peaksOnly: true,
		spp:       256,
	})
	require.NoError(t, err)
	assert.Nil(t, req.Store)
	assert.Empty(t, req.Command.Output)
	assert.False(t, req.Command.WantsOutputPipe())
	require.NotNil(t, req.Peaks)
	assert.True(t, req.Peaks.Only)
	assert.Equal(t, 256, req.Peaks.SamplesPerPixel)
}

func TestBuildRequest_PeaksOnlyLocal(t *testing.T) {
	useTestConfig(t)
	store, err := newLocalStore()
	require.NoError(t, err)

	req, err := buildRequest("ffmpeg", store, runOptions{
		inputs:    []string{"music/in.flac"},
		output:    "in.flac",
		peaksOnly: true,
	})
	require.NoError(t, err)
	assert.Empty(t, req.Command.Output)
	assert.True(t, filepath.IsAbs(req.Destination))
	assert.Equal(t, "in.flac", filepath.Base(req.Destination))
}

func TestBuildRequest_Errors(t *testing.T) {
	useTestConfig(t)
	store, err := newLocalStore()
	require.NoError(t, err)

	tests := []struct {
		name  string
		store storage.Store
		opts  runOptions
	}{
		{"no input", store, runOptions{output: "out.mp3"}},
		{"no output", store, runOptions{inputs: []string{"in.wav"}}},
		{"unknown pipe muxer", uploadStore{}, runOptions{inputs: []string{"in.wav"}, output: "out.xyz"}},
		{"escapes sandbox", store, runOptions{inputs: []string{"in.wav"}, output: "../../../etc/out.mp3"}},
		{"bad normalize", store, runOptions{inputs: []string{"in.wav"}, output: "out.mp3", peaks: true, normalize: []float64{-1}}},
		{"bad peaks format", store, runOptions{inputs: []string{"in.wav"}, output: "out.mp3", peaks: true, peaksFormat: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildRequest("ffmpeg", tt.store, tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestPeaksConfig_Overrides(t *testing.T) {
	useTestConfig(t)

	pc, err := peaksConfig(runOptions{
		spp:         1024,
		peaksFormat: "full",
		peaksFile:   "wave.json",
		useOutput:   true,
		normalize:   []float64{0, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1024, pc.SamplesPerPixel)
	assert.Equal(t, peaks.FormatFull, pc.Format)
	assert.Equal(t, "wave.json", pc.Filename.Literal)
	assert.True(t, pc.UseProcessedOutput)
	require.NotNil(t, pc.Normalize)
	assert.Equal(t, peaks.Range{Lo: 0, Hi: 1}, *pc.Normalize)
}

func TestPeaksDefaults(t *testing.T) {
	pc := peaksDefaults(config.PeaksConfig{
		SamplesPerPixel: 128,
		Format:          "full",
		NormalizeRange:  []float64{-1, 1},
	})
	assert.Equal(t, 128, pc.SamplesPerPixel)
	assert.Equal(t, peaks.FormatFull, pc.Format)
	require.NotNil(t, pc.Normalize)
	assert.Equal(t, -1.0, pc.Normalize.Lo)

	pc = peaksDefaults(config.PeaksConfig{NormalizeRange: []float64{1}})
	assert.Nil(t, pc.Normalize)
	assert.Positive(t, pc.SamplesPerPixel)
}

func TestFormatProgress(t *testing.T) {
	speed, fps := 1.5, 25.0
	assert.Equal(t, "time=12.50s", formatProgress(ffmpeg.Progress{TimeProcessed: 12.5}))
	assert.Equal(t, "time=3.00s speed=1.50x fps=25.0",
		formatProgress(ffmpeg.Progress{TimeProcessed: 3, Speed: &speed, FPS: &fps}))
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	err := printResult(&buf, &executor.Result{
		JobID:       "01J0000000000000000000000",
		Mode:        executor.ModeStreaming,
		Success:     true,
		Duration:    1500 * time.Millisecond,
		Output:      "out.mp3",
		OutputBytes: 2048,
		Peaks:       &peaks.Result{Length: 42},
		PeaksPath:   "out-peaks.json",
		Warnings:    []string{"layout probe failed"},
	}, false)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "completed (streaming, 1.5s)")
	assert.Contains(t, out, "output: out.mp3 (2.0 kB)")
	assert.Contains(t, out, "peaks: out-peaks.json (42 windows)")
	assert.Contains(t, out, "warning: layout probe failed")
}

func TestPrintResult_Failure(t *testing.T) {
	var buf bytes.Buffer
	err := printResult(&buf, &executor.Result{
		JobID:      "job",
		Mode:       executor.ModeStandard,
		ExitCode:   1,
		Diagnostic: "a\nb\nc\nd\ne\nf\nInvalid data found\n",
	}, false)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "exit code 1")
	assert.Contains(t, out, "Invalid data found")
	assert.NotContains(t, out, "a\n")
}

func TestPrintResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, &executor.Result{JobID: "job", Success: true}, true))
	assert.Contains(t, buf.String(), `"job_id": "job"`)

	buf.Reset()
	require.NoError(t, printResult(&buf, nil, true))
	assert.Empty(t, buf.String())
}

func TestPrintPeaks(t *testing.T) {
	var buf bytes.Buffer
	res := &executor.Result{Peaks: &peaks.Result{
		Version: 2, Channels: 1, SampleRate: 8000, SamplesPerPixel: 4, Bits: 16, Length: 1,
		Data: []float64{-0.5, 0.5},
	}}
	require.NoError(t, printPeaks(&buf, res, peaks.FormatSimple))
	assert.JSONEq(t, `[-0.5, 0.5]`, buf.String())

	err := printPeaks(&buf, &executor.Result{Warnings: []string{"no audio"}}, peaks.FormatSimple)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no audio")
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "c\n    d", lastLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, "only", lastLines("only", 5))
}

func TestToMap(t *testing.T) {
	m := toMap(&config.Config{
		Server:  config.ServerConfig{Port: 9000, ReadTimeout: 30 * time.Second},
		History: config.HistoryConfig{Retention: 30 * config.Day},
		FFmpeg:  config.FFmpegConfig{ReadSize: 8192},
	})

	server, ok := m["server"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 9000, server["port"])
	assert.Equal(t, "30s", server["read_timeout"])

	ff, ok := m["ffmpeg"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "8.2 kB", ff["read_size"])

	history, ok := m["history"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "30d", history["retention"])
}

func TestDumpConfig(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, dumpConfig(&buf))

	out := buf.String()
	assert.Contains(t, out, "# ffpeaks configuration")
	assert.Contains(t, out, "samples_per_pixel: 512")
	assert.Contains(t, out, "prune_schedule:")
}

func TestApplyServeFlags(t *testing.T) {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("host", "", "")
	flags.Int("port", 0, "")
	require.NoError(t, flags.Parse([]string{"--port", "9090"}))

	server := config.ServerConfig{Host: "0.0.0.0", Port: 8080}
	applyServeFlags(flags, &server)
	assert.Equal(t, "0.0.0.0", server.Host)
	assert.Equal(t, 9090, server.Port)

	require.NoError(t, flags.Parse([]string{"--host", "127.0.0.1"}))
	applyServeFlags(flags, &server)
	assert.Equal(t, "127.0.0.1", server.Host)
}

func TestPrintJobs(t *testing.T) {
	started := models.Now().Add(-time.Minute)
	jobs := []*models.TranscodeJob{
		{JobID: "job-a", Status: models.JobStatusCompleted, Mode: "streaming", StartedAt: &started, DurationMs: 2500, Output: "a.mp3"},
		{JobID: "job-b", Status: models.JobStatusRunning, Mode: "standard"},
	}

	var buf bytes.Buffer
	require.NoError(t, printJobs(&buf, jobs, 7))

	out := buf.String()
	assert.Contains(t, out, "╭")
	assert.Contains(t, out, "JOB ID")
	assert.Contains(t, out, "│ job-a")
	assert.Contains(t, out, "2.5s")
	assert.Contains(t, out, "minute ago")
	assert.Contains(t, out, "2 of 7 job(s)")
}

func TestPrintJob_Failed(t *testing.T) {
	var buf bytes.Buffer
	printJob(&buf, &models.TranscodeJob{
		JobID:     "job-c",
		Status:    models.JobStatusFailed,
		Inputs:    []string{"in.wav", "cover.png"},
		ExitCode:  1,
		LastError: "No such file or directory",
		Warnings:  []string{"layout probe failed"},
	})

	out := buf.String()
	assert.Contains(t, out, "inputs:    in.wav, cover.png")
	assert.Contains(t, out, "exit code: 1")
	assert.Contains(t, out, "error:     No such file or directory")
	assert.Contains(t, out, "warning:   layout probe failed")
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Name", "Size"},
		[][]string{{"a.mp3", "10"}, {"long-name.flac"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	assert.Contains(t, out, "╭")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "│ a.mp3          │   10 │")
	assert.Contains(t, out, "│ long-name.flac │      │")

	assert.Empty(t, renderTable(nil, [][]string{{"x"}}, nil))
}
