package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ffpeaks/internal/peaks"
)

// shellCommand builds a command that runs script under /bin/sh with the
// given channel layout, standing in for ffmpeg.
func shellCommand(script string, pcm *PCMFormat, outputFormat string) *Command {
	return &Command{
		Binary:       "/bin/sh",
		Args:         []string{"-c", script},
		PCM:          pcm,
		OutputFormat: outputFormat,
		Progress:     true,
	}
}

func TestSession_StereoSilence(t *testing.T) {
	cmd := shellCommand(`head -c 4096 /dev/zero >&3`, &PCMFormat{Channels: 2, SampleRate: 44100}, "")
	session := NewSession(cmd, SessionOptions{Peaks: &peaks.Config{SamplesPerPixel: 512}, PeaksFor: "out.m4a"})

	res, err := session.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Peaks)

	assert.Equal(t, StateExited, session.State())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 2, res.Peaks.Length)
	assert.Equal(t, make([]float64, 8), res.Peaks.Data)
	assert.Equal(t, 44100, res.Peaks.SampleRate)
	assert.Equal(t, "out-peaks.json", res.PeaksFilename)
	assert.EqualValues(t, 4096, res.BytesRead[RolePCM])
	assert.Nil(t, res.Output)
}

func TestSession_PCMValues(t *testing.T) {
	// Mono samples: 32767, -32768, 1, -1.
	cmd := shellCommand(`printf '\377\177\000\200\001\000\377\377' >&3`, &PCMFormat{Channels: 1, SampleRate: 8000}, "")
	session := NewSession(cmd, SessionOptions{Peaks: &peaks.Config{SamplesPerPixel: 2}})

	res, err := session.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Peaks)
	assert.Equal(t, []float64{-32768, 32767, -1, 1}, res.Peaks.Data)
}

func TestSession_OutputPipe(t *testing.T) {
	cmd := shellCommand(`printf 'transcoded' >&4`, nil, "mp3")

	res, err := NewSession(cmd, SessionOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("transcoded"), res.Output)
	assert.Nil(t, res.Peaks)
}

func TestSession_PCMDescriptorClosedWhenUnused(t *testing.T) {
	script := `if { true >&3; } 2>/dev/null; then printf open >&4; else printf closed >&4; fi`
	cmd := shellCommand(script, nil, "mp3")

	res, err := NewSession(cmd, SessionOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "closed", string(res.Output))
}

func TestSession_LargeInterleavedStreams(t *testing.T) {
	script := `
head -c 1048576 /dev/zero >&3
head -c 524288 /dev/zero >&4
i=0
while [ $i -lt 200 ]; do echo "warning line $i" >&2; i=$((i+1)); done
head -c 1048576 /dev/zero >&3
`
	cmd := shellCommand(script, &PCMFormat{Channels: 2, SampleRate: 44100}, "wav")
	session := NewSession(cmd, SessionOptions{
		Peaks:           &peaks.Config{SamplesPerPixel: 1024},
		MonitorInterval: 10 * time.Millisecond,
	})

	res, err := session.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Output, 524288)
	assert.Equal(t, 512, res.Peaks.Length)
	assert.Contains(t, res.Stderr, "warning line 199")
	require.NotNil(t, res.Stats)
	assert.Equal(t, uint64(2*1048576+524288+len(res.Stderr)), res.Stats.BytesRead)
}

func TestSession_Progress(t *testing.T) {
	script := `
printf 'out_time=00:00:01.000000\nspeed=1.0x\nprogress=continue\n'
sleep 0.2
printf 'out_time=00:00:02.500000\nspeed=2.0x\nprogress=end\n'
`
	cmd := shellCommand(script, nil, "")

	var got []Progress
	res, err := NewSession(cmd, SessionOptions{
		OnProgress: func(p Progress) { got = append(got, p) },
	}).Run(context.Background())
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, 1.0, got[0].TimeProcessed)
	assert.Equal(t, 2.5, got[len(got)-1].TimeProcessed)
	require.NotNil(t, res.Progress)
	assert.Equal(t, 2.5, res.Progress.TimeProcessed)
}

func TestSession_ExitError(t *testing.T) {
	script := `echo "input.mp3: No such file or directory" >&2; printf partial >&4; exit 1`
	cmd := shellCommand(script, &PCMFormat{Channels: 2, SampleRate: 44100}, "mp3")
	session := NewSession(cmd, SessionOptions{})

	res, err := session.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, StateFailed, session.State())
	assert.Equal(t, 1, session.ExitCode())

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.ExitCode)
	assert.Contains(t, exitErr.Stderr, "No such file")
	assert.Contains(t, err.Error(), "No such file")
	assert.Equal(t, 1, ExitCodeOf(err))
}

func TestSession_Timeout(t *testing.T) {
	cmd := shellCommand(`sleep 30 & sleep 30`, nil, "")
	session := NewSession(cmd, SessionOptions{Timeout: 200 * time.Millisecond})

	start := time.Now()
	res, err := session.Run(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Equal(t, StateFailed, session.State())

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, ExitCodeOf(err))
}

func TestSession_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := NewSession(shellCommand(`sleep 30`, nil, ""), SessionOptions{}).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_LaunchError(t *testing.T) {
	cmd := &Command{Binary: "/nonexistent/ffmpeg"}
	session := NewSession(cmd, SessionOptions{})

	_, err := session.Run(context.Background())
	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.Equal(t, "/nonexistent/ffmpeg", launchErr.Binary)
	assert.Equal(t, StateFailed, session.State())
}

func TestSession_SingleUse(t *testing.T) {
	session := NewSession(shellCommand(`true`, nil, ""), SessionOptions{})

	_, err := session.Run(context.Background())
	require.NoError(t, err)

	_, err = session.Run(context.Background())
	assert.ErrorIs(t, err, ErrSessionUsed)
}

func TestSession_TruncatedPCM(t *testing.T) {
	cmd := shellCommand(`printf '\001\000\002\000\003' >&3`, &PCMFormat{Channels: 2, SampleRate: 44100}, "")

	res, err := NewSession(cmd, SessionOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Peaks)

	var malformed *peaks.MalformedPCMError
	require.True(t, errors.As(res.PeaksErr, &malformed))
	assert.Equal(t, 1, malformed.Leftover)
}

func TestSession_PeaksNamingError(t *testing.T) {
	cmd := shellCommand(`head -c 16 /dev/zero >&3`, &PCMFormat{Channels: 1, SampleRate: 8000}, "")
	cfg := &peaks.Config{Filename: peaks.FilenameRule{Literal: "../../etc/passwd"}}

	res, err := NewSession(cmd, SessionOptions{Peaks: cfg}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Peaks)

	var naming *peaks.NamingError
	assert.True(t, errors.As(res.PeaksErr, &naming))
}

func TestSession_ChunkedDeliveryMatchesWhole(t *testing.T) {
	// The child writes the same stream in small, oddly sized pieces.
	script := `
for i in 1 2 3 4 5 6 7 8 9 10; do
  printf '\001\000\377\177\000\200' >&3
  sleep 0.01
done
printf '\005\000\006\000' >&3
`
	cmd := shellCommand(script, &PCMFormat{Channels: 2, SampleRate: 44100}, "")
	res, err := NewSession(cmd, SessionOptions{Peaks: &peaks.Config{SamplesPerPixel: 3}, ReadSize: 3}).Run(context.Background())
	require.NoError(t, err)

	var stream bytes.Buffer
	for i := 0; i < 10; i++ {
		stream.Write([]byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80})
	}
	stream.Write([]byte{0x05, 0x00, 0x06, 0x00})

	r, err := peaks.NewReducer(2, 44100, 3, nil)
	require.NoError(t, err)
	r.Push(stream.Bytes())
	want, err := r.Finalize()
	require.NoError(t, err)

	require.NotNil(t, res.Peaks)
	assert.Equal(t, want.Data, res.Peaks.Data)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "pcm", RolePCM.String())
}

func TestSession_StderrKeepsTail(t *testing.T) {
	script := `head -c 1572864 /dev/zero | tr '\0' 'x' >&2; echo 'Invalid data found' >&2; exit 1`
	_, err := NewSession(shellCommand(script, nil, ""), SessionOptions{}).Run(context.Background())

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Len(t, exitErr.Stderr, maxStderrBytes)
	assert.True(t, strings.HasSuffix(exitErr.Stderr, "Invalid data found\n"))
}
