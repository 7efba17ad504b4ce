package events

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestType_IsTerminal(t *testing.T) {
	assert.False(t, TypeStarted.IsTerminal())
	assert.False(t, TypeProgress.IsTerminal())
	assert.True(t, TypeCompleted.IsTerminal())
	assert.True(t, TypeFailed.IsTerminal())
}

func TestMulti(t *testing.T) {
	var got []string
	record := func(name string) Sink {
		return SinkFunc(func(_ context.Context, ev Event) {
			got = append(got, name+":"+string(ev.Type))
		})
	}

	sink := Multi(record("a"), nil, record("b"))
	sink.Emit(context.Background(), Event{Type: TypeStarted})

	assert.Equal(t, []string{"a:started", "b:started"}, got)
}

func TestMulti_Degenerate(t *testing.T) {
	assert.NotPanics(t, func() {
		Multi().Emit(context.Background(), Event{Type: TypeStarted})
		Multi(nil, nil).Emit(context.Background(), Event{Type: TypeStarted})
	})

	only := NewLogSink(nil)
	assert.Same(t, only, Multi(nil, only))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(newTestLogger(&buf))
	ctx := context.Background()
	speed := 2.5

	sink.Emit(ctx, Event{Type: TypeStarted, JobID: "j1", Command: "ffmpeg -i in.wav out.mp3", Inputs: []string{"in.wav"}, Output: "out.mp3"})
	assert.Contains(t, buf.String(), "ffmpeg process started")
	assert.Contains(t, buf.String(), `"job_id":"j1"`)
	assert.Contains(t, buf.String(), `"output":"out.mp3"`)

	buf.Reset()
	sink.Emit(ctx, Event{Type: TypeProgress, JobID: "j1", Progress: &Progress{TimeProcessed: 12.5, Speed: &speed}})
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
	assert.Contains(t, buf.String(), `"time_processed":12.5`)
	assert.Contains(t, buf.String(), `"speed":2.5`)

	buf.Reset()
	sink.Emit(ctx, Event{Type: TypeCompleted, JobID: "j1", Output: "out.mp3", PeaksPath: "out-peaks.json", Warnings: []string{"w"}})
	assert.Contains(t, buf.String(), "ffmpeg process completed")
	assert.Contains(t, buf.String(), `"peaks_path":"out-peaks.json"`)

	buf.Reset()
	sink.Emit(ctx, Event{Type: TypeFailed, JobID: "j1", ExitCode: 1, Error: "in.wav: No such file or directory"})
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"exit_code":1`)
	assert.Contains(t, buf.String(), "No such file")
}

func TestBroadcaster_SubscribeAndFilter(t *testing.T) {
	b := NewBroadcaster(nil)
	all := b.Subscribe("", 4)
	one := b.Subscribe("j2", 4)
	require.Equal(t, 2, b.Len())

	b.Emit(context.Background(), Event{Type: TypeStarted, JobID: "j1"})
	b.Emit(context.Background(), Event{Type: TypeStarted, JobID: "j2"})

	require.Len(t, all.Events, 2)
	require.Len(t, one.Events, 1)
	assert.Equal(t, "j2", (<-one.Events).JobID)

	b.Unsubscribe(one.ID)
	b.Unsubscribe(one.ID)
	assert.Equal(t, 1, b.Len())
	_, ok := <-one.Events
	assert.False(t, ok)
}

func TestBroadcaster_FullBufferKeepsTerminalEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	sub := b.Subscribe("", 2)
	ctx := context.Background()

	for i := range 5 {
		b.Emit(ctx, Event{Type: TypeProgress, JobID: "j", Progress: &Progress{TimeProcessed: float64(i)}})
	}
	b.Emit(ctx, Event{Type: TypeCompleted, JobID: "j"})

	var types []Type
	timeout := time.After(time.Second)
	for len(types) < 2 {
		select {
		case ev := <-sub.Events:
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []Type{TypeProgress, TypeCompleted}, types)
}
