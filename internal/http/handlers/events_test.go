package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ffpeaks/internal/events"
	"github.com/jmylchreest/ffpeaks/internal/http/handlers"
	"github.com/jmylchreest/ffpeaks/internal/observability"
)

type sseFrame struct {
	event string
	data  string
}

// readFrames collects SSE frames until the stream closes or n frames arrive.
// Comment lines are skipped.
func readFrames(t *testing.T, sc *bufio.Scanner, n int) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	for len(frames) < n && sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.event != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func startEventStream(t *testing.T, b *events.Broadcaster, query string) (*bufio.Scanner, func()) {
	t.Helper()
	h := handlers.NewEventsHandler(b)
	h.SetHeartbeatInterval(time.Hour)
	router := chi.NewRouter()
	h.RegisterSSE(router)

	srv := httptest.NewServer(router)
	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+handlers.EventsPath+query, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	require.Equal(t, ":connected", sc.Text())

	// The subscription is registered before the connected comment is flushed.
	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, 5*time.Millisecond)

	return sc, func() {
		cancel()
		_ = resp.Body.Close()
		srv.Close()
	}
}

func TestEventsHandler_StreamsJobUntilTerminal(t *testing.T) {
	b := events.NewBroadcaster(observability.Discard())
	sc, stop := startEventStream(t, b, "?job_id=job-1")
	defer stop()

	ctx := context.Background()
	b.Emit(ctx, events.Event{Type: events.TypeStarted, JobID: "job-1", Mode: "streaming"})
	b.Emit(ctx, events.Event{Type: events.TypeProgress, JobID: "job-2"})
	b.Emit(ctx, events.Event{Type: events.TypeProgress, JobID: "job-1", Progress: &events.Progress{TimeProcessed: 1.5}})
	b.Emit(ctx, events.Event{Type: events.TypeCompleted, JobID: "job-1", PeaksPath: "out-peaks.json"})

	frames := readFrames(t, sc, 10)
	require.Len(t, frames, 3)
	assert.Equal(t, "started", frames[0].event)
	assert.Equal(t, "progress", frames[1].event)
	assert.Equal(t, "completed", frames[2].event)

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(frames[1].data), &ev))
	require.NotNil(t, ev.Progress)
	assert.InDelta(t, 1.5, ev.Progress.TimeProcessed, 1e-9)

	require.NoError(t, json.Unmarshal([]byte(frames[2].data), &ev))
	assert.Equal(t, "out-peaks.json", ev.PeaksPath)

	// The handler returns after the terminal event and unsubscribes.
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventsHandler_AllJobs(t *testing.T) {
	b := events.NewBroadcaster(observability.Discard())
	sc, stop := startEventStream(t, b, "")
	defer stop()

	ctx := context.Background()
	b.Emit(ctx, events.Event{Type: events.TypeFailed, JobID: "job-1", ExitCode: 1})
	b.Emit(ctx, events.Event{Type: events.TypeStarted, JobID: "job-2"})

	frames := readFrames(t, sc, 2)
	require.Len(t, frames, 2)
	assert.Equal(t, "failed", frames[0].event)
	assert.Equal(t, "started", frames[1].event)
	assert.Equal(t, 1, b.Len())
}
