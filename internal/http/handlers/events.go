package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/ffpeaks/internal/events"
	"github.com/jmylchreest/ffpeaks/internal/observability"
)

// EventsPath is where the event stream is served.
const EventsPath = "/api/v1/events"

// EventsHandler streams executor lifecycle events as server-sent events.
type EventsHandler struct {
	broadcaster       *events.Broadcaster
	heartbeatInterval time.Duration
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(b *events.Broadcaster) *EventsHandler {
	return &EventsHandler{
		broadcaster:       b,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval.
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterSSE registers the stream on a chi router. Huma has no streaming
// response type, so this bypasses the API.
func (h *EventsHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get(EventsPath, h.ServeHTTP)
}

// ServeHTTP streams events until the client disconnects. The job_id query
// parameter limits the stream to one job; the stream then ends after that
// job's terminal event.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx)
	jobID := r.URL.Query().Get("job_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.broadcaster.Subscribe(jobID, events.DefaultSubscriberBuffer)
	defer h.broadcaster.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	fmt.Fprint(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		logger.Error("failed to flush initial SSE connection", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				logger.Debug("heartbeat flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				logger.Error("failed to write SSE event",
					slog.String("type", string(ev.Type)),
					slog.String("job_id", ev.JobID),
					slog.String("error", err.Error()))
				return
			}
			if err := rc.Flush(); err != nil {
				logger.Debug("event flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
			if jobID != "" && ev.Type.IsTerminal() {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
