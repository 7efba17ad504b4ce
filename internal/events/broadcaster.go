package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
)

// DefaultSubscriberBuffer is the channel size given to new subscribers.
const DefaultSubscriberBuffer = 64

// Subscriber receives events for every job, or one job when JobID is set.
type Subscriber struct {
	ID     string
	JobID  string
	Events chan Event
}

// Broadcaster is a Sink that fans events out to subscribers. Sends never
// block: a subscriber whose buffer is full misses the event, except terminal
// events which replace the oldest buffered one.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With(slog.String("component", "events")),
	}
}

// Subscribe registers a subscriber. An empty jobID receives every job.
func (b *Broadcaster) Subscribe(jobID string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &Subscriber{
		ID:     ulid.Make().String(),
		JobID:  jobID,
		Events: make(chan Event, buffer),
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.Events)
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Emit delivers ev to matching subscribers.
func (b *Broadcaster) Emit(_ context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.JobID != "" && sub.JobID != ev.JobID {
			continue
		}
		select {
		case sub.Events <- ev:
			continue
		default:
		}

		if !ev.Type.IsTerminal() {
			b.logger.Warn("subscriber event channel full, dropping event",
				slog.String("subscriber_id", sub.ID),
				slog.String("job_id", ev.JobID),
				slog.String("type", string(ev.Type)),
			)
			continue
		}

		// Make room for the terminal event.
		select {
		case <-sub.Events:
		default:
		}
		select {
		case sub.Events <- ev:
		default:
		}
	}
}
