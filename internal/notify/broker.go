package notify

import (
	"context"
	"strings"
)

type EventType string

const (
	EventStatus    EventType = "status"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is one message on a task's progress channel. The stream is advisory:
// a subscriber may miss status events, but the terminal event is always the
// last one published and the Registry remains the authoritative record.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}

// Broker carries ordered progress events from a worker to any number of
// subscribers on a named channel. Channels are named after task ids, so
// subscribers must never observe events from a channel they did not ask for.
type Broker interface {
	// Publish broadcasts one event, best effort. It must return within a
	// bounded interval; a failed publish is the caller's to log and drop.
	Publish(ctx context.Context, channel string, event Event) error

	// Subscribe opens a live feed for one channel. The returned cancel func
	// must be called when the consumer is done. Subscribing to a channel
	// that no task ever writes to is valid and simply yields nothing.
	Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error)

	Close() error
}

// NewBroker selects the broker backend: Postgres LISTEN/NOTIFY when a
// database URL is configured, otherwise in-process fan-out.
func NewBroker(ctx context.Context, databaseURL string) (Broker, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryBroker(), nil
	}
	return NewPostgresBroker(ctx, databaseURL)
}
