package notify

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// MemoryBroker is a single-process Broker. It keeps the same semantics as the
// Postgres backend: per-channel ordering, channel isolation, and non-blocking
// best-effort delivery to slow subscribers.
type MemoryBroker struct {
	mu        sync.Mutex
	subs      map[string]map[int]chan Event
	nextSubID int
	closed    bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string]map[int]chan Event),
	}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs[channel] {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than stall the worker.
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	b.nextSubID++
	id := b.nextSubID
	if _, ok := b.subs[channel]; !ok {
		b.subs[channel] = make(map[int]chan Event)
	}
	b.subs[channel][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(b.subs, channel)
		}
	}
	return ch, cancel, nil
}

// SubscriberCount reports the number of live subscriptions on a channel.
func (b *MemoryBroker) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(b.subs, channel)
	}
	return nil
}
