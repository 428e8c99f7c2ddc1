// Package stream fans request lifecycle events out to in-process
// subscribers, backing the SSE endpoint and any future consumers.
package stream

import (
	"sync"
	"time"
)

// Event describes one lifecycle change of a request.
type Event struct {
	RequestID   string    `json:"request_id"`
	RequestType string    `json:"request_type"`
	Status      string    `json:"status"`
	ActorID     string    `json:"actor_id,omitempty"`
	At          time.Time `json:"at"`
}

// Broker is a non-blocking fan-out hub. Slow subscribers lose events rather
// than stalling publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroker builds an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer and returns
// the event channel plus a cancel function. Cancel is idempotent and closes
// the channel.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its buffer.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
