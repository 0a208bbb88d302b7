package engine

import (
	"sync"
	"time"
)

// EventKind labels progress stream entries.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventLog      EventKind = "log"
	EventResponse EventKind = "response"
	EventError    EventKind = "error"
	EventStatus   EventKind = "status"
)

// Event is one progress stream entry.
type Event struct {
	Kind      EventKind
	Content   string
	Step      string
	Iteration int
	Time      time.Time
}

const subscriberBuffer = 64

// Broadcaster fans events out to subscribers. Emission never blocks: a
// subscriber whose buffer is full loses its oldest event, not the run's
// progress.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster builds an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered event channel and its cancel func. Cancel is
// idempotent and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping the oldest queued
// event for any subscriber that has fallen behind.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Buffer full: drop the oldest and retry once more.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close tears down every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
