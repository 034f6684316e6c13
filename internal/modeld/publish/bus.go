package publish

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Envelope is one published message.
type Envelope struct {
	Topic    string
	MonoTime time.Time
	Msg      any
}

// Publisher accepts messages without blocking the caller.
type Publisher interface {
	Publish(topic string, msg any)
}

// Bus fans published messages out to subscribers. A subscriber whose buffer
// is full misses the message; the cycle never waits on a consumer.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]*subscription
	dropped     atomic.Uint64
	now         func() time.Time
	// BufferSize is the channel capacity given to new subscribers.
	BufferSize int
}

type subscription struct {
	ch     chan Envelope
	topics map[string]bool
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]*subscription),
		now:         time.Now,
		BufferSize:  64,
	}
}

// Subscribe returns a channel of messages on the given topics, or on every
// topic when none are named.
func (b *Bus) Subscribe(topics ...string) (string, <-chan Envelope) {
	sub := &subscription{ch: make(chan Envelope, b.BufferSize)}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe closes the subscriber's channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// Publish implements Publisher.
func (b *Bus) Publish(topic string, msg any) {
	env := Envelope{Topic: topic, MonoTime: b.now(), Msg: msg}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		if sub.topics != nil && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
