// Package eventbus is a small in-memory fanout used to decouple the
// scheduler core from observers (history recorder, admin API).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatch core.
const (
	TypeSendOK          = "send.ok"
	TypeSendCooldown    = "send.cooldown"
	TypeSendRateLimited = "send.ratelimited"
	TypeSendError       = "send.error"
	TypeRotationStalled = "rotation.stalled"
	TypeAccountDisabled = "account.disabled"
)

// Event is a lightweight, in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.Mutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Deliver under the lock so Unsubscribe can never close a channel
	// that Publish is about to send on.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber is slow; drop
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if cur, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(cur)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}
