// Package broadcast implements the single-producer/many-consumer
// ring buffer described in spec.md §4.6: one producer posts message
// triples, any number of subscribers read at their own pace, and a
// subscriber that falls more than buffer_size behind has its oldest
// unread slots overwritten rather than stalling the producer.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/certstream/certstream-core-go/internal/message"
	"github.com/certstream/certstream-core-go/internal/metrics"
)

// ErrClosed is returned by Read once the bus is closed and the
// subscriber has drained every message published before closing.
var ErrClosed = errors.New("broadcast: bus closed")

// Bus is a bounded ring of message.Triple, shared by reference
// (spec.md §3, "Ownership"). The zero value is not usable; use New.
type Bus struct {
	mu sync.Mutex

	ring []message.Triple
	next uint64 // sequence number of the next slot to be written
	cap  uint64

	closed bool
	notify chan struct{} // closed and replaced on every state change
}

// New creates a Bus with the given ring capacity (buffer_size,
// default 1000 per spec.md §4.6).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1000
	}

	return &Bus{
		ring:   make([]message.Triple, capacity),
		cap:    uint64(capacity),
		notify: make(chan struct{}),
	}
}

// Publish posts one message triple. Publish never blocks on a slow
// consumer - it always succeeds immediately (spec.md §4.6, §5).
func (b *Bus) Publish(t message.Triple) {
	b.mu.Lock()
	t.Seq = b.next
	b.ring[b.next%b.cap] = t
	b.next++
	old := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()

	close(old)
}

// Close marks the bus closed; blocked Read calls return ErrClosed
// once they've drained everything published before the close.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.closed = true
	old := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()

	close(old)
}

// Subscriber is one consumer's view into the bus: an independent read
// cursor plus a lag counter (spec.md §3, "Subscription").
type Subscriber struct {
	bus    *Bus
	cursor uint64
	lagged uint64
}

// Subscribe returns a Subscriber positioned at the bus's current
// head, so it only ever observes messages published from this point
// on (spec.md §8, property 3: "every message the bus published
// during its lifetime").
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	cursor := b.next
	b.mu.Unlock()

	return &Subscriber{bus: b, cursor: cursor}
}

// Read blocks until the next message is available, ctx is cancelled,
// or the bus is closed and drained. On a lag event, it skips straight
// to the oldest message still in the ring and the skip is reflected in
// Lagged() (spec.md §8, property 4: the drop is a contiguous prefix,
// never interleaved with delivered messages).
func (s *Subscriber) Read(ctx context.Context) (message.Triple, error) {
	b := s.bus

	for {
		b.mu.Lock()

		if s.cursor < b.next {
			oldestAvailable := uint64(0)
			if b.next > b.cap {
				oldestAvailable = b.next - b.cap
			}

			if s.cursor < oldestAvailable {
				dropped := oldestAvailable - s.cursor
				s.lagged += dropped
				s.cursor = oldestAvailable
				metrics.MessageLagged()
			}

			t := b.ring[s.cursor%b.cap]
			s.cursor++
			b.mu.Unlock()

			return t, nil
		}

		if b.closed {
			b.mu.Unlock()
			return message.Triple{}, ErrClosed
		}

		ch := b.notify
		b.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return message.Triple{}, ctx.Err()
		}
	}
}

// Lagged returns the cumulative number of messages this subscriber
// has had dropped from under it due to lag.
func (s *Subscriber) Lagged() uint64 {
	return s.lagged
}
