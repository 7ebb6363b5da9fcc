package eventbus

import (
	"sync"
	"time"
)

// Event is an in-process notification passed between services.
//
// Delivery is best-effort: Publish never blocks, and a subscriber whose
// buffer is full misses the event. Payloads should stay small; anything a
// consumer needs long-term belongs in storage, not on the bus.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. The bus owns no goroutines; Publish
// runs on the caller's stack.
func New() Bus {
	return &bus{subs: make(map[uint64]chan Event)}
}

type bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
}

// Publish stamps e with the current time when unset and offers it to every
// subscriber. Sends happen under the read lock, so a channel can never be
// closed mid-send; full buffers drop the event instead of blocking.
func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a buffered subscription. A buffer below 1 gets a small
// default. The returned func removes the subscription and closes the channel;
// calling it more than once is fine.
func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
