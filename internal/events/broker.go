// Package events carries environment lifecycle and transcript events from
// the manager to subscribers (session injector, diagnostics store,
// websocket streams). Delivery is non-blocking: a slow subscriber drops
// events rather than stalling an in-flight resolution.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flakenv/flakenv/pkg/types"
)

type Broker struct {
	mu      sync.RWMutex
	subs    map[chan types.Event]struct{}
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan types.Event]struct{})}
}

func (b *Broker) Subscribe(buf int) chan types.Event {
	if buf <= 0 {
		buf = 100
	}
	ch := make(chan types.Event, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

func (b *Broker) Unsubscribe(ch chan types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker) Publish(ev types.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// DroppedCount returns the total number of events dropped due to slow
// subscribers.
func (b *Broker) DroppedCount() int64 {
	return b.dropped.Load()
}
