// Package status distributes controller snapshots to observers: in-process
// subscribers (the status websocket) and, optionally, a Redis channel.
package status

import (
	"sync"

	"rillcast/internal/core/domain"
)

// Hub fans snapshots out to subscribers. A slow subscriber never blocks the
// controller: when its buffer is full the oldest pending snapshot is dropped.
type Hub struct {
	mu     sync.RWMutex
	latest domain.StatusSnapshot
	has    bool
	subs   map[chan domain.StatusSnapshot]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan domain.StatusSnapshot]struct{})}
}

func (h *Hub) OnStatus(snapshot domain.StatusSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = snapshot
	h.has = true
	for ch := range h.subs {
		deliver(ch, snapshot)
	}
}

func deliver(ch chan domain.StatusSnapshot, snapshot domain.StatusSnapshot) {
	select {
	case ch <- snapshot:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snapshot:
	default:
	}
}

// Subscribe returns a channel that first receives the latest snapshot, if any,
// and then every later one. The returned func unsubscribes and closes the
// channel.
func (h *Hub) Subscribe(buffer int) (<-chan domain.StatusSnapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.StatusSnapshot, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	if h.has {
		ch <- h.latest
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Latest returns the last snapshot seen and whether there was one.
func (h *Hub) Latest() (domain.StatusSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.has
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
