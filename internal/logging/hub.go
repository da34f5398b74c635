package logging

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 100

type hubSubscriber struct {
	output   chan LogEntry
	minLevel Level
}

// LogHub fans log entries out to live subscribers. A subscriber whose queue
// is full misses the entry and the miss is counted in Dropped.
type LogHub struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]hubSubscriber
	closed  bool
	dropped atomic.Uint64
}

func NewLogHub() *LogHub {
	return &LogHub{
		subs: make(map[uint64]hubSubscriber),
	}
}

// Subscribe registers a subscriber for entries at or above minLevel. An empty
// minLevel receives everything. The returned func unsubscribes and closes the
// channel; it is safe to call more than once.
func (h *LogHub) Subscribe(buffer int, minLevel Level) (<-chan LogEntry, func()) {
	if h == nil {
		return nil, func() {}
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		output := make(chan LogEntry)
		close(output)
		return output, func() {}
	}
	h.nextID++
	id := h.nextID
	subscriber := hubSubscriber{
		output:   make(chan LogEntry, buffer),
		minLevel: minLevel,
	}
	h.subs[id] = subscriber
	return subscriber.output, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing.output)
		}
	}
}

func (h *LogHub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many entries were discarded because a subscriber was
// not keeping up.
func (h *LogHub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

func (h *LogHub) Broadcast(entry LogEntry) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, subscriber := range h.subs {
		if !LevelAtLeast(entry.Level, subscriber.minLevel) {
			continue
		}
		select {
		case subscriber.output <- entry:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *LogHub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, subscriber := range h.subs {
		delete(h.subs, id)
		close(subscriber.output)
	}
}
