package logging

import (
	"sync"

	"tellmewhen/internal/buffer"
)

// LogBuffer keeps the most recent entries for the logs endpoint and for
// assertions in tests. Methods on a nil buffer are no-ops.
type LogBuffer struct {
	mu   sync.Mutex
	ring *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{ring: buffer.NewRing[LogEntry](size)}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.ring.Add(entry)
	b.mu.Unlock()
}

// List returns the buffered entries, oldest first.
func (b *LogBuffer) List() []LogEntry {
	return b.filter(nil)
}

// Find returns buffered entries whose message matches exactly.
func (b *LogBuffer) Find(message string) []LogEntry {
	return b.filter(func(entry LogEntry) bool { return entry.Message == message })
}

// AtLeast returns buffered entries at or above min.
func (b *LogBuffer) AtLeast(min Level) []LogEntry {
	return b.filter(func(entry LogEntry) bool { return LevelAtLeast(entry.Level, min) })
}

func (b *LogBuffer) filter(keep func(LogEntry) bool) []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	entries := b.ring.List()
	b.mu.Unlock()
	if keep == nil {
		return entries
	}
	matches := entries[:0]
	for _, entry := range entries {
		if keep(entry) {
			matches = append(matches, entry)
		}
	}
	return matches
}
