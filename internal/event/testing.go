package event

import (
	"sync"
	"testing"
	"time"
)

// EventCollector stores events received from callbacks.
type EventCollector[T any] struct {
	mu     sync.Mutex
	events []T
	notify chan struct{}
}

func NewEventCollector[T any]() *EventCollector[T] {
	return &EventCollector[T]{notify: make(chan struct{}, 1)}
}

func (collector *EventCollector[T]) Collect(event T) {
	if collector == nil {
		return
	}
	collector.mu.Lock()
	collector.events = append(collector.events, event)
	collector.mu.Unlock()
	select {
	case collector.notify <- struct{}{}:
	default:
	}
}

func (collector *EventCollector[T]) Events() []T {
	if collector == nil {
		return nil
	}
	collector.mu.Lock()
	defer collector.mu.Unlock()
	copyEvents := make([]T, len(collector.events))
	copy(copyEvents, collector.events)
	return copyEvents
}

func (collector *EventCollector[T]) Len() int {
	if collector == nil {
		return 0
	}
	collector.mu.Lock()
	defer collector.mu.Unlock()
	return len(collector.events)
}

// WaitFor blocks until at least count events were collected or timeout
// elapses, returning the collected events either way.
func (collector *EventCollector[T]) WaitFor(count int, timeout time.Duration) ([]T, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if events := collector.Events(); len(events) >= count {
			return events, true
		}
		select {
		case <-collector.notify:
		case <-deadline.C:
			events := collector.Events()
			return events, len(events) >= count
		}
	}
}

// ReceiveWithTimeout waits for a single event or fails the test.
func ReceiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return event
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event after %s", timeout)
	}
	var zero T
	return zero
}
