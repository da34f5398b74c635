package event

import "sync"

const queueCompactThreshold = 1024

// queue is an unbounded FIFO with a single consumer. push never blocks, so
// memory grows without limit while the consumer falls behind; the bus reports
// the backlog through its pending gauge and warnings.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool
	ready  chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		ready: make(chan struct{}, 1),
	}
}

func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
	return true
}

// next blocks until an item is available. It returns false once the queue is
// closed and fully drained.
func (q *queue[T]) next() (T, bool) {
	for {
		q.mu.Lock()
		if q.head < len(q.items) {
			item := q.items[q.head]
			var zero T
			q.items[q.head] = zero
			q.head++
			q.compactLocked()
			q.mu.Unlock()
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *queue[T]) compactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head >= queueCompactThreshold && q.head*2 >= len(q.items) {
		remaining := copy(q.items, q.items[q.head:])
		var zero T
		for i := remaining; i < len(q.items); i++ {
			q.items[i] = zero
		}
		q.items = q.items[:remaining]
		q.head = 0
	}
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// discard drops every queued item and returns how many were dropped.
func (q *queue[T]) discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.items) - q.head
	q.items = nil
	q.head = 0
	return dropped
}

func (q *queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
