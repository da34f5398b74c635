package event

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tellmewhen/internal/buffer"
	"tellmewhen/internal/logging"
	"tellmewhen/internal/metrics"
)

const defaultPendingWarningThreshold = 10000
const defaultPendingWarningInterval = 30 * time.Second

// SubscriptionID identifies a subscription for the lifetime of its bus. IDs
// start at 1 and are never reused; 0 means the subscription was refused.
type SubscriptionID uint64

func (id SubscriptionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

type BusOptions struct {
	Name                    string
	MaxSubscribers          int
	SlowSubscriberThreshold time.Duration
	PendingWarningThreshold int
	PendingWarningInterval  time.Duration
	HistorySize             int
	Logger                  *logging.Logger
	Registry                *metrics.Registry
}

// BusStats is a point-in-time view of bus counters.
type BusStats struct {
	Published   int64
	Delivered   int64
	Panics      int64
	Pending     int
	Subscribers int
}

// Bus routes published values to callback subscriptions. Publish appends to
// an unbounded ingress queue and never waits for subscribers; a single
// dispatch goroutine started by Start invokes every matching callback in
// turn, so a blocking callback delays delivery to everyone else.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[SubscriptionID]*subscription[T]
	ordered     []*subscription[T]
	nextSubID   atomic.Uint64

	queue     *queue[T]
	lifecycle sync.Mutex
	started   bool
	closed    bool
	done      chan struct{}

	options     BusOptions
	logger      *logging.Logger
	registry    *metrics.Registry
	published   atomic.Int64
	delivered   atomic.Int64
	panics      atomic.Int64
	lastWarning atomic.Int64

	historyMu sync.Mutex
	history   *buffer.Ring[T]
}

type subscription[T any] struct {
	id       SubscriptionID
	callback func(T)
	filter   func(T) bool
	removed  atomic.Bool
}

type typedEvent interface {
	Type() string
}

func NewBus[T any](opts BusOptions) *Bus[T] {
	if opts.PendingWarningThreshold <= 0 {
		opts.PendingWarningThreshold = defaultPendingWarningThreshold
	}
	if opts.PendingWarningInterval <= 0 {
		opts.PendingWarningInterval = defaultPendingWarningInterval
	}
	bus := &Bus[T]{
		subscribers: make(map[SubscriptionID]*subscription[T]),
		queue:       newQueue[T](),
		done:        make(chan struct{}),
		options:     opts,
		registry:    opts.Registry,
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	bus.logger = logging.OrNop(opts.Logger).With(logging.Fields{
		"component": "event_bus",
		"bus":       bus.busName(),
	})
	if opts.HistorySize > 0 {
		bus.history = buffer.NewRing[T](opts.HistorySize)
	}
	return bus
}

// Subscribe registers callback for every message dispatched after it returns.
func (b *Bus[T]) Subscribe(callback func(T)) SubscriptionID {
	return b.SubscribeFiltered(nil, callback)
}

// SubscribeFiltered registers callback for messages accepted by filter. A nil
// filter accepts everything; a filter that panics is treated as a non-match.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool, callback func(T)) SubscriptionID {
	if b == nil || callback == nil {
		return 0
	}
	b.lifecycle.Lock()
	closed := b.closed
	b.lifecycle.Unlock()
	if closed {
		return 0
	}

	b.mu.Lock()
	if b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers {
		b.mu.Unlock()
		b.logger.Warn("subscriber limit reached", logging.Fields{
			"max_subscribers": strconv.Itoa(b.options.MaxSubscribers),
		})
		return 0
	}
	id := SubscriptionID(b.nextSubID.Add(1))
	b.subscribers[id] = &subscription[T]{id: id, callback: callback, filter: filter}
	b.rebuildOrderLocked()
	count := len(b.subscribers)
	b.mu.Unlock()

	b.registry.SetEventSubscribers(b.busName(), count)
	return id
}

// Unsubscribe removes a subscription and reports whether it existed. Messages
// published after Unsubscribe returns are never delivered to it.
func (b *Bus[T]) Unsubscribe(id SubscriptionID) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if !ok {
		b.mu.Unlock()
		return false
	}
	sub.removed.Store(true)
	delete(b.subscribers, id)
	b.rebuildOrderLocked()
	count := len(b.subscribers)
	b.mu.Unlock()

	b.registry.SetEventSubscribers(b.busName(), count)
	return true
}

// Publish enqueues event for dispatch. It returns false when the bus is
// closed or event is nil.
func (b *Bus[T]) Publish(event T) bool {
	if b == nil || isNil(event) {
		return false
	}
	if !b.queue.push(event) {
		return false
	}

	b.appendHistory(event)
	eventType := b.eventType(event)
	b.published.Add(1)
	b.registry.IncEventPublished(b.busName(), eventType)
	pending := b.queue.len()
	b.registry.SetEventPending(b.busName(), pending)
	if debugEventsEnabled {
		b.logger.Info("event published", logging.Fields{"type": eventType})
	}
	b.maybeWarnPending(pending)
	return true
}

// Start launches the dispatch goroutine. Cancelling ctx closes the bus.
func (b *Bus[T]) Start(ctx context.Context) error {
	if b == nil {
		return ErrBusClosed
	}
	b.lifecycle.Lock()
	if b.closed {
		b.lifecycle.Unlock()
		return ErrBusClosed
	}
	if b.started {
		b.lifecycle.Unlock()
		return ErrBusStarted
	}
	b.started = true
	b.lifecycle.Unlock()

	go b.run()
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				b.Close()
			case <-b.done:
			}
		}()
	}
	return nil
}

// Close stops accepting messages, lets the dispatch goroutine drain what was
// already queued and waits for it to exit. A bus that was never started drops
// its queue. Close must not be called from a subscriber callback.
func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.lifecycle.Lock()
	if b.closed {
		b.lifecycle.Unlock()
		<-b.done
		return
	}
	b.closed = true
	started := b.started
	b.lifecycle.Unlock()

	b.queue.close()
	if !started {
		if dropped := b.queue.discard(); dropped > 0 {
			b.logger.Warn("bus closed before start, dropping queued messages", logging.Fields{
				"dropped": strconv.Itoa(dropped),
			})
		}
		close(b.done)
	}
	<-b.done
	b.registry.SetEventPending(b.busName(), 0)
}

// Done is closed once the dispatch goroutine has exited.
func (b *Bus[T]) Done() <-chan struct{} {
	return b.done
}

// Channel subscribes to bus and forwards every delivered value into a
// buffered channel. Values are dropped when the channel is full.
func Channel[T any](bus *Bus[T], filter func(T) bool, size int) (<-chan T, func()) {
	if size <= 0 {
		size = 16
	}
	ch := make(chan T, size)
	id := bus.SubscribeFiltered(filter, func(value T) {
		select {
		case ch <- value:
		default:
		}
	})
	return ch, func() {
		bus.Unsubscribe(id)
	}
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Pending reports messages published but not yet dispatched.
func (b *Bus[T]) Pending() int {
	if b == nil {
		return 0
	}
	return b.queue.len()
}

func (b *Bus[T]) Stats() BusStats {
	if b == nil {
		return BusStats{}
	}
	return BusStats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Panics:      b.panics.Load(),
		Pending:     b.Pending(),
		Subscribers: b.SubscriberCount(),
	}
}

// DumpHistory returns a copy of the stored history, oldest first.
func (b *Bus[T]) DumpHistory() []T {
	return b.Recent(0)
}

// Recent returns up to count of the most recently published values.
func (b *Bus[T]) Recent(count int) []T {
	if b == nil || b.history == nil {
		return nil
	}
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	return b.history.Last(count)
}

func (b *Bus[T]) run() {
	defer close(b.done)
	for {
		event, ok := b.queue.next()
		if !ok {
			return
		}
		b.registry.SetEventPending(b.busName(), b.queue.len())
		b.dispatch(event)
	}
}

func (b *Bus[T]) dispatch(event T) {
	b.mu.RLock()
	subscribers := b.ordered
	b.mu.RUnlock()

	for _, sub := range subscribers {
		if sub.removed.Load() {
			continue
		}
		if !b.filterAllows(sub, event) {
			continue
		}
		b.invoke(sub, event)
	}
}

func (b *Bus[T]) invoke(sub *subscription[T], event T) {
	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			b.panics.Add(1)
			b.registry.IncSubscriberPanic(b.busName())
			b.logger.Warn("subscriber panicked", logging.Fields{
				"subscription": sub.id.String(),
				"type":         b.eventType(event),
				"panic":        fmt.Sprint(recovered),
			})
			return
		}
		b.delivered.Add(1)
		b.registry.IncEventDelivered(b.busName())
		threshold := b.options.SlowSubscriberThreshold
		if elapsed := time.Since(start); threshold > 0 && elapsed >= threshold {
			b.logger.Warn("subscriber slow", logging.Fields{
				"subscription": sub.id.String(),
				"elapsed":      elapsed.String(),
			})
		}
	}()
	sub.callback(event)
}

func (b *Bus[T]) filterAllows(sub *subscription[T], event T) (allowed bool) {
	if sub.filter == nil {
		return true
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Warn("subscriber filter panicked", logging.Fields{
				"subscription": sub.id.String(),
				"panic":        fmt.Sprint(recovered),
			})
			allowed = false
		}
	}()
	return sub.filter(event)
}

// rebuildOrderLocked replaces the dispatch snapshot; the old slice stays valid
// for any dispatch still iterating it.
func (b *Bus[T]) rebuildOrderLocked() {
	ordered := make([]*subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		ordered = append(ordered, sub)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].id < ordered[j].id
	})
	b.ordered = ordered
}

func (b *Bus[T]) appendHistory(event T) {
	if b.history == nil {
		return
	}
	b.historyMu.Lock()
	b.history.Add(event)
	b.historyMu.Unlock()
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}

func (b *Bus[T]) eventType(event T) string {
	typed, ok := any(event).(typedEvent)
	if !ok {
		return "unknown"
	}
	value := typed.Type()
	if value == "" {
		return "unknown"
	}
	return value
}

func (b *Bus[T]) maybeWarnPending(pending int) {
	if pending < b.options.PendingWarningThreshold {
		return
	}
	now := time.Now()
	lastNanos := b.lastWarning.Load()
	if lastNanos > 0 && now.Sub(time.Unix(0, lastNanos)) < b.options.PendingWarningInterval {
		return
	}
	if !b.lastWarning.CompareAndSwap(lastNanos, now.UnixNano()) {
		return
	}
	b.logger.Warn("ingress backlog growing", logging.Fields{
		"pending": strconv.Itoa(pending),
	})
}

var debugEventsEnabled = isEventDebugEnabled()

func isEventDebugEnabled() bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv("TELLMEWHEN_EVENT_DEBUG")))
	switch value {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func isNil[T any](value T) bool {
	kind := reflect.ValueOf(value)
	if !kind.IsValid() {
		return true
	}
	switch kind.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return kind.IsNil()
	default:
		return false
	}
}
