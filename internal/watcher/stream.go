package watcher

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
)

const overflowWarnInterval = 10 * time.Second

// watchStream receives everything the native engine reports for one
// registration and decides what reaches the bus.
type watchStream struct {
	handler *Handler
	entry   *watchEntry
	ignore  *IgnoreMatcher
	kinds   map[event.FsKind]struct{}
	logger  *logging.Logger
	warn    *rate.Limiter

	mutex     sync.Mutex
	debouncer *debouncer
	closed    bool

	published atomic.Uint64
	ignored   atomic.Uint64
	overflows atomic.Uint64
}

func newWatchStream(handler *Handler, entry *watchEntry, ignore *IgnoreMatcher) *watchStream {
	stream := &watchStream{
		handler: handler,
		entry:   entry,
		ignore:  ignore,
		kinds:   entry.config.kindFilter(),
		logger:  handler.logger.With(logging.Fields{"path": entry.path}),
		warn:    rate.NewLimiter(rate.Every(overflowWarnInterval), 1),
	}
	if entry.config.DebounceEvents {
		stream.debouncer = newDebouncer(entry.config.DebounceWindow)
	}
	return stream
}

func (stream *watchStream) Deliver(change event.FileSystemEvent) {
	for _, filtered := range stream.filter(change) {
		stream.mutex.Lock()
		if stream.closed {
			stream.mutex.Unlock()
			return
		}
		if stream.debouncer == nil {
			stream.publishLocked(filtered)
			stream.mutex.Unlock()
			continue
		}
		ready, _ := stream.debouncer.schedule(filtered, stream.flush)
		for _, next := range ready {
			stream.publishLocked(next)
		}
		stream.mutex.Unlock()
	}
}

func (stream *watchStream) Overflow(root string) {
	count := stream.overflows.Add(1)
	stream.handler.metrics.IncFsOverflow(stream.handler.id)
	if stream.warn.Allow() {
		stream.logger.Warn("native notifications dropped", logging.Fields{
			"root":      root,
			"overflows": strconv.FormatUint(count, 10),
		})
	}
}

func (stream *watchStream) Fail(root string, err error) {
	stream.handler.handleFailure(stream.entry, err)
}

// filter applies ignore patterns and the event type set. A rename that
// cannot pass whole is split into its delete and create halves.
func (stream *watchStream) filter(change event.FileSystemEvent) []event.FileSystemEvent {
	if !change.Kind.IsPair() {
		if stream.ignore.Match(change.Path) || !stream.wants(change.Kind) {
			stream.drop()
			return nil
		}
		return []event.FileSystemEvent{change}
	}

	fromIgnored := stream.ignore.Match(change.From)
	toIgnored := stream.ignore.Match(change.To)
	if fromIgnored && toIgnored {
		stream.drop()
		return nil
	}
	if !fromIgnored && !toIgnored && stream.wants(change.Kind) {
		return []event.FileSystemEvent{change}
	}

	var halves []event.FileSystemEvent
	if !fromIgnored && stream.wants(event.FsDeleted) {
		halves = append(halves, event.FileSystemEvent{
			Kind:       event.FsDeleted,
			Path:       change.From,
			IsDir:      change.IsDir,
			OccurredAt: change.OccurredAt,
		})
	}
	if !toIgnored && stream.wants(event.FsCreated) {
		halves = append(halves, event.FileSystemEvent{
			Kind:       event.FsCreated,
			Path:       change.To,
			IsDir:      change.IsDir,
			OccurredAt: change.OccurredAt,
		})
	}
	if len(halves) == 0 {
		stream.drop()
	}
	return halves
}

func (stream *watchStream) wants(kind event.FsKind) bool {
	if stream.kinds == nil {
		return true
	}
	_, ok := stream.kinds[kind]
	return ok
}

func (stream *watchStream) drop() {
	stream.ignored.Add(1)
	stream.handler.metrics.IncFsIgnored(stream.handler.id)
}

func (stream *watchStream) flush(path string, seq uint64) {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	if stream.closed || stream.debouncer == nil {
		return
	}
	if pending, ok := stream.debouncer.pop(path, seq); ok {
		stream.publishLocked(pending)
	}
}

func (stream *watchStream) publishLocked(change event.FileSystemEvent) {
	if stream.handler.publisher.Publish(change) == 0 {
		return
	}
	stream.published.Add(1)
	stream.handler.metrics.IncFsEvent(stream.handler.id, change.Kind.String())
}

// close publishes whatever is still pending and rejects further deliveries.
func (stream *watchStream) close() {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	if stream.closed {
		return
	}
	if stream.debouncer != nil {
		for _, pending := range stream.debouncer.drain() {
			stream.publishLocked(pending)
		}
	}
	stream.closed = true
}
