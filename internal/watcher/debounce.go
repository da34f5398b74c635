package watcher

import (
	"sort"
	"time"

	"tellmewhen/internal/event"
)

type debounceEntry struct {
	timer *time.Timer
	event event.FileSystemEvent
	seq   uint64
}

// debouncer holds at most one pending event per path. The window starts with
// the first event for a path and is not extended by later merges, so a path
// that changes continuously still reports once per window.
type debouncer struct {
	duration time.Duration
	entries  map[string]debounceEntry
	seq      uint64
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

// schedule folds change into the pending event for its path. Events that
// cannot be merged are returned for immediate publication, oldest first; the
// caller publishes them before anything else. The flush callback receives
// the path and the sequence it must match.
func (debouncer *debouncer) schedule(change event.FileSystemEvent, flush func(string, uint64)) (ready []event.FileSystemEvent, merged bool) {
	if change.Kind.IsPair() {
		for _, path := range change.Paths() {
			if pending, ok := debouncer.take(path); ok {
				ready = append(ready, pending)
			}
		}
		return append(ready, change), false
	}

	path := change.Path
	entry, ok := debouncer.entries[path]
	if ok {
		if kind, combined := mergeKinds(entry.event.Kind, change.Kind); combined {
			entry.event.Kind = kind
			entry.event.IsDir = entry.event.IsDir || change.IsDir
			debouncer.entries[path] = entry
			return nil, true
		}
		pending, _ := debouncer.take(path)
		ready = append(ready, pending)
	}

	debouncer.seq++
	seq := debouncer.seq
	debouncer.entries[path] = debounceEntry{
		event: change,
		seq:   seq,
		timer: time.AfterFunc(debouncer.duration, func() {
			flush(path, seq)
		}),
	}
	return ready, false
}

// pop removes the pending event for path if it is still the one scheduled
// under seq.
func (debouncer *debouncer) pop(path string, seq uint64) (event.FileSystemEvent, bool) {
	entry, ok := debouncer.entries[path]
	if !ok || entry.seq != seq {
		return event.FileSystemEvent{}, false
	}
	delete(debouncer.entries, path)
	return entry.event, true
}

func (debouncer *debouncer) take(path string) (event.FileSystemEvent, bool) {
	entry, ok := debouncer.entries[path]
	if !ok {
		return event.FileSystemEvent{}, false
	}
	entry.timer.Stop()
	delete(debouncer.entries, path)
	return entry.event, true
}

// drain stops every timer and returns the pending events in scheduling order.
func (debouncer *debouncer) drain() []event.FileSystemEvent {
	pending := make([]debounceEntry, 0, len(debouncer.entries))
	for path, entry := range debouncer.entries {
		entry.timer.Stop()
		pending = append(pending, entry)
		delete(debouncer.entries, path)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].seq < pending[j].seq
	})
	out := make([]event.FileSystemEvent, 0, len(pending))
	for _, entry := range pending {
		out = append(out, entry.event)
	}
	return out
}

func (debouncer *debouncer) len() int {
	return len(debouncer.entries)
}

// mergeKinds reports the kind a pending event takes after absorbing next.
func mergeKinds(pending, next event.FsKind) (event.FsKind, bool) {
	switch pending {
	case event.FsCreated:
		switch next {
		case event.FsCreated, event.FsModified, event.FsAttributeChanged, event.FsPermissionChanged:
			return event.FsCreated, true
		}
	case event.FsModified:
		switch next {
		case event.FsModified, event.FsAttributeChanged, event.FsPermissionChanged:
			return event.FsModified, true
		}
	case event.FsAttributeChanged, event.FsPermissionChanged:
		switch next {
		case event.FsModified:
			return event.FsModified, true
		case pending:
			return pending, true
		}
	}
	return next, false
}
