package watcher

import (
	"sort"
	"sync"
	"time"

	"tellmewhen/internal/native"
)

type watchEntry struct {
	path    string
	config  Config
	stream  *watchStream
	handle  native.Handle
	since   time.Time
	retries int
	// err is set when the native watch failed before the entry was committed.
	err error
}

func (entry *watchEntry) committed() bool {
	return entry.handle != nil
}

// Registry maps a watched path to its entry. The lock is held only for map
// updates, never across a call into the native engine.
type Registry struct {
	mutex   sync.Mutex
	entries map[string]*watchEntry
}

func newRegistry() *Registry {
	return &Registry{entries: make(map[string]*watchEntry)}
}

// reserve claims path for entry before the native watch is created.
func (registry *Registry) reserve(entry *watchEntry) error {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if _, ok := registry.entries[entry.path]; ok {
		return ErrAlreadyWatched
	}
	registry.entries[entry.path] = entry
	return nil
}

// commit attaches the native handle. It reports false when the entry was
// released in the meantime.
func (registry *Registry) commit(entry *watchEntry, handle native.Handle) bool {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if registry.entries[entry.path] != entry {
		return false
	}
	entry.handle = handle
	entry.since = time.Now().UTC()
	return true
}

// release removes entry if it is still the one registered for its path and
// reports whether it had been committed.
func (registry *Registry) release(entry *watchEntry, err error) (released, committed bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if err != nil && entry.err == nil {
		entry.err = err
	}
	if registry.entries[entry.path] != entry {
		return false, false
	}
	delete(registry.entries, entry.path)
	return true, entry.committed()
}

func (registry *Registry) take(path string) (*watchEntry, bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	entry, ok := registry.entries[path]
	if !ok || !entry.committed() {
		return nil, false
	}
	delete(registry.entries, path)
	return entry, true
}

func (registry *Registry) get(path string) (*watchEntry, bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	entry, ok := registry.entries[path]
	if !ok || !entry.committed() {
		return nil, false
	}
	return entry, true
}

func (registry *Registry) failure(entry *watchEntry) error {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return entry.err
}

// paths lists committed entries in lexical order.
func (registry *Registry) paths() []string {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	paths := make([]string, 0, len(registry.entries))
	for path, entry := range registry.entries {
		if entry.committed() {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func (registry *Registry) len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	count := 0
	for _, entry := range registry.entries {
		if entry.committed() {
			count++
		}
	}
	return count
}

// drain removes and returns every committed entry.
func (registry *Registry) drain() []*watchEntry {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	entries := make([]*watchEntry, 0, len(registry.entries))
	for path, entry := range registry.entries {
		if !entry.committed() {
			continue
		}
		entries = append(entries, entry)
		delete(registry.entries, path)
	}
	return entries
}
