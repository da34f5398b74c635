package native

import "sync"

// watchSet tracks the live registrations of an engine by handle id.
type watchSet[W any] struct {
	mu      sync.Mutex
	nextID  uint64
	watches map[uint64]W
	closed  bool
}

func newWatchSet[W any]() *watchSet[W] {
	return &watchSet[W]{watches: make(map[uint64]W)}
}

func (s *watchSet[W]) add(watch W) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.nextID++
	s.watches[s.nextID] = watch
	return s.nextID, nil
}

// take removes and returns the watch registered under id.
func (s *watchSet[W]) take(id uint64) (W, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	watch, ok := s.watches[id]
	if ok {
		delete(s.watches, id)
	}
	return watch, ok
}

func (s *watchSet[W]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// drain closes the set and returns every remaining watch.
func (s *watchSet[W]) drain() []W {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	watches := make([]W, 0, len(s.watches))
	for id, watch := range s.watches {
		watches = append(watches, watch)
		delete(s.watches, id)
	}
	return watches
}
