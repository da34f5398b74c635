package native

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tellmewhen/internal/event"
)

type recordingSink struct {
	mu        sync.Mutex
	events    []event.FileSystemEvent
	overflows []string
	failures  []error
	notify    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 1)}
}

func (s *recordingSink) Deliver(change event.FileSystemEvent) {
	s.mu.Lock()
	s.events = append(s.events, change)
	s.mu.Unlock()
	s.poke()
}

func (s *recordingSink) Overflow(root string) {
	s.mu.Lock()
	s.overflows = append(s.overflows, root)
	s.mu.Unlock()
	s.poke()
}

func (s *recordingSink) Fail(root string, err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
	s.poke()
}

func (s *recordingSink) poke() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *recordingSink) snapshot() []event.FileSystemEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.FileSystemEvent(nil), s.events...)
}

func (s *recordingSink) failureList() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.failures...)
}

// waitFor polls until match accepts one delivered event.
func (s *recordingSink) waitFor(t *testing.T, match func(event.FileSystemEvent) bool) event.FileSystemEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		for _, change := range s.snapshot() {
			if match(change) {
				return change
			}
		}
		select {
		case <-s.notify:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for event; got %v", s.snapshot())
		}
	}
}

func kindAt(kind event.FsKind, path string) func(event.FileSystemEvent) bool {
	return func(change event.FileSystemEvent) bool {
		return change.Kind == kind && change.Path == path
	}
}

func TestNewByNameRejectsUnknownBackend(t *testing.T) {
	_, err := NewByName("carrier-pigeon", nil)
	require.Error(t, err)

	engine, err := NewByName("portable", nil)
	require.NoError(t, err)
	assert.Equal(t, "fsnotify", engine.Name())
	require.NoError(t, engine.Close())
}

func TestOptionsDefaultsClampBufferSize(t *testing.T) {
	opts := Options{BufferSize: 1}.withDefaults()
	assert.Equal(t, minBufferSize, opts.BufferSize)
	assert.Equal(t, DefaultLatency, opts.Latency)
	assert.Equal(t, DefaultRenameWindow, opts.RenameWindow)

	opts = Options{BufferSize: 1 << 20}.withDefaults()
	assert.Equal(t, maxBufferSize, opts.BufferSize)
}

func TestIsWithinPath(t *testing.T) {
	root := filepath.Join(string(os.PathSeparator), "srv", "data")
	assert.True(t, isWithinPath(root, root))
	assert.True(t, isWithinPath(root, filepath.Join(root, "a", "b")))
	assert.False(t, isWithinPath(root, filepath.Join(string(os.PathSeparator), "srv", "database")))
	assert.False(t, isWithinPath(root, filepath.Dir(root)))
}

func TestWatchSetRejectsAfterDrain(t *testing.T) {
	set := newWatchSet[string]()
	first, err := set.add("a")
	require.NoError(t, err)
	second, err := set.add("b")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	value, ok := set.take(first)
	require.True(t, ok)
	assert.Equal(t, "a", value)
	_, ok = set.take(first)
	assert.False(t, ok)

	assert.Equal(t, []string{"b"}, set.drain())
	_, err = set.add("c")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, set.len())
}

// exerciseEngine runs the behaviour every engine shares.
func exerciseEngine(t *testing.T, engine Engine) {
	t.Helper()
	t.Run("missing path", func(t *testing.T) {
		_, err := engine.Watch(filepath.Join(t.TempDir(), "absent"), Options{}, newRecordingSink())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create modify delete", func(t *testing.T) {
		dir := t.TempDir()
		sink := newRecordingSink()
		h, err := engine.Watch(dir, Options{Recursive: true, Kinds: DefaultKinds()}, sink)
		require.NoError(t, err)
		defer engine.Unwatch(h)

		file := filepath.Join(dir, "test.txt")
		require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))
		created := sink.waitFor(t, kindAt(event.FsCreated, file))
		assert.False(t, created.IsDir)

		require.NoError(t, os.WriteFile(file, []byte("hello again"), 0o644))
		sink.waitFor(t, kindAt(event.FsModified, file))

		require.NoError(t, os.Remove(file))
		sink.waitFor(t, kindAt(event.FsDeleted, file))
	})

	t.Run("recursive picks up new directories", func(t *testing.T) {
		dir := t.TempDir()
		sink := newRecordingSink()
		h, err := engine.Watch(dir, Options{Recursive: true}, sink)
		require.NoError(t, err)
		defer engine.Unwatch(h)

		nested := filepath.Join(dir, "nested")
		require.NoError(t, os.Mkdir(nested, 0o755))
		created := sink.waitFor(t, kindAt(event.FsCreated, nested))
		assert.True(t, created.IsDir)

		inner := filepath.Join(nested, "inner.txt")
		require.Eventually(t, func() bool {
			_ = os.WriteFile(inner, []byte("x"), 0o644)
			for _, change := range sink.snapshot() {
				if change.Path == inner {
					return true
				}
			}
			return false
		}, 3*time.Second, 50*time.Millisecond)
	})

	t.Run("unwatch stops delivery", func(t *testing.T) {
		dir := t.TempDir()
		sink := newRecordingSink()
		h, err := engine.Watch(dir, Options{Recursive: true}, sink)
		require.NoError(t, err)
		require.NoError(t, engine.Unwatch(h))
		require.NoError(t, engine.Unwatch(h))

		require.NoError(t, os.WriteFile(filepath.Join(dir, "late.txt"), nil, 0o644))
		time.Sleep(150 * time.Millisecond)
		assert.Empty(t, sink.snapshot())
	})

	t.Run("root removal fails the watch", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "root")
		require.NoError(t, os.Mkdir(dir, 0o755))
		sink := newRecordingSink()
		_, err := engine.Watch(dir, Options{Recursive: true}, sink)
		require.NoError(t, err)

		require.NoError(t, os.RemoveAll(dir))
		require.Eventually(t, func() bool {
			return len(sink.failureList()) == 1
		}, 3*time.Second, 20*time.Millisecond)
		assert.ErrorIs(t, sink.failureList()[0], ErrRootRemoved)
	})
}

func TestPortableEngine(t *testing.T) {
	engine, err := NewPortable(nil)
	require.NoError(t, err)
	defer engine.Close()
	exerciseEngine(t, engine)
}

func TestPortableEngineRejectsWatchAfterClose(t *testing.T) {
	engine, err := NewPortable(nil)
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	_, err = engine.Watch(t.TempDir(), Options{}, newRecordingSink())
	assert.ErrorIs(t, err, ErrClosed)
}
