package native

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
)

const (
	DefaultLatency      = 100 * time.Millisecond
	DefaultBufferSize   = 16 * 1024
	DefaultRenameWindow = 50 * time.Millisecond

	minBufferSize = 4 * 1024
	maxBufferSize = 64 * 1024
)

const (
	BackendNative   = "native"
	BackendPortable = "portable"
)

// Options tune a single native registration.
type Options struct {
	// Recursive watches the whole tree below a directory target.
	Recursive bool
	// Kinds is a hint used to narrow the native filter. Engines may still
	// deliver other kinds; callers filter again.
	Kinds []event.FsKind
	// Latency is the coalescing window of stream based backends.
	Latency time.Duration
	// BufferSize is the notification buffer of overlapped I/O backends.
	BufferSize int
	// RenameWindow bounds how long a rename source waits for its target.
	RenameWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.Latency <= 0 {
		o.Latency = DefaultLatency
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.BufferSize < minBufferSize {
		o.BufferSize = minBufferSize
	}
	if o.BufferSize > maxBufferSize {
		o.BufferSize = maxBufferSize
	}
	if o.RenameWindow <= 0 {
		o.RenameWindow = DefaultRenameWindow
	}
	return o
}

// Sink receives everything a watch produces. Calls arrive from engine owned
// goroutines and must not block for long.
type Sink interface {
	Deliver(change event.FileSystemEvent)
	// Overflow reports that the native layer dropped notifications for root.
	Overflow(root string)
	// Fail reports that the watch on root terminated. The engine has already
	// released its native resources when Fail is called.
	Fail(root string, err error)
}

// Handle identifies a registration. It is only meaningful to the engine that
// returned it.
type Handle interface {
	ID() uint64
	Path() string
}

// Engine is the per-platform watch contract.
type Engine interface {
	Name() string
	// Watch registers path. It fails with ErrNotFound when path does not
	// exist and leaves no native resource behind on any error.
	Watch(path string, opts Options, sink Sink) (Handle, error)
	// Unwatch releases every resource behind handle and waits for the native
	// event source to stop. Unknown or already released handles are a no-op.
	Unwatch(handle Handle) error
	// Close unwatches everything and rejects further registrations.
	Close() error
}

// New returns the native engine for the running platform.
func New(logger *logging.Logger) (Engine, error) {
	return newNativeEngine(logging.OrNop(logger))
}

// NewPortable returns the fsnotify based engine available everywhere.
func NewPortable(logger *logging.Logger) (Engine, error) {
	return newPortableEngine(logging.OrNop(logger)), nil
}

// NewByName selects an engine by backend name: "native" (or empty) and
// "portable".
func NewByName(name string, logger *logging.Logger) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendNative:
		return New(logger)
	case BackendPortable, "fsnotify":
		return NewPortable(logger)
	default:
		return nil, errors.Errorf("unknown watch backend %q", name)
	}
}

type handle struct {
	id   uint64
	path string
}

func (h handle) ID() uint64 {
	return h.id
}

func (h handle) Path() string {
	return h.path
}

// resolveTarget makes path absolute and checks that it exists.
func resolveTarget(path string) (string, os.FileInfo, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil, errors.New("watch path is required")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", nil, errors.Wrap(err, "unable to resolve watch path")
	}
	info, err := os.Stat(absolute)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, notFoundError(absolute)
		}
		return "", nil, newAPIError("stat", err)
	}
	return absolute, info, nil
}

func isWithinPath(parent, child string) bool {
	parentPath := filepath.Clean(parent)
	childPath := filepath.Clean(child)
	rel, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}

func lstatIsDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}

func deliverValid(sink Sink, change event.FileSystemEvent) {
	if !change.Valid() {
		return
	}
	sink.Deliver(change)
}
