package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
	"tellmewhen/internal/metrics"
	"tellmewhen/internal/native"
)

const (
	DefaultHandlerID = "filesystem"
	eventSource      = "filesystem"
)

// Options configures a Handler. Engine and Bus are required.
type Options struct {
	Engine    native.Engine
	Bus       *event.Bus[event.Message]
	Logger    *logging.Logger
	Metrics   *metrics.Registry
	HandlerID string
	// Config is used by WatchPath. Nil selects DefaultConfig.
	Config *Config
	// RenameWindow bounds rename pairing inside the engine.
	RenameWindow time.Duration
}

// WatchStatus reports on one live watch.
type WatchStatus struct {
	Path      string
	Recursive bool
	Since     time.Time
	Published uint64
	Ignored   uint64
	Overflows uint64
	Pending   int
	Retries   int
}

// Handler registers paths with the native engine and publishes the filtered
// events on the bus. It is safe for concurrent use.
type Handler struct {
	id           string
	engine       native.Engine
	publisher    *event.Publisher
	logger       *logging.Logger
	metrics      *metrics.Registry
	config       Config
	renameWindow time.Duration
	registry     *Registry

	mutex        sync.Mutex
	closed       bool
	restartMutex sync.Mutex
	restarts     map[string]*time.Timer
}

func NewHandler(options Options) (*Handler, error) {
	if options.Engine == nil {
		return nil, errors.New("watch engine is required")
	}
	if options.Bus == nil {
		return nil, errors.New("event bus is required")
	}
	id := strings.TrimSpace(options.HandlerID)
	if id == "" {
		id = DefaultHandlerID
	}
	config := DefaultConfig()
	if options.Config != nil {
		config = *options.Config
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watch config: %w", err)
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	logger := logging.OrNop(options.Logger).Component("fs_handler").With(logging.Fields{
		"handler": id,
		"engine":  options.Engine.Name(),
	})
	return &Handler{
		id:           id,
		engine:       options.Engine,
		publisher:    event.NewPublisher(options.Bus, eventSource, id),
		logger:       logger,
		metrics:      registry,
		config:       config.withDefaults(),
		renameWindow: options.RenameWindow,
		registry:     newRegistry(),
		restarts:     make(map[string]*time.Timer),
	}, nil
}

func (handler *Handler) ID() string {
	return handler.id
}

// Config returns the configuration WatchPath applies.
func (handler *Handler) Config() Config {
	return handler.config
}

// WatchPath watches path with the handler's default configuration.
func (handler *Handler) WatchPath(path string) error {
	return handler.WatchPathWithConfig(path, handler.config)
}

// WatchPathWithConfig registers path. It fails with ErrNotFound when the path
// does not exist and with ErrAlreadyWatched when it is already registered.
func (handler *Handler) WatchPathWithConfig(path string, config Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid watch config: %w", err)
	}
	normalized, err := normalizePath(path)
	if err != nil {
		return err
	}
	handler.cancelRestart(normalized)
	return handler.watch(normalized, config.withDefaults(), 0)
}

func (handler *Handler) watch(path string, config Config, retries int) error {
	if handler.isClosed() {
		return ErrClosed
	}
	entry := &watchEntry{path: path, config: config, retries: retries}
	ignore, patternErrs := NewIgnoreMatcher(config.IgnorePatterns)
	for _, patternErr := range patternErrs {
		handler.logger.Warn("ignore pattern never matches", logging.ErrorFields(patternErr, logging.Fields{"path": path}))
	}
	entry.stream = newWatchStream(handler, entry, ignore)
	if err := handler.registry.reserve(entry); err != nil {
		return err
	}

	nativeHandle, err := handler.engine.Watch(path, native.Options{
		Recursive:    config.WatchSubdirectories,
		Kinds:        config.EventTypes,
		RenameWindow: handler.renameWindow,
	}, entry.stream)
	if err != nil {
		handler.registry.release(entry, err)
		handler.logger.Warn("watch failed", logging.ErrorFields(err, logging.Fields{"path": path}))
		return err
	}
	if !handler.registry.commit(entry, nativeHandle) {
		_ = handler.engine.Unwatch(nativeHandle)
		entry.stream.close()
		if failure := handler.registry.failure(entry); failure != nil {
			return failure
		}
		return ErrClosed
	}
	if handler.isClosed() {
		handler.unwatchEntry(path)
		return ErrClosed
	}
	active := handler.registry.len()
	handler.metrics.SetActiveWatches(handler.id, active)
	handler.logger.Info("watch added", logging.Fields{
		"path":           path,
		"recursive":      strconv.FormatBool(config.WatchSubdirectories),
		"active_watches": strconv.Itoa(active),
	})
	return nil
}

// UnwatchPath stops watching path and publishes any debounced events still
// pending. Unwatching a path that is not watched is a no-op.
func (handler *Handler) UnwatchPath(path string) error {
	normalized, err := normalizePath(path)
	if err != nil {
		return err
	}
	handler.cancelRestart(normalized)
	return handler.unwatchEntry(normalized)
}

func (handler *Handler) unwatchEntry(path string) error {
	entry, ok := handler.registry.take(path)
	if !ok {
		return nil
	}
	err := handler.engine.Unwatch(entry.handle)
	entry.stream.close()
	active := handler.registry.len()
	handler.metrics.SetActiveWatches(handler.id, active)
	if err != nil {
		handler.logger.Warn("unwatch failed", logging.ErrorFields(err, logging.Fields{"path": path}))
		return err
	}
	handler.logger.Info("watch removed", logging.Fields{
		"path":           path,
		"active_watches": strconv.Itoa(active),
	})
	return nil
}

func (handler *Handler) WatchedPaths() []string {
	return handler.registry.paths()
}

func (handler *Handler) IsWatching(path string) bool {
	normalized, err := normalizePath(path)
	if err != nil {
		return false
	}
	_, ok := handler.registry.get(normalized)
	return ok
}

func (handler *Handler) Status(path string) (WatchStatus, error) {
	normalized, err := normalizePath(path)
	if err != nil {
		return WatchStatus{}, err
	}
	entry, ok := handler.registry.get(normalized)
	if !ok {
		return WatchStatus{}, ErrNotWatched
	}
	stream := entry.stream
	status := WatchStatus{
		Path:      entry.path,
		Recursive: entry.config.WatchSubdirectories,
		Since:     entry.since,
		Published: stream.published.Load(),
		Ignored:   stream.ignored.Load(),
		Overflows: stream.overflows.Load(),
		Retries:   entry.retries,
	}
	stream.mutex.Lock()
	if stream.debouncer != nil {
		status.Pending = stream.debouncer.len()
	}
	stream.mutex.Unlock()
	return status, nil
}

// Close unwatches every path and cancels pending retries. It is idempotent.
func (handler *Handler) Close() error {
	handler.mutex.Lock()
	if handler.closed {
		handler.mutex.Unlock()
		return nil
	}
	handler.closed = true
	handler.mutex.Unlock()

	handler.stopRestarts()
	var errs []error
	for _, entry := range handler.registry.drain() {
		if err := handler.engine.Unwatch(entry.handle); err != nil {
			errs = append(errs, fmt.Errorf("unwatch %s: %w", entry.path, err))
		}
		entry.stream.close()
	}
	handler.metrics.SetActiveWatches(handler.id, 0)
	return errors.Join(errs...)
}

func (handler *Handler) isClosed() bool {
	handler.mutex.Lock()
	defer handler.mutex.Unlock()
	return handler.closed
}

// handleFailure runs on an engine goroutine after the native watch has been
// released. It must not call back into the engine.
func (handler *Handler) handleFailure(entry *watchEntry, err error) {
	released, committed := handler.registry.release(entry, err)
	entry.stream.close()
	handler.metrics.IncFsFailure(handler.id)
	if !released {
		return
	}
	handler.metrics.SetActiveWatches(handler.id, handler.registry.len())
	handler.logger.Warn("watch terminated", logging.ErrorFields(err, logging.Fields{"path": entry.path}))
	if entry.config.RetryOnFailure && committed {
		handler.scheduleRestart(entry.path, entry.config, entry.retries, err)
	}
}

func normalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return absolute, nil
}
