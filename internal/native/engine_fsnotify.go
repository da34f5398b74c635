package native

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
)

// portableEngine wraps one fsnotify watcher per registration. fsnotify cannot
// pair renames, so a rename source is reported as deleted and its target as
// created.
type portableEngine struct {
	logger  *logging.Logger
	watches *watchSet[*portableWatch]
}

func newPortableEngine(logger *logging.Logger) Engine {
	return &portableEngine{
		logger:  logger.Component("native.portable"),
		watches: newWatchSet[*portableWatch](),
	}
}

func (e *portableEngine) Name() string {
	return "fsnotify"
}

func (e *portableEngine) Watch(path string, opts Options, sink Sink) (Handle, error) {
	if sink == nil {
		return nil, errors.New("watch sink is required")
	}
	root, info, err := resolveTarget(path)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, newAPIError("fsnotify", err)
	}
	watch := &portableWatch{
		root:      root,
		rootIsDir: info.IsDir(),
		opts:      opts,
		kinds:     newKindSet(opts.Kinds),
		sink:      sink,
		logger:    e.logger.With(logging.Fields{"root": root}),
		watcher:   watcher,
		dirs:      make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	if err := watch.addInitial(); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	id, err := e.watches.add(watch)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	go watch.run(func() {
		e.watches.take(id)
	})
	return handle{id: id, path: root}, nil
}

func (e *portableEngine) Unwatch(h Handle) error {
	if h == nil {
		return nil
	}
	watch, ok := e.watches.take(h.ID())
	if !ok {
		return nil
	}
	watch.stop()
	return nil
}

func (e *portableEngine) Close() error {
	for _, watch := range e.watches.drain() {
		watch.stop()
	}
	return nil
}

type portableWatch struct {
	root      string
	rootIsDir bool
	opts      Options
	kinds     kindSet
	sink      Sink
	logger    *logging.Logger
	watcher   *fsnotify.Watcher

	// dirs is owned by the event loop once it starts.
	dirs map[string]struct{}

	stopOnce sync.Once
	done     chan struct{}
}

func (w *portableWatch) addInitial() error {
	if !w.rootIsDir || !w.opts.Recursive {
		if err := w.watcher.Add(w.root); err != nil {
			return newAPIError("fsnotify add", err)
		}
		w.dirs[w.root] = struct{}{}
		return nil
	}
	return filepath.WalkDir(w.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == w.root {
				return newAPIError("walk", err)
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			if path == w.root {
				return newAPIError("fsnotify add", err)
			}
			w.logger.Warn("skipping subdirectory", logging.ErrorFields(err, logging.Fields{"path": path}))
			return nil
		}
		w.dirs[path] = struct{}{}
		return nil
	})
}

func (w *portableWatch) run(onExit func()) {
	var failure error
	defer func() {
		close(w.done)
		if failure != nil {
			_ = w.watcher.Close()
			onExit()
			w.sink.Fail(w.root, failure)
		}
	}()
	for {
		select {
		case change, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(change, time.Now().UTC()) {
				failure = ErrRootRemoved
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("fsnotify queue overflow", nil)
				w.sink.Overflow(w.root)
				continue
			}
			failure = newAPIError("fsnotify", err)
			return
		}
	}
}

// handle translates one fsnotify event and reports whether the root is gone.
func (w *portableWatch) handle(change fsnotify.Event, now time.Time) bool {
	path := filepath.Clean(change.Name)
	if path == "" || path == "." {
		return false
	}
	_, tracked := w.dirs[path]

	switch {
	case change.Has(fsnotify.Create):
		isDir := lstatIsDir(path)
		deliverValid(w.sink, event.FileSystemEvent{Kind: event.FsCreated, Path: path, IsDir: isDir, OccurredAt: now})
		if isDir && w.opts.Recursive && w.rootIsDir {
			w.addTree(path, now)
		}
	case change.Has(fsnotify.Remove), change.Has(fsnotify.Rename):
		deliverValid(w.sink, event.FileSystemEvent{Kind: event.FsDeleted, Path: path, IsDir: tracked, OccurredAt: now})
		if tracked {
			w.forgetTree(path)
		}
		if path == w.root {
			return true
		}
	case change.Has(fsnotify.Write):
		if w.kinds.has(event.FsModified) {
			deliverValid(w.sink, event.FileSystemEvent{Kind: event.FsModified, Path: path, IsDir: tracked, OccurredAt: now})
		}
	case change.Has(fsnotify.Chmod):
		if w.kinds.has(event.FsAttributeChanged) {
			deliverValid(w.sink, event.FileSystemEvent{Kind: event.FsAttributeChanged, Path: path, IsDir: tracked, OccurredAt: now})
		}
	}
	return false
}

func (w *portableWatch) addTree(dir string, at time.Time) {
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path != dir {
			deliverValid(w.sink, event.FileSystemEvent{Kind: event.FsCreated, Path: path, IsDir: entry.IsDir(), OccurredAt: at})
		}
		if !entry.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("unable to watch new directory", logging.ErrorFields(err, logging.Fields{"path": path}))
			return filepath.SkipDir
		}
		w.dirs[path] = struct{}{}
		return nil
	})
}

func (w *portableWatch) forgetTree(dir string) {
	for path := range w.dirs {
		if path == w.root || !isWithinPath(dir, path) {
			continue
		}
		_ = w.watcher.Remove(path)
		delete(w.dirs, path)
	}
}

// stop closes the fsnotify watcher and waits for the event loop to exit.
func (w *portableWatch) stop() {
	w.stopOnce.Do(func() {
		_ = w.watcher.Close()
	})
	<-w.done
}
