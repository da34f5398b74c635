//go:build darwin && cgo

package native

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsevents"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
)

const fseventsSeenCacheSize = 4096

func newNativeEngine(logger *logging.Logger) (Engine, error) {
	return &fseventsEngine{
		logger:  logger.Component("native.fsevents"),
		watches: newWatchSet[*fseventsWatch](),
	}, nil
}

// fseventsEngine runs one file-level FSEvents stream per registration.
type fseventsEngine struct {
	logger  *logging.Logger
	watches *watchSet[*fseventsWatch]
}

func (e *fseventsEngine) Name() string {
	return "fsevents"
}

func (e *fseventsEngine) Watch(path string, opts Options, sink Sink) (Handle, error) {
	if sink == nil {
		return nil, errors.New("watch sink is required")
	}
	root, info, err := resolveTarget(path)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	streamRoot := root
	if !info.IsDir() {
		streamRoot = filepath.Dir(root)
	}
	// Streams report canonical paths; /var is /private/var on macOS.
	realRoot, err := filepath.EvalSymlinks(streamRoot)
	if err != nil {
		return nil, newAPIError("realpath", err)
	}
	seen, err := lru.New[string, struct{}](fseventsSeenCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create seen cache")
	}

	stream := &fsevents.EventStream{
		Paths:   []string{realRoot},
		Latency: opts.Latency,
		Flags:   fsevents.FileEvents | fsevents.NoDefer | fsevents.WatchRoot,
		Events:  make(chan []fsevents.Event, 64),
	}
	watch := &fseventsWatch{
		root:       root,
		rootIsDir:  info.IsDir(),
		streamRoot: streamRoot,
		realRoot:   realRoot,
		opts:       opts,
		kinds:      newKindSet(opts.Kinds),
		sink:       sink,
		logger:     e.logger.With(logging.Fields{"root": root}),
		stream:     stream,
		seen:       seen,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if err := stream.Start(); err != nil {
		return nil, newAPIError("FSEventStreamStart", err)
	}
	id, err := e.watches.add(watch)
	if err != nil {
		stream.Stop()
		return nil, err
	}
	go watch.run(func() {
		e.watches.take(id)
	})
	return handle{id: id, path: root}, nil
}

func (e *fseventsEngine) Unwatch(h Handle) error {
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

func (e *fseventsEngine) Close() error {
	for _, watch := range e.watches.drain() {
		watch.stop()
	}
	return nil
}

type fseventsWatch struct {
	root       string
	rootIsDir  bool
	streamRoot string
	realRoot   string
	opts       Options
	kinds      kindSet
	sink       Sink
	logger     *logging.Logger
	stream     *fsevents.EventStream
	seen       *lru.Cache[string, struct{}]

	stopOnce sync.Once
	quitOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

func (w *fseventsWatch) run(onExit func()) {
	var failure error
	defer func() {
		w.stopOnce.Do(w.stream.Stop)
		close(w.done)
		if failure != nil {
			onExit()
			w.sink.Fail(w.root, failure)
		}
	}()
	for {
		select {
		case <-w.quit:
			return
		case batch := <-w.stream.Events:
			if w.handleBatch(batch, time.Now().UTC()) {
				failure = ErrRootRemoved
				return
			}
		}
	}
}

// handleBatch decodes every event of one callback and reports whether the
// root was removed or moved.
func (w *fseventsWatch) handleBatch(batch []fsevents.Event, now time.Time) bool {
	overflowed := false
	for i := 0; i < len(batch); i++ {
		raw := batch[i]
		if raw.Flags&(fsevents.MustScanSubDirs|fsevents.UserDropped|fsevents.KernelDropped) != 0 {
			if !overflowed {
				w.logger.Warn("fsevents dropped events", nil)
				w.sink.Overflow(w.root)
				overflowed = true
			}
			continue
		}
		if raw.Flags&fsevents.RootChanged != 0 {
			if _, err := os.Lstat(w.root); err != nil {
				deliverValid(w.sink, event.FileSystemEvent{Kind: event.FsDeleted, Path: w.root, IsDir: w.rootIsDir, OccurredAt: now})
				return true
			}
			continue
		}
		path, ok := w.localPath(raw.Path)
		if !ok || !w.inScope(path) {
			continue
		}
		isDir := raw.Flags&fsevents.ItemIsDir != 0

		if raw.Flags&fsevents.ItemRenamed != 0 {
			if i+1 < len(batch) && w.pairsWith(raw, batch[i+1], path) {
				target, _ := w.localPath(batch[i+1].Path)
				i++
				w.seen.Remove(path)
				w.seen.Add(target, struct{}{})
				deliverValid(w.sink, event.NewRenameEvent(path, target, isDir, now))
				continue
			}
			w.emitUnpairedRename(path, isDir, now)
			continue
		}
		w.emit(raw.Flags, path, isDir, now)
	}
	return false
}

// pairsWith reports whether next is the target half of the rename whose source
// is first. Halves carry consecutive ids and only the target still exists.
func (w *fseventsWatch) pairsWith(first, next fsevents.Event, sourcePath string) bool {
	if next.Flags&fsevents.ItemRenamed == 0 || next.ID != first.ID+1 {
		return false
	}
	target, ok := w.localPath(next.Path)
	if !ok || !w.inScope(target) {
		return false
	}
	return !exists(sourcePath) && exists(target)
}

func (w *fseventsWatch) emitUnpairedRename(path string, isDir bool, now time.Time) {
	kind := event.FsDeleted
	if exists(path) {
		kind = event.FsCreated
		w.seen.Add(path, struct{}{})
	} else {
		w.seen.Remove(path)
	}
	deliverValid(w.sink, event.FileSystemEvent{Kind: kind, Path: path, IsDir: isDir, OccurredAt: now})
}

// emit classifies a coalesced flag set. Created stays set on later events for
// the same path, so it only counts the first time a path is seen.
func (w *fseventsWatch) emit(flags fsevents.EventFlags, path string, isDir bool, now time.Time) {
	var bits changeBits
	if flags&fsevents.ItemRemoved != 0 && !exists(path) {
		w.seen.Remove(path)
		deliverValid(w.sink, event.FileSystemEvent{Kind: event.FsDeleted, Path: path, IsDir: isDir, OccurredAt: now})
		return
	}
	if flags&fsevents.ItemCreated != 0 && !w.seen.Contains(path) {
		bits |= changeCreated
	}
	w.seen.Add(path, struct{}{})
	if flags&fsevents.ItemModified != 0 {
		bits |= changeModified
	}
	if flags&(fsevents.ItemInodeMetaMod|fsevents.ItemXattrMod|fsevents.ItemFinderInfoMod) != 0 {
		bits |= changeAttrib
	}
	if flags&fsevents.ItemChangeOwner != 0 {
		bits |= changeOwner
	}
	if bits == 0 {
		return
	}
	kind := classify(bits)
	if kind == event.FsModified && isDir {
		return
	}
	if kind != event.FsCreated && !w.kinds.has(kind) {
		return
	}
	deliverValid(w.sink, event.FileSystemEvent{Kind: kind, Path: path, IsDir: isDir, OccurredAt: now})
}

// localPath maps a canonical stream path back under the path the caller
// registered.
func (w *fseventsWatch) localPath(path string) (string, bool) {
	path = filepath.Clean(path)
	if path == w.realRoot {
		return w.streamRoot, true
	}
	prefix := w.realRoot + string(os.PathSeparator)
	if w.realRoot == string(os.PathSeparator) {
		prefix = w.realRoot
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return filepath.Join(w.streamRoot, path[len(prefix):]), true
}

func (w *fseventsWatch) inScope(path string) bool {
	if !w.rootIsDir {
		return path == w.root
	}
	if path == w.root {
		return false
	}
	if w.opts.Recursive {
		return true
	}
	return filepath.Dir(path) == w.root
}

func (w *fseventsWatch) stop() {
	w.stopOnce.Do(w.stream.Stop)
	w.quitOnce.Do(func() {
		close(w.quit)
	})
	<-w.done
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
