//go:build linux

package native

import (
	"encoding/binary"
	"io/fs"
	"path/filepath"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
)

const inotifyReadBufferSize = 64 * 1024

func newNativeEngine(logger *logging.Logger) (Engine, error) {
	return newInotifyEngine(logger), nil
}

// inotifyEngine gives every registration its own inotify instance and read
// loop, so a failure or overflow on one path never affects another.
type inotifyEngine struct {
	logger  *logging.Logger
	watches *watchSet[*inotifyWatch]
}

func newInotifyEngine(logger *logging.Logger) *inotifyEngine {
	return &inotifyEngine{
		logger:  logger.Component("native.inotify"),
		watches: newWatchSet[*inotifyWatch](),
	}
}

func (e *inotifyEngine) Name() string {
	return "inotify"
}

func (e *inotifyEngine) Watch(path string, opts Options, sink Sink) (Handle, error) {
	if sink == nil {
		return nil, errors.New("watch sink is required")
	}
	root, info, err := resolveTarget(path)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, newAPIError("inotify_init1", err)
	}
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(fd)
		return nil, newAPIError("eventfd", err)
	}

	watch := &inotifyWatch{
		root:      root,
		rootIsDir: info.IsDir(),
		opts:      opts,
		mask:      inotifyMask(newKindSet(opts.Kinds)),
		sink:      sink,
		logger:    e.logger.With(logging.Fields{"root": root}),
		fd:        fd,
		wake:      wake,
		dirs:      make(map[int]string),
		wds:       make(map[string]int),
		rootWd:    -1,
		pairer:    newRenamePairer(opts.RenameWindow),
		done:      make(chan struct{}),
	}
	if err := watch.addInitial(); err != nil {
		watch.release()
		return nil, err
	}
	id, err := e.watches.add(watch)
	if err != nil {
		watch.release()
		return nil, err
	}
	watch.id = id
	// dirs belongs to the read loop once it runs.
	descriptors := len(watch.dirs)

	go watch.run(func() {
		e.watches.take(id)
	})
	e.logger.Debug("watch started", logging.Fields{
		"root":        root,
		"descriptors": strconv.Itoa(descriptors),
	})
	return handle{id: id, path: root}, nil
}

func (e *inotifyEngine) Unwatch(h Handle) error {
	if h == nil {
		return nil
	}
	watch, ok := e.watches.take(h.ID())
	if !ok {
		return nil
	}
	watch.stop()
	e.logger.Debug("watch stopped", logging.Fields{"root": watch.root})
	return nil
}

func (e *inotifyEngine) Close() error {
	for _, watch := range e.watches.drain() {
		watch.stop()
	}
	return nil
}

func inotifyMask(kinds kindSet) uint32 {
	mask := uint32(unix.IN_CREATE | unix.IN_DELETE | unix.IN_DELETE_SELF |
		unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_MOVE_SELF)
	if kinds.has(event.FsModified) {
		mask |= unix.IN_MODIFY
	}
	if kinds.wantsAttributes() {
		mask |= unix.IN_ATTRIB
	}
	return mask
}

func inotifyBits(mask uint32) changeBits {
	var bits changeBits
	if mask&unix.IN_CREATE != 0 {
		bits |= changeCreated
	}
	if mask&(unix.IN_DELETE|unix.IN_DELETE_SELF) != 0 {
		bits |= changeRemoved
	}
	if mask&(unix.IN_MOVED_FROM|unix.IN_MOVED_TO|unix.IN_MOVE_SELF) != 0 {
		bits |= changeRenamed
	}
	if mask&unix.IN_MODIFY != 0 {
		bits |= changeModified
	}
	if mask&unix.IN_ATTRIB != 0 {
		bits |= changeAttrib
	}
	return bits
}

type inotifyWatch struct {
	id        uint64
	root      string
	rootIsDir bool
	opts      Options
	mask      uint32
	sink      Sink
	logger    *logging.Logger

	fd   int
	wake int

	// dirs and wds are owned by the read loop once it starts.
	dirs   map[int]string
	wds    map[string]int
	rootWd int
	pairer *renamePairer

	mu       sync.Mutex
	exited   bool
	stopOnce sync.Once
	done     chan struct{}
}

func (w *inotifyWatch) addInitial() error {
	if !w.rootIsDir || !w.opts.Recursive {
		wd, err := w.addDescriptor(w.root)
		if err != nil {
			return err
		}
		w.rootWd = wd
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
		wd, err := w.addDescriptor(path)
		if err != nil {
			if path == w.root {
				return err
			}
			if errors.Is(err, unix.ENOSPC) {
				return err
			}
			w.logger.Warn("skipping subdirectory", logging.ErrorFields(err, logging.Fields{"path": path}))
			return nil
		}
		if path == w.root {
			w.rootWd = wd
		}
		return nil
	})
}

func (w *inotifyWatch) addDescriptor(path string) (int, error) {
	wd, err := unix.InotifyAddWatch(w.fd, path, w.mask)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return -1, notFoundError(path)
		}
		return -1, newAPIError("inotify_add_watch", err)
	}
	if previous, ok := w.dirs[wd]; ok && previous != path {
		delete(w.wds, previous)
	}
	w.dirs[wd] = path
	w.wds[path] = wd
	return wd, nil
}

// addTree watches a directory that appeared after registration and reports
// entries created inside it before its descriptor existed.
func (w *inotifyWatch) addTree(dir string, at time.Time) {
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path != dir {
			deliverValid(w.sink, event.FileSystemEvent{
				Kind:       event.FsCreated,
				Path:       path,
				IsDir:      entry.IsDir(),
				OccurredAt: at,
			})
		}
		if !entry.IsDir() {
			return nil
		}
		if _, err := w.addDescriptor(path); err != nil {
			w.logger.Warn("unable to watch new directory", logging.ErrorFields(err, logging.Fields{"path": path}))
			return filepath.SkipDir
		}
		return nil
	})
}

func (w *inotifyWatch) removeTree(dir string) {
	for wd, path := range w.dirs {
		if wd == w.rootWd || !isWithinPath(dir, path) {
			continue
		}
		_, _ = unix.InotifyRmWatch(w.fd, uint32(wd))
		w.forget(wd)
	}
}

// rewriteTree follows a watched directory that was renamed inside the tree.
func (w *inotifyWatch) rewriteTree(from, to string) {
	for wd, path := range w.dirs {
		if !isWithinPath(from, path) {
			continue
		}
		updated := to + path[len(from):]
		delete(w.wds, path)
		w.dirs[wd] = updated
		w.wds[updated] = wd
	}
}

func (w *inotifyWatch) forget(wd int) {
	path, ok := w.dirs[wd]
	if !ok {
		return
	}
	delete(w.dirs, wd)
	if w.wds[path] == wd {
		delete(w.wds, path)
	}
}

func (w *inotifyWatch) run(onExit func()) {
	var failure error
	defer func() {
		w.release()
		close(w.done)
		if failure != nil {
			onExit()
			w.sink.Fail(w.root, failure)
		}
	}()

	buf := make([]byte, inotifyReadBufferSize)
	fds := []unix.PollFd{
		{Fd: int32(w.fd), Events: unix.POLLIN},
		{Fd: int32(w.wake), Events: unix.POLLIN},
	}
	for {
		timeout := -1
		if deadline, ok := w.pairer.deadline(); ok {
			timeout = int(time.Until(deadline)/time.Millisecond) + 1
			if timeout < 0 {
				timeout = 0
			}
		}
		fds[0].Revents = 0
		fds[1].Revents = 0
		if _, err := unix.Poll(fds, timeout); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			failure = newAPIError("poll", err)
			return
		}
		if fds[1].Revents != 0 {
			w.flushPending()
			return
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			failure = newAPIError("poll", errors.Errorf("descriptor error revents=%#x", fds[0].Revents))
			return
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			rootGone, err := w.readEvents(buf)
			if err != nil {
				failure = err
				return
			}
			if rootGone {
				w.flushPending()
				failure = ErrRootRemoved
				return
			}
		}
		w.expirePending(time.Now().UTC())
	}
}

func (w *inotifyWatch) readEvents(buf []byte) (bool, error) {
	for {
		n, err := unix.Read(w.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return false, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false, newAPIError("read", err)
		}
		if n < unix.SizeofInotifyEvent {
			return false, newAPIError("read", errors.Errorf("short read of %d bytes", n))
		}
		if rootGone := w.handleBuffer(buf[:n]); rootGone {
			return true, nil
		}
	}
}

func (w *inotifyWatch) handleBuffer(buf []byte) bool {
	now := time.Now().UTC()
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		nameStart := offset + unix.SizeofInotifyEvent
		nameEnd := nameStart + int(raw.Len)
		if nameEnd > len(buf) {
			w.logger.Warn("truncated inotify record", logging.Fields{"offset": strconv.Itoa(offset)})
			return false
		}
		name := ""
		if raw.Len > 0 {
			nameBytes := buf[nameStart:nameEnd]
			for i, b := range nameBytes {
				if b == 0 {
					nameBytes = nameBytes[:i]
					break
				}
			}
			name = string(nameBytes)
		}
		offset = nameEnd
		if w.handleRecord(int(raw.Wd), raw.Mask, raw.Cookie, name, now) {
			return true
		}
	}
	return false
}

// handleRecord decodes one notification and reports whether the root watch
// is gone.
func (w *inotifyWatch) handleRecord(wd int, mask, cookie uint32, name string, now time.Time) bool {
	if mask&unix.IN_Q_OVERFLOW != 0 {
		w.logger.Warn("inotify queue overflow", nil)
		w.sink.Overflow(w.root)
		return false
	}
	if mask&unix.IN_IGNORED != 0 {
		w.forget(wd)
		return wd == w.rootWd
	}
	dir, ok := w.dirs[wd]
	if !ok {
		return false
	}
	path := dir
	if name != "" {
		path = filepath.Join(dir, name)
	}
	isDir := mask&unix.IN_ISDIR != 0

	switch {
	case mask&unix.IN_MOVED_FROM != 0:
		if previous, replaced := w.pairer.hold(cookie, path, isDir, now); replaced {
			w.degrade(previous)
		}
		return false
	case mask&unix.IN_MOVED_TO != 0:
		if source, ok := w.pairer.match(cookie); ok && cookie != 0 {
			if source.isDir {
				w.rewriteTree(source.path, path)
			}
			deliverValid(w.sink, event.NewRenameEvent(source.path, path, isDir, now))
			return false
		}
		deliverValid(w.sink, event.FileSystemEvent{Kind: event.FsCreated, Path: path, IsDir: isDir, OccurredAt: now})
		if isDir && w.opts.Recursive {
			w.addTree(path, now)
		}
		return false
	case mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0:
		if wd != w.rootWd {
			return false
		}
		deliverValid(w.sink, event.FileSystemEvent{Kind: event.FsDeleted, Path: w.root, IsDir: w.rootIsDir, OccurredAt: now})
		return mask&unix.IN_MOVE_SELF != 0
	}

	change := event.FileSystemEvent{
		Kind:       classify(inotifyBits(mask)),
		Path:       path,
		IsDir:      isDir,
		OccurredAt: now,
	}
	deliverValid(w.sink, change)
	if mask&unix.IN_CREATE != 0 && isDir && w.opts.Recursive {
		w.addTree(path, now)
	}
	return false
}

func (w *inotifyWatch) expirePending(now time.Time) {
	for _, move := range w.pairer.expired(now) {
		w.degrade(move)
	}
}

func (w *inotifyWatch) flushPending() {
	for _, move := range w.pairer.drain() {
		w.degrade(move)
	}
}

// degrade reports a rename source whose target left the watched tree.
func (w *inotifyWatch) degrade(move pendingMove) {
	if move.isDir {
		w.removeTree(move.path)
	}
	deliverValid(w.sink, unmatchedSource(move))
}

// stop wakes the read loop and waits for it to release the descriptors.
func (w *inotifyWatch) stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		if !w.exited {
			var value [8]byte
			binary.NativeEndian.PutUint64(value[:], 1)
			if _, err := unix.Write(w.wake, value[:]); err != nil {
				w.logger.Warn("unable to wake read loop", logging.ErrorFields(err, nil))
			}
		}
		w.mu.Unlock()
	})
	<-w.done
}

// release removes every kernel watch and closes both descriptors exactly once.
func (w *inotifyWatch) release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.exited {
		return
	}
	w.exited = true
	for wd := range w.dirs {
		_, _ = unix.InotifyRmWatch(w.fd, uint32(wd))
	}
	w.dirs = make(map[int]string)
	w.wds = make(map[string]int)
	_ = unix.Close(w.fd)
	_ = unix.Close(w.wake)
}
