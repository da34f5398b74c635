//go:build windows

package native

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
)

const (
	waitObject0       = 0x00000000
	waitIOCompletion  = 0x000000C0
	waitTimeout       = 0x00000102
	waitFailed        = 0xFFFFFFFF
	errorNotifyEnum   = windows.Errno(1022)
	cancelPollTimeout = 50
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procWaitForSingleObjectEx = modkernel32.NewProc("WaitForSingleObjectEx")
)

var (
	completionOnce     sync.Once
	completionCallback uintptr
	contexts           = newContextArena()
)

func newNativeEngine(logger *logging.Logger) (Engine, error) {
	completionOnce.Do(func() {
		completionCallback = windows.NewCallback(onReadCompleted)
	})
	wake, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return nil, newAPIError("CreateEvent", err)
	}
	engine := &overlappedEngine{
		logger:   logger.Component("native.readdcw"),
		watches:  newWatchSet[*readContext](),
		wake:     wake,
		requests: make(chan func(), 16),
		stopped:  make(chan struct{}),
	}
	go engine.loop()
	return engine, nil
}

// overlappedEngine issues every ReadDirectoryChangesW call from one goroutine
// locked to its OS thread. Completion routines are queued to the issuing
// thread, so they only run while that thread sits in an alertable wait.
type overlappedEngine struct {
	logger   *logging.Logger
	watches  *watchSet[*readContext]
	wake     windows.Handle
	requests chan func()

	closeOnce sync.Once
	stopped   chan struct{}
}

func (e *overlappedEngine) Name() string {
	return "ReadDirectoryChangesW"
}

func (e *overlappedEngine) Watch(path string, opts Options, sink Sink) (Handle, error) {
	if sink == nil {
		return nil, errors.New("watch sink is required")
	}
	root, info, err := resolveTarget(path)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	var (
		result Handle
		werr   error
	)
	if err := e.call(func() {
		result, werr = e.open(root, info.IsDir(), opts, sink)
	}); err != nil {
		return nil, err
	}
	return result, werr
}

func (e *overlappedEngine) Unwatch(h Handle) error {
	if h == nil {
		return nil
	}
	ctx, ok := e.watches.take(h.ID())
	if !ok {
		return nil
	}
	return e.call(func() {
		e.cancel(ctx)
	})
}

func (e *overlappedEngine) Close() error {
	watches := e.watches.drain()
	err := e.call(func() {
		for _, ctx := range watches {
			e.cancel(ctx)
		}
	})
	e.closeOnce.Do(func() {
		close(e.requests)
		_ = windows.SetEvent(e.wake)
	})
	<-e.stopped
	return err
}

// call runs fn on the engine thread and waits for it to finish.
func (e *overlappedEngine) call(fn func()) (err error) {
	done := make(chan struct{})
	defer func() {
		if recover() != nil {
			err = ErrClosed
		}
	}()
	select {
	case <-e.stopped:
		return ErrClosed
	case e.requests <- func() {
		defer close(done)
		fn()
	}:
	}
	if err := windows.SetEvent(e.wake); err != nil {
		return newAPIError("SetEvent", err)
	}
	<-done
	return nil
}

func (e *overlappedEngine) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.stopped)
	defer windows.CloseHandle(e.wake)

	for {
		ret := waitAlertable(e.wake, e.timeout())
		switch ret {
		case waitObject0:
			if !e.drainRequests() {
				return
			}
		case waitIOCompletion:
		case waitTimeout:
			e.expire(time.Now().UTC())
		case waitFailed:
			e.logger.Error("alertable wait failed", logging.ErrorFields(windows.GetLastError(), nil))
			return
		}
	}
}

func (e *overlappedEngine) drainRequests() bool {
	for {
		select {
		case fn, ok := <-e.requests:
			if !ok {
				return false
			}
			fn()
		default:
			return true
		}
	}
}

// timeout is the alertable wait bound in milliseconds, driven by the oldest
// held rename source.
func (e *overlappedEngine) timeout() uint32 {
	var earliest time.Time
	for _, ctx := range contexts.owned(e) {
		if deadline, ok := ctx.translator.deadline(); ok && (earliest.IsZero() || deadline.Before(earliest)) {
			earliest = deadline
		}
	}
	if earliest.IsZero() {
		return windows.INFINITE
	}
	wait := time.Until(earliest)
	if wait < 0 {
		return 0
	}
	return uint32(wait/time.Millisecond) + 1
}

func (e *overlappedEngine) expire(now time.Time) {
	for _, ctx := range contexts.owned(e) {
		ctx.deliver(ctx.translator.expire(now))
	}
}

// open runs on the engine thread.
func (e *overlappedEngine) open(root string, isDir bool, opts Options, sink Sink) (Handle, error) {
	dir, only := root, ""
	if !isDir {
		dir, only = filepath.Dir(root), filepath.Base(root)
	}
	name, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return nil, errors.Wrap(err, "encode watch path")
	}
	dirHandle, err := windows.CreateFile(
		name,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) || errors.Is(err, windows.ERROR_PATH_NOT_FOUND) {
			return nil, notFoundError(root)
		}
		return nil, newAPIError("CreateFile", err)
	}

	ctx := &readContext{
		engine:     e,
		root:       root,
		rootIsDir:  isDir,
		dir:        dirHandle,
		buf:        make([]byte, opts.BufferSize),
		subtree:    isDir && opts.Recursive,
		filter:     notifyFilter(newKindSet(opts.Kinds)),
		translator: newChangeTranslator(dir, only, opts.RenameWindow),
		sink:       sink,
		logger:     e.logger.With(logging.Fields{"root": root}),
	}
	id, err := e.watches.add(ctx)
	if err != nil {
		_ = windows.CloseHandle(dirHandle)
		return nil, err
	}
	ctx.handleID = id
	contexts.add(ctx)
	if err := ctx.arm(); err != nil {
		e.watches.take(id)
		contexts.release(ctx.key)
		_ = windows.CloseHandle(dirHandle)
		return nil, err
	}
	return handle{id: id, path: root}, nil
}

// cancel runs on the engine thread. The directory handle is closed only after
// the aborted completion has been observed.
func (e *overlappedEngine) cancel(ctx *readContext) {
	if !contexts.live(ctx.key) {
		return
	}
	ctx.canceling = true
	if err := windows.CancelIoEx(ctx.dir, &ctx.overlapped); err != nil {
		if !errors.Is(err, windows.ERROR_NOT_FOUND) {
			e.logger.Warn("cancel pending read failed", logging.ErrorFields(err, logging.Fields{"root": ctx.root}))
		}
		ctx.finish()
		return
	}
	for contexts.live(ctx.key) {
		windows.SleepEx(cancelPollTimeout, true)
	}
}

func notifyFilter(kinds kindSet) uint32 {
	filter := uint32(windows.FILE_NOTIFY_CHANGE_FILE_NAME |
		windows.FILE_NOTIFY_CHANGE_DIR_NAME |
		windows.FILE_NOTIFY_CHANGE_CREATION)
	if kinds.has(event.FsModified) {
		filter |= windows.FILE_NOTIFY_CHANGE_LAST_WRITE | windows.FILE_NOTIFY_CHANGE_SIZE
	}
	if kinds.wantsAttributes() {
		filter |= windows.FILE_NOTIFY_CHANGE_ATTRIBUTES | windows.FILE_NOTIFY_CHANGE_SECURITY
	}
	return filter
}

// readContext is the state behind one outstanding directory read. The OS only
// ever sees its arena key, stored in the otherwise unused hEvent field.
type readContext struct {
	engine     *overlappedEngine
	key        uintptr
	handleID   uint64
	root       string
	rootIsDir  bool
	dir        windows.Handle
	buf        []byte
	overlapped windows.Overlapped
	subtree    bool
	filter     uint32
	translator *changeTranslator
	sink       Sink
	logger     *logging.Logger
	canceling  bool
}

func (c *readContext) arm() error {
	c.overlapped = windows.Overlapped{HEvent: windows.Handle(c.key)}
	err := windows.ReadDirectoryChanges(
		c.dir,
		&c.buf[0],
		uint32(len(c.buf)),
		c.subtree,
		c.filter,
		nil,
		&c.overlapped,
		completionCallback,
	)
	if err != nil {
		return newAPIError("ReadDirectoryChangesW", err)
	}
	return nil
}

func (c *readContext) deliver(changes []event.FileSystemEvent) {
	for _, change := range changes {
		deliverValid(c.sink, change)
	}
}

// finish frees the context exactly once.
func (c *readContext) finish() {
	if !contexts.release(c.key) {
		return
	}
	c.deliver(c.translator.flush())
	_ = windows.CloseHandle(c.dir)
}

// fail tears the watch down from inside a completion routine.
func (c *readContext) fail(err error) {
	c.finish()
	c.engine.watches.take(c.handleID)
	if _, statErr := os.Lstat(c.root); statErr != nil {
		deliverValid(c.sink, event.FileSystemEvent{Kind: event.FsDeleted, Path: c.root, IsDir: c.rootIsDir, OccurredAt: time.Now().UTC()})
		err = ErrRootRemoved
	}
	c.logger.Warn("directory watch terminated", logging.ErrorFields(err, nil))
	c.sink.Fail(c.root, err)
}

func onReadCompleted(errorCode, bytesTransferred uint32, overlapped *windows.Overlapped) uintptr {
	if overlapped == nil {
		return 0
	}
	ctx, ok := contexts.get(uintptr(overlapped.HEvent))
	if !ok {
		return 0
	}
	code := windows.Errno(errorCode)
	switch {
	case code == windows.ERROR_OPERATION_ABORTED:
		ctx.finish()
		return 0
	case ctx.canceling:
		ctx.finish()
		return 0
	case code == errorNotifyEnum || (code == 0 && bytesTransferred == 0):
		ctx.logger.Warn("directory change buffer overflow", nil)
		ctx.sink.Overflow(ctx.root)
	case code != 0:
		ctx.fail(newAPIError("ReadDirectoryChangesW", code))
		return 0
	default:
		records, err := parseNotifyRecords(ctx.buf[:bytesTransferred])
		if err != nil {
			ctx.logger.Warn("discarding malformed change records", logging.ErrorFields(err, nil))
			ctx.sink.Overflow(ctx.root)
		} else {
			ctx.deliver(ctx.translator.translate(records, time.Now().UTC()))
		}
	}
	if err := ctx.arm(); err != nil {
		ctx.fail(err)
	}
	return 0
}

func waitAlertable(handle windows.Handle, timeout uint32) uint32 {
	ret, _, _ := procWaitForSingleObjectEx.Call(uintptr(handle), uintptr(timeout), 1)
	return uint32(ret)
}

// contextArena maps the integer keys handed to the OS to live read contexts.
type contextArena struct {
	mu      sync.Mutex
	next    uintptr
	entries map[uintptr]*readContext
}

func newContextArena() *contextArena {
	return &contextArena{entries: make(map[uintptr]*readContext)}
}

func (a *contextArena) add(ctx *readContext) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	ctx.key = a.next
	a.entries[ctx.key] = ctx
}

func (a *contextArena) get(key uintptr) (*readContext, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, ok := a.entries[key]
	return ctx, ok
}

func (a *contextArena) live(key uintptr) bool {
	_, ok := a.get(key)
	return ok
}

// release reports whether key was still live.
func (a *contextArena) release(key uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[key]; !ok {
		return false
	}
	delete(a.entries, key)
	return true
}

func (a *contextArena) owned(engine *overlappedEngine) []*readContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*readContext, 0, len(a.entries))
	for _, ctx := range a.entries {
		if ctx.engine == engine {
			out = append(out, ctx)
		}
	}
	return out
}
