package native

import (
	"encoding/binary"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/pkg/errors"

	"tellmewhen/internal/event"
)

// FILE_NOTIFY_INFORMATION action codes.
const (
	fileActionAdded          = 1
	fileActionRemoved        = 2
	fileActionModified       = 3
	fileActionRenamedOldName = 4
	fileActionRenamedNewName = 5
)

// notifyHeaderSize covers NextEntryOffset, Action and FileNameLength.
const notifyHeaderSize = 12

var errMalformedRecords = errors.New("malformed change notification buffer")

type notifyRecord struct {
	Action uint32
	Name   string
}

// parseNotifyRecords walks a buffer of back to back FILE_NOTIFY_INFORMATION
// records. Each record starts at the previous offset plus its
// NextEntryOffset; a zero offset marks the last record.
func parseNotifyRecords(buf []byte) ([]notifyRecord, error) {
	var records []notifyRecord
	offset := 0
	for {
		if offset+notifyHeaderSize > len(buf) {
			return records, errors.Wrapf(errMalformedRecords, "record header at %d exceeds %d bytes", offset, len(buf))
		}
		next := binary.LittleEndian.Uint32(buf[offset:])
		action := binary.LittleEndian.Uint32(buf[offset+4:])
		nameLength := int(binary.LittleEndian.Uint32(buf[offset+8:]))
		nameStart := offset + notifyHeaderSize
		if nameLength%2 != 0 || nameStart+nameLength > len(buf) {
			return records, errors.Wrapf(errMalformedRecords, "record name at %d has length %d", offset, nameLength)
		}

		units := make([]uint16, nameLength/2)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(buf[nameStart+2*i:])
		}
		records = append(records, notifyRecord{
			Action: action,
			Name:   string(utf16.Decode(units)),
		})

		if next == 0 {
			return records, nil
		}
		offset += int(next)
	}
}

func actionBits(action uint32) changeBits {
	switch action {
	case fileActionAdded:
		return changeCreated
	case fileActionRemoved:
		return changeRemoved
	case fileActionRenamedOldName, fileActionRenamedNewName:
		return changeRenamed
	case fileActionModified:
		return changeModified
	default:
		return 0
	}
}

// changeTranslator turns directory change records into events for one
// directory handle. A rename source must be followed directly by its target;
// any other record flushes it as Deleted. A source that ends a buffer is kept
// until the next buffer or until the rename window expires.
type changeTranslator struct {
	dir     string
	only    string
	window  time.Duration
	isDir   func(string) bool
	pending *pendingMove
}

func newChangeTranslator(dir, only string, window time.Duration) *changeTranslator {
	if window <= 0 {
		window = DefaultRenameWindow
	}
	return &changeTranslator{
		dir:    dir,
		only:   only,
		window: window,
		isDir:  lstatIsDir,
	}
}

func (t *changeTranslator) translate(records []notifyRecord, now time.Time) []event.FileSystemEvent {
	var out []event.FileSystemEvent
	for _, record := range records {
		path := filepath.Join(t.dir, record.Name)
		if record.Action == fileActionRenamedNewName {
			if t.pending != nil {
				source := *t.pending
				t.pending = nil
				if t.wanted(source.path) || t.wanted(path) {
					out = append(out, event.NewRenameEvent(source.path, path, t.isDir(path), now))
				}
				continue
			}
			if t.wanted(path) {
				out = append(out, event.FileSystemEvent{Kind: event.FsCreated, Path: path, IsDir: t.isDir(path), OccurredAt: now})
			}
			continue
		}

		out = append(out, t.flush()...)
		if record.Action == fileActionRenamedOldName {
			t.pending = &pendingMove{path: path, at: now}
			continue
		}
		if !t.wanted(path) {
			continue
		}
		kind := classify(actionBits(record.Action))
		isDir := false
		if kind != event.FsDeleted {
			isDir = t.isDir(path)
		}
		if kind == event.FsModified && isDir {
			continue
		}
		out = append(out, event.FileSystemEvent{Kind: kind, Path: path, IsDir: isDir, OccurredAt: now})
	}
	return out
}

// expire degrades a held rename source older than the window.
func (t *changeTranslator) expire(now time.Time) []event.FileSystemEvent {
	if t.pending == nil || now.Sub(t.pending.at) < t.window {
		return nil
	}
	return t.flush()
}

// deadline is when a held rename source expires.
func (t *changeTranslator) deadline() (time.Time, bool) {
	if t.pending == nil {
		return time.Time{}, false
	}
	return t.pending.at.Add(t.window), true
}

func (t *changeTranslator) flush() []event.FileSystemEvent {
	if t.pending == nil {
		return nil
	}
	source := *t.pending
	t.pending = nil
	if !t.wanted(source.path) {
		return nil
	}
	return []event.FileSystemEvent{unmatchedSource(source)}
}

func (t *changeTranslator) wanted(path string) bool {
	if t.only == "" {
		return true
	}
	return strings.EqualFold(filepath.Base(path), t.only) && filepath.Dir(path) == filepath.Clean(t.dir)
}
