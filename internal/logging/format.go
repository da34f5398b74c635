package logging

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// lineWriter serialises formatted entries onto a shared writer. Loggers
// derived with With share one lineWriter.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) write(entry LogEntry) {
	if w == nil || w.out == io.Discard {
		return
	}
	line := appendEntry(make([]byte, 0, 128), entry)
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.out.Write(line)
}

// appendEntry renders entry as one line:
//
//	2026-01-02T15:04:05.000Z WARN  [fs_handler] watch lost path=/data reason="root removed"
func appendEntry(dst []byte, entry LogEntry) []byte {
	dst = entry.Timestamp.AppendFormat(dst, timeLayout)
	dst = append(dst, ' ')
	dst = append(dst, levelLabel(entry.Level)...)
	if component := entry.component(); component != "" {
		dst = append(dst, " ["...)
		dst = append(dst, component...)
		dst = append(dst, ']')
	}
	dst = append(dst, ' ')
	dst = append(dst, entry.Message...)

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		if key != componentField {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		dst = append(dst, ' ')
		dst = append(dst, key...)
		dst = append(dst, '=')
		dst = appendValue(dst, entry.Context[key])
	}
	return append(dst, '\n')
}

// levelLabel pads to the widest label so messages line up.
func levelLabel(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelWarning:
		return "WARN "
	case LevelError:
		return "ERROR"
	default:
		return "INFO "
	}
}

func appendValue(dst []byte, value string) []byte {
	if value == "" || strings.ContainsAny(value, " \t\r\n\"=") || !strconv.CanBackquote(value) {
		return strconv.AppendQuote(dst, value)
	}
	return append(dst, value...)
}
