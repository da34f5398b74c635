package logging

import (
	"io"
	"os"
	"time"
)

const DefaultBufferSize = 1000

const componentField = "component"

// Logger records entries into a ring buffer, fans them out to live
// subscribers and writes one line per entry. A nil *Logger drops
// everything.
type Logger struct {
	min    Level
	fields Fields
	buffer *LogBuffer
	hub    *LogHub
	out    *lineWriter
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stderr)
}

// NewLoggerWithOutput is NewLogger writing to output. A nil output or
// buffer is replaced with io.Discard or a default sized buffer.
func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if output == nil {
		output = io.Discard
	}
	if !minLevel.known() {
		minLevel = LevelInfo
	}
	return &Logger{
		min:    minLevel,
		buffer: buffer,
		hub:    NewLogHub(),
		out:    &lineWriter{out: output},
	}
}

// Nop returns a logger that keeps a small in-memory buffer and writes nowhere.
// Components fall back to it when constructed without a logger.
func Nop() *Logger {
	return NewLoggerWithOutput(NewLogBuffer(64), LevelError, io.Discard)
}

// OrNop returns logger, or a Nop logger when logger is nil.
func OrNop(logger *Logger) *Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

// Subscribe streams entries at or above minLevel as they are logged. Entries
// filtered out by the logger's own level are never streamed.
func (l *Logger) Subscribe(minLevel Level) (<-chan LogEntry, func()) {
	if l == nil {
		return nil, func() {}
	}
	return l.hub.Subscribe(0, minLevel)
}

// With returns a child logger carrying fields on every entry. The child
// shares its parent's buffer, subscribers and output.
func (l *Logger) With(fields Fields) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.fields = cloneFields(l.fields, fields)
	return &child
}

// Component scopes the logger to a named component.
func (l *Logger) Component(name string) *Logger {
	return l.With(Fields{componentField: name})
}

func (l *Logger) Debug(message string, fields Fields) { l.log(LevelDebug, message, fields) }

func (l *Logger) Info(message string, fields Fields) { l.log(LevelInfo, message, fields) }

func (l *Logger) Warn(message string, fields Fields) { l.log(LevelWarning, message, fields) }

func (l *Logger) Error(message string, fields Fields) { l.log(LevelError, message, fields) }

func (l *Logger) Enabled(level Level) bool {
	return l != nil && LevelAtLeast(level, l.min)
}

func (l *Logger) log(level Level, message string, fields Fields) {
	if !l.Enabled(level) {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   cloneFields(l.fields, fields),
	}
	l.buffer.Add(entry)
	l.hub.Broadcast(entry)
	l.out.write(entry)
}

// ErrorFields builds the common "error" field set, merged with extra.
func ErrorFields(err error, extra Fields) Fields {
	fields := cloneFields(extra, nil)
	if fields == nil {
		fields = Fields{}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}

// cloneFields merges extra over base into a fresh map, or nil when both
// are empty.
func cloneFields(base, extra Fields) Fields {
	if len(base)+len(extra) == 0 {
		return nil
	}
	merged := make(Fields, len(base)+len(extra))
	for _, source := range []Fields{base, extra} {
		for key, value := range source {
			merged[key] = value
		}
	}
	return merged
}
