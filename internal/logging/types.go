package logging

import (
	"strings"
	"time"
)

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var levelRanks = map[Level]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarning,
	"warning": LevelWarning,
	"error":   LevelError,
}

// rank orders levels by severity. Unknown levels rank as info.
func (l Level) rank() int {
	if rank, ok := levelRanks[l]; ok {
		return rank
	}
	return levelRanks[LevelInfo]
}

func (l Level) known() bool {
	_, ok := levelRanks[l]
	return ok
}

// ParseLevel accepts a level name in any case, with "warn" as an alias.
func ParseLevel(value string) (Level, bool) {
	level, ok := levelNames[strings.ToLower(strings.TrimSpace(value))]
	return level, ok
}

// LevelAtLeast reports whether level is as severe as min. An empty min
// accepts every level.
func LevelAtLeast(level, min Level) bool {
	if min == "" {
		return true
	}
	return level.rank() >= min.rank()
}

// Fields carries structured context for a log entry.
type Fields = map[string]string

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Context   Fields    `json:"context,omitempty"`
}

func (e LogEntry) component() string {
	return e.Context[componentField]
}
