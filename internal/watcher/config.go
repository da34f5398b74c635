package watcher

import (
	"errors"
	"fmt"
	"time"

	"tellmewhen/internal/event"
)

const (
	DefaultDebounceWindow = 50 * time.Millisecond
	DefaultMaxRetries     = 3
)

// DefaultIgnorePatterns skips editor swap files, temporary files and the two
// directories that churn the most in a working tree.
var DefaultIgnorePatterns = []string{"*.tmp", "*.swp", ".git/*", "node_modules/*"}

// DefaultEventTypes is the event_types set used when a config does not name one.
var DefaultEventTypes = []event.FsKind{event.FsCreated, event.FsModified, event.FsDeleted}

// Config controls a single watch registration.
type Config struct {
	WatchSubdirectories bool           `yaml:"watch_subdirectories" toml:"watch_subdirectories" json:"watch_subdirectories"`
	IgnorePatterns      []string       `yaml:"ignore_patterns" toml:"ignore_patterns" json:"ignore_patterns"`
	DebounceEvents      bool           `yaml:"debounce_events" toml:"debounce_events" json:"debounce_events"`
	DebounceWindow      time.Duration  `yaml:"debounce_window" toml:"debounce_window" json:"debounce_window"`
	// EventTypes lists the kinds delivered. Empty delivers every kind.
	EventTypes     []event.FsKind `yaml:"event_types" toml:"event_types" json:"event_types"`
	RetryOnFailure bool           `yaml:"retry_on_failure" toml:"retry_on_failure" json:"retry_on_failure"`
	MaxRetries     int            `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
}

func DefaultConfig() Config {
	return Config{
		WatchSubdirectories: true,
		IgnorePatterns:      append([]string(nil), DefaultIgnorePatterns...),
		DebounceEvents:      true,
		DebounceWindow:      DefaultDebounceWindow,
		EventTypes:          append([]event.FsKind(nil), DefaultEventTypes...),
		MaxRetries:          DefaultMaxRetries,
	}
}

// withDefaults fills the zero durations and counts. Booleans and slices are
// taken as given.
func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Validate rejects values the handler cannot act on. Invalid ignore patterns
// are not errors here; they are reported when the watch starts and never match.
func (c Config) Validate() error {
	var errs []error
	if c.DebounceWindow < 0 {
		errs = append(errs, fmt.Errorf("debounce_window must not be negative, got %s", c.DebounceWindow))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	for _, kind := range c.EventTypes {
		if _, err := kind.MarshalText(); err != nil {
			errs = append(errs, fmt.Errorf("event_types: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) kindFilter() map[event.FsKind]struct{} {
	if len(c.EventTypes) == 0 {
		return nil
	}
	set := make(map[event.FsKind]struct{}, len(c.EventTypes))
	for _, kind := range c.EventTypes {
		set[kind] = struct{}{}
	}
	return set
}
