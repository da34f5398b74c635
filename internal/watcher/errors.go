package watcher

import (
	"errors"
	"fmt"

	"tellmewhen/internal/native"
)

var (
	// ErrNotFound reports a path that did not exist at registration time.
	ErrNotFound = native.ErrNotFound
	// ErrAlreadyWatched reports a second registration of the same path.
	ErrAlreadyWatched = errors.New("path is already watched")
	// ErrNotWatched reports a lookup of a path with no live watch.
	ErrNotWatched = errors.New("path is not watched")
	// ErrClosed reports use of a handler after Close.
	ErrClosed = errors.New("filesystem handler closed")
)

// PatternError reports an ignore pattern that failed to compile. The pattern
// is kept but never matches.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid ignore pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}
