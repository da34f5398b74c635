// Package native bridges operating system change notification primitives to
// normalized filesystem events.
//
// Each Engine owns the native resources behind the handles it returns.
// Engines never call application code directly: every decoded change is
// handed to the Sink supplied at registration, which is expected to forward
// it to the event bus without blocking for long. Native event sources run on
// goroutines owned by the engine and are joined by Unwatch or Close.
//
// Backends:
//
//	linux             inotify descriptor with a poll-driven read loop
//	darwin (cgo)      FSEvents stream
//	windows           ReadDirectoryChangesW with completion routines
//	everything else   fsnotify (also selectable everywhere as "portable")
package native
