// Package watcher implements the filesystem handler: it registers paths with a
// native watch engine, filters what the engine reports and republishes the
// surviving events on the process event bus.
//
// Events are best-effort. The native layer may coalesce or drop notifications
// under load and reports that as an overflow; callers that need an exact view
// should treat an overflow as a signal to rescan.
package watcher
