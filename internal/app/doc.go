// Package app assembles the event bus, the filesystem handler and the
// collaborator monitors into one System with subscription helpers.
package app
