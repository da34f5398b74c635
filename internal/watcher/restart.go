package watcher

import (
	"errors"
	"strconv"
	"time"

	"tellmewhen/internal/logging"
)

const restartBaseDelay = 200 * time.Millisecond

func restartDelay(attempt int) time.Duration {
	return restartBaseDelay * time.Duration(1<<attempt)
}

// scheduleRestart arranges a new native watch for a path whose watch
// terminated. attempt counts the retries already spent on it.
func (handler *Handler) scheduleRestart(path string, config Config, attempt int, cause error) {
	if attempt >= config.MaxRetries {
		handler.logger.Error("giving up on watch", logging.ErrorFields(cause, logging.Fields{
			"path":     path,
			"attempts": strconv.Itoa(attempt),
		}))
		return
	}

	handler.restartMutex.Lock()
	defer handler.restartMutex.Unlock()
	if handler.isClosed() {
		return
	}
	if _, pending := handler.restarts[path]; pending {
		return
	}
	delay := restartDelay(attempt)
	handler.restarts[path] = time.AfterFunc(delay, func() {
		handler.performRestart(path, config, attempt+1)
	})
	handler.logger.Info("watch retry scheduled", logging.Fields{
		"path":    path,
		"attempt": strconv.Itoa(attempt + 1),
		"delay":   delay.String(),
	})
}

func (handler *Handler) performRestart(path string, config Config, attempt int) {
	handler.restartMutex.Lock()
	if _, pending := handler.restarts[path]; !pending {
		handler.restartMutex.Unlock()
		return
	}
	delete(handler.restarts, path)
	handler.restartMutex.Unlock()

	handler.metrics.IncFsRetry(handler.id)
	err := handler.watch(path, config, attempt)
	switch {
	case err == nil:
		handler.logger.Info("watch restored", logging.Fields{
			"path":    path,
			"attempt": strconv.Itoa(attempt),
		})
	case errors.Is(err, ErrClosed), errors.Is(err, ErrAlreadyWatched):
	default:
		handler.logger.Warn("watch retry failed", logging.ErrorFields(err, logging.Fields{
			"path":    path,
			"attempt": strconv.Itoa(attempt),
		}))
		handler.scheduleRestart(path, config, attempt, err)
	}
}

func (handler *Handler) cancelRestart(path string) {
	handler.restartMutex.Lock()
	defer handler.restartMutex.Unlock()
	if timer, ok := handler.restarts[path]; ok {
		timer.Stop()
		delete(handler.restarts, path)
	}
}

// PendingRestarts lists paths waiting for a retry.
func (handler *Handler) PendingRestarts() []string {
	handler.restartMutex.Lock()
	defer handler.restartMutex.Unlock()
	paths := make([]string, 0, len(handler.restarts))
	for path := range handler.restarts {
		paths = append(paths, path)
	}
	return paths
}

func (handler *Handler) stopRestarts() {
	handler.restartMutex.Lock()
	defer handler.restartMutex.Unlock()
	for path, timer := range handler.restarts {
		timer.Stop()
		delete(handler.restarts, path)
	}
}
