package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"tellmewhen/internal/config"
	"tellmewhen/internal/logging"
)

func TestShutdownCoordinatorRunsInOrder(t *testing.T) {
	coordinator := newShutdownCoordinator(nil)
	order := []string{}

	coordinator.Add("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	coordinator.Add("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("fail")
	})
	coordinator.Add("third", func(context.Context) error {
		order = append(order, "third")
		return nil
	})

	err := coordinator.Run(context.Background())
	if err == nil {
		t.Fatalf("expected shutdown error")
	}
	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("expected second run to be a no-op, got %v", err)
	}

	expected := []string{"first", "second", "third"}
	if !reflect.DeepEqual(order, expected) {
		t.Fatalf("expected order %v, got %v", expected, order)
	}
}

func TestWatchShutdownSignalsCancelsOnce(t *testing.T) {
	buffer := logging.NewLogBuffer(10)
	logger := logging.NewLoggerWithOutput(buffer, logging.LevelInfo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 2)
	stop := watchShutdownSignals(logger, cancel, signals)
	defer stop()

	signals <- os.Interrupt
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected cancel on signal")
	}
	signals <- os.Interrupt

	deadline := time.Now().Add(time.Second)
	for len(buffer.Find("shutdown already in progress; ignoring signal")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeat signal to be logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type syncBuffer struct {
	mutex  sync.Mutex
	buffer bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buffer.String()
}

func TestRunWatchPrintsEventsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	file := config.Default()
	file.Backend = "portable"
	file.Watches = []config.Watch{{Path: dir}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- runWatch(ctx, file, "", out, logging.Nop())
	}()

	target := filepath.Join(dir, "hello.txt")
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "fs.created") {
		if time.Now().After(deadline) {
			t.Fatalf("expected a created line, got %q", out.String())
		}
		// The watch may not be registered yet; rewrite until it is seen.
		_ = os.WriteFile(target, []byte("hi"), 0o644)
		_ = os.Remove(target)
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runWatch did not return")
	}
}

func TestRunWatchReportsMissingPath(t *testing.T) {
	file := config.Default()
	file.Backend = "portable"
	file.Watches = []config.Watch{{Path: filepath.Join(t.TempDir(), "missing")}}

	err := runWatch(context.Background(), file, "", &syncBuffer{}, logging.Nop())
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing path error, got %v", err)
	}
}
