//go:build linux

package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"tellmewhen/internal/event"
	"tellmewhen/internal/metrics"
	"tellmewhen/internal/native"
)

const settleTime = 300 * time.Millisecond

type liveFixture struct {
	dir     string
	bus     *event.Bus[event.Message]
	handler *Handler
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	engine, err := native.New(nil)
	if err != nil {
		t.Fatalf("native engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	bus := event.NewBus[event.Message](event.BusOptions{Name: "scenario", Registry: metrics.NewRegistry()})
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(bus.Close)

	handler, err := NewHandler(Options{Engine: engine, Bus: bus, Metrics: metrics.NewRegistry()})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	t.Cleanup(func() { _ = handler.Close() })

	dir := t.TempDir()
	if err := handler.WatchPath(dir); err != nil {
		t.Fatalf("watch %s: %v", dir, err)
	}
	return &liveFixture{dir: dir, bus: bus, handler: handler}
}

// eventsFor collects every filesystem event touching path.
func (fixture *liveFixture) eventsFor(path string) *event.EventCollector[event.FileSystemEvent] {
	collector := event.NewEventCollector[event.FileSystemEvent]()
	event.SubscribeDomain(fixture.bus, func(change event.FileSystemEvent) bool {
		return change.Path == path
	}, collector.Collect)
	return collector
}

func expectSingle(t *testing.T, collector *event.EventCollector[event.FileSystemEvent], kind event.FsKind, offset int) {
	t.Helper()
	events, ok := collector.WaitFor(offset+1, 3*time.Second)
	if !ok {
		t.Fatalf("timed out waiting for %s; got %v", kind, events)
	}
	time.Sleep(settleTime)
	events = collector.Events()
	if len(events) != offset+1 {
		t.Fatalf("expected exactly one new event, got %v", events[offset:])
	}
	if events[offset].Kind != kind {
		t.Fatalf("expected %s, got %s", kind, events[offset].Kind)
	}
}

func TestHandlerCreateModifyDeleteSequence(t *testing.T) {
	fixture := newLiveFixture(t)
	path := filepath.Join(fixture.dir, "a.txt")
	collector := fixture.eventsFor(path)

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectSingle(t, collector, event.FsCreated, 0)

	if err := os.WriteFile(path, []byte("y"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	expectSingle(t, collector, event.FsModified, 1)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	expectSingle(t, collector, event.FsDeleted, 2)
}

func TestHandlerFanOutAndUnsubscribeIsolation(t *testing.T) {
	fixture := newLiveFixture(t)
	var first, second atomic.Int64
	firstID := fixture.bus.Subscribe(func(event.Message) { first.Add(1) })
	fixture.bus.Subscribe(func(event.Message) { second.Add(1) })

	if err := os.WriteFile(filepath.Join(fixture.dir, "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatalf("write b: %v", err)
	}
	waitForCount(t, &second, 1)
	time.Sleep(settleTime)
	if first.Load() != 1 || second.Load() != 1 {
		t.Fatalf("expected one event per subscriber, got %d and %d", first.Load(), second.Load())
	}

	if !fixture.bus.Unsubscribe(firstID) {
		t.Fatalf("expected subscription %s to exist", firstID)
	}
	if err := os.WriteFile(filepath.Join(fixture.dir, "c.txt"), []byte("c"), 0o644); err != nil {
		t.Fatalf("write c: %v", err)
	}
	waitForCount(t, &second, 2)
	time.Sleep(settleTime)
	if first.Load() != 1 {
		t.Fatalf("unsubscribed callback ran again: %d", first.Load())
	}
	if second.Load() != 2 {
		t.Fatalf("expected remaining subscriber to count 2, got %d", second.Load())
	}
}

func TestHandlerIgnoresMatchingPaths(t *testing.T) {
	fixture := newLiveFixture(t)
	ignored := filepath.Join(fixture.dir, "build.tmp")
	kept := filepath.Join(fixture.dir, "kept.txt")
	ignoredEvents := fixture.eventsFor(ignored)
	keptEvents := fixture.eventsFor(kept)

	if err := os.WriteFile(ignored, []byte("x"), 0o644); err != nil {
		t.Fatalf("write ignored: %v", err)
	}
	if err := os.WriteFile(kept, []byte("x"), 0o644); err != nil {
		t.Fatalf("write kept: %v", err)
	}
	if _, ok := keptEvents.WaitFor(1, 3*time.Second); !ok {
		t.Fatal("timed out waiting for kept file")
	}
	time.Sleep(settleTime)
	if ignoredEvents.Len() != 0 {
		t.Fatalf("expected no events for ignored path, got %v", ignoredEvents.Events())
	}

	status, err := fixture.handler.Status(fixture.dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Ignored == 0 {
		t.Fatalf("expected ignored counter to move")
	}
}

func TestHandlerWatchMissingPath(t *testing.T) {
	fixture := newLiveFixture(t)
	err := fixture.handler.WatchPath(filepath.Join(fixture.dir, "nope"))
	if err == nil {
		t.Fatal("expected error for missing path")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(fixture.handler.WatchedPaths()) != 1 {
		t.Fatalf("failed watch must not be registered: %v", fixture.handler.WatchedPaths())
	}
}

func TestHandlerWatchThenUnwatchWithoutEvents(t *testing.T) {
	fixture := newLiveFixture(t)
	if err := fixture.handler.UnwatchPath(fixture.dir); err != nil {
		t.Fatalf("unwatch: %v", err)
	}
	if err := fixture.handler.UnwatchPath(fixture.dir); err != nil {
		t.Fatalf("second unwatch: %v", err)
	}
}

func waitForCount(t *testing.T, counter *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for counter.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d deliveries, got %d", want, counter.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
