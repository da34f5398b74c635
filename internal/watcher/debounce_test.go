package watcher

import (
	"testing"
	"time"

	"tellmewhen/internal/event"
)

func TestMergeKinds(t *testing.T) {
	cases := []struct {
		pending  event.FsKind
		next     event.FsKind
		expected event.FsKind
		merged   bool
	}{
		{pending: event.FsCreated, next: event.FsModified, expected: event.FsCreated, merged: true},
		{pending: event.FsCreated, next: event.FsAttributeChanged, expected: event.FsCreated, merged: true},
		{pending: event.FsCreated, next: event.FsCreated, expected: event.FsCreated, merged: true},
		{pending: event.FsModified, next: event.FsModified, expected: event.FsModified, merged: true},
		{pending: event.FsModified, next: event.FsAttributeChanged, expected: event.FsModified, merged: true},
		{pending: event.FsAttributeChanged, next: event.FsModified, expected: event.FsModified, merged: true},
		{pending: event.FsCreated, next: event.FsDeleted, expected: event.FsDeleted, merged: false},
		{pending: event.FsDeleted, next: event.FsCreated, expected: event.FsCreated, merged: false},
		{pending: event.FsModified, next: event.FsDeleted, expected: event.FsDeleted, merged: false},
	}
	for _, testCase := range cases {
		got, merged := mergeKinds(testCase.pending, testCase.next)
		if got != testCase.expected || merged != testCase.merged {
			t.Fatalf("%s then %s: expected (%s, %v), got (%s, %v)",
				testCase.pending, testCase.next, testCase.expected, testCase.merged, got, merged)
		}
	}
}

func TestDebouncerCoalescesEvents(t *testing.T) {
	debouncer := newDebouncer(25 * time.Millisecond)
	defer debouncer.drain()

	type flushed struct {
		path string
		seq  uint64
	}
	received := make(chan flushed, 4)
	flush := func(path string, seq uint64) {
		received <- flushed{path: path, seq: seq}
	}

	ready, merged := debouncer.schedule(event.NewFileSystemEvent(event.FsCreated, "/d/a"), flush)
	if len(ready) != 0 || merged {
		t.Fatalf("expected first event to be held")
	}
	ready, merged = debouncer.schedule(event.NewFileSystemEvent(event.FsModified, "/d/a"), flush)
	if len(ready) != 0 || !merged {
		t.Fatalf("expected modified to merge into created")
	}

	select {
	case got := <-received:
		change, ok := debouncer.pop(got.path, got.seq)
		if !ok {
			t.Fatalf("expected pending event for %s", got.path)
		}
		if change.Kind != event.FsCreated {
			t.Fatalf("expected created, got %s", change.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flush")
	}

	select {
	case got := <-received:
		t.Fatalf("unexpected second flush for %s", got.path)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDebouncerNonMergeableFlushesPending(t *testing.T) {
	debouncer := newDebouncer(time.Hour)
	defer debouncer.drain()
	noop := func(string, uint64) {}

	debouncer.schedule(event.NewFileSystemEvent(event.FsCreated, "/d/a"), noop)
	ready, _ := debouncer.schedule(event.NewFileSystemEvent(event.FsDeleted, "/d/a"), noop)
	if len(ready) != 1 || ready[0].Kind != event.FsCreated {
		t.Fatalf("expected pending created to be released, got %v", ready)
	}
	if debouncer.len() != 1 {
		t.Fatalf("expected deleted to be pending, got %d entries", debouncer.len())
	}
}

func TestDebouncerRenameFlushesBothPaths(t *testing.T) {
	debouncer := newDebouncer(time.Hour)
	noop := func(string, uint64) {}

	debouncer.schedule(event.NewFileSystemEvent(event.FsModified, "/d/old"), noop)
	debouncer.schedule(event.NewFileSystemEvent(event.FsCreated, "/d/new"), noop)
	debouncer.schedule(event.NewFileSystemEvent(event.FsModified, "/d/other"), noop)

	ready, _ := debouncer.schedule(event.NewRenameEvent("/d/old", "/d/new", false, time.Now()), noop)
	if len(ready) != 3 {
		t.Fatalf("expected two flushed events plus the rename, got %v", ready)
	}
	if ready[0].Path != "/d/old" || ready[1].Path != "/d/new" || ready[2].Kind != event.FsRenamed {
		t.Fatalf("unexpected order: %v", ready)
	}
	if debouncer.len() != 1 {
		t.Fatalf("expected unrelated path to stay pending")
	}
}

func TestDebouncerPopIgnoresStaleSequence(t *testing.T) {
	debouncer := newDebouncer(time.Hour)
	noop := func(string, uint64) {}

	debouncer.schedule(event.NewFileSystemEvent(event.FsCreated, "/d/a"), noop)
	debouncer.schedule(event.NewFileSystemEvent(event.FsDeleted, "/d/a"), noop)
	if _, ok := debouncer.pop("/d/a", 1); ok {
		t.Fatalf("stale timer must not pop the replacement")
	}
	pending := debouncer.drain()
	if len(pending) != 1 || pending[0].Kind != event.FsDeleted {
		t.Fatalf("expected deleted to remain pending, got %v", pending)
	}
}

func TestDebouncerDrainKeepsOrder(t *testing.T) {
	debouncer := newDebouncer(time.Hour)
	noop := func(string, uint64) {}
	for _, path := range []string{"/d/3", "/d/1", "/d/2"} {
		debouncer.schedule(event.NewFileSystemEvent(event.FsCreated, path), noop)
	}
	pending := debouncer.drain()
	if len(pending) != 3 || pending[0].Path != "/d/3" || pending[1].Path != "/d/1" || pending[2].Path != "/d/2" {
		t.Fatalf("expected scheduling order, got %v", pending)
	}
}
