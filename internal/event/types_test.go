package event

import (
	"testing"
	"time"
)

func TestFsKindTextRoundTrip(t *testing.T) {
	for _, kind := range AllFsKinds() {
		text, err := kind.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", kind, err)
		}
		var parsed FsKind
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %q: %v", text, err)
		}
		if parsed != kind {
			t.Fatalf("expected %v, got %v", kind, parsed)
		}
	}
}

func TestParseFsKindAliases(t *testing.T) {
	cases := map[string]FsKind{
		"Create":      FsCreated,
		"write":       FsModified,
		"remove":      FsDeleted,
		"chmod":       FsAttributeChanged,
		"permissions": FsPermissionChanged,
	}
	for input, want := range cases {
		got, err := ParseFsKind(input)
		if err != nil || got != want {
			t.Fatalf("ParseFsKind(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := ParseFsKind("exploded"); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestRenameEventKind(t *testing.T) {
	at := time.Now()
	renamed := NewRenameEvent("/data/a.txt", "/data/b.txt", false, at)
	if renamed.Kind != FsRenamed || renamed.Path != "/data/b.txt" {
		t.Fatalf("expected rename within directory, got %+v", renamed)
	}
	moved := NewRenameEvent("/data/a.txt", "/other/a.txt", false, at)
	if moved.Kind != FsMoved {
		t.Fatalf("expected move across directories, got %v", moved.Kind)
	}
	if got := renamed.String(); got != `Renamed from "/data/a.txt" to "/data/b.txt"` {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestFileSystemEventValid(t *testing.T) {
	cases := []struct {
		name  string
		event FileSystemEvent
		valid bool
	}{
		{"created", FileSystemEvent{Kind: FsCreated, Path: "/a"}, true},
		{"created without path", FileSystemEvent{Kind: FsCreated}, false},
		{"rename pair", FileSystemEvent{Kind: FsRenamed, Path: "/b", From: "/a", To: "/b"}, true},
		{"rename missing from", FileSystemEvent{Kind: FsRenamed, Path: "/b", To: "/b"}, false},
		{"unknown kind", FileSystemEvent{Kind: 99, Path: "/a"}, false},
	}
	for _, tc := range cases {
		if got := tc.event.Valid(); got != tc.valid {
			t.Fatalf("%s: expected valid=%v, got %v", tc.name, tc.valid, got)
		}
	}
}

func TestEventTypes(t *testing.T) {
	events := []Event{
		NewFileSystemEvent(FsCreated, "/a"),
		NewProcessEvent(ProcessStarted, 1, "init"),
		NewNetworkEvent(NetworkInterfaceUp, "eth0"),
		NewSystemEvent(SystemCPUUsageHigh),
		NewPowerEvent(PowerBatteryLow),
	}
	want := []string{"fs.created", "process.started", "network.interface_up", "system.cpu_usage_high", "power.battery_low"}
	domains := []Domain{DomainFileSystem, DomainProcess, DomainNetwork, DomainSystem, DomainPower}
	for i, event := range events {
		if event.Type() != want[i] {
			t.Fatalf("expected type %q, got %q", want[i], event.Type())
		}
		if event.Domain() != domains[i] {
			t.Fatalf("expected domain %q, got %q", domains[i], event.Domain())
		}
		if event.Timestamp().IsZero() {
			t.Fatalf("expected timestamp on %s", event.Type())
		}
	}
}

func TestSystemEventValue(t *testing.T) {
	load := 6.5
	event := NewSystemEvent(SystemLoadAverageHigh)
	event.LoadAverage = &load
	value, ok := event.Value()
	if !ok || value != 6.5 {
		t.Fatalf("expected load 6.5, got %v %v", value, ok)
	}
	if _, ok := NewSystemEvent(SystemCPUUsageHigh).Value(); ok {
		t.Fatal("expected missing value")
	}
}
