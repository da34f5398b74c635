package event

import (
	"fmt"
	"strings"
	"time"
)

// Domain names the variant of the event union a payload belongs to.
type Domain string

const (
	DomainFileSystem Domain = "filesystem"
	DomainProcess    Domain = "process"
	DomainNetwork    Domain = "network"
	DomainSystem     Domain = "system"
	DomainPower      Domain = "power"
)

// Event is implemented by every payload carried on the bus.
type Event interface {
	Domain() Domain
	Type() string
	Timestamp() time.Time
}

// FsKind classifies a filesystem change.
type FsKind int

const (
	FsCreated FsKind = iota + 1
	FsModified
	FsDeleted
	FsRenamed
	FsMoved
	FsAttributeChanged
	FsPermissionChanged
)

var fsKindNames = map[FsKind]string{
	FsCreated:           "created",
	FsModified:          "modified",
	FsDeleted:           "deleted",
	FsRenamed:           "renamed",
	FsMoved:             "moved",
	FsAttributeChanged:  "attribute_changed",
	FsPermissionChanged: "permission_changed",
}

// AllFsKinds lists every kind in declaration order.
func AllFsKinds() []FsKind {
	return []FsKind{FsCreated, FsModified, FsDeleted, FsRenamed, FsMoved, FsAttributeChanged, FsPermissionChanged}
}

func (k FsKind) String() string {
	if name, ok := fsKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("fs_kind(%d)", int(k))
}

// IsPair reports whether events of this kind carry a From/To pair.
func (k FsKind) IsPair() bool {
	return k == FsRenamed || k == FsMoved
}

// ParseFsKind accepts the String form as well as a few common aliases.
func ParseFsKind(value string) (FsKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "created", "create":
		return FsCreated, nil
	case "modified", "modify", "write":
		return FsModified, nil
	case "deleted", "delete", "removed", "remove":
		return FsDeleted, nil
	case "renamed", "rename":
		return FsRenamed, nil
	case "moved", "move":
		return FsMoved, nil
	case "attribute_changed", "attributes", "attrib", "chmod":
		return FsAttributeChanged, nil
	case "permission_changed", "permissions":
		return FsPermissionChanged, nil
	}
	return 0, fmt.Errorf("unknown filesystem event kind %q", value)
}

func (k FsKind) MarshalText() ([]byte, error) {
	if _, ok := fsKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown filesystem event kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *FsKind) UnmarshalText(text []byte) error {
	parsed, err := ParseFsKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// FileSystemEvent describes one normalized filesystem change. For Renamed and
// Moved, From and To hold the old and new paths and Path equals To.
type FileSystemEvent struct {
	Kind       FsKind
	Path       string
	From       string
	To         string
	IsDir      bool
	OccurredAt time.Time
}

func NewFileSystemEvent(kind FsKind, path string) FileSystemEvent {
	return FileSystemEvent{
		Kind:       kind,
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}
}

// NewRenameEvent builds a Renamed or Moved event depending on whether both
// paths share a parent directory.
func NewRenameEvent(from, to string, isDir bool, at time.Time) FileSystemEvent {
	kind := FsRenamed
	if parentDir(from) != parentDir(to) {
		kind = FsMoved
	}
	return FileSystemEvent{
		Kind:       kind,
		Path:       to,
		From:       from,
		To:         to,
		IsDir:      isDir,
		OccurredAt: at,
	}
}

func (e FileSystemEvent) Domain() Domain {
	return DomainFileSystem
}

func (e FileSystemEvent) Type() string {
	return "fs." + e.Kind.String()
}

func (e FileSystemEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Valid reports whether the event is well formed: pair kinds need both paths,
// every other kind needs Path.
func (e FileSystemEvent) Valid() bool {
	if _, ok := fsKindNames[e.Kind]; !ok {
		return false
	}
	if e.Kind.IsPair() {
		return e.From != "" && e.To != ""
	}
	return e.Path != ""
}

// Paths returns every path the event touches.
func (e FileSystemEvent) Paths() []string {
	if e.Kind.IsPair() {
		return []string{e.From, e.To}
	}
	return []string{e.Path}
}

func (e FileSystemEvent) String() string {
	switch e.Kind {
	case FsRenamed:
		return fmt.Sprintf("Renamed from %q to %q", e.From, e.To)
	case FsMoved:
		return fmt.Sprintf("Moved from %q to %q", e.From, e.To)
	case FsCreated:
		return fmt.Sprintf("Created %q", e.Path)
	case FsModified:
		return fmt.Sprintf("Modified %q", e.Path)
	case FsDeleted:
		return fmt.Sprintf("Deleted %q", e.Path)
	case FsAttributeChanged:
		return fmt.Sprintf("Attributes changed %q", e.Path)
	case FsPermissionChanged:
		return fmt.Sprintf("Permissions changed %q", e.Path)
	default:
		return fmt.Sprintf("%s %q", e.Kind, e.Path)
	}
}

func parentDir(path string) string {
	trimmed := strings.TrimRight(path, `/\`)
	index := strings.LastIndexAny(trimmed, `/\`)
	if index < 0 {
		return ""
	}
	return trimmed[:index]
}
