package native

import "tellmewhen/internal/event"

// changeBits is the platform independent view of a native flag word.
type changeBits uint32

const (
	changeCreated changeBits = 1 << iota
	changeRemoved
	changeRenamed
	changeModified
	changeAttrib
	changeOwner
)

// classify maps native change bits to a kind. Precedence is created, removed,
// renamed, modified, attributes, permissions; anything else is Modified.
// FsRenamed only marks a rename half: callers pair it or degrade it.
func classify(bits changeBits) event.FsKind {
	switch {
	case bits&changeCreated != 0:
		return event.FsCreated
	case bits&changeRemoved != 0:
		return event.FsDeleted
	case bits&changeRenamed != 0:
		return event.FsRenamed
	case bits&changeModified != 0:
		return event.FsModified
	case bits&changeAttrib != 0:
		return event.FsAttributeChanged
	case bits&changeOwner != 0:
		return event.FsPermissionChanged
	default:
		return event.FsModified
	}
}

// DefaultKinds is the native filter used when no kinds are requested.
func DefaultKinds() []event.FsKind {
	return []event.FsKind{event.FsCreated, event.FsModified, event.FsDeleted, event.FsRenamed}
}

type kindSet map[event.FsKind]struct{}

// newKindSet builds the native filter for kinds. Creation, deletion and
// renames are always included since engines rely on them to track the tree.
func newKindSet(kinds []event.FsKind) kindSet {
	if len(kinds) == 0 {
		kinds = DefaultKinds()
	}
	set := kindSet{
		event.FsCreated: {},
		event.FsDeleted: {},
		event.FsRenamed: {},
		event.FsMoved:   {},
	}
	for _, kind := range kinds {
		set[kind] = struct{}{}
	}
	return set
}

func (s kindSet) has(kind event.FsKind) bool {
	_, ok := s[kind]
	return ok
}

func (s kindSet) wantsAttributes() bool {
	return s.has(event.FsAttributeChanged) || s.has(event.FsPermissionChanged)
}
