package watch

import (
	"path/filepath"
	"time"
)

// EventOp represents the type of raw file system operation reported by a
// backend.
type EventOp int

const (
	// OpCreate indicates a new entry appeared in the watched directory.
	OpCreate EventOp = iota
	// OpModify indicates an existing entry was modified.
	OpModify
	// OpDelete indicates an entry was removed (or renamed away).
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "add"
	case OpModify:
		return "change"
	case OpDelete:
		return "unlink"
	default:
		return "unknown"
	}
}

// RawEvent is a filtered, not yet debounced notification from a backend.
type RawEvent struct {
	Path string
	Op   EventOp
}

// ChangeType is the normalized type carried by a ChangeEvent.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeChanged ChangeType = "changed"
	ChangeRemoved ChangeType = "removed"
)

func changeTypeFor(op EventOp) ChangeType {
	switch op {
	case OpCreate:
		return ChangeAdded
	case OpDelete:
		return ChangeRemoved
	default:
		return ChangeChanged
	}
}

// ChangeEvent is emitted at most once per debounce window per path.
type ChangeEvent struct {
	Type ChangeType
	// EntityID is the file name component of Path.
	EntityID  string
	Path      string
	Timestamp time.Time
}

// WatchError describes a backend error that did not stop the watch.
type WatchError struct {
	Dir       string
	Message   string
	Timestamp time.Time
}

// EventKind distinguishes change events from watch errors.
type EventKind int

const (
	EventChange EventKind = iota
	EventError
)

// Event is what subscribers receive. Exactly one of Change or Error is
// meaningful, selected by Kind.
type Event struct {
	Kind   EventKind
	Change ChangeEvent
	Error  WatchError
}

// Handler receives watcher events.
type Handler func(Event)

// entityIDFromPath returns the file name component of path, or "" when the
// path has none.
func entityIDFromPath(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}
