package watch

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

type suppressedWrite struct {
	path     string
	markedAt time.Time
}

// SuppressionTracker remembers paths the application itself just wrote so
// the watcher can ignore the resulting file system events.
//
// A path is suppressed while now - markedAt < window. Timestamps come from
// the tracker's clock; time.Now carries a monotonic reading, so wall clock
// adjustments do not move the window.
type SuppressionTracker struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries []suppressedWrite
}

// NewSuppressionTracker creates a tracker with the given window. A nil
// clock means time.Now.
func NewSuppressionTracker(window time.Duration, now func() time.Time) *SuppressionTracker {
	if now == nil {
		now = time.Now
	}
	return &SuppressionTracker{window: window, now: now}
}

// MarkAsWritten records path as written by the application right now.
// Repeated marks for the same path are kept; lookups match any of them.
func (t *SuppressionTracker) MarkAsWritten(path string) {
	norm := normalizePath(path)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, suppressedWrite{path: norm, markedAt: t.now()})
}

// IsSuppressed reports whether path was marked within the window.
func (t *SuppressionTracker) IsSuppressed(path string) bool {
	norm := normalizePath(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, e := range t.entries {
		if e.path == norm && now.Sub(e.markedAt) < t.window {
			return true
		}
	}
	return false
}

// Sweep drops expired entries and returns how many were removed.
func (t *SuppressionTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	kept := t.entries[:0]
	for _, e := range t.entries {
		if now.Sub(e.markedAt) < t.window {
			kept = append(kept, e)
		}
	}
	removed := len(t.entries) - len(kept)
	// zero the tail so dropped paths can be collected
	for i := len(kept); i < len(t.entries); i++ {
		t.entries[i] = suppressedWrite{}
	}
	t.entries = kept
	return removed
}

// Clear drops every entry.
func (t *SuppressionTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Len returns the number of stored entries, expired or not.
func (t *SuppressionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// SetWindow changes the suppression window for future lookups.
func (t *SuppressionTracker) SetWindow(window time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window = window
}

// normalizePath returns the canonical form used for comparisons: absolute,
// cleaned and, on case-insensitive platforms, lower-cased.
func normalizePath(path string) string {
	norm, err := filepath.Abs(path)
	if err != nil {
		norm = filepath.Clean(path)
	}
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		norm = strings.ToLower(norm)
	}
	return norm
}
