package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// defaultPollInterval is used when BackendOptions.PollInterval is unset.
const defaultPollInterval = 500 * time.Millisecond

type entryState struct {
	size    int64
	modTime time.Time
	isDir   bool
}

type dirSnapshot map[string]entryState

// PollBackend returns a backend that scans the directory on a fixed
// interval and diffs successive snapshots. It trades latency for working
// the same way on every platform and file system, network mounts included.
func PollBackend() Backend {
	return pollBackend{}
}

type pollBackend struct{}

func (pollBackend) Watch(dir string, opts BackendOptions) (Handle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch target %s is not a directory", dir)
	}

	initial, err := scanDir(dir, opts.Ignore)
	if err != nil {
		return nil, err
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	h := newHandle(opts)
	h.wg.Add(1)
	if !opts.IgnoreInitial {
		for _, path := range initial.sortedPaths() {
			h.submit(RawEvent{Path: path, Op: OpCreate})
		}
	}
	go pollLoop(h, dir, interval, opts.Ignore, initial)

	return h, nil
}

func pollLoop(h *handle, dir string, interval time.Duration, ignore func(string) bool, prev dirSnapshot) {
	defer h.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}

		next, err := scanDir(dir, ignore)
		if err != nil {
			h.fail(err)
			continue
		}

		for _, ev := range diffSnapshots(prev, next) {
			h.submit(ev)
		}
		prev = next
	}
}

// scanDir records the immediate children of dir.
func scanDir(dir string, ignore func(string) bool) (dirSnapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	snap := make(dirSnapshot, len(entries))
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if ignore != nil && ignore(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		snap[path] = entryState{
			size:    info.Size(),
			modTime: info.ModTime(),
			isDir:   entry.IsDir(),
		}
	}
	return snap, nil
}

// diffSnapshots returns the events that turn prev into next, sorted by
// path so that output is deterministic.
func diffSnapshots(prev, next dirSnapshot) []RawEvent {
	var events []RawEvent

	for path, cur := range next {
		old, existed := prev[path]
		switch {
		case !existed:
			events = append(events, RawEvent{Path: path, Op: OpCreate})
		case old.isDir != cur.isDir:
			events = append(events, RawEvent{Path: path, Op: OpDelete}, RawEvent{Path: path, Op: OpCreate})
		case old.size != cur.size || !old.modTime.Equal(cur.modTime):
			events = append(events, RawEvent{Path: path, Op: OpModify})
		}
	}
	for path := range prev {
		if _, ok := next[path]; !ok {
			events = append(events, RawEvent{Path: path, Op: OpDelete})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Path < events[j].Path
	})
	return events
}

func (s dirSnapshot) sortedPaths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
