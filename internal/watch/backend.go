package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// tmpSuffix marks temporary files written during atomic saves.
const tmpSuffix = ".tmp"

// BackendOptions configures how a backend observes a directory. Backends
// only report the immediate children of the watched directory.
type BackendOptions struct {
	// IgnoreInitial suppresses events for entries that exist when the
	// watch starts.
	IgnoreInitial bool

	// PollInterval is the scan interval of the polling backend.
	PollInterval time.Duration

	// StabilityThreshold is how long size and modification time must stay
	// unchanged before an add or change is reported. Zero disables the
	// write-stability gate.
	StabilityThreshold time.Duration

	// StabilityPoll is how often a settling file is re-examined.
	StabilityPoll time.Duration

	// Ignore filters paths before they become events.
	Ignore func(path string) bool
}

// Handle is a running watch on one directory.
type Handle interface {
	// Events delivers raw events. Closed after Close returns.
	Events() <-chan RawEvent
	// Errors delivers transient errors. Closed after Close returns.
	Errors() <-chan error
	// Close stops the watch and waits for its goroutines.
	Close() error
}

// Backend starts watches.
type Backend interface {
	Watch(dir string, opts BackendOptions) (Handle, error)
}

// ignoredPath reports whether path must never be surfaced for a watch on
// root: the root itself, dotfiles and temporary files.
func ignoredPath(root, path string) bool {
	clean := filepath.Clean(path)
	if clean == filepath.Clean(root) {
		return true
	}
	name := filepath.Base(clean)
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix)
}

// handle is the channel plumbing shared by the backends.
type handle struct {
	events    chan RawEvent
	errors    chan error
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closer    func() error
	gate      *stabilityGate
}

func newHandle(opts BackendOptions) *handle {
	h := &handle{
		events: make(chan RawEvent, 100),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
	}
	h.gate = &stabilityGate{
		threshold: opts.StabilityThreshold,
		poll:      opts.StabilityPoll,
		pending:   make(map[string]*settling),
		emit:      h.emit,
		done:      h.done,
		wg:        &h.wg,
	}
	return h
}

func (h *handle) Events() <-chan RawEvent { return h.events }
func (h *handle) Errors() <-chan error    { return h.errors }

func (h *handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		if h.closer != nil {
			err = h.closer()
		}
		h.wg.Wait()
		close(h.events)
		close(h.errors)
	})
	return err
}

func (h *handle) emit(ev RawEvent) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *handle) fail(err error) {
	select {
	case h.errors <- err:
	case <-h.done:
	}
}

// submit routes an event through the stability gate. Deletes bypass it and
// cancel any settling add/change for the same path.
func (h *handle) submit(ev RawEvent) {
	if ev.Op == OpDelete {
		h.gate.forget(ev.Path)
		h.emit(ev)
		return
	}
	h.gate.submit(ev)
}

type settling struct {
	op EventOp
}

// stabilityGate holds add/change events until the file stops changing.
type stabilityGate struct {
	threshold time.Duration
	poll      time.Duration

	mu      sync.Mutex
	pending map[string]*settling

	emit func(RawEvent)
	done <-chan struct{}
	wg   *sync.WaitGroup
}

func (g *stabilityGate) submit(ev RawEvent) {
	if g.threshold <= 0 {
		g.emit(ev)
		return
	}

	g.mu.Lock()
	if s, ok := g.pending[ev.Path]; ok {
		// an add that is still settling stays an add
		if s.op != OpCreate {
			s.op = ev.Op
		}
		g.mu.Unlock()
		return
	}
	s := &settling{op: ev.Op}
	g.pending[ev.Path] = s
	g.wg.Add(1)
	g.mu.Unlock()

	go g.await(ev.Path, s)
}

func (g *stabilityGate) forget(path string) {
	g.mu.Lock()
	delete(g.pending, path)
	g.mu.Unlock()
}

func (g *stabilityGate) await(path string, s *settling) {
	defer g.wg.Done()

	poll := g.poll
	if poll <= 0 {
		poll = g.threshold
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var (
		lastSize    int64 = -1
		lastMod     time.Time
		stableSince time.Time
	)

	for {
		info, err := os.Stat(path)
		if err != nil {
			// gone before it settled; the delete event reports it
			g.release(path, s)
			return
		}

		if info.Size() == lastSize && info.ModTime().Equal(lastMod) {
			if time.Since(stableSince) >= g.threshold {
				if op, ok := g.release(path, s); ok {
					g.emit(RawEvent{Path: path, Op: op})
				}
				return
			}
		} else {
			lastSize = info.Size()
			lastMod = info.ModTime()
			stableSince = time.Now()
		}

		select {
		case <-g.done:
			g.release(path, s)
			return
		case <-ticker.C:
		}
	}
}

// release removes s from the pending set. It reports false if s was
// forgotten or replaced in the meantime.
func (g *stabilityGate) release(path string, s *settling) (EventOp, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur, ok := g.pending[path]
	if !ok || cur != s {
		return 0, false
	}
	delete(g.pending, path)
	return s.op, true
}
