package watch

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/folio-app/folio/internal/workspace"
)

// ErrWatcherDestroyed is returned by StartWatching after Destroy.
var ErrWatcherDestroyed = errors.New("watcher destroyed")

// Config holds configuration for a Watcher.
type Config struct {
	// SubDir is joined to the base path handed to StartWatching to form
	// the directory that is actually watched.
	SubDir string

	// Debounce is how long a path must stay quiet before its event fires.
	Debounce time.Duration

	// IgnoreWriteWindow is how long a path marked as written by the
	// application is ignored.
	IgnoreWriteWindow time.Duration

	// SweepInterval is how often expired suppression entries are dropped.
	SweepInterval time.Duration

	// UsePolling selects the polling backend instead of native events.
	UsePolling bool

	// PollInterval is the scan interval of the polling backend.
	PollInterval time.Duration

	// StabilityThreshold and StabilityPoll control the write-stability
	// gate applied before add/change events are raised.
	StabilityThreshold time.Duration
	StabilityPoll      time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SubDir:             "documents",
		Debounce:           300 * time.Millisecond,
		IgnoreWriteWindow:  2000 * time.Millisecond,
		SweepInterval:      10 * time.Second,
		UsePolling:         true,
		PollInterval:       500 * time.Millisecond,
		StabilityThreshold: 200 * time.Millisecond,
		StabilityPoll:      50 * time.Millisecond,
	}
}

// ConfigUpdate is a partial configuration change. Nil fields are left
// untouched.
type ConfigUpdate struct {
	DebounceMs          *int
	IgnoreWriteWindowMs *int
}

// WorkspaceSource is the workspace selection service the watcher follows.
type WorkspaceSource interface {
	Current() string
	Subscribe(fn workspace.Listener) (unsubscribe func())
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithBackend overrides the backend chosen from Config.UsePolling.
func WithBackend(b Backend) Option {
	return func(w *Watcher) { w.backend = b }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWorkspace makes the watcher follow workspace changes from src.
func WithWorkspace(src WorkspaceSource) Option {
	return func(w *Watcher) { w.workspace = src }
}

// WithClock sets the clock used for suppression windows and event
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

type subscription struct {
	id uint64
	fn Handler
}

// Watcher keeps at most one directory watch alive and turns raw backend
// events into suppressed, filtered and debounced Events.
type Watcher struct {
	// lifecycle serializes start/stop so a workspace switch can never
	// interleave with another start or stop.
	lifecycle sync.Mutex

	mu         sync.Mutex
	cfg        Config
	handle     Handle
	pumpDone   chan struct{}
	watchedDir string
	baseDir    string
	debounce   *debouncer

	subsMu  sync.Mutex
	subs    []subscription
	nextSub uint64

	backend   Backend
	tracker   *SuppressionTracker
	logger    *log.Logger
	now       func() time.Time
	workspace WorkspaceSource

	unsubscribeWorkspace func()
	sweepStop            chan struct{}
	sweepDone            chan struct{}
	destroyed            atomic.Bool
	destroyOnce          sync.Once
	stopped              chan struct{}
}

// New creates a Watcher. It starts the periodic suppression sweep and, if
// a workspace source was given, subscribes to its changes. The watch
// itself starts with Initialize or StartWatching. Call Destroy when done.
func New(cfg Config, opts ...Option) *Watcher {
	w := &Watcher{
		cfg:       cfg,
		logger:    log.New(os.Stderr, "[watch] ", log.LstdFlags),
		now:       time.Now,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.tracker = NewSuppressionTracker(cfg.IgnoreWriteWindow, w.now)

	go w.sweepLoop()

	if w.workspace != nil {
		w.unsubscribeWorkspace = w.workspace.Subscribe(w.onWorkspaceChanged)
	}
	return w
}

// Initialize starts watching basePath. An empty basePath means no
// workspace is open and nothing happens.
func (w *Watcher) Initialize(basePath string) error {
	if basePath == "" {
		return nil
	}
	return w.StartWatching(basePath)
}

// StartWatching watches basePath/SubDir. It is a no-op if that directory
// is already being watched. Any other watch is stopped first. The target
// is created if missing. On failure the watcher is left not watching.
func (w *Watcher) StartWatching(basePath string) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	return w.startLocked(basePath)
}

func (w *Watcher) startLocked(basePath string) error {
	if w.destroyed.Load() {
		return ErrWatcherDestroyed
	}
	if basePath == "" {
		return fmt.Errorf("base path cannot be empty")
	}

	w.mu.Lock()
	cfg := w.cfg
	target := filepath.Clean(filepath.Join(basePath, cfg.SubDir))
	if w.handle != nil && w.watchedDir == target {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if err := w.stopLocked(); err != nil {
		w.logger.Printf("Error stopping previous watch: %v", err)
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		w.logger.Printf("Failed to create watch directory %s: %v", target, err)
		return fmt.Errorf("failed to create watch directory %s: %w", target, err)
	}

	h, err := w.backendFor(cfg).Watch(target, BackendOptions{
		IgnoreInitial:      true,
		PollInterval:       cfg.PollInterval,
		StabilityThreshold: cfg.StabilityThreshold,
		StabilityPoll:      cfg.StabilityPoll,
		Ignore:             func(p string) bool { return ignoredPath(target, p) },
	})
	if err != nil {
		w.logger.Printf("Failed to start watching %s: %v", target, err)
		return fmt.Errorf("failed to start watching %s: %w", target, err)
	}

	d := newDebouncer(cfg.Debounce, nil)
	d.fire = func(path string, typ ChangeType) { w.emitChange(d, path, typ) }
	done := make(chan struct{})

	w.mu.Lock()
	w.handle = h
	w.pumpDone = done
	w.watchedDir = target
	w.baseDir = basePath
	w.debounce = d
	w.mu.Unlock()

	go w.pump(h, done)

	w.logger.Printf("Watching: %s", target)
	return nil
}

// StopWatching closes the current watch, drops every pending debounced
// event and clears the suppression list. It is a no-op when not watching.
func (w *Watcher) StopWatching() error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	return w.stopLocked()
}

func (w *Watcher) stopLocked() error {
	w.mu.Lock()
	h := w.handle
	done := w.pumpDone
	d := w.debounce
	dir := w.watchedDir
	w.handle = nil
	w.pumpDone = nil
	w.watchedDir = ""
	w.baseDir = ""
	w.debounce = nil
	w.mu.Unlock()

	var err error
	if h != nil {
		if cerr := h.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watch on %s: %w", dir, cerr)
		}
		<-done
	}
	if d != nil {
		if n := d.cancelAll(); n > 0 {
			w.logger.Printf("Dropped %d pending events for %s", n, dir)
		}
	}
	w.tracker.Clear()

	if h != nil {
		w.logger.Printf("Stopped watching: %s", dir)
	}
	return err
}

// IsWatching reports whether a watch is active.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handle != nil
}

// WatchedDirectory returns the watched directory, or "" when not watching.
func (w *Watcher) WatchedDirectory() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watchedDir
}

// Config returns the current configuration.
func (w *Watcher) Config() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// MarkFileAsWritten must be called immediately before the application
// writes or deletes path inside the watched directory. Marking after the
// I/O races with the event it is meant to suppress.
func (w *Watcher) MarkFileAsWritten(path string) {
	w.tracker.MarkAsWritten(path)
}

// UpdateConfig merges u into the configuration. An active watch is fully
// restarted on the same base directory so the new settings apply.
func (w *Watcher) UpdateConfig(u ConfigUpdate) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.Lock()
	if u.DebounceMs != nil {
		w.cfg.Debounce = time.Duration(*u.DebounceMs) * time.Millisecond
	}
	if u.IgnoreWriteWindowMs != nil {
		w.cfg.IgnoreWriteWindow = time.Duration(*u.IgnoreWriteWindowMs) * time.Millisecond
	}
	window := w.cfg.IgnoreWriteWindow
	base := w.baseDir
	watching := w.handle != nil
	w.mu.Unlock()

	w.tracker.SetWindow(window)
	if !watching {
		return nil
	}

	if err := w.stopLocked(); err != nil {
		w.logger.Printf("Error stopping watch for restart: %v", err)
	}
	return w.startLocked(base)
}

// Subscribe registers h for change and error events and returns a function
// that removes it. Handlers run on the watcher's goroutines, in
// subscription order.
func (w *Watcher) Subscribe(h Handler) func() {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	id := w.nextSub
	w.nextSub++
	w.subs = append(w.subs, subscription{id: id, fn: h})

	return func() {
		w.subsMu.Lock()
		defer w.subsMu.Unlock()
		for i, s := range w.subs {
			if s.id == id {
				w.subs = append(w.subs[:i], w.subs[i+1:]...)
				return
			}
		}
	}
}

// Destroy unsubscribes from workspace changes, stops the suppression
// sweep and stops watching in the background. Safe to call repeatedly.
// Done is closed once the watch has been torn down.
func (w *Watcher) Destroy() {
	w.destroyOnce.Do(func() {
		w.destroyed.Store(true)
		if w.unsubscribeWorkspace != nil {
			w.unsubscribeWorkspace()
		}
		close(w.sweepStop)

		go func() {
			defer close(w.stopped)
			<-w.sweepDone
			if err := w.StopWatching(); err != nil {
				w.logger.Printf("Error stopping watch during destroy: %v", err)
			}
		}()
	})
}

// Done is closed after Destroy has finished tearing down the watch.
func (w *Watcher) Done() <-chan struct{} {
	return w.stopped
}

func (w *Watcher) onWorkspaceChanged(c workspace.Changed) {
	if c.CurrentPath == "" {
		if err := w.StopWatching(); err != nil {
			w.logger.Printf("Error stopping watch after workspace closed: %v", err)
		}
		return
	}
	if err := w.StartWatching(c.CurrentPath); err != nil {
		w.logger.Printf("Failed to follow workspace %s: %v", c.CurrentPath, err)
	}
}

func (w *Watcher) backendFor(cfg Config) Backend {
	if w.backend != nil {
		return w.backend
	}
	if cfg.UsePolling {
		return PollBackend()
	}
	return NativeBackend()
}

// pump forwards one handle's output until both of its channels close.
func (w *Watcher) pump(h Handle, done chan struct{}) {
	defer close(done)

	events, errs := h.Events(), h.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.handleRaw(ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.publishError(err)
		}
	}
}

// handleRaw is the first stage of the event pipeline: suppression, then
// per-path debounce.
func (w *Watcher) handleRaw(ev RawEvent) {
	if w.tracker.IsSuppressed(ev.Path) {
		return
	}

	w.mu.Lock()
	d := w.debounce
	w.mu.Unlock()
	if d == nil {
		return
	}
	d.schedule(ev.Path, changeTypeFor(ev.Op))
}

func (w *Watcher) emitChange(d *debouncer, path string, typ ChangeType) {
	w.mu.Lock()
	current := w.debounce == d
	w.mu.Unlock()
	if !current {
		// fired for a watch that has since been stopped
		return
	}

	id := entityIDFromPath(path)
	if id == "" {
		w.logger.Printf("Warning: dropping %s event with empty entity id (path %q)", typ, path)
		return
	}

	w.publish(Event{
		Kind: EventChange,
		Change: ChangeEvent{
			Type:      typ,
			EntityID:  id,
			Path:      path,
			Timestamp: w.now(),
		},
	})
}

func (w *Watcher) publishError(err error) {
	dir := w.WatchedDirectory()
	w.logger.Printf("Watcher error on %s: %v", dir, err)
	w.publish(Event{
		Kind: EventError,
		Error: WatchError{
			Dir:       dir,
			Message:   err.Error(),
			Timestamp: w.now(),
		},
	})
}

func (w *Watcher) publish(ev Event) {
	w.subsMu.Lock()
	subs := make([]subscription, len(w.subs))
	copy(subs, w.subs)
	w.subsMu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

func (w *Watcher) sweepLoop() {
	defer close(w.sweepDone)

	interval := w.cfg.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.sweepStop:
			return
		case <-ticker.C:
			w.tracker.Sweep()
		}
	}
}
