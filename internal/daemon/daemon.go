// Package daemon runs folio's watch-and-hydrate loop for one process.
//
// The daemon:
//  1. Restores persisted collections, if a state database is available
//  2. Hydrates every kind from the current workspace
//  3. Watches each kind's directory and reloads it on external changes
//  4. Follows workspace switches, including ones written to the selection
//     file by another process, and shuts down gracefully
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/folio-app/folio/internal/dashboard"
	"github.com/folio-app/folio/internal/hydrate"
	"github.com/folio-app/folio/internal/notify"
	"github.com/folio-app/folio/internal/schema"
	"github.com/folio-app/folio/internal/state"
	"github.com/folio-app/folio/internal/statedb"
	"github.com/folio-app/folio/internal/watch"
	"github.com/folio-app/folio/internal/workspace"
)

// Config holds configuration for the daemon.
type Config struct {
	// Kinds are the entity kinds to watch, one subdirectory each
	Kinds []string

	// Watch is the watcher configuration shared by all kinds; SubDir is
	// replaced by the kind
	Watch watch.Config

	// WatchFor returns the watcher configuration of a kind (optional,
	// overrides Watch)
	WatchFor func(kind string) watch.Config

	// Backend overrides the watch backend selected by Watch.UsePolling
	Backend watch.Backend

	// Logger for daemon activity
	Logger *log.Logger

	// LoggerFor returns the logger of a component (optional)
	LoggerFor func(component string) *log.Logger

	// StopTimeout bounds how long Stop waits for watchers to shut down
	StopTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Kinds:       []string{"writings", "posts"},
		Watch:       watch.DefaultConfig(),
		Logger:      log.New(os.Stderr, "[daemon] ", log.LstdFlags),
		StopTimeout: 5 * time.Second,
	}
}

func (c *Config) watchFor(kind string) watch.Config {
	if c.WatchFor != nil {
		return c.WatchFor(kind)
	}
	wc := c.Watch
	wc.SubDir = kind
	return wc
}

func (c *Config) loggerFor(component string) *log.Logger {
	if c.LoggerFor != nil {
		return c.LoggerFor(component)
	}
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}

// Daemon ties the workspace, watchers, hydrator and optional collaborators
// together.
type Daemon struct {
	config    *Config
	ws        *workspace.Service
	caps      *Registry
	container *state.Container
	hydrator  *hydrate.Hydrator

	mu        sync.RWMutex
	watchers  map[string]*watch.Watcher
	unsubs    []func()
	selection watch.Handle

	started   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon for ws. Optional collaborators are taken from caps:
// *statedb.DB persists collections, *dashboard.Server receives events and
// notifications, and a notify.Notifier receives notifications.
func New(ws *workspace.Service, caps *Registry, config *Config) (*Daemon, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace service cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Kinds) == 0 {
		return nil, fmt.Errorf("at least one kind is required")
	}
	if config.Logger == nil {
		config.Logger = config.loggerFor("daemon")
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}
	if caps == nil {
		caps = NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:    config,
		ws:        ws,
		caps:      caps,
		container: state.NewContainer(),
		watchers:  make(map[string]*watch.Watcher),
		started:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	notifiers := notify.Multi{}
	if n, ok := Lookup[notify.Notifier](caps); ok {
		notifiers = append(notifiers, n)
	} else {
		notifiers = append(notifiers, notify.NewLogNotifier(config.loggerFor("notify")))
	}
	if srv, ok := Lookup[*dashboard.Server](caps); ok {
		notifiers = append(notifiers, srv)
	}

	opts := []hydrate.Option{
		hydrate.WithNotifier(notifiers),
		hydrate.WithLogger(config.loggerFor("hydrate")),
	}
	if db, ok := Lookup[*statedb.DB](caps); ok {
		opts = append(opts, hydrate.WithPersister(db))
	}
	d.hydrator = hydrate.New(d.container, schema.DirLoader{Logger: config.loggerFor("schema")}, ws, opts...)

	if srv, ok := Lookup[*dashboard.Server](caps); ok {
		d.hydrator.OnSync(func(r hydrate.Result) {
			srv.SyncComplete(dashboard.SyncCompleteData{
				Kind:     r.Kind,
				Added:    r.Added,
				Updated:  r.Updated,
				Removed:  r.Removed,
				Total:    r.Total,
				Duration: r.Duration,
			})
		})
	}

	return d, nil
}

// Container returns the state container the daemon hydrates.
func (d *Daemon) Container() *state.Container {
	return d.container
}

// Hydrator returns the daemon's hydrator.
func (d *Daemon) Hydrator() *hydrate.Hydrator {
	return d.hydrator
}

// Started is closed once Start has set up every watcher.
func (d *Daemon) Started() <-chan struct{} {
	return d.started
}

// Start restores and hydrates state, starts a watcher per kind and blocks
// until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	var err error
	d.startOnce.Do(func() { err = d.start() })
	if err != nil {
		_ = d.Stop()
		return err
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

func (d *Daemon) start() error {
	d.config.Logger.Println("Starting daemon")

	if err := d.hydrator.Restore(d.ctx, d.config.Kinds); err != nil {
		d.config.Logger.Printf("Warning: failed to restore saved state: %v", err)
	}

	if current := d.ws.Current(); current != "" {
		d.hydrateAll(current)
	} else {
		d.config.Logger.Println("No workspace selected; waiting for one")
	}

	srv, hasDashboard := Lookup[*dashboard.Server](d.caps)
	for _, kind := range d.config.Kinds {
		opts := []watch.Option{
			watch.WithLogger(d.config.loggerFor("watch")),
			watch.WithWorkspace(d.ws),
		}
		if d.config.Backend != nil {
			opts = append(opts, watch.WithBackend(d.config.Backend))
		}

		w := watch.New(d.config.watchFor(kind), opts...)
		d.mu.Lock()
		d.watchers[kind] = w
		d.mu.Unlock()

		d.unsubs = append(d.unsubs, w.Subscribe(d.hydrator.Handler(d.ctx, kind)))
		if hasDashboard {
			d.unsubs = append(d.unsubs, w.Subscribe(srv.WatchHandler(kind)))
		}

		if err := w.Initialize(d.ws.Current()); err != nil {
			return fmt.Errorf("failed to watch %s: %w", kind, err)
		}
	}

	// Registered after the watchers so they have switched directories
	// before the new workspace is hydrated.
	d.unsubs = append(d.unsubs, d.ws.Subscribe(d.onWorkspaceChanged))

	if err := d.followSelection(); err != nil {
		return err
	}

	close(d.started)
	return nil
}

func (d *Daemon) onWorkspaceChanged(c workspace.Changed) {
	if c.CurrentPath == "" {
		d.config.Logger.Printf("Workspace %s closed", c.PreviousPath)
		return
	}
	d.config.Logger.Printf("Workspace switched to %s", c.CurrentPath)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.hydrateAll(c.CurrentPath)
	}()
}

func (d *Daemon) hydrateAll(ws string) {
	results, err := d.hydrator.HydrateAll(d.ctx, d.config.Kinds)
	for _, r := range results {
		d.config.Logger.Printf("Hydrated %s from %s: %d added, %d updated, %d removed (%d total)",
			r.Kind, ws, r.Added, r.Updated, r.Removed, r.Total)
	}
	if err != nil {
		d.config.Logger.Printf("Warning: hydration incomplete: %v", err)
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		for _, unsub := range d.unsubs {
			unsub()
		}
		d.cancel()

		if d.selection != nil {
			if err := d.selection.Close(); err != nil {
				d.config.Logger.Printf("Warning: failed to stop workspace file watch: %v", err)
			}
		}

		d.mu.RLock()
		watchers := make(map[string]*watch.Watcher, len(d.watchers))
		for kind, w := range d.watchers {
			watchers[kind] = w
		}
		d.mu.RUnlock()

		timeout := time.After(d.config.StopTimeout)
		for kind, w := range watchers {
			w.Destroy()
			select {
			case <-w.Done():
			case <-timeout:
				d.config.Logger.Printf("Warning: watcher for %s did not stop in time", kind)
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Writer returns a schema.Writer for kind whose writes are ignored by the
// kind's watcher.
func (d *Daemon) Writer(kind string) (*schema.Writer, error) {
	d.mu.RLock()
	w, ok := d.watchers[kind]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	return schema.NewWriter(w), nil
}

// Status describes the running daemon.
func (d *Daemon) Status() dashboard.StatusData {
	st := dashboard.StatusData{
		Workspace: d.ws.Current(),
		Watching:  make(map[string]string),
		Entities:  make(map[string]int),
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, kind := range d.config.Kinds {
		if w, ok := d.watchers[kind]; ok {
			st.Watching[kind] = w.WatchedDirectory()
		}
		st.Entities[kind], _ = d.container.Counts(kind)
	}
	return st
}
