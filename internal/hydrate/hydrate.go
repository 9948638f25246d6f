// Package hydrate keeps the state container in step with the workspace.
//
// A Hydrator reloads a kind from disk, reconciles the snapshot into the
// current collection, persists the result and tells the user what
// happened. Watcher events for a kind trigger a reload through Handler.
package hydrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/folio-app/folio/internal/notify"
	"github.com/folio-app/folio/internal/reconcile"
	"github.com/folio-app/folio/internal/schema"
	"github.com/folio-app/folio/internal/state"
	"github.com/folio-app/folio/internal/statedb"
	"github.com/folio-app/folio/internal/watch"
	"github.com/folio-app/folio/internal/workspace"
)

// Loader loads a full snapshot of one kind.
type Loader interface {
	LoadAll(ctx context.Context, workspacePath, kind string) ([]*schema.DiskItem, error)
}

// Persister stores collections between runs.
type Persister interface {
	SaveCollection(ctx context.Context, kind string, entities []*reconcile.Entity) error
	LoadCollection(ctx context.Context, kind string) ([]*reconcile.Entity, error)
	RecordSync(ctx context.Context, rec statedb.SyncRecord) error
}

// WorkspaceSource reports the current workspace.
type WorkspaceSource interface {
	Current() string
}

// Result summarizes one reload of a kind.
type Result struct {
	Kind      string
	Workspace string
	Added     int
	Updated   int
	Removed   int
	Total     int
	Duration  time.Duration
}

// Changed reports whether the reload changed anything.
func (r Result) Changed() bool {
	return r.Added+r.Updated+r.Removed > 0
}

// Option configures a Hydrator.
type Option func(*Hydrator)

// WithPersister stores every reconciled collection in p.
func WithPersister(p Persister) Option {
	return func(h *Hydrator) { h.persister = p }
}

// WithNotifier sends user notifications to n.
func WithNotifier(n notify.Notifier) Option {
	return func(h *Hydrator) {
		if n != nil {
			h.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(h *Hydrator) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithReconciler overrides the reconciler used for its kind.
func WithReconciler(r *reconcile.Reconciler) Option {
	return func(h *Hydrator) { h.reconcilers[r.Kind] = r }
}

// Hydrator reloads kinds into a state container. Reloads of the same kind
// are serialized; different kinds reload independently.
type Hydrator struct {
	container *state.Container
	loader    Loader
	workspace WorkspaceSource
	persister Persister
	notifier  notify.Notifier
	logger    *log.Logger

	mu          sync.Mutex
	kindLocks   map[string]*sync.Mutex
	reconcilers map[string]*reconcile.Reconciler
	listeners   []func(Result)
}

// New creates a Hydrator writing into container.
func New(container *state.Container, loader Loader, ws WorkspaceSource, opts ...Option) *Hydrator {
	h := &Hydrator{
		container:   container,
		loader:      loader,
		workspace:   ws,
		notifier:    notify.Discard,
		logger:      log.New(os.Stderr, "[hydrate] ", log.LstdFlags),
		kindLocks:   make(map[string]*sync.Mutex),
		reconcilers: make(map[string]*reconcile.Reconciler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnSync registers fn to run after every successful reload.
func (h *Hydrator) OnSync(fn func(Result)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Hydrator) lockFor(kind string) (*sync.Mutex, *reconcile.Reconciler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.kindLocks[kind]
	if !ok {
		l = &sync.Mutex{}
		h.kindLocks[kind] = l
	}
	r, ok := h.reconcilers[kind]
	if !ok {
		r = reconcile.New(kind)
		h.reconcilers[kind] = r
	}
	return l, r
}

// Restore loads the persisted collections of kinds into the container.
// It does nothing without a persister.
func (h *Hydrator) Restore(ctx context.Context, kinds []string) error {
	if h.persister == nil {
		return nil
	}
	for _, kind := range kinds {
		entities, err := h.persister.LoadCollection(ctx, kind)
		if err != nil {
			return fmt.Errorf("failed to restore %s: %w", kind, err)
		}
		h.container.Replace(kind, entities)
	}
	return nil
}

// HydrateKind reloads kind from the current workspace.
func (h *Hydrator) HydrateKind(ctx context.Context, kind string) (Result, error) {
	ws := ""
	if h.workspace != nil {
		ws = h.workspace.Current()
	}
	if ws == "" {
		return Result{Kind: kind}, workspace.ErrNoWorkspace
	}

	lock, r := h.lockFor(kind)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	items, err := h.loader.LoadAll(ctx, ws, kind)
	if err != nil {
		return Result{Kind: kind, Workspace: ws}, fmt.Errorf("failed to load %s: %w", kind, err)
	}

	var res Result
	next := h.container.Update(kind, func(cur []*reconcile.Entity) []*reconcile.Entity {
		next := r.Reconcile(items, cur)
		res = diff(cur, next)
		return next
	})
	res.Kind = kind
	res.Workspace = ws
	res.Duration = time.Since(start)

	if h.persister != nil {
		if err := h.persister.SaveCollection(ctx, kind, next); err != nil {
			return res, fmt.Errorf("failed to persist %s: %w", kind, err)
		}
		rec := statedb.SyncRecord{
			Kind:      kind,
			Workspace: ws,
			SyncedAt:  time.Now(),
			Added:     res.Added,
			Updated:   res.Updated,
			Removed:   res.Removed,
			Total:     res.Total,
		}
		if err := h.persister.RecordSync(ctx, rec); err != nil {
			return res, fmt.Errorf("failed to record sync of %s: %w", kind, err)
		}
	}

	h.mu.Lock()
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(res)
	}

	return res, nil
}

// HydrateAll reloads every kind. A failing kind does not stop the others;
// their errors are joined.
func (h *Hydrator) HydrateAll(ctx context.Context, kinds []string) ([]Result, error) {
	results := make([]Result, 0, len(kinds))
	var errs []error
	for _, kind := range kinds {
		res, err := h.HydrateKind(ctx, kind)
		if err != nil {
			if errors.Is(err, workspace.ErrNoWorkspace) {
				return results, err
			}
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Handler returns a watch.Handler for the watcher of kind. Change events
// notify the user and reload the kind; errors become critical
// notifications.
func (h *Hydrator) Handler(ctx context.Context, kind string) watch.Handler {
	return func(ev watch.Event) {
		switch ev.Kind {
		case watch.EventChange:
			h.notify(ctx, changeNotification(kind, ev.Change))
			res, err := h.HydrateKind(ctx, kind)
			if err != nil {
				h.logger.Printf("Reload of %s after %s %s failed: %v", kind, ev.Change.Type, ev.Change.EntityID, err)
				return
			}
			h.logger.Printf("Reloaded %s: %d added, %d updated, %d removed (%d total)",
				kind, res.Added, res.Updated, res.Removed, res.Total)
		case watch.EventError:
			h.notify(ctx, notify.Notification{
				Title:   "Watch error",
				Body:    fmt.Sprintf("%s: %s", ev.Error.Dir, ev.Error.Message),
				Urgency: notify.UrgencyCritical,
			})
		}
	}
}

func (h *Hydrator) notify(ctx context.Context, n notify.Notification) {
	if err := h.notifier.Notify(ctx, n); err != nil {
		h.logger.Printf("Warning: notification %q failed: %v", n.Title, err)
	}
}

func changeNotification(kind string, c watch.ChangeEvent) notify.Notification {
	n := notify.Notification{Body: fmt.Sprintf("%s/%s", kind, c.EntityID)}
	switch c.Type {
	case watch.ChangeAdded:
		n.Title = "Item added"
		n.Urgency = notify.UrgencyNormal
	case watch.ChangeRemoved:
		n.Title = "Item removed"
		n.Urgency = notify.UrgencyNormal
	default:
		n.Title = "Item updated"
		n.Urgency = notify.UrgencyLow
	}
	return n
}

// diff counts how next differs from prev. Entities are matched by LocalID.
func diff(prev, next []*reconcile.Entity) Result {
	before := make(map[string]*reconcile.Entity, len(prev))
	for _, e := range prev {
		before[e.LocalID] = e
	}

	var res Result
	res.Total = len(next)
	for _, e := range next {
		old, ok := before[e.LocalID]
		if !ok {
			res.Added++
			continue
		}
		delete(before, e.LocalID)
		if entityChanged(old, e) {
			res.Updated++
		}
	}
	res.Removed = len(before)
	return res
}

func entityChanged(a, b *reconcile.Entity) bool {
	if a == b {
		return false
	}
	return a.Title != b.Title ||
		a.Category != b.Category ||
		a.Visibility != b.Visibility ||
		!a.UpdatedAt.Equal(b.UpdatedAt) ||
		!slices.Equal(a.Tags, b.Tags) ||
		!maps.Equal(a.ProviderSettings, b.ProviderSettings) ||
		!reconcile.SameBlocks(a.Blocks, b.Blocks)
}

// Save writes the entity of kind identified by id to the workspace through
// w and links it to its folder. Drafts are saved under their LocalID.
func (h *Hydrator) Save(ctx context.Context, kind, id string, w *schema.Writer) (*reconcile.Entity, error) {
	ws := ""
	if h.workspace != nil {
		ws = h.workspace.Current()
	}
	if ws == "" {
		return nil, workspace.ErrNoWorkspace
	}

	lock, _ := h.lockFor(kind)
	lock.Lock()
	defer lock.Unlock()

	e, ok := h.container.Find(kind, id)
	if !ok {
		return nil, fmt.Errorf("no %s entity %q", kind, id)
	}

	diskID := e.OutputID
	if diskID == "" {
		diskID = e.LocalID
	}
	if err := w.WriteItem(schema.KindDir(ws, kind), reconcile.ToDiskItem(e, diskID)); err != nil {
		return nil, fmt.Errorf("failed to save %s/%s: %w", kind, diskID, err)
	}

	saved := *e
	saved.OutputID = diskID
	next := h.container.Update(kind, func(cur []*reconcile.Entity) []*reconcile.Entity {
		out := make([]*reconcile.Entity, len(cur))
		for i, c := range cur {
			if c.LocalID == e.LocalID {
				out[i] = &saved
				continue
			}
			out[i] = c
		}
		return out
	})

	if h.persister != nil {
		if err := h.persister.SaveCollection(ctx, kind, next); err != nil {
			return &saved, fmt.Errorf("failed to persist %s: %w", kind, err)
		}
	}
	return &saved, nil
}
