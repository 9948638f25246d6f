// Package state holds the in-memory entity collections, one per kind.
package state

import (
	"sort"
	"sync"

	"github.com/folio-app/folio/internal/reconcile"
)

// Replaced describes a collection swap.
type Replaced struct {
	Kind     string
	Previous []*reconcile.Entity
	Current  []*reconcile.Entity
}

// Effect reacts to a collection swap.
type Effect func(Replaced)

type effectEntry struct {
	id uint64
	fn Effect
}

// Container stores entity collections by kind. Collections are replaced
// whole; the slices it hands out must be treated as read-only.
//
// Effects registered with OnReplaced run synchronously after every swap,
// in registration order and without the container lock held.
type Container struct {
	mu      sync.RWMutex
	kinds   map[string][]*reconcile.Entity
	effects []effectEntry
	nextID  uint64
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{kinds: make(map[string][]*reconcile.Entity)}
}

// Entities returns the current collection for kind.
func (c *Container) Entities(kind string) []*reconcile.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kinds[kind]
}

// Kinds returns the kinds that have a collection, sorted.
func (c *Container) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.kinds))
	for k := range c.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Replace sets the collection for kind.
func (c *Container) Replace(kind string, entities []*reconcile.Entity) {
	c.Update(kind, func([]*reconcile.Entity) []*reconcile.Entity { return entities })
}

// Update replaces the collection for kind with fn applied to the current
// one. fn runs under the container lock and must not call back into c.
// It returns the new collection.
func (c *Container) Update(kind string, fn func([]*reconcile.Entity) []*reconcile.Entity) []*reconcile.Entity {
	c.mu.Lock()
	prev := c.kinds[kind]
	next := fn(prev)
	c.kinds[kind] = next
	effects := make([]effectEntry, len(c.effects))
	copy(effects, c.effects)
	c.mu.Unlock()

	ev := Replaced{Kind: kind, Previous: prev, Current: next}
	for _, e := range effects {
		e.fn(ev)
	}
	return next
}

// AddDraft appends an unsaved entity to kind.
func (c *Container) AddDraft(kind string, e *reconcile.Entity) {
	c.Update(kind, func(cur []*reconcile.Entity) []*reconcile.Entity {
		next := make([]*reconcile.Entity, 0, len(cur)+1)
		next = append(next, cur...)
		return append(next, e)
	})
}

// OnReplaced registers fn to run after every swap and returns a function
// that removes it.
func (c *Container) OnReplaced(fn Effect) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.effects = append(c.effects, effectEntry{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.effects {
			if e.id == id {
				c.effects = append(c.effects[:i], c.effects[i+1:]...)
				return
			}
		}
	}
}

// Find returns the entity of kind whose LocalID or OutputID equals id.
func (c *Container) Find(kind, id string) (*reconcile.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.kinds[kind] {
		if e.LocalID == id || (e.OutputID != "" && e.OutputID == id) {
			return e, true
		}
	}
	return nil, false
}

// Counts reports the number of entities and drafts of kind.
func (c *Container) Counts(kind string) (total, drafts int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.kinds[kind] {
		total++
		if e.IsDraft() {
			drafts++
		}
	}
	return total, drafts
}
