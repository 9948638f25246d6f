package watch

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// pendingFire is one scheduled emission for a path.
type pendingFire struct {
	timer *time.Timer
	typ   ChangeType
}

// debouncer coalesces rapid events per path. A new event for a path stops
// the pending timer and replaces it, so the type of the most recent event
// is the one that fires.
//
// Pending entries are kept in arrival order; cancelAll walks them oldest
// first.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending *orderedmap.OrderedMap[string, *pendingFire]
	fire    func(path string, typ ChangeType)
}

func newDebouncer(delay time.Duration, fire func(path string, typ ChangeType)) *debouncer {
	return &debouncer{
		delay:   delay,
		pending: orderedmap.New[string, *pendingFire](),
		fire:    fire,
	}
}

// schedule (re)arms the timer for path.
func (d *debouncer) schedule(path string, typ ChangeType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending.Delete(path); ok {
		prev.timer.Stop()
	}

	p := &pendingFire{typ: typ}
	p.timer = time.AfterFunc(d.delay, func() { d.expire(path, p) })
	d.pending.Set(path, p)
}

func (d *debouncer) expire(path string, p *pendingFire) {
	d.mu.Lock()
	cur, ok := d.pending.Get(path)
	if !ok || cur != p {
		// replaced or cancelled after the timer had already fired
		d.mu.Unlock()
		return
	}
	d.pending.Delete(path)
	d.mu.Unlock()

	if d.fire != nil {
		d.fire(path, p.typ)
	}
}

// cancelAll stops every pending timer and returns how many were dropped.
func (d *debouncer) cancelAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for pair := d.pending.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.timer.Stop()
		n++
	}
	d.pending = orderedmap.New[string, *pendingFire]()
	return n
}

// pendingPaths returns the paths with a scheduled emission, oldest first.
func (d *debouncer) pendingPaths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	paths := make([]string, 0, d.pending.Len())
	for pair := d.pending.Oldest(); pair != nil; pair = pair.Next() {
		paths = append(paths, pair.Key)
	}
	return paths
}
