package watch

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

type fired struct {
	path string
	typ  ChangeType
}

func newRecordingDebouncer(delay time.Duration) (*debouncer, func() []fired) {
	var (
		mu  sync.Mutex
		got []fired
	)
	d := newDebouncer(delay, func(path string, typ ChangeType) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, fired{path, typ})
	})
	return d, func() []fired {
		mu.Lock()
		defer mu.Unlock()
		out := make([]fired, len(got))
		copy(out, got)
		return out
	}
}

func TestDebouncer_ReplacesPendingTimer(t *testing.T) {
	d, got := newRecordingDebouncer(50 * time.Millisecond)

	d.schedule("/d/a", ChangeAdded)
	time.Sleep(20 * time.Millisecond)
	d.schedule("/d/a", ChangeChanged)
	time.Sleep(20 * time.Millisecond)
	d.schedule("/d/a", ChangeRemoved)

	if paths := d.pendingPaths(); len(paths) != 1 {
		t.Fatalf("expected one pending entry per path, got %v", paths)
	}

	time.Sleep(150 * time.Millisecond)
	want := []fired{{"/d/a", ChangeRemoved}}
	if !reflect.DeepEqual(got(), want) {
		t.Errorf("expected %v, got %v", want, got())
	}
}

func TestDebouncer_CancelAll(t *testing.T) {
	d, got := newRecordingDebouncer(50 * time.Millisecond)

	d.schedule("/d/b", ChangeChanged)
	d.schedule("/d/a", ChangeChanged)
	d.schedule("/d/c", ChangeChanged)
	d.schedule("/d/b", ChangeRemoved)

	if paths := d.pendingPaths(); !reflect.DeepEqual(paths, []string{"/d/a", "/d/c", "/d/b"}) {
		t.Errorf("pending paths should follow latest arrival order, got %v", paths)
	}

	if n := d.cancelAll(); n != 3 {
		t.Errorf("expected 3 cancelled, got %d", n)
	}
	time.Sleep(120 * time.Millisecond)
	if len(got()) != 0 {
		t.Errorf("cancelled timers must not fire, got %v", got())
	}
	if len(d.pendingPaths()) != 0 {
		t.Error("no entries should remain after cancelAll")
	}
}
