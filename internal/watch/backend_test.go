package watch

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestIgnoredPath(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "ws", "documents")

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"root itself", root, true},
		{"root with trailing separator", root + string(filepath.Separator), true},
		{"dotfile", filepath.Join(root, ".DS_Store"), true},
		{"temp file", filepath.Join(root, "note.md.tmp"), true},
		{"hidden temp file", filepath.Join(root, ".folio-123.tmp"), true},
		{"regular file", filepath.Join(root, "note.md"), false},
		{"item folder", filepath.Join(root, "d1"), false},
		{"tmp inside name", filepath.Join(root, "tmp-notes"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ignoredPath(root, tt.path); got != tt.want {
				t.Errorf("ignoredPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestEntityIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{filepath.Join("ws", "documents", "a.txt"), "a.txt"},
		{filepath.Join("ws", "documents", "d1"), "d1"},
		{"", ""},
		{string(filepath.Separator), ""},
		{".", ""},
	}

	for _, tt := range tests {
		if got := entityIDFromPath(tt.path); got != tt.want {
			t.Errorf("entityIDFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDiffSnapshots(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := dirSnapshot{
		"/d/kept":    {size: 1, modTime: t0},
		"/d/changed": {size: 1, modTime: t0},
		"/d/gone":    {size: 1, modTime: t0},
		"/d/flip":    {size: 1, modTime: t0},
	}
	next := dirSnapshot{
		"/d/kept":    {size: 1, modTime: t0},
		"/d/changed": {size: 2, modTime: t0.Add(time.Second)},
		"/d/new":     {size: 3, modTime: t0},
		"/d/flip":    {size: 1, modTime: t0, isDir: true},
	}

	got := diffSnapshots(prev, next)
	want := []RawEvent{
		{Path: "/d/changed", Op: OpModify},
		{Path: "/d/flip", Op: OpDelete},
		{Path: "/d/flip", Op: OpCreate},
		{Path: "/d/gone", Op: OpDelete},
		{Path: "/d/new", Op: OpCreate},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("diffSnapshots() =\n%v\nwant\n%v", got, want)
	}
}

func fastOptions(dir string) BackendOptions {
	return BackendOptions{
		IgnoreInitial:      true,
		PollInterval:       20 * time.Millisecond,
		StabilityThreshold: 30 * time.Millisecond,
		StabilityPoll:      10 * time.Millisecond,
		Ignore:             func(p string) bool { return ignoredPath(dir, p) },
	}
}

func waitRaw(t *testing.T, h Handle, want RawEvent) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %+v", want)
			}
			if ev == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %+v", want)
		}
	}
}

func TestPollBackend_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.md")
	if err := os.WriteFile(existing, []byte("old"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	h, err := PollBackend().Watch(dir, fastOptions(dir))
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	defer h.Close()

	path := filepath.Join(dir, "note.md")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	select {
	case ev := <-h.Events():
		if ev.Path != path || ev.Op != OpCreate {
			t.Fatalf("expected create for note.md, got %+v (initial files and temp files must not be reported)", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for create")
	}

	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(path, []byte("hello, world"), 0644); err != nil {
		t.Fatalf("failed to update file: %v", err)
	}
	waitRaw(t, h, RawEvent{Path: path, Op: OpModify})

	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}
	waitRaw(t, h, RawEvent{Path: path, Op: OpDelete})

	if err := h.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	drained := make(chan struct{})
	go func() {
		for range h.Events() {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Error("events channel should be closed after Close")
	}
}

func TestPollBackend_ReportsInitialWhenAsked(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.md")
	if err := os.WriteFile(existing, []byte("old"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	opts := fastOptions(dir)
	opts.IgnoreInitial = false
	h, err := PollBackend().Watch(dir, opts)
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	defer h.Close()

	waitRaw(t, h, RawEvent{Path: existing, Op: OpCreate})
}

func TestPollBackend_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	if _, err := PollBackend().Watch(dir, fastOptions(dir)); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestNativeBackend_Create(t *testing.T) {
	dir := t.TempDir()

	h, err := NativeBackend().Watch(dir, fastOptions(dir))
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	defer h.Close()

	path := filepath.Join(dir, "bd-test.md")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	waitRaw(t, h, RawEvent{Path: path, Op: OpCreate})
}

func TestStabilityGate_DeleteCancelsSettling(t *testing.T) {
	dir := t.TempDir()
	opts := fastOptions(dir)
	opts.StabilityThreshold = 200 * time.Millisecond

	h := newHandle(opts)
	defer h.Close()

	path := filepath.Join(dir, "a.md")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	h.submit(RawEvent{Path: path, Op: OpCreate})
	h.submit(RawEvent{Path: path, Op: OpDelete})

	select {
	case ev := <-h.Events():
		if ev.Op != OpDelete {
			t.Fatalf("expected only the delete, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delete")
	}

	select {
	case ev := <-h.Events():
		t.Fatalf("settling create should have been cancelled, got %+v", ev)
	case <-time.After(400 * time.Millisecond):
	}
}
