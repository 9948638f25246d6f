package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestService_SelectNotifiesListeners(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	s, err := NewService("")
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	var got []Changed
	s.Subscribe(func(c Changed) { got = append(got, c) })

	if err := s.Select(dirA); err != nil {
		t.Fatalf("Select(A) failed: %v", err)
	}
	if err := s.Select(dirA); err != nil {
		t.Fatalf("Select(A) again failed: %v", err)
	}
	if err := s.Select(dirB); err != nil {
		t.Fatalf("Select(B) failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	want := []Changed{
		{CurrentPath: dirA, PreviousPath: ""},
		{CurrentPath: dirB, PreviousPath: dirA},
		{CurrentPath: "", PreviousPath: dirB},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d notifications, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestService_Unsubscribe(t *testing.T) {
	s, _ := NewService("")

	calls := 0
	unsubscribe := s.Subscribe(func(Changed) { calls++ })
	unsubscribe()
	unsubscribe()

	if err := s.Select(t.TempDir()); err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no calls after unsubscribe, got %d", calls)
	}
}

func TestService_SelectRejectsMissingDir(t *testing.T) {
	s, _ := NewService("")

	if err := s.Select(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("Select() should fail for a missing directory")
	}
	if s.Current() != "" {
		t.Errorf("expected no selection, got %q", s.Current())
	}

	if _, err := s.Require(); !errors.Is(err, ErrNoWorkspace) {
		t.Errorf("expected ErrNoWorkspace, got %v", err)
	}
}

func TestService_Persistence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "state", "workspace.yaml")
	ws1 := t.TempDir()
	ws2 := t.TempDir()

	s, err := NewService(file)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	if err := s.Select(ws1); err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if err := s.Select(ws2); err != nil {
		t.Fatalf("Select() failed: %v", err)
	}

	if _, err := os.Stat(file); err != nil {
		t.Fatalf("selection file not written: %v", err)
	}

	reloaded, err := NewService(file)
	if err != nil {
		t.Fatalf("NewService() reload failed: %v", err)
	}
	if reloaded.Current() != ws2 {
		t.Errorf("expected current %q, got %q", ws2, reloaded.Current())
	}
	recent := reloaded.Recent()
	if len(recent) != 2 || recent[0] != ws2 || recent[1] != ws1 {
		t.Errorf("unexpected recent list: %v", recent)
	}
}

func TestPushRecent(t *testing.T) {
	var recent []string
	for i := 0; i < maxRecent+5; i++ {
		recent = pushRecent(recent, filepath.Join("/ws", string(rune('a'+i))))
	}
	if len(recent) != maxRecent {
		t.Fatalf("expected %d entries, got %d", maxRecent, len(recent))
	}

	recent = pushRecent(recent, recent[3])
	if recent[0] != filepath.Join("/ws", string(rune('a'+maxRecent+5-1-3))) {
		t.Errorf("expected moved entry at front, got %v", recent)
	}
	seen := map[string]bool{}
	for _, r := range recent {
		if seen[r] {
			t.Errorf("duplicate entry %q", r)
		}
		seen[r] = true
	}
}

func TestService_ReloadSeesOtherProcess(t *testing.T) {
	file := filepath.Join(t.TempDir(), "workspace.yaml")
	ws1 := t.TempDir()
	ws2 := t.TempDir()

	daemon, err := NewService(file)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	var got []Changed
	daemon.Subscribe(func(c Changed) { got = append(got, c) })

	cli, err := NewService(file)
	if err != nil {
		t.Fatalf("NewService() second instance failed: %v", err)
	}

	steps := []struct {
		name   string
		change func() error
		want   string
	}{
		{"select first", func() error { return cli.Select(ws1) }, ws1},
		{"select second", func() error { return cli.Select(ws2) }, ws2},
		{"close", cli.Close, ""},
	}
	for _, step := range steps {
		if err := step.change(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if err := daemon.Reload(); err != nil {
			t.Fatalf("%s: Reload() failed: %v", step.name, err)
		}
		if daemon.Current() != step.want {
			t.Errorf("%s: expected current %q, got %q", step.name, step.want, daemon.Current())
		}
	}

	// Unchanged file does not notify again.
	if err := daemon.Reload(); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}

	want := []Changed{
		{CurrentPath: ws1, PreviousPath: ""},
		{CurrentPath: ws2, PreviousPath: ws1},
		{CurrentPath: "", PreviousPath: ws2},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d notifications, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	if recent := daemon.Recent(); len(recent) != 2 || recent[0] != ws2 {
		t.Errorf("expected recent list from file, got %v", recent)
	}
}

func TestService_ReloadMissingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "workspace.yaml")
	s, err := NewService(file)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	if err := s.Select(t.TempDir()); err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if err := os.Remove(file); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	if s.Current() != "" {
		t.Errorf("expected no workspace after file removal, got %q", s.Current())
	}
	if _, err := os.Stat(file + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary selection file left behind: %v", err)
	}
}
