package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFactory_Prefixes(t *testing.T) {
	var buf bytes.Buffer
	f := NewWriter(&buf)

	f.Logger("watch").Printf("started")
	f.Logger("hydrate").Printf("reloaded")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "[watch] ") || !strings.HasSuffix(lines[0], "started") {
		t.Errorf("unexpected line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[hydrate] ") {
		t.Errorf("unexpected line %q", lines[1])
	}
}

func TestFactory_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "folio.log")
	f, err := New(path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	f.Logger("daemon").Printf("hello")
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "[daemon] ") || !strings.Contains(string(data), "hello") {
		t.Errorf("log file content = %q", data)
	}
}

func TestFactory_Stderr(t *testing.T) {
	f, err := New("")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if f.out != os.Stderr {
		t.Error("empty file should log to stderr")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
