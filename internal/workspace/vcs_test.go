package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectVCS(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]bool // name -> is directory
		want    string
	}{
		{"git", map[string]bool{".git": true}, "git"},
		{"git worktree", map[string]bool{".git": false}, "git"},
		{"jj", map[string]bool{".jj": true}, "jj"},
		{"colocated", map[string]bool{".jj": true, ".git": true}, "jj+git"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for name, isDir := range tt.entries {
				p := filepath.Join(root, name)
				var err error
				if isDir {
					err = os.Mkdir(p, 0755)
				} else {
					err = os.WriteFile(p, []byte("gitdir: /elsewhere\n"), 0644)
				}
				if err != nil {
					t.Fatal(err)
				}
			}

			nested := filepath.Join(root, "notes", "writings")
			if err := os.MkdirAll(nested, 0755); err != nil {
				t.Fatal(err)
			}

			got := DetectVCS(nested)
			if got.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", got.Name(), tt.want)
			}
			if got.Root != root {
				t.Errorf("Root = %q, want %q", got.Root, root)
			}
		})
	}
}

func TestVCS_NameNone(t *testing.T) {
	if got := (VCS{}).Name(); got != "none" {
		t.Errorf("Name() = %q, want none", got)
	}
}
