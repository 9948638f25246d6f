package workspace

import (
	"os"
	"path/filepath"
)

// VCS describes the version control a workspace is under.
type VCS struct {
	// Root is the repository root containing the workspace
	Root string

	// HasGit indicates a .git directory or worktree file was found
	HasGit bool

	// HasJJ indicates a .jj directory was found
	HasJJ bool
}

// Name returns "jj", "git", "jj+git" for colocated repositories, or "none".
func (v VCS) Name() string {
	switch {
	case v.HasJJ && v.HasGit:
		return "jj+git"
	case v.HasJJ:
		return "jj"
	case v.HasGit:
		return "git"
	default:
		return "none"
	}
}

// DetectVCS walks up from path to the first directory holding a .jj or
// .git entry. Both are recorded when colocated. The zero VCS means path is
// not under version control.
func DetectVCS(path string) VCS {
	abs, err := filepath.Abs(path)
	if err != nil {
		return VCS{}
	}

	current := abs
	for {
		var v VCS
		if info, err := os.Stat(filepath.Join(current, ".jj")); err == nil && info.IsDir() {
			v.HasJJ = true
		}
		// .git is a file in worktrees
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			v.HasGit = true
		}
		if v.HasJJ || v.HasGit {
			v.Root = current
			return v
		}

		parent := filepath.Dir(current)
		if parent == current {
			return VCS{}
		}
		current = parent
	}
}
