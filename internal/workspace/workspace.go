// Package workspace tracks which workspace directory is currently selected
// and notifies listeners when the selection changes.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNoWorkspace is returned when an operation needs a selected workspace
// but none is set.
var ErrNoWorkspace = errors.New("no workspace selected")

// maxRecent bounds the recently used list kept in the selection file.
const maxRecent = 10

// Changed is delivered to listeners whenever the current workspace changes.
// An empty CurrentPath means the workspace was closed.
type Changed struct {
	CurrentPath  string
	PreviousPath string
}

// Listener reacts to a workspace change.
type Listener func(Changed)

// selectionFile is the on-disk form of the selection.
type selectionFile struct {
	Current string   `yaml:"current"`
	Recent  []string `yaml:"recent,omitempty"`
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Service owns the current workspace selection and its listener list.
//
// Listeners are called synchronously, in subscription order, after the
// selection has been persisted. They are never called with the service
// lock held, so a listener may query Current.
type Service struct {
	mu        sync.Mutex
	file      string
	current   string
	recent    []string
	listeners []listenerEntry
	nextID    uint64
}

// NewService creates a Service persisted to file. If file is empty the
// selection lives only in memory. An existing file is loaded; a missing
// one is not an error.
func NewService(file string) (*Service, error) {
	s := &Service{file: file}
	sel, err := s.read()
	if err != nil {
		return nil, err
	}
	s.current = sel.Current
	s.recent = sel.Recent
	return s, nil
}

// File returns the path the selection is persisted to.
func (s *Service) File() string {
	return s.file
}

// Reload re-reads the selection file and notifies listeners if another
// process changed the current workspace. A missing file reads as no
// workspace selected.
func (s *Service) Reload() error {
	// Read under the lock so an in-process Select cannot interleave.
	s.mu.Lock()
	sel, err := s.read()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.current
	s.recent = sel.Recent
	if prev == sel.Current {
		s.mu.Unlock()
		return nil
	}
	s.current = sel.Current
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, Changed{CurrentPath: sel.Current, PreviousPath: prev})
	return nil
}

func (s *Service) read() (selectionFile, error) {
	var sel selectionFile
	if s.file == "" {
		return sel, nil
	}
	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return sel, nil
		}
		return sel, fmt.Errorf("failed to read workspace file %s: %w", s.file, err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("failed to parse workspace file %s: %w", s.file, err)
	}
	return sel, nil
}

// Current returns the selected workspace path, or "" when none is selected.
func (s *Service) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Require returns the selected workspace path or ErrNoWorkspace.
func (s *Service) Require() (string, error) {
	if cur := s.Current(); cur != "" {
		return cur, nil
	}
	return "", ErrNoWorkspace
}

// Recent returns recently selected workspaces, most recent first.
func (s *Service) Recent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.recent))
	copy(out, s.recent)
	return out
}

// Select makes path the current workspace. The path must be an existing
// directory. Selecting the current workspace again is a no-op.
func (s *Service) Select(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace path %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", abs)
	}
	return s.set(abs)
}

// Close deselects the current workspace.
func (s *Service) Close() error {
	return s.set("")
}

func (s *Service) set(path string) error {
	s.mu.Lock()
	prev := s.current
	if prev == path {
		s.mu.Unlock()
		return nil
	}
	s.current = path
	if path != "" {
		s.recent = pushRecent(s.recent, path)
	}
	if err := s.persistLocked(); err != nil {
		s.current = prev
		s.mu.Unlock()
		return err
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, Changed{CurrentPath: path, PreviousPath: prev})
	return nil
}

func (s *Service) listenersLocked() []listenerEntry {
	out := make([]listenerEntry, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func notify(listeners []listenerEntry, change Changed) {
	for _, l := range listeners {
		l.fn(change)
	}
}

// Subscribe registers fn for workspace changes and returns a function that
// removes it. The returned function is safe to call more than once.
func (s *Service) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Service) persistLocked() error {
	if s.file == "" {
		return nil
	}

	data, err := yaml.Marshal(selectionFile{Current: s.current, Recent: s.recent})
	if err != nil {
		return fmt.Errorf("failed to marshal workspace selection: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.file), 0755); err != nil {
		return fmt.Errorf("failed to create workspace file directory: %w", err)
	}
	// Write then rename so a concurrent Reload never sees a partial file.
	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write workspace file %s: %w", s.file, err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace workspace file %s: %w", s.file, err)
	}
	return nil
}

func pushRecent(recent []string, path string) []string {
	out := make([]string, 0, len(recent)+1)
	out = append(out, path)
	for _, r := range recent {
		if r != path {
			out = append(out, r)
		}
	}
	if len(out) > maxRecent {
		out = out[:maxRecent]
	}
	return out
}
