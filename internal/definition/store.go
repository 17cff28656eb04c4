package definition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileExt is the extension of definition files.
const FileExt = ".xml"

var sanitizer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_", "/", "_",
	"\\", "_", "|", "_", "?", "_", "*", "_", " ", "_",
)

// Sanitize derives a file-name stem from a machine name. Only the space
// substitution is reversed by ListNames; the other characters are lost.
func Sanitize(name string) string {
	return sanitizer.Replace(name)
}

// Store persists machine definitions as one XML file per machine under a
// root directory. It holds no process state.
type Store struct {
	root string

	mu        sync.Mutex
	listeners []func()
}

// NewStore creates a store rooted at root. The directory is created lazily.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureRoot creates the root directory if it does not exist.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIO, s.root, err)
	}
	return nil
}

// Path returns the file backing the named machine.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, Sanitize(name)+FileExt)
}

// OnListChanged registers fn to run after every successful Save or Delete.
// Callbacks run on the caller's goroutine after the store lock is released.
func (s *Store) OnListChanged(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Save validates and writes m, replacing any existing file for its name.
// CreatedAt is set on first save and ModifiedAt on every save.
func (s *Store) Save(m *Machine) error {
	if err := m.Validate(); err != nil {
		return err
	}

	now := time.Now().Truncate(time.Second)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.ModifiedAt = now

	data, err := encode(m)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %w", ErrIO, m.Name, err)
	}

	s.mu.Lock()
	err = s.writeFile(s.Path(m.Name), data)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// writeFile writes data atomically via a temp file in the same directory.
func (s *Store) writeFile(path string, data []byte) error {
	if err := s.EnsureRoot(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, ".def-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename %s: %w", ErrIO, path, err)
	}
	return nil
}

// Load reads the named definition. The <Name> element in the file wins
// over the requested name, which is only used when the element is empty.
func (s *Store) Load(name string) (*Machine, error) {
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}

	m, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	if m.Name == "" {
		m.Name = name
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	return m, nil
}

// Delete removes the named definition file.
func (s *Store) Delete(name string) error {
	path := s.Path(name)

	s.mu.Lock()
	err := os.Remove(path)
	s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrIO, path, err)
	}

	s.notify()
	return nil
}

// Exists reports whether a definition file exists for name.
func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// ListNames returns machine names derived from the definition files,
// sorted. Underscores in stems are turned back into spaces, so names that
// contained other sanitized characters are not reproduced exactly.
// A missing root yields an empty list.
func (s *Store) ListNames() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, s.root, err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		fileName := e.Name()
		if strings.HasPrefix(fileName, ".") || filepath.Ext(fileName) != FileExt {
			continue
		}
		stem := strings.TrimSuffix(fileName, FileExt)
		if stem == "" {
			continue
		}
		names = append(names, strings.ReplaceAll(stem, "_", " "))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) notify() {
	s.mu.Lock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
