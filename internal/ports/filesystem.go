package ports

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// FileSystem provides the file system operations the provisioning steps
// need. Host configuration files are read and written through this port so
// steps stay testable without touching /etc.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Exists(path string) bool
	MkdirAll(path string, perm os.FileMode) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
}

// MemFileSystem is an in-memory FileSystem for tests.
type MemFileSystem struct {
	mu    sync.Mutex
	files map[string][]byte
	perms map[string]os.FileMode
	dirs  map[string]bool
}

// NewMemFileSystem creates an empty MemFileSystem.
func NewMemFileSystem() *MemFileSystem {
	return &MemFileSystem{
		files: make(map[string][]byte),
		perms: make(map[string]os.FileMode),
		dirs:  make(map[string]bool),
	}
}

// ReadFile returns the file contents or os.ErrNotExist.
func (m *MemFileSystem) ReadFile(p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, os.ErrNotExist)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteFile stores the file contents.
func (m *MemFileSystem) WriteFile(p string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[p] = stored
	m.perms[p] = perm
	m.dirs[path.Dir(p)] = true
	return nil
}

// Exists reports whether the path is a stored file or directory.
func (m *MemFileSystem) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[p]; ok {
		return true
	}
	return m.dirs[p]
}

// MkdirAll records the directory.
func (m *MemFileSystem) MkdirAll(p string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dirs[p] = true
	return nil
}

// Remove deletes a stored file or directory.
func (m *MemFileSystem) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		delete(m.perms, p)
		return nil
	}
	if m.dirs[p] {
		delete(m.dirs, p)
		return nil
	}
	return fmt.Errorf("remove %s: %w", p, os.ErrNotExist)
}

// Rename moves a stored file.
func (m *MemFileSystem) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[oldPath]
	if !ok {
		return fmt.Errorf("rename %s: %w", oldPath, os.ErrNotExist)
	}
	m.files[newPath] = data
	m.perms[newPath] = m.perms[oldPath]
	delete(m.files, oldPath)
	delete(m.perms, oldPath)
	return nil
}

// Perm returns the mode a file was written with.
func (m *MemFileSystem) Perm(p string) os.FileMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perms[p]
}

// Paths returns all stored file paths, sorted.
func (m *MemFileSystem) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// String renders the stored files for test failure messages.
func (m *MemFileSystem) String() string {
	var b strings.Builder
	for _, p := range m.Paths() {
		data, _ := m.ReadFile(p)
		fmt.Fprintf(&b, "-- %s --\n%s\n", p, data)
	}
	return b.String()
}

// Ensure MemFileSystem implements FileSystem.
var _ FileSystem = (*MemFileSystem)(nil)
