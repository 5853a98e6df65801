// Package datadir manages the TubeChat runtime directory.
// Local state (the SQLite database, CLI state, the default config file)
// lives under a single root, making an installation portable.
//
// Default root: ~/.tubechat (configurable via config or TUBECHAT_HOME env var).
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default location relative to user home directory.
const defaultRelativePath = ".tubechat"

// Dir manages the runtime directories and derived paths.
type Dir struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Dir rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Dir, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving data root %q: %w", root, err)
	}

	d := &Dir{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := d.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating data root: %w", err)
	}

	return d, nil
}

// Default creates a Dir at ~/.tubechat.
func Default() (*Dir, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// DataDir returns <root>/data/. Holds the SQLite database.
func (d *Dir) DataDir() string {
	return d.dir("data")
}

// StateDir returns <root>/state/ with 0700 permissions. Holds CLI state.
func (d *Dir) StateDir() string {
	return d.restrictedDir("state")
}

// DatabasePath returns <root>/data/tubechat.db.
func (d *Dir) DatabasePath() string {
	return filepath.Join(d.DataDir(), "tubechat.db")
}

// ConfigPath returns <root>/config.yaml.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.Root, "config.yaml")
}

// StatePath returns <root>/state/<name>.
func (d *Dir) StatePath(name string) string {
	return filepath.Join(d.StateDir(), sanitizeName(name))
}

// ReadState returns the trimmed content of a state file, or "" if it does not exist.
func (d *Dir) ReadState(name string) (string, error) {
	data, err := os.ReadFile(d.StatePath(name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading state %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteState replaces the content of a state file.
func (d *Dir) WriteState(name, value string) error {
	if err := os.WriteFile(d.StatePath(name), []byte(value+"\n"), 0600); err != nil {
		return fmt.Errorf("writing state %s: %w", name, err)
	}
	return nil
}

// EnsureAll creates all standard directories.
func (d *Dir) EnsureAll() error {
	if err := d.ensureDir(filepath.Join(d.Root, "data"), 0750); err != nil {
		return err
	}
	return d.ensureDir(filepath.Join(d.Root, "state"), 0700)
}

// --- Internal helpers ---

// dir returns an absolute path under the root and ensures the directory exists.
func (d *Dir) dir(name string) string {
	p := filepath.Join(d.Root, name)
	_ = d.ensureDir(p, 0750)
	return p
}

// restrictedDir is like dir but uses 0700 permissions.
func (d *Dir) restrictedDir(name string) string {
	p := filepath.Join(d.Root, name)
	_ = d.ensureDir(p, 0700)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (d *Dir) ensureDir(path string, perm os.FileMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	d.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
