// Package storage resolves the platform-native directories linkrel keeps its
// configuration, databases and indexes in, honoring the XDG variables.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

// AppName names every directory this package resolves.
const AppName = "linkrel"

// Dirs provides platform-native directory resolution with XDG support.
type Dirs struct {
	Config string // User configuration
	Data   string // Persistent data (page and link databases)
	Cache  string // Regenerable data (title indexes)
	State  string // Runtime state (logs)
}

// ProjectDirs returns project-local directories.
type ProjectDirs struct {
	Root   string // .linkrel/
	Config string // .linkrel/config.yaml (committed)
	Local  string // .linkrel/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() *Dirs {
	globalDirsOnce.Do(func() {
		globalDirs = resolveDirsImpl()
	})
	return globalDirs
}

func resolveDirsImpl() *Dirs {
	return &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
		Cache:  resolveDir("XDG_CACHE_HOME", platformCacheDefault()),
		State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
	}
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for the given project root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	root := filepath.Join(projectRoot, "."+AppName)
	return &ProjectDirs{
		Root:   root,
		Config: filepath.Join(root, "config.yaml"),
		Local:  filepath.Join(root, "local"),
	}
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
// A zero perm means 0755.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0755
	}
	return os.MkdirAll(path, perm)
}

// EnsureParent creates the directory holding path.
func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path), 0755)
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// DataDir returns the data subdirectory path.
func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

// CacheDir returns the cache subdirectory path.
func (d *Dirs) CacheDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Cache}, subpath...)...)
}

// StateDir returns the state subdirectory path.
func (d *Dirs) StateDir(subpath ...string) string {
	return filepath.Join(append([]string{d.State}, subpath...)...)
}

// DatabasePath is the default SQLite store location.
func (d *Dirs) DatabasePath() string {
	return d.DataDir(AppName + ".db")
}

// TitleIndexDir is the default title index location for one language.
func (d *Dirs) TitleIndexDir(lang string) string {
	return d.CacheDir("titles", lang+".bleve")
}

// LogDir returns the log directory.
func (d *Dirs) LogDir() string {
	return d.StateDir("logs")
}

// EnsureAll creates all standard directories.
func (d *Dirs) EnsureAll() error {
	for _, dir := range []string{
		d.Config,
		d.Data,
		d.Cache,
		d.CacheDir("titles"),
		d.State,
		d.LogDir(),
	} {
		if err := EnsureDir(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
