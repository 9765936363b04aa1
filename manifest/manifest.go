// Package manifest handles widow.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/widow/vm"
)

// FileName is the manifest file looked up in project directories.
const FileName = "widow.toml"

// Manifest represents a widow.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	VM      VMConfig    `toml:"vm"`
	Cache   CacheConfig `toml:"cache"`
	Log     LogConfig   `toml:"log"`

	// Dir is the directory containing the widow.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
	// Entry is the program run when the CLI is given no file.
	Entry string `toml:"entry"`
}

// VMConfig mirrors vm.Config. Zero values keep the VM defaults.
type VMConfig struct {
	MaxFrames int  `toml:"max_frames"`
	StackSize int  `toml:"stack_size"`
	Strict    bool `toml:"strict"`
	Trace     bool `toml:"trace"`
}

// CacheConfig configures the compiled-program cache.
type CacheConfig struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	MemoryEntries int    `toml:"memory_entries"`
}

// LogConfig configures the log backend.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no widow.toml exists.
func Default() *Manifest {
	return &Manifest{
		Cache: CacheConfig{
			Path:          filepath.Join(".widow", "cache.db"),
			MemoryEntries: 128,
		},
	}
}

// Load parses a widow.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if m.VM.MaxFrames < 0 || m.VM.StackSize < 0 || m.Cache.MemoryEntries < 0 {
		return nil, fmt.Errorf("%s: limits must not be negative", path)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a widow.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// VMOptions converts the [vm] table into VM options.
func (m *Manifest) VMOptions() []vm.Option {
	return []vm.Option{
		vm.WithMaxFrames(m.VM.MaxFrames),
		vm.WithStackSize(m.VM.StackSize),
		vm.WithStrict(m.VM.Strict),
		vm.WithTrace(m.VM.Trace),
	}
}

// Resolve makes a manifest-relative path absolute.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.Dir == "" {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// EntryPath returns the absolute path of the entry program, or "".
func (m *Manifest) EntryPath() string {
	return m.Resolve(m.Project.Entry)
}

// CachePath returns the absolute path of the cache database, or "" for a
// memory-only cache.
func (m *Manifest) CachePath() string {
	return m.Resolve(m.Cache.Path)
}
