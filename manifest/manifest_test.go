package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/widow/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
entry = "main.json"

[vm]
max_frames = 64
stack_size = 4096
strict = true
trace = true

[cache]
enabled = true
path = "build/cache.db"
memory_entries = 8

[log]
verbosity = 2
file = "widow.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "demo" {
		t.Errorf("project name = %q, want demo", m.Project.Name)
	}
	if m.VM.MaxFrames != 64 || m.VM.StackSize != 4096 || !m.VM.Strict || !m.VM.Trace {
		t.Errorf("vm = %+v", m.VM)
	}
	if !m.Cache.Enabled || m.Cache.MemoryEntries != 8 {
		t.Errorf("cache = %+v", m.Cache)
	}
	if m.Log.Verbosity != 2 || m.Log.File != "widow.log" {
		t.Errorf("log = %+v", m.Log)
	}

	abs, _ := filepath.Abs(dir)
	if m.Dir != abs {
		t.Errorf("dir = %q, want %q", m.Dir, abs)
	}
	if want := filepath.Join(abs, "main.json"); m.EntryPath() != want {
		t.Errorf("entry path = %q, want %q", m.EntryPath(), want)
	}
	if want := filepath.Join(abs, "build", "cache.db"); m.CachePath() != want {
		t.Errorf("cache path = %q, want %q", m.CachePath(), want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Cache.Enabled {
		t.Error("cache should be disabled by default")
	}
	if m.Cache.MemoryEntries != 128 {
		t.Errorf("memory entries = %d, want 128", m.Cache.MemoryEntries)
	}
	if m.EntryPath() != "" {
		t.Errorf("entry path = %q, want empty", m.EntryPath())
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[vm\nmax_frames = ")
	if _, err := Load(dir); err == nil {
		t.Error("expected a parse error")
	}

	writeManifest(t, dir, "[vm]\nmax_frames = -1\n")
	if _, err := Load(dir); err == nil {
		t.Error("expected negative limits to be rejected")
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected an error for a missing manifest")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[project]\nname = \"root\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil || m.Project.Name != "root" {
		t.Fatalf("got %+v, want the root manifest", m)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	// A manifest higher up the real filesystem would be found too; only a
	// nil result or a non-widow one is acceptable here.
	if m != nil && m.Dir == "" {
		t.Errorf("unexpected manifest %+v", m)
	}
}

func TestVMOptions(t *testing.T) {
	m := Default()
	m.VM = VMConfig{MaxFrames: 10, Strict: true}

	cfg := vm.DefaultConfig()
	for _, opt := range m.VMOptions() {
		opt(&cfg)
	}
	if cfg.MaxFrames != 10 || !cfg.Strict {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.StackSize != vm.DefaultStackSize {
		t.Errorf("unset stack size should keep the default, got %d", cfg.StackSize)
	}
}
