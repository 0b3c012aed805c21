// Package manifest handles converge.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "converge.toml"

// Defaults applied after decoding.
const (
	DefaultInitStackSize = 512
	DefaultServerAddr    = ":4567"
)

// Manifest represents a converge.toml configuration.
type Manifest struct {
	VM     VMConfig     `toml:"vm"`
	Paths  Paths        `toml:"paths"`
	Cache  CacheConfig  `toml:"cache"`
	Log    LogConfig    `toml:"log"`
	Server ServerConfig `toml:"server"`

	// Dir is the directory containing the converge.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMConfig configures each VM the driver creates.
type VMConfig struct {
	InitStackSize int      `toml:"init_stack_size"`
	Argv          []string `toml:"argv"`
	Trace         bool     `toml:"trace"`
}

// Paths configures library locations.
type Paths struct {
	Libs   []string `toml:"libs"`
	Stdlib string   `toml:"stdlib"`
}

// CacheConfig configures the compiled image cache. An empty path disables it.
type CacheConfig struct {
	Path string `toml:"path"`
}

// LogConfig configures logging verbosity (0 to 5).
type LogConfig struct {
	Level int `toml:"level"`
}

// ServerConfig configures the execution server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no converge.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.VM.InitStackSize <= 0 {
		m.VM.InitStackSize = DefaultInitStackSize
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultServerAddr
	}
	if m.Log.Level < 0 {
		m.Log.Level = 0
	}
	if m.Log.Level > 5 {
		m.Log.Level = 5
	}
}

// Load parses a converge.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a converge.toml file,
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
			return nil, nil
		}
		dir = parent
	}
}

// resolve makes p absolute relative to the manifest's directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// LibPaths returns absolute paths for the configured library files.
func (m *Manifest) LibPaths() []string {
	var paths []string
	for _, l := range m.Paths.Libs {
		paths = append(paths, m.resolve(l))
	}
	return paths
}

// StdlibDir returns the absolute stdlib directory, or "" if none is set.
func (m *Manifest) StdlibDir() string {
	return m.resolve(m.Paths.Stdlib)
}

// CachePath returns the absolute image cache path, or "" if caching is off.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}
