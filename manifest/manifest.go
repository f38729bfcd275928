// Package manifest handles rpgcode.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/rpgcode/vm"
)

// FileName is the name of the project file.
const FileName = "rpgcode.toml"

// Manifest represents an rpgcode.toml project configuration.
type Manifest struct {
	Project     Project     `toml:"project"`
	Interpreter Interpreter `toml:"interpreter"`
	Log         Log         `toml:"log"`
	Save        Save        `toml:"save"`

	// Dir is the directory containing the rpgcode.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
	// Path is the program directory. Runtime inclusions are qualified by it.
	Path string `toml:"path"`
	// Programs are started as threads, in order.
	Programs []string `toml:"programs"`
}

// Interpreter configures the execution engine.
type Interpreter struct {
	DebugLevel string   `toml:"debug-level"`
	Resolution string   `toml:"resolution"`
	Slice      int      `toml:"slice"` // instructions per thread per scheduler pass
	Plugins    []string `toml:"plugins"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Save configures save slots.
type Save struct {
	Database string `toml:"database"`
}

// Default returns the configuration used when no rpgcode.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Project.Path == "" {
		m.Project.Path = "prg"
	}
	if m.Interpreter.DebugLevel == "" {
		m.Interpreter.DebugLevel = "errors"
	}
	if m.Interpreter.Resolution == "" {
		m.Interpreter.Resolution = "global"
	}
	if m.Interpreter.Slice <= 0 {
		m.Interpreter.Slice = 1
	}
	if m.Save.Database == "" {
		m.Save.Database = "saves.db"
	}
}

// Load parses an rpgcode.toml file from the given directory.
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
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an rpgcode.toml file,
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

// Validate checks the values that have a fixed spelling.
func (m *Manifest) Validate() error {
	if _, ok := vm.ParseDebugLevel(m.Interpreter.DebugLevel); !ok {
		return fmt.Errorf("interpreter.debug-level: unknown level %q", m.Interpreter.DebugLevel)
	}
	if _, ok := vm.ParseResolutionPolicy(m.Interpreter.Resolution); !ok {
		return fmt.Errorf("interpreter.resolution: unknown policy %q", m.Interpreter.Resolution)
	}
	if m.Log.Verbosity < 0 {
		return fmt.Errorf("log.verbosity: must not be negative")
	}
	return nil
}

// DebugLevel returns the configured error reporting threshold.
func (m *Manifest) DebugLevel() vm.DebugLevel {
	level, _ := vm.ParseDebugLevel(m.Interpreter.DebugLevel)
	return level
}

// Resolution returns the configured name resolution policy.
func (m *Manifest) Resolution() vm.ResolutionPolicy {
	policy, _ := vm.ParseResolutionPolicy(m.Interpreter.Resolution)
	return policy
}

// ProgramDir returns the absolute path of the program directory.
func (m *Manifest) ProgramDir() string {
	return m.resolve(m.Project.Path)
}

// DatabasePath returns the absolute path of the save slot database.
func (m *Manifest) DatabasePath() string {
	return m.resolve(m.Save.Database)
}

// LogPath returns the absolute path of the log file, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// Write saves the manifest to rpgcode.toml in m.Dir.
func (m *Manifest) Write() error {
	path := filepath.Join(m.Dir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
