// Package manifest handles deobby.toml run configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "deobby.toml"

// DefaultPasses is the pass order used when [pipeline] names none.
var DefaultPasses = []string{
	"exception-tracing",
	"opaque-predicates",
	"bit-shift",
	"bit-mask",
	"dead-methods",
}

// Manifest represents a deobby.toml configuration.
type Manifest struct {
	Pipeline  Pipeline  `toml:"pipeline"`
	Classpath Classpath `toml:"classpath"`
	Output    Output    `toml:"output"`
	Report    Report    `toml:"report"`

	// Dir is the directory containing the deobby.toml file (set at load time).
	Dir string `toml:"-"`
}

// Pipeline selects and tunes the rewrite passes.
type Pipeline struct {
	Passes           []string `toml:"passes"`
	Workers          int      `toml:"workers"`
	DeadMethodPolicy string   `toml:"dead-method-policy"`
}

// Classpath configures the host class library.
type Classpath struct {
	Entries []string `toml:"entries"`
	JDK     string   `toml:"jdk"`
	Cache   string   `toml:"cache"`
}

// Output configures where rewritten classes go.
type Output struct {
	Path            string `toml:"path"`
	MaxResourceSize int64  `toml:"max-resource-size"`
}

// Report configures the run report.
type Report struct {
	Database string `toml:"database"`
	Metrics  string `toml:"metrics"`
}

// Default returns the configuration used when no deobby.toml exists.
func Default(dir string) (*Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m := &Manifest{Dir: abs}
	m.setDefaults()
	return m, nil
}

// Load parses a deobby.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	return LoadFile(path)
}

// LoadFile parses the configuration at path. Relative paths inside it are
// resolved against its directory.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse error in %s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if m.Pipeline.Workers < 0 {
		return nil, fmt.Errorf("parse error in %s: workers must not be negative", path)
	}
	if m.Output.MaxResourceSize < 0 {
		return nil, fmt.Errorf("parse error in %s: max-resource-size must not be negative", path)
	}

	m.setDefaults()
	return &m, nil
}

func (m *Manifest) setDefaults() {
	if len(m.Pipeline.Passes) == 0 {
		m.Pipeline.Passes = append([]string(nil), DefaultPasses...)
	}
	if m.Pipeline.Workers == 0 {
		m.Pipeline.Workers = runtime.NumCPU()
	}
	if m.Pipeline.DeadMethodPolicy == "" {
		m.Pipeline.DeadMethodPolicy = "conservative"
	}
	if m.Output.MaxResourceSize == 0 {
		m.Output.MaxResourceSize = 64 << 20
	}
}

// FindAndLoad walks up from startDir to find a deobby.toml file,
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

// Abs resolves a configured path against the manifest directory. Empty
// paths stay empty.
func (m *Manifest) Abs(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// CachePath returns the absolute path of the classpath index cache, or ""
// when caching is off.
func (m *Manifest) CachePath() string {
	return m.Abs(m.Classpath.Cache)
}

// OutputPath returns the absolute output path, or "" to rewrite in place.
func (m *Manifest) OutputPath() string {
	return m.Abs(m.Output.Path)
}

// DatabasePath returns the absolute report database path, or "".
func (m *Manifest) DatabasePath() string {
	return m.Abs(m.Report.Database)
}

// MetricsPath returns the absolute metrics textfile path, or "".
func (m *Manifest) MetricsPath() string {
	return m.Abs(m.Report.Metrics)
}
