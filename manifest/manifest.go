// Package manifest handles sqdis.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "sqdis.toml"

// Known output formats.
const (
	FormatDisasm    = "disasm"
	FormatDecompile = "decompile"
	FormatGraph     = "graph"
)

// Manifest represents a sqdis.toml configuration.
type Manifest struct {
	Output  Output  `toml:"output"`
	Log     Log     `toml:"log"`
	Server  Server  `toml:"server"`
	Catalog Catalog `toml:"catalog"`

	// Dir is the directory containing the sqdis.toml file (set at load time).
	Dir string `toml:"-"`
}

// Output configures the listings written for each analysed file.
type Output struct {
	LineNumbers    bool     `toml:"line-numbers"`
	ExpandClosures bool     `toml:"expand-closures"`
	Dir            string   `toml:"dir"`
	Formats        []string `toml:"formats"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Server configures `sqdis serve` and `sqdis remote`.
type Server struct {
	Addr      string `toml:"addr"`
	Workers   int    `toml:"workers"`
	ReportTTL string `toml:"report-ttl"`
}

// Catalog configures the SQLite report store.
type Catalog struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no sqdis.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if len(m.Output.Formats) == 0 {
		m.Output.Formats = []string{FormatDisasm, FormatDecompile, FormatGraph}
	}
	if m.Server.Addr == "" {
		m.Server.Addr = "localhost:7878"
	}
	if m.Server.Workers <= 0 {
		m.Server.Workers = runtime.NumCPU()
	}
	if m.Server.ReportTTL == "" {
		m.Server.ReportTTL = "30m"
	}
	if m.Catalog.Path == "" {
		m.Catalog.Path = filepath.Join(".sqdis", "catalog.db")
	}
}

// Load parses a sqdis.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path. Relative paths inside
// the file resolve against its directory.
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
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	for _, f := range m.Output.Formats {
		switch f {
		case FormatDisasm, FormatDecompile, FormatGraph:
		default:
			return fmt.Errorf("unknown output format %q", f)
		}
	}
	if _, err := time.ParseDuration(m.Server.ReportTTL); err != nil {
		return fmt.Errorf("server.report-ttl: %w", err)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a sqdis.toml file,
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

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// CatalogPath returns the absolute catalog database path.
func (m *Manifest) CatalogPath() string { return m.resolve(m.Catalog.Path) }

// OutputDir returns the directory listings are written to, or "" for
// standard output.
func (m *Manifest) OutputDir() string { return m.resolve(m.Output.Dir) }

// LogFile returns the log file path, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.resolve(m.Log.File)
	return &p
}

// ReportTTL returns how long the server keeps analysed reports.
func (m *Manifest) ReportTTL() time.Duration {
	d, err := time.ParseDuration(m.Server.ReportTTL)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// Wants reports whether format is among the configured output formats.
func (m *Manifest) Wants(format string) bool {
	for _, f := range m.Output.Formats {
		if f == format {
			return true
		}
	}
	return false
}
