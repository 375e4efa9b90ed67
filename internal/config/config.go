package config

import (
	"path/filepath"

	"github.com/canectors/viewexport/pkg/export"
)

// Loader reads export configurations from files.
type Loader struct {
	// basePath resolves relative configuration paths, and relative output
	// and source paths inside them. Empty means the working directory.
	basePath string
}

// NewLoader creates a new configuration loader.
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// Load parses, validates and converts the configuration at path. A document
// that fails parsing or schema validation gives a *LoadError.
func (l *Loader) Load(path string) (*export.Config, error) {
	res := ParseFile(l.resolve(path))
	return l.convert(res)
}

// LoadBytes is Load for in-memory content. An empty format is detected.
func (l *Loader) LoadBytes(content []byte, format string) (*export.Config, error) {
	return l.convert(ParseString(string(content), format))
}

func (l *Loader) convert(res *Result) (*export.Config, error) {
	if !res.IsValid() {
		return nil, &LoadError{Result: res}
	}
	cfg, err := Convert(res.Data)
	if err != nil {
		return nil, err
	}
	cfg.OutputDir = l.resolve(cfg.OutputDir)
	if cfg.Source.Path != "" {
		cfg.Source.Path = l.resolve(cfg.Source.Path)
	}
	return cfg, nil
}

func (l *Loader) resolve(p string) string {
	if l.basePath == "" || p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.basePath, p)
}

// LoadFile loads a configuration relative to the working directory.
func LoadFile(path string) (*export.Config, error) {
	return NewLoader("").Load(path)
}
