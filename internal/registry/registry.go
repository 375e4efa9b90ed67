// Package registry maps source type names to their constructors.
//
// # Adding a Source Type
//
// To read rows from a new backend (e.g. "parquet"):
//
//  1. Implement input.Source
//  2. Write a constructor matching SourceConstructor
//  3. Register it from an init() function
//
// Example:
//
//	func init() {
//	    registry.RegisterSource("parquet", func(cfg export.SourceConfig) (input.Source, error) {
//	        return NewParquetSource(cfg)
//	    })
//	}
//
// The csv, sqlite and postgres types are registered at startup.
package registry

import (
	"sort"
	"sync"

	"github.com/canectors/viewexport/internal/modules/input"
	"github.com/canectors/viewexport/pkg/export"
)

// SourceConstructor builds a source from its configuration. It must not
// open files or connections; sources connect on first use.
type SourceConstructor func(cfg export.SourceConfig) (input.Source, error)

var (
	sourceMu       sync.RWMutex
	sourceRegistry = make(map[string]SourceConstructor)
)

// RegisterSource registers a constructor by type name, replacing any
// earlier registration. Safe for concurrent use.
func RegisterSource(sourceType string, constructor SourceConstructor) {
	sourceMu.Lock()
	defer sourceMu.Unlock()
	sourceRegistry[sourceType] = constructor
}

// GetSourceConstructor returns the constructor of a type, or nil.
func GetSourceConstructor(sourceType string) SourceConstructor {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	return sourceRegistry[sourceType]
}

// ListSourceTypes returns the registered type names, sorted.
func ListSourceTypes() []string {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	types := make([]string, 0, len(sourceRegistry))
	for t := range sourceRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ClearRegistry removes all registered constructors.
// This is intended for testing purposes only.
func ClearRegistry() {
	sourceMu.Lock()
	sourceRegistry = make(map[string]SourceConstructor)
	sourceMu.Unlock()
}

// RegisterBuiltins registers the built-in source types. It runs at init
// and again after ClearRegistry in tests.
func RegisterBuiltins() {
	RegisterSource("csv", func(cfg export.SourceConfig) (input.Source, error) {
		return input.NewCSVSource(cfg)
	})
	RegisterSource("sqlite", func(cfg export.SourceConfig) (input.Source, error) {
		return input.NewSQLiteSource(cfg)
	})
	RegisterSource("postgres", func(cfg export.SourceConfig) (input.Source, error) {
		return input.NewPostgresSource(cfg)
	})
}

func init() {
	RegisterBuiltins()
}
