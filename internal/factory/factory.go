// Package factory builds the collaborators of a run from its configuration:
// the tabular source through the registry, and the reporting client.
//
// To add a source type, register it in internal/registry; this factory
// does not change.
package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/canectors/viewexport/internal/modules/input"
	"github.com/canectors/viewexport/internal/registry"
	"github.com/canectors/viewexport/internal/reporting"
	"github.com/canectors/viewexport/pkg/export"
)

// ErrUnknownSourceType is returned for a source type with no registered constructor.
var ErrUnknownSourceType = errors.New("unknown source type")

// ClientFactory builds a reporting client for a server configuration.
type ClientFactory func(cfg export.ServerConfig) reporting.Client

// NewSource creates the source described by cfg. Type names are matched
// case-insensitively.
func NewSource(cfg export.SourceConfig) (input.Source, error) {
	sourceType := strings.ToLower(strings.TrimSpace(cfg.Type))
	constructor := registry.GetSourceConstructor(sourceType)
	if constructor == nil {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownSourceType, cfg.Type,
			strings.Join(registry.ListSourceTypes(), ", "))
	}
	return constructor(cfg)
}

// NewRunSource returns the source of a run configuration, or nil in
// fixed-list mode where no rows are read.
func NewRunSource(cfg *export.Config) (input.Source, error) {
	if cfg.Mode != export.ModeRowDriven {
		return nil, nil
	}
	return NewSource(cfg.Source)
}

// NewReportingClient is the default ClientFactory: a Tableau REST client
// using the configured request timeout.
func NewReportingClient(cfg export.ServerConfig) reporting.Client {
	return reporting.NewTableauClient(cfg.Timeout)
}
