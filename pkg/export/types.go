// Package export provides the public data model of a batch view export:
// run configuration, predicate rules, rows, jobs and results.
// This package is intended to be importable by external projects that need
// to drive or inspect export runs.
package export

import (
	"strings"
	"time"
)

// Mode selects how export jobs are produced.
type Mode string

const (
	// ModeRowDriven produces one batch of jobs per dataset row.
	ModeRowDriven Mode = "row-driven"
	// ModeFixedList exports the workbook's views once.
	ModeFixedList Mode = "fixed-list"
)

// Format is the rendered artifact format.
type Format string

const (
	FormatPDF   Format = "PDF"
	FormatImage Format = "Image"
)

// Extension returns the canonical lower-case file extension.
func (f Format) Extension() string {
	if f == FormatImage {
		return "png"
	}
	return "pdf"
}

// ParseFormat accepts PDF, Image or PNG in any case.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf":
		return FormatPDF, true
	case "image", "png":
		return FormatImage, true
	}
	return "", false
}

// ParseMode accepts the mode names with either separator.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.NewReplacer("_", "-", " ", "-").Replace(strings.TrimSpace(s))) {
	case "row-driven", "rows", "excel":
		return ModeRowDriven, true
	case "fixed-list", "fixed", "all-views", "list":
		return ModeFixedList, true
	}
	return "", false
}

const (
	// NamingByView names artifacts after the view instead of a column.
	NamingByView = "By view"
	// OrganizeNone marks an unused organize-by selection.
	OrganizeNone = "None"
	// ParamMarker is appended to a filter field bound as a parameter.
	ParamMarker = "Param"
	// NAFolder replaces an organize-by segment without a usable value.
	NAFolder = "NA_Folder"
)

// Config is the immutable run configuration handed to the runner.
type Config struct {
	// Name identifies the configuration in logs and run history.
	Name string `json:"name"`

	Server ServerConfig `json:"server"`

	// Workbook is the display name of the workbook whose views are exported.
	Workbook string `json:"workbook"`

	Mode   Mode   `json:"mode"`
	Format Format `json:"format"`

	// OutputDir is the base directory for artifacts.
	OutputDir string `json:"outputDir"`

	Numbering bool `json:"numbering"`
	Merge     bool `json:"merge"`
	Trim      bool `json:"trim"`

	// OrganizeBy holds up to two column names; OrganizeNone entries are ignored.
	OrganizeBy []string `json:"organizeBy,omitempty"`

	// Naming is a column name or NamingByView.
	Naming string `json:"naming"`

	// ViewFilterField is a column whose row value is sent as a view filter.
	ViewFilterField string `json:"viewFilterField,omitempty"`

	// ExcludedViews are view names never exported.
	ExcludedViews []string `json:"excludedViews,omitempty"`

	Filters    []Filter        `json:"filters,omitempty"`
	Conditions []Condition     `json:"conditions,omitempty"`
	Parameters []ParameterRule `json:"parameters,omitempty"`

	Source SourceConfig `json:"source"`
	Retry  RetryPolicy  `json:"retry"`
}

// OrganizeColumns returns the effective organize-by columns, outer first.
func (c *Config) OrganizeColumns() []string {
	cols := make([]string, 0, 2)
	for _, col := range c.OrganizeBy {
		col = strings.TrimSpace(col)
		if col == "" || col == OrganizeNone {
			continue
		}
		cols = append(cols, col)
		if len(cols) == 2 {
			break
		}
	}
	return cols
}

// NamingColumn returns the naming column, or "" when artifacts are named by view.
func (c *Config) NamingColumn() string {
	n := strings.TrimSpace(c.Naming)
	if n == "" || n == NamingByView {
		return ""
	}
	return n
}

// MergeEnabled reports whether artifacts are combined at the end of the run.
func (c *Config) MergeEnabled() bool {
	return c.Merge && c.Format == FormatPDF
}

// ServerConfig holds reporting service connection settings.
type ServerConfig struct {
	URL         string        `json:"url"`
	Site        string        `json:"site,omitempty"`
	TokenName   string        `json:"tokenName"`
	TokenSecret string        `json:"-"`
	APIVersion  string        `json:"apiVersion,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// SourceConfig locates the tabular dataset for row-driven runs.
type SourceConfig struct {
	// Type is csv, sqlite or postgres.
	Type string `json:"type"`
	// Path is a CSV file, a directory of CSV sheets or an SQLite file.
	Path string `json:"path,omitempty"`
	// Sheet is a CSV sheet name in a directory, or a table name.
	Sheet string `json:"sheet,omitempty"`
	// DSN is the connection string for database sources.
	DSN       string   `json:"dsn,omitempty"`
	Encoding  string   `json:"encoding,omitempty"`
	Delimiter string   `json:"delimiter,omitempty"`
	NAValues  []string `json:"naValues,omitempty"`
}

// RetryPolicy bounds export attempts per job.
type RetryPolicy struct {
	// MaxAttempts counts the initial attempt. Row-driven jobs always use 3.
	MaxAttempts int `json:"maxAttempts"`
	// DelayMs is the linear backoff base.
	DelayMs int `json:"delayMs"`
}

// View is an exportable child of a workbook.
type View struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
