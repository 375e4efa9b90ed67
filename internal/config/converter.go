package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/canectors/viewexport/pkg/export"
)

// DefaultSecretEnv names the variable read when a document carries neither
// tokenSecret nor tokenSecretEnv.
const DefaultSecretEnv = "VIEWEXPORT_TOKEN_SECRET"

// ErrNoExportSection is returned when a document has no "export" object.
var ErrNoExportSection = errors.New("missing 'export' section")

type fileDocument struct {
	SchemaVersion string      `json:"schemaVersion"`
	Export        *fileExport `json:"export"`
}

type fileExport struct {
	Name            string              `json:"name"`
	Server          ServerSettings      `json:"server"`
	Workbook        string              `json:"workbook"`
	Mode            string              `json:"mode"`
	Format          string              `json:"format"`
	OutputDir       string              `json:"outputDir"`
	Numbering       bool                `json:"numbering"`
	Merge           bool                `json:"merge"`
	Trim            bool                `json:"trim"`
	OrganizeBy      []string            `json:"organizeBy"`
	Naming          string              `json:"naming"`
	ViewFilterField string              `json:"viewFilterField"`
	ExcludedViews   []string            `json:"excludedViews"`
	Filters         []fileFilter        `json:"filters"`
	Conditions      []fileCondition     `json:"conditions"`
	Parameters      []fileParameter     `json:"parameters"`
	Source          export.SourceConfig `json:"source"`
	Retry           export.RetryPolicy  `json:"retry"`
}

// ServerSettings is the "server" object of a configuration document.
type ServerSettings struct {
	URL            string `json:"url"`
	Site           string `json:"site"`
	TokenName      string `json:"tokenName"`
	TokenSecret    string `json:"tokenSecret"`
	TokenSecretEnv string `json:"tokenSecretEnv"`
	APIVersion     string `json:"apiVersion"`
	TimeoutMs      int    `json:"timeoutMs"`
}

type fileFilter struct {
	Field            string   `json:"field"`
	Values           []scalar `json:"values"`
	ApplyAsParameter bool     `json:"applyAsParameter"`
}

type fileCondition struct {
	Field        string   `json:"field"`
	Comparator   string   `json:"comparator"`
	Value        scalar   `json:"value"`
	ExcludeViews []string `json:"excludeViews"`
}

type fileParameter struct {
	Name  string `json:"name"`
	Value scalar `json:"value"`
}

// scalar accepts a string, number or boolean and keeps its text form, so
// "values: [2024]" in YAML reads the same as "values: ['2024']".
type scalar string

func (s *scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
	case len(b) > 0 && b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = scalar(str)
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		return fmt.Errorf("expected a scalar value, got %s", b)
	default:
		*s = scalar(b)
	}
	return nil
}

// Convert builds an export.Config from a parsed and validated document.
// The token secret comes from server.tokenSecret, then from the
// environment variable named by server.tokenSecretEnv (DefaultSecretEnv
// when unset). Comparators that do not parse are kept as written; the
// evaluator reports and skips them.
func Convert(data map[string]interface{}) (*export.Config, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if doc.Export == nil {
		return nil, ErrNoExportSection
	}
	fe := doc.Export

	cfg := &export.Config{
		Name:            strings.TrimSpace(fe.Name),
		Workbook:        strings.TrimSpace(fe.Workbook),
		OutputDir:       strings.TrimSpace(fe.OutputDir),
		Numbering:       fe.Numbering,
		Merge:           fe.Merge,
		Trim:            fe.Trim,
		OrganizeBy:      fe.OrganizeBy,
		Naming:          strings.TrimSpace(fe.Naming),
		ViewFilterField: strings.TrimSpace(fe.ViewFilterField),
		ExcludedViews:   fe.ExcludedViews,
		Source:          fe.Source,
		Retry:           fe.Retry,
		Server:          fe.Server.Config(),
	}

	mode, ok := export.ParseMode(fe.Mode)
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", fe.Mode)
	}
	cfg.Mode = mode

	cfg.Format = export.FormatPDF
	if strings.TrimSpace(fe.Format) != "" {
		format, ok := export.ParseFormat(fe.Format)
		if !ok {
			return nil, fmt.Errorf("unknown format %q", fe.Format)
		}
		cfg.Format = format
	}

	if cfg.Naming == "" {
		cfg.Naming = export.NamingByView
	}

	for _, f := range fe.Filters {
		values := make([]string, len(f.Values))
		for i, v := range f.Values {
			values[i] = strings.TrimSpace(string(v))
		}
		cfg.Filters = append(cfg.Filters, export.Filter{
			Field:            strings.TrimSpace(f.Field),
			Values:           values,
			ApplyAsParameter: f.ApplyAsParameter,
		})
	}

	for _, c := range fe.Conditions {
		comparator, ok := export.ParseComparator(c.Comparator)
		if !ok {
			comparator = export.Comparator(strings.TrimSpace(c.Comparator))
		}
		cfg.Conditions = append(cfg.Conditions, export.Condition{
			Field:        strings.TrimSpace(c.Field),
			Comparator:   comparator,
			Value:        string(c.Value),
			ExcludeViews: c.ExcludeViews,
		})
	}

	for _, p := range fe.Parameters {
		cfg.Parameters = append(cfg.Parameters, export.ParameterRule{
			Name:  strings.TrimSpace(p.Name),
			Value: string(p.Value),
		})
	}

	return cfg, nil
}

// Config converts the settings, resolving the token secret.
func (s ServerSettings) Config() export.ServerConfig {
	return export.ServerConfig{
		URL:         strings.TrimSpace(s.URL),
		Site:        strings.TrimSpace(s.Site),
		TokenName:   strings.TrimSpace(s.TokenName),
		TokenSecret: resolveSecret(s),
		APIVersion:  strings.TrimSpace(s.APIVersion),
		Timeout:     time.Duration(s.TimeoutMs) * time.Millisecond,
	}
}

func resolveSecret(s ServerSettings) string {
	if s.TokenSecret != "" {
		return s.TokenSecret
	}
	name := strings.TrimSpace(s.TokenSecretEnv)
	if name == "" {
		name = DefaultSecretEnv
	}
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return ""
}
