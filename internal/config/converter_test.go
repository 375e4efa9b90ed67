package config

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/canectors/viewexport/pkg/export"
)

func TestConvert_RowDrivenYAML(t *testing.T) {
	t.Setenv("REPORTS_SECRET", "s3cret")

	cfg, err := LoadFile("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Name != "regional-reports" || cfg.Workbook != "Regional Sales" {
		t.Errorf("name/workbook = %q/%q", cfg.Name, cfg.Workbook)
	}
	if cfg.Mode != export.ModeRowDriven || cfg.Format != export.FormatPDF {
		t.Errorf("mode/format = %s/%s", cfg.Mode, cfg.Format)
	}
	wantServer := export.ServerConfig{
		URL:         "reports.example.com",
		Site:        "finance",
		TokenName:   "exporter",
		TokenSecret: "s3cret",
		APIVersion:  "3.19",
		Timeout:     30 * time.Second,
	}
	if cfg.Server != wantServer {
		t.Errorf("Server = %+v, want %+v", cfg.Server, wantServer)
	}
	if !cfg.Numbering || !cfg.MergeEnabled() || !cfg.Trim {
		t.Errorf("flags numbering=%v merge=%v trim=%v", cfg.Numbering, cfg.MergeEnabled(), cfg.Trim)
	}
	if got := cfg.OrganizeColumns(); !reflect.DeepEqual(got, []string{"Region"}) {
		t.Errorf("OrganizeColumns() = %v", got)
	}
	if cfg.NamingColumn() != "Name" || cfg.ViewFilterField != "Name" {
		t.Errorf("naming = %q, view filter = %q", cfg.NamingColumn(), cfg.ViewFilterField)
	}

	wantFilters := []export.Filter{
		{Field: "Status", Values: []string{"Active"}},
		{Field: "Year", Values: []string{"2024"}, ApplyAsParameter: true},
	}
	if !reflect.DeepEqual(cfg.Filters, wantFilters) {
		t.Errorf("Filters = %+v", cfg.Filters)
	}
	wantConditions := []export.Condition{
		{Field: "Region", Comparator: export.Equals, Value: "EU", ExcludeViews: []string{"Overview"}},
		{Field: "Revenue", Comparator: export.GreaterThan, Value: "1000", ExcludeViews: []string{"Detail"}},
	}
	if !reflect.DeepEqual(cfg.Conditions, wantConditions) {
		t.Errorf("Conditions = %+v", cfg.Conditions)
	}
	wantParams := []export.ParameterRule{{Name: "Zone", Value: "Region"}, {Name: "Currency", Value: "EUR"}}
	if !reflect.DeepEqual(cfg.Parameters, wantParams) {
		t.Errorf("Parameters = %+v", cfg.Parameters)
	}

	wantSource := export.SourceConfig{Type: "csv", Path: "data/rows.csv", Delimiter: ";", NAValues: []string{"-"}}
	if !reflect.DeepEqual(cfg.Source, wantSource) {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.Retry != (export.RetryPolicy{MaxAttempts: 4, DelayMs: 250}) {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if !reflect.DeepEqual(cfg.ExcludedViews, []string{"Hidden"}) {
		t.Errorf("ExcludedViews = %v", cfg.ExcludedViews)
	}
}

func TestConvert_FixedListDefaults(t *testing.T) {
	cfg, err := LoadFile("testdata/valid.json")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Mode != export.ModeFixedList {
		t.Errorf("Mode = %s", cfg.Mode)
	}
	if cfg.Format != export.FormatPDF {
		t.Errorf("default Format = %s, want PDF", cfg.Format)
	}
	if cfg.Naming != export.NamingByView {
		t.Errorf("default Naming = %q", cfg.Naming)
	}
	if cfg.Server.TokenSecret != "inline-secret" {
		t.Errorf("TokenSecret = %q", cfg.Server.TokenSecret)
	}
	if cfg.Server.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0 (client default)", cfg.Server.Timeout)
	}
}

func TestResolveSecret(t *testing.T) {
	tests := []struct {
		name   string
		server ServerSettings
		env    map[string]string
		want   string
	}{
		{
			name:   "inline secret wins",
			server: ServerSettings{TokenSecret: "inline", TokenSecretEnv: "CUSTOM_SECRET"},
			env:    map[string]string{"CUSTOM_SECRET": "from-env"},
			want:   "inline",
		},
		{
			name:   "named variable",
			server: ServerSettings{TokenSecretEnv: "CUSTOM_SECRET"},
			env:    map[string]string{"CUSTOM_SECRET": "from-env", DefaultSecretEnv: "default"},
			want:   "from-env",
		},
		{
			name: "default variable",
			env:  map[string]string{DefaultSecretEnv: "default"},
			want: "default",
		},
		{
			name: "nothing set",
			env:  map[string]string{DefaultSecretEnv: ""},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := resolveSecret(tt.server); got != tt.want {
				t.Errorf("resolveSecret() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConvert_UnknownComparatorKeptRaw(t *testing.T) {
	data := map[string]interface{}{
		"export": map[string]interface{}{
			"mode": "fixed-list",
			"conditions": []interface{}{
				map[string]interface{}{"field": "Region", "comparator": " Between ", "excludeViews": []interface{}{"A"}},
				map[string]interface{}{"field": "Region", "comparator": "is not blank", "excludeViews": []interface{}{"B"}},
			},
		},
	}
	cfg, err := Convert(data)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if cfg.Conditions[0].Comparator != "Between" {
		t.Errorf("Comparator = %q, want raw Between", cfg.Conditions[0].Comparator)
	}
	if cfg.Conditions[1].Comparator != export.IsNotBlank {
		t.Errorf("Comparator = %q, want IsNotBlank", cfg.Conditions[1].Comparator)
	}
}

func TestConvert_TrimsFilterValues(t *testing.T) {
	data := map[string]interface{}{
		"export": map[string]interface{}{
			"mode": "row-driven",
			"filters": []interface{}{
				map[string]interface{}{"field": " Status ", "values": []interface{}{"Active ", "  On Hold", 42}},
			},
		},
	}
	cfg, err := Convert(data)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	f := cfg.Filters[0]
	if f.Field != "Status" || !reflect.DeepEqual(f.Values, []string{"Active", "On Hold", "42"}) {
		t.Errorf("filter = %q %q", f.Field, f.Values)
	}
}

func TestConvert_Errors(t *testing.T) {
	if _, err := Convert(map[string]interface{}{"schemaVersion": "1.0"}); !errors.Is(err, ErrNoExportSection) {
		t.Errorf("missing export: err = %v", err)
	}
	if _, err := Convert(map[string]interface{}{"export": map[string]interface{}{"mode": "sometimes"}}); err == nil {
		t.Error("unknown mode accepted")
	}
	bad := map[string]interface{}{"export": map[string]interface{}{"mode": "fixed-list", "format": "docx"}}
	if _, err := Convert(bad); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestScalar(t *testing.T) {
	var got []scalar
	if err := json.Unmarshal([]byte(`["x", 12, 1.5, true, null]`), &got); err != nil {
		t.Fatal(err)
	}
	want := []scalar{"x", "12", "1.5", "true", ""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	var s scalar
	if err := json.Unmarshal([]byte(`{"a": 1}`), &s); err == nil {
		t.Error("object accepted as a scalar")
	}
}
