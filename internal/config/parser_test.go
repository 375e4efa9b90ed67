package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFile(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		wantFormat string
		wantType   string
		wantLine   int
	}{
		{name: "valid yaml", file: "valid.yaml", wantFormat: FormatYAML},
		{name: "valid json", file: "valid.json", wantFormat: FormatJSON},
		{name: "json trailing comma", file: "invalid-syntax.json", wantFormat: FormatJSON, wantType: ErrorTypeSyntax, wantLine: 5},
		{name: "yaml unclosed flow sequence", file: "invalid-syntax.yaml", wantFormat: FormatYAML, wantType: ErrorTypeSyntax, wantLine: -1},
		{name: "empty yaml", file: "empty.yaml", wantFormat: FormatYAML, wantType: ErrorTypeSyntax},
		{name: "missing file", file: "does-not-exist.yaml", wantType: ErrorTypeIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join("testdata", tt.file)
			res := ParseFile(path)

			if tt.wantType == "" {
				if !res.IsValid() {
					t.Fatalf("unexpected errors: %v", res.AllErrors())
				}
				if res.Format != tt.wantFormat {
					t.Errorf("Format = %q, want %q", res.Format, tt.wantFormat)
				}
				if _, ok := res.Data["export"]; !ok {
					t.Error("export section missing from parsed data")
				}
				return
			}

			if len(res.ParseErrors) == 0 {
				t.Fatal("expected a parse error")
			}
			perr := res.ParseErrors[0]
			if perr.Type != tt.wantType {
				t.Errorf("Type = %q, want %q (%v)", perr.Type, tt.wantType, perr)
			}
			if perr.Path != path {
				t.Errorf("Path = %q, want %q", perr.Path, path)
			}
			switch {
			case tt.wantLine > 0 && perr.Line != tt.wantLine:
				t.Errorf("Line = %d, want %d", perr.Line, tt.wantLine)
			case tt.wantLine < 0 && perr.Line == 0:
				t.Errorf("expected a line number in %v", perr)
			}
			if len(res.ValidationErrors) != 0 {
				t.Error("validation must not run after a parse error")
			}
		})
	}
}

func TestParseString_DetectsFormat(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantFormat string
		wantType   string
	}{
		{name: "json object", content: `{"schemaVersion": "1.0"}`, wantFormat: FormatJSON},
		{name: "yaml mapping", content: "schemaVersion: \"1.0\"\n", wantFormat: FormatYAML},
		{name: "json array", content: `[1, 2]`, wantFormat: FormatJSON, wantType: ErrorTypeFormat},
		{name: "yaml scalar", content: "just words", wantFormat: FormatYAML, wantType: ErrorTypeFormat},
		{name: "blank", content: "  \n", wantType: ErrorTypeFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseString(tt.content, "")
			if res.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", res.Format, tt.wantFormat)
			}
			if tt.wantType == "" {
				if len(res.ParseErrors) != 0 {
					t.Fatalf("unexpected parse errors: %v", res.ParseErrors)
				}
				return
			}
			if len(res.ParseErrors) == 0 || res.ParseErrors[0].Type != tt.wantType {
				t.Errorf("ParseErrors = %v, want type %q", res.ParseErrors, tt.wantType)
			}
		})
	}
}

func TestParseString_UnsupportedFormat(t *testing.T) {
	res := ParseString("a = 1", "toml")
	if len(res.ParseErrors) != 1 || !strings.Contains(res.ParseErrors[0].Message, "unsupported format") {
		t.Errorf("ParseErrors = %v", res.ParseErrors)
	}
}

func TestParseString_YAMLNumbersMatchJSON(t *testing.T) {
	yamlRes := ParseString("export:\n  retry:\n    maxAttempts: 4\n", FormatYAML)
	jsonRes := ParseString(`{"export": {"retry": {"maxAttempts": 4}}}`, FormatJSON)

	get := func(r *Result) interface{} {
		return r.Data["export"].(map[string]interface{})["retry"].(map[string]interface{})["maxAttempts"]
	}
	if get(yamlRes) != get(jsonRes) {
		t.Errorf("yaml %#v != json %#v", get(yamlRes), get(jsonRes))
	}
}

func TestOffsetToLineColumn(t *testing.T) {
	content := "ab\ncd\nef"
	tests := []struct {
		offset    int64
		line, col int
	}{
		{0, 1, 1},
		{2, 1, 3},
		{3, 2, 1},
		{7, 3, 2},
		{100, 3, 3},
	}
	for _, tt := range tests {
		line, col := offsetToLineColumn(content, tt.offset)
		if line != tt.line || col != tt.col {
			t.Errorf("offset %d: got %d:%d, want %d:%d", tt.offset, line, col, tt.line, tt.col)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	for path, want := range map[string]string{
		"a.json":    FormatJSON,
		"a.YAML":    FormatYAML,
		"dir/a.yml": FormatYAML,
		"a.conf":    "",
		"no-ext":    "",
	} {
		if got := DetectFormat(path); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", path, got, want)
		}
	}
}
