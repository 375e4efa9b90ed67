package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported document formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ParseFile parses and validates a configuration file. The format comes
// from the extension (.json, .yaml, .yml) or, failing that, from the content.
func ParseFile(filepath string) *Result {
	result := &Result{FilePath: filepath}

	content, err := os.ReadFile(filepath)
	if err != nil {
		result.ParseErrors = append(result.ParseErrors, ParseError{
			Path:    filepath,
			Message: fmt.Sprintf("failed to read file: %v", err),
			Type:    ErrorTypeIO,
		})
		return result
	}

	parsed := ParseString(string(content), DetectFormat(filepath))
	parsed.FilePath = filepath
	for i := range parsed.ParseErrors {
		if parsed.ParseErrors[i].Path == "" {
			parsed.ParseErrors[i].Path = filepath
		}
	}
	return parsed
}

// ParseString parses and validates configuration content. An empty format
// is detected from the content.
func ParseString(content, format string) *Result {
	result := &Result{Format: format}

	if format == "" {
		switch {
		case IsJSON(content):
			format = FormatJSON
		case IsYAML(content):
			format = FormatYAML
		default:
			result.ParseErrors = append(result.ParseErrors, ParseError{
				Message: "unable to detect configuration format: not valid JSON or YAML",
				Type:    ErrorTypeFormat,
			})
			return result
		}
		result.Format = format
	}

	var (
		data map[string]interface{}
		perr *ParseError
	)
	switch format {
	case FormatJSON:
		data, perr = parseJSON(content)
	case FormatYAML:
		data, perr = parseYAML(content)
	default:
		perr = &ParseError{Message: fmt.Sprintf("unsupported format: %s", format), Type: ErrorTypeFormat}
	}
	if perr != nil {
		result.ParseErrors = append(result.ParseErrors, *perr)
		return result
	}

	result.Data = data
	result.ValidationErrors = Validate(data)
	return result
}

// DetectFormat detects the configuration format from the file extension.
// Returns "json", "yaml", or "" if the extension is not recognized.
func DetectFormat(filepath string) string {
	switch strings.ToLower(path.Ext(filepath)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// IsJSON checks if the content appears to be a JSON document.
func IsJSON(content string) bool {
	content = strings.TrimSpace(content)
	return strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")
}

// IsYAML checks if the content parses as a non-empty YAML document.
// JSON is also valid YAML.
func IsYAML(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	var data interface{}
	return yaml.Unmarshal([]byte(content), &data) == nil && data != nil
}

func parseJSON(content string) (map[string]interface{}, *ParseError) {
	if strings.TrimSpace(content) == "" {
		return nil, &ParseError{Message: "empty content: expected JSON object", Type: ErrorTypeSyntax}
	}

	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	var data interface{}
	if err := dec.Decode(&data); err != nil {
		perr := parseJSONError(err, content)
		return nil, &perr
	}
	if dec.More() {
		return nil, &ParseError{Message: "unexpected content after the JSON object", Type: ErrorTypeSyntax}
	}
	return asObject(data, "JSON object")
}

func parseYAML(content string) (map[string]interface{}, *ParseError) {
	if strings.TrimSpace(content) == "" {
		return nil, &ParseError{Message: "empty content: expected YAML document", Type: ErrorTypeSyntax}
	}

	var data interface{}
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		perr := parseYAMLError(err)
		return nil, &perr
	}
	if data == nil {
		return nil, &ParseError{Message: "empty document: expected YAML mapping", Type: ErrorTypeFormat}
	}

	// Re-encode so schema validation and conversion see the same JSON
	// values whatever the source format.
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("unsupported YAML content: %v", err), Type: ErrorTypeFormat}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized interface{}
	if err := dec.Decode(&normalized); err != nil {
		return nil, &ParseError{Message: err.Error(), Type: ErrorTypeFormat}
	}
	return asObject(normalized, "YAML mapping")
}

func asObject(data interface{}, want string) (map[string]interface{}, *ParseError) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil, &ParseError{
			Message: fmt.Sprintf("invalid configuration: expected %s, got %T", want, data),
			Type:    ErrorTypeFormat,
		}
	}
	return m, nil
}

// parseJSONError extracts location information from a decoding error.
func parseJSONError(err error, content string) ParseError {
	parseErr := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		parseErr.Offset = syntaxErr.Offset
		parseErr.Line, parseErr.Column = offsetToLineColumn(content, syntaxErr.Offset)
		parseErr.Message = fmt.Sprintf("JSON syntax error: %s", syntaxErr.Error())
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		parseErr.Message = "JSON syntax error: unexpected end of input"
	}
	return parseErr
}

// offsetToLineColumn converts a byte offset to line and column numbers (1-based).
func offsetToLineColumn(content string, offset int64) (line, column int) {
	line, column = 1, 1
	for i := int64(0); i < offset && i < int64(len(content)); i++ {
		if content[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}

// parseYAMLError extracts the line number yaml.v3 embeds in its messages
// ("yaml: line X: ...").
func parseYAMLError(err error) ParseError {
	parseErr := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		parseErr.Message = fmt.Sprintf("YAML type error: %s", strings.Join(typeErr.Errors, "; "))
	}

	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
		parseErr.Line = line
		parseErr.Message = strings.TrimPrefix(err.Error(), fmt.Sprintf("yaml: line %d: ", line))
	}
	return parseErr
}
