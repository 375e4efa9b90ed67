package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/export-schema.json
var embeddedSchema []byte

const schemaURL = "https://canectors.io/schemas/viewexport/v1.0.0/export-schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// Schema returns the embedded export configuration schema.
func Schema() []byte {
	return embeddedSchema
}

func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(embeddedSchema))
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, err = compiler.Compile(schemaURL)
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to compile schema: %w", err)
		}
	})
	return compiledSchema, schemaInitErr
}

// Validate checks a parsed document against the export schema. Numbers in
// data must be json.Number or float64, as produced by the parser.
func Validate(data map[string]interface{}) []ValidationError {
	if len(data) == 0 {
		return []ValidationError{{Path: "/", Type: "required", Message: "configuration is empty"}}
	}

	schema, err := getCompiledSchema()
	if err != nil {
		return []ValidationError{{Path: "/", Type: "schema", Message: fmt.Sprintf("failed to load schema: %v", err)}}
	}

	err = schema.Validate(map[string]any(data))
	if err == nil {
		return nil
	}
	var detailed *jsonschema.ValidationError
	if !errors.As(err, &detailed) {
		return []ValidationError{{Path: "/", Type: "validation", Message: err.Error()}}
	}
	printer := message.NewPrinter(language.English)
	return convertValidationErrors(detailed, printer)
}

// convertValidationErrors flattens the error tree, keeping leaf errors only.
func convertValidationErrors(err *jsonschema.ValidationError, p *message.Printer) []ValidationError {
	if len(err.Causes) == 0 {
		msg := err.Error()
		if err.ErrorKind != nil {
			msg = err.ErrorKind.LocalizedString(p)
		}
		return []ValidationError{{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    keyword(err.ErrorKind),
			Message: msg,
		}}
	}
	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, convertValidationErrors(cause, p)...)
	}
	return out
}

func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

// keyword returns the schema keyword that failed, e.g. "required".
func keyword(kind jsonschema.ErrorKind) string {
	if kind == nil {
		return "validation"
	}
	path := kind.KeywordPath()
	if len(path) == 0 {
		return "validation"
	}
	return path[len(path)-1]
}
