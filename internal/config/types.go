// Package config loads export configuration files (JSON/YAML), validates
// them against the embedded schema and converts them to export.Config.
package config

import (
	"fmt"
	"strings"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	// Path is the file path where the error occurred
	Path string
	// Line is the line number (1-based, 0 if unknown)
	Line int
	// Column is the column number (1-based, 0 if unknown)
	Column int
	// Offset is the byte offset in the file (0 if unknown)
	Offset int64
	// Message is the error message
	Message string
	// Type categorizes the error (syntax, io, format)
	Type string
}

// Error implements the error interface.
func (e ParseError) Error() string {
	var sb strings.Builder
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&sb, ", column %d", e.Column)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// ValidationError represents a schema validation error.
type ValidationError struct {
	// Path is the JSON pointer of the offending value (e.g. "/export/server/url")
	Path string
	// Type is the failing schema keyword (required, type, enum, ...)
	Type string
	// Message is the error message
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Result contains the combined result of parsing and validation.
type Result struct {
	// Data is the parsed document, normalized to JSON values
	Data map[string]interface{}
	// ParseErrors contains parsing errors
	ParseErrors []ParseError
	// ValidationErrors contains schema errors
	ValidationErrors []ValidationError
	// FilePath is the path to the configuration file
	FilePath string
	// Format is the detected format (json, yaml)
	Format string
}

// IsValid returns true if no errors occurred.
func (r *Result) IsValid() bool {
	return len(r.ParseErrors) == 0 && len(r.ValidationErrors) == 0
}

// AllErrors returns parsing and validation errors as a single slice.
func (r *Result) AllErrors() []error {
	errs := make([]error, 0, len(r.ParseErrors)+len(r.ValidationErrors))
	for _, e := range r.ParseErrors {
		errs = append(errs, e)
	}
	for _, e := range r.ValidationErrors {
		errs = append(errs, e)
	}
	return errs
}

// LoadError is returned by the loader when a document does not parse or
// does not match the schema.
type LoadError struct {
	Result *Result
}

func (e *LoadError) Error() string {
	errs := e.Result.AllErrors()
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid configuration (%d error(s)): %s", len(errs), strings.Join(msgs, "; "))
}

// Unwrap exposes every individual error to errors.Is/As.
func (e *LoadError) Unwrap() []error { return e.Result.AllErrors() }

// Error type constants for categorizing parse errors.
const (
	ErrorTypeIO     = "io"
	ErrorTypeSyntax = "syntax"
	ErrorTypeFormat = "format"
)
