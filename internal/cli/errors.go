// Package cli renders configuration errors, run summaries and progress on
// the terminal.
package cli

import (
	"fmt"
	"io"

	"github.com/canectors/viewexport/internal/config"
)

// PrintParseErrors prints parse errors to w.
func PrintParseErrors(w io.Writer, errs []config.ParseError, verbose bool) {
	fmt.Fprintln(w, ErrorStyle.Render("✗ Parse errors:"))
	for _, err := range errs {
		printSingleParseError(w, err, verbose)
	}
}

func printSingleParseError(w io.Writer, err config.ParseError, verbose bool) {
	location := formatErrorLocation(err.Path, err.Line, err.Column)

	if location != "" {
		fmt.Fprintf(w, "  %s: %s\n", location, err.Message)
	} else {
		fmt.Fprintf(w, "  %s\n", err.Message)
	}

	if verbose && err.Type != "" {
		fmt.Fprintf(w, "    Type: %s\n", err.Type)
	}
}

// formatErrorLocation formats the error location string (path:line:column).
func formatErrorLocation(path string, line, column int) string {
	if path == "" {
		return ""
	}

	location := path
	if line > 0 {
		location += fmt.Sprintf(":%d", line)
		if column > 0 {
			location += fmt.Sprintf(":%d", column)
		}
	}
	return location
}

// PrintValidationErrors prints schema validation errors to w.
func PrintValidationErrors(w io.Writer, errs []config.ValidationError, verbose, quiet bool) {
	fmt.Fprintln(w, ErrorStyle.Render("✗ Validation errors:"))
	for _, err := range errs {
		path := err.Path
		if path == "" {
			path = "/"
		}
		if verbose {
			fmt.Fprintf(w, "  %s:\n", path)
			fmt.Fprintf(w, "    Message: %s\n", err.Message)
			if err.Type != "" {
				fmt.Fprintf(w, "    Keyword: %s\n", err.Type)
			}
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", path, truncate(err.Message, 80))
	}
	if !quiet && !verbose {
		fmt.Fprintln(w)
		fmt.Fprintln(w, MutedStyle.Render("Hint: Use --verbose for detailed error information"))
	}
}

// PrintProblems prints semantic check results, errors first.
func PrintProblems(w io.Writer, problems []config.Problem) {
	var errs, warnings []config.Problem
	for _, p := range problems {
		if p.Severity == config.SeverityError {
			errs = append(errs, p)
		} else {
			warnings = append(warnings, p)
		}
	}
	if len(errs) > 0 {
		fmt.Fprintln(w, ErrorStyle.Render("✗ Configuration errors:"))
		for _, p := range errs {
			fmt.Fprintf(w, "  %s: %s\n", p.Field, p.Message)
		}
	}
	if len(warnings) > 0 {
		fmt.Fprintln(w, WarnStyle.Render("⚠ Warnings:"))
		for _, p := range warnings {
			fmt.Fprintf(w, "  %s: %s\n", p.Field, p.Message)
		}
	}
}

// PrintLoadResult prints whatever made a configuration document unusable.
// It returns the matching exit code, or ExitSuccess when result is valid.
func PrintLoadResult(w io.Writer, result *config.Result, verbose, quiet bool) int {
	switch {
	case len(result.ParseErrors) > 0:
		PrintParseErrors(w, result.ParseErrors, verbose)
		return ExitParseError
	case len(result.ValidationErrors) > 0:
		PrintValidationErrors(w, result.ValidationErrors, verbose, quiet)
		return ExitValidationError
	}
	return ExitSuccess
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
