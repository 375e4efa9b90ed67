package config

import (
	"fmt"
	"strings"

	"github.com/canectors/viewexport/internal/modules/filter"
	"github.com/canectors/viewexport/pkg/export"
)

// Severity grades a Problem.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Problem is a semantic issue found in a converted configuration.
type Problem struct {
	Severity Severity
	// Field locates the setting, e.g. "conditions[1].value".
	Field   string
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s: %s", p.Severity, p.Field, p.Message)
}

// HasErrors reports whether any problem is an error.
func HasErrors(problems []Problem) bool {
	for _, p := range problems {
		if p.Severity == SeverityError {
			return true
		}
	}
	return false
}

// MaxRetryAttempts bounds retry.maxAttempts.
const MaxRetryAttempts = 10

// CheckConfig reports problems the schema cannot express. When columns is
// non-nil, row-driven column references are checked against it.
func CheckConfig(cfg *export.Config, columns []string) []Problem {
	c := &checker{}

	c.required("server.url", cfg.Server.URL)
	c.required("server.tokenName", cfg.Server.TokenName)
	c.required("workbook", cfg.Workbook)
	c.required("outputDir", cfg.OutputDir)
	if cfg.Server.TokenSecret == "" {
		c.warn("server.tokenSecret", "no token secret; set tokenSecret, tokenSecretEnv or %s", DefaultSecretEnv)
	}

	switch cfg.Mode {
	case export.ModeRowDriven:
		if strings.TrimSpace(cfg.Source.Type) == "" {
			c.fail("source.type", "row-driven mode needs a data source")
		}
	case export.ModeFixedList:
	default:
		c.fail("mode", "unknown mode %q", cfg.Mode)
	}

	if cfg.Format != export.FormatPDF && cfg.Format != export.FormatImage {
		c.fail("format", "unknown format %q", cfg.Format)
	}
	if cfg.Merge && cfg.Format == export.FormatImage {
		c.warn("merge", "merging applies to PDF exports only and is ignored")
	}
	if len(cfg.OrganizeBy) > 2 {
		c.fail("organizeBy", "at most two columns, got %d", len(cfg.OrganizeBy))
	}
	if cfg.Retry.MaxAttempts < 0 || cfg.Retry.MaxAttempts > MaxRetryAttempts {
		c.fail("retry.maxAttempts", "must be between 1 and %d", MaxRetryAttempts)
	}
	if cfg.Retry.DelayMs < 0 {
		c.fail("retry.delayMs", "must not be negative")
	}

	for i, f := range cfg.Filters {
		field := fmt.Sprintf("filters[%d]", i)
		if strings.TrimSpace(f.Field) == "" {
			c.fail(field+".field", "is required")
		}
		if len(f.Values) == 0 {
			c.warn(field+".values", "no values selected; every row is removed")
		}
	}

	for i, cond := range cfg.Conditions {
		field := fmt.Sprintf("conditions[%d]", i)
		if err := filter.ValidateCondition(cond); err != nil {
			c.fail(field, "%v", err)
		}
		if cond.Comparator != export.Expression && strings.TrimSpace(cond.Field) == "" {
			c.fail(field+".field", "is required for %s", cond.Comparator)
		}
		if len(cond.ExcludeViews) == 0 {
			c.warn(field+".excludeViews", "no views listed; the condition has no effect")
		}
	}

	seen := map[string]bool{}
	for i, p := range cfg.Parameters {
		if seen[p.Name] {
			c.warn(fmt.Sprintf("parameters[%d].name", i), "duplicate parameter %q; the last rule wins", p.Name)
		}
		seen[p.Name] = true
	}

	if columns != nil && cfg.Mode == export.ModeRowDriven {
		c.columns(cfg, columns)
	}
	return c.problems
}

type checker struct {
	problems []Problem
}

func (c *checker) fail(field, format string, args ...interface{}) {
	c.problems = append(c.problems, Problem{Severity: SeverityError, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) warn(field, format string, args ...interface{}) {
	c.problems = append(c.problems, Problem{Severity: SeverityWarning, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		c.fail(field, "is required")
	}
}

func (c *checker) columns(cfg *export.Config, columns []string) {
	known := make(map[string]bool, len(columns))
	for _, col := range columns {
		known[col] = true
	}
	check := func(field, col string) {
		if col != "" && !known[col] {
			c.fail(field, "unknown column %q", col)
		}
	}

	for i, f := range cfg.Filters {
		check(fmt.Sprintf("filters[%d].field", i), f.Field)
	}
	for i, cond := range cfg.Conditions {
		if cond.Comparator != export.Expression {
			check(fmt.Sprintf("conditions[%d].field", i), cond.Field)
		}
	}
	for i, col := range cfg.OrganizeColumns() {
		check(fmt.Sprintf("organizeBy[%d]", i), col)
	}
	check("naming", cfg.NamingColumn())
	check("viewFilterField", cfg.ViewFilterField)
}
