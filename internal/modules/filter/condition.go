package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/pkg/export"
)

// Common errors for condition rules
var (
	// ErrMissingValue is returned when a value comparator has no value.
	ErrMissingValue = errors.New("condition value is required for this comparator")
	// ErrInvalidExpression is returned when an Expression condition does not compile
	ErrInvalidExpression = errors.New("invalid expression syntax")
	// ErrUnknownComparator is returned for comparators outside the supported set
	ErrUnknownComparator = errors.New("unknown comparator")
)

// ConditionError describes a condition rule that cannot be used.
type ConditionError struct {
	Index int
	Field string
	Err   error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %d (%s): %v", e.Index, e.Field, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

type compiledCondition struct {
	export.Condition
	program *vm.Program
}

// Evaluator computes the views excluded for a row: the global exclusions
// plus the excluded views of every condition that holds for the row.
type Evaluator struct {
	global     []string
	conditions []compiledCondition
	problems   []error
}

// NewEvaluator prepares conditions once per run. Unusable conditions are
// logged, reported by Problems and never evaluated.
func NewEvaluator(conditions []export.Condition, globalExclusions []string) *Evaluator {
	e := &Evaluator{global: append([]string(nil), globalExclusions...)}
	for i, c := range conditions {
		cc, err := compileCondition(c)
		if err != nil {
			condErr := &ConditionError{Index: i, Field: c.Field, Err: err}
			logger.Warn("condition rule skipped", slog.String("error", condErr.Error()))
			e.problems = append(e.problems, condErr)
			continue
		}
		e.conditions = append(e.conditions, cc)
	}
	return e
}

// ValidateCondition reports why a condition cannot be evaluated, or nil.
func ValidateCondition(c export.Condition) error {
	_, err := compileCondition(c)
	return err
}

func compileCondition(c export.Condition) (compiledCondition, error) {
	cc := compiledCondition{Condition: c}
	switch c.Comparator {
	case export.IsBlank, export.IsNotBlank:
		return cc, nil
	case export.Equals, export.NotEquals:
		// a blank value matches blank cells
		return cc, nil
	case export.GreaterThan, export.LessThan:
		if strings.TrimSpace(c.Value) == "" {
			return cc, ErrMissingValue
		}
		return cc, nil
	case export.Expression:
		if strings.TrimSpace(c.Value) == "" {
			return cc, ErrMissingValue
		}
		program, err := expr.Compile(c.Value, expr.AllowUndefinedVariables())
		if err != nil {
			return cc, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
		}
		cc.program = program
		return cc, nil
	default:
		return cc, fmt.Errorf("%w: %q", ErrUnknownComparator, c.Comparator)
	}
}

// Problems returns the conditions rejected by NewEvaluator.
func (e *Evaluator) Problems() []error {
	return e.problems
}

// ExcludedViews returns the global exclusions united with the excluded
// views of every condition met by row.
func (e *Evaluator) ExcludedViews(row export.Row) ViewSet {
	excluded := NewViewSet(e.global...)
	for _, c := range e.conditions {
		if e.met(row, c) {
			excluded.Add(c.ExcludeViews...)
		}
	}
	return excluded
}

func (e *Evaluator) met(row export.Row, c compiledCondition) bool {
	if c.Comparator == export.Expression {
		return evaluateExpression(row, c)
	}
	actual, ok := row.Get(c.Field)
	if !ok {
		logger.Debug("condition column not in row; condition is false",
			slog.Int("row_index", row.Index),
			slog.String("field", c.Field),
		)
		return false
	}
	return Compare(actual, c.Comparator, c.Value)
}

// EvaluateConditions returns the excluded views for row without a prepared evaluator.
func EvaluateConditions(row export.Row, conditions []export.Condition, globalExclusions []string) ViewSet {
	return NewEvaluator(conditions, globalExclusions).ExcludedViews(row)
}

// Compare applies a value comparator to one cell.
//
//   - IsBlank/IsNotBlank: NA or whitespace-only text is blank.
//   - Equals/NotEquals: numeric when both sides parse, otherwise trimmed
//     case-insensitive text. A blank cell only equals a blank value.
//   - GreaterThan/LessThan: numeric only; false when either side does not parse.
func Compare(actual export.Value, comparator export.Comparator, expected string) bool {
	switch comparator {
	case export.IsBlank:
		return actual.IsBlank()
	case export.IsNotBlank:
		return !actual.IsBlank()
	case export.Equals:
		return valuesEqual(actual, expected)
	case export.NotEquals:
		return !valuesEqual(actual, expected)
	case export.GreaterThan, export.LessThan:
		if actual.IsBlank() {
			return false
		}
		a, ok := parseNumber(actual.Text)
		if !ok {
			return false
		}
		b, ok := parseNumber(expected)
		if !ok {
			return false
		}
		if comparator == export.GreaterThan {
			return a > b
		}
		return a < b
	default:
		return false
	}
}

func valuesEqual(actual export.Value, expected string) bool {
	if actual.IsBlank() {
		return strings.TrimSpace(expected) == ""
	}
	if a, ok := parseNumber(actual.Text); ok {
		if b, ok := parseNumber(expected); ok {
			return a == b
		}
	}
	return strings.EqualFold(strings.TrimSpace(actual.Text), strings.TrimSpace(expected))
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// expressionEnv exposes each column by name and the whole row as "row".
// Numeric cells are float64, NA cells nil, others strings.
func expressionEnv(row export.Row) map[string]interface{} {
	cells := make(map[string]interface{})
	for _, col := range row.Columns() {
		v, _ := row.Get(col)
		switch {
		case v.NA:
			cells[col] = nil
		default:
			if f, ok := parseNumber(v.Text); ok {
				cells[col] = f
			} else {
				cells[col] = v.Text
			}
		}
	}
	env := make(map[string]interface{}, len(cells)+1)
	for k, v := range cells {
		env[k] = v
	}
	env["row"] = cells
	return env
}

func evaluateExpression(row export.Row, c compiledCondition) bool {
	output, err := expr.Run(c.program, expressionEnv(row))
	if err != nil {
		logger.Warn("condition expression failed; treated as false",
			slog.Int("row_index", row.Index),
			slog.String("expression", c.Value),
			slog.String("error", err.Error()),
		)
		return false
	}
	return toBool(output)
}

// toBool converts an expression result to boolean.
func toBool(value interface{}) bool {
	if value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}
