package filter

import (
	"log/slog"
	"strings"

	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/pkg/export"
)

// ResolveParameters computes the render parameters for a row.
//
// Filters with ApplyAsParameter bind Field+"Param" to their first value.
// Explicit rules follow; a rule whose name a filter already bound is skipped,
// whatever its position. A rule value naming a column of the row is replaced
// by that cell (NA gives ""), any other value is used as written. A literal
// that happens to equal a column name is therefore read from the row.
//
// row is nil in fixed-list mode, where every rule value is literal.
func ResolveParameters(row *export.Row, filters []export.Filter, rules []export.ParameterRule) export.Parameters {
	params := export.Parameters{}
	bound := make(map[string]struct{})

	for _, f := range filters {
		p, ok := f.BoundParameter()
		if !ok {
			continue
		}
		params = params.With(p.Name, p.Value)
		bound[p.Name] = struct{}{}
	}

	for _, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			logger.Warn("parameter rule without a name skipped")
			continue
		}
		if _, ok := bound[name]; ok {
			logger.Warn("parameter already set by a filter; explicit rule skipped",
				slog.String("parameter", name),
			)
			continue
		}
		params = params.With(name, resolveValue(row, rule.Value))
	}
	return params
}

func resolveValue(row *export.Row, source string) string {
	if row == nil {
		return source
	}
	if v, ok := row.Get(source); ok {
		return v.String()
	}
	return source
}

// ApplyViewFilter adds the row's value of field as a view filter unless a
// parameter with that name already exists.
func ApplyViewFilter(params export.Parameters, row export.Row, field string) export.Parameters {
	field = strings.TrimSpace(field)
	if field == "" || params.Has(field) {
		return params
	}
	v, ok := row.Get(field)
	if !ok {
		logger.Warn("view filter column not found in row",
			slog.Int("row_index", row.Index),
			slog.String("field", field),
		)
		return params
	}
	return params.With(field, v.String())
}
