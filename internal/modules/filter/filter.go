// Package filter evaluates dataset rows against the run's predicate rules:
// inclusion filters, exclusion conditions and render parameter overrides.
package filter

import (
	"log/slog"
	"sort"

	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/pkg/export"
)

// ApplyFilters keeps the rows whose value for every filter field is one of
// the filter's values. Filters run in declaration order.
//
// A filter on a column the dataset does not have is logged and skipped.
// A filter with no values removes every row.
func ApplyFilters(ds *export.Dataset, filters []export.Filter) []export.Row {
	rows := ds.Rows
	for i, f := range filters {
		if !ds.HasColumn(f.Field) {
			logger.Warn("filter column not found in dataset; filter skipped",
				slog.Int("filter_index", i),
				slog.String("field", f.Field),
			)
			continue
		}
		if len(f.Values) == 0 {
			logger.Warn("filter has no accepted values; every row is excluded",
				slog.Int("filter_index", i),
				slog.String("field", f.Field),
			)
			return []export.Row{}
		}

		accepted := make(map[string]struct{}, len(f.Values))
		for _, v := range f.Values {
			accepted[v] = struct{}{}
		}

		kept := make([]export.Row, 0, len(rows))
		for _, row := range rows {
			v, _ := row.Get(f.Field)
			if _, ok := accepted[v.String()]; ok {
				kept = append(kept, row)
			}
		}
		logger.Debug("filter applied",
			slog.String("field", f.Field),
			slog.Int("rows_before", len(rows)),
			slog.Int("rows_after", len(kept)),
		)
		rows = kept
		if len(rows) == 0 {
			return rows
		}
	}
	return rows
}

// ViewSet is a set of view names.
type ViewSet map[string]struct{}

// NewViewSet builds a set from names.
func NewViewSet(names ...string) ViewSet {
	s := make(ViewSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s ViewSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts names.
func (s ViewSet) Add(names ...string) {
	for _, n := range names {
		s[n] = struct{}{}
	}
}

// Sorted returns the names in lexical order.
func (s ViewSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SurvivingViews returns the views not in excluded, in their original order.
func SurvivingViews(views []export.View, excluded ViewSet) []export.View {
	out := make([]export.View, 0, len(views))
	for _, v := range views {
		if !excluded.Has(v.Name) {
			out = append(out, v)
		}
	}
	return out
}
