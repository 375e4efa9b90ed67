package filter

import (
	"errors"
	"testing"

	"github.com/canectors/viewexport/pkg/export"
)

func TestCompare(t *testing.T) {
	na := export.NAValue()
	tests := []struct {
		name       string
		actual     export.Value
		comparator export.Comparator
		expected   string
		want       bool
	}{
		{"blank NA", na, export.IsBlank, "", true},
		{"blank whitespace", text("   "), export.IsBlank, "", true},
		{"blank zero is not blank", text("0"), export.IsBlank, "", false},
		{"not blank text", text("x"), export.IsNotBlank, "", true},
		{"not blank NA", na, export.IsNotBlank, "", false},

		{"equals numeric", text("10.0"), export.Equals, "10", true},
		{"equals numeric padded", text(" 7 "), export.Equals, "7.00", true},
		{"equals text case-insensitive", text(" eu "), export.Equals, "EU", true},
		{"equals text mismatch", text("US"), export.Equals, "EU", false},
		{"equals mixed falls back to text", text("10"), export.Equals, "ten", false},
		{"equals blank actual vs value", na, export.Equals, "EU", false},
		{"equals blank actual vs blank", na, export.Equals, " ", true},
		{"equals empty text vs blank", text(""), export.Equals, "", true},
		{"not equals numeric", text("3"), export.NotEquals, "4", true},
		{"not equals same text", text("Eu"), export.NotEquals, "eu", false},
		{"not equals blank actual", na, export.NotEquals, "EU", true},

		{"greater numeric", text("12.5"), export.GreaterThan, "12", true},
		{"greater equal is false", text("12"), export.GreaterThan, "12", false},
		{"greater unparsable actual", text("n/a"), export.GreaterThan, "1", false},
		{"greater unparsable value", text("5"), export.GreaterThan, "one", false},
		{"greater NA", na, export.GreaterThan, "1", false},
		{"less numeric", text("-3"), export.LessThan, "0", true},
		{"less text never compares", text("a"), export.LessThan, "b", false},
		{"unknown comparator", text("a"), export.Comparator("Contains"), "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.actual, tt.comparator, tt.expected); got != tt.want {
				t.Errorf("Compare(%+v, %s, %q) = %v, want %v", tt.actual, tt.comparator, tt.expected, got, tt.want)
			}
		})
	}
}

func TestCompare_Complements(t *testing.T) {
	values := []export.Value{export.NAValue(), text(""), text(" "), text("0"), text("EU"), text("3.5"), text("  x ")}
	expected := []string{"", "EU", "eu", "3.50", "0", "x"}

	for _, v := range values {
		if Compare(v, export.IsBlank, "") == Compare(v, export.IsNotBlank, "") {
			t.Errorf("IsBlank and IsNotBlank agree for %+v", v)
		}
		for _, e := range expected {
			if Compare(v, export.Equals, e) == Compare(v, export.NotEquals, e) {
				t.Errorf("Equals and NotEquals agree for %+v vs %q", v, e)
			}
		}
	}
}

func TestEvaluator_ExcludedViews(t *testing.T) {
	ds := sampleDataset()
	conditions := []export.Condition{
		{Field: "Region", Comparator: export.Equals, Value: "EU", ExcludeViews: []string{"X"}},
		{Field: "Amount", Comparator: export.GreaterThan, Value: "25", ExcludeViews: []string{"Y", "Z"}},
		{Field: "Region", Comparator: export.IsBlank, ExcludeViews: []string{"Map"}},
		{Field: "Missing", Comparator: export.IsBlank, ExcludeViews: []string{"Never"}},
	}
	e := NewEvaluator(conditions, []string{"Cover"})

	tests := []struct {
		row  int
		want []string
	}{
		{0, []string{"Cover", "X"}},
		{1, []string{"Cover"}},
		{2, []string{"Cover", "Y", "Z"}},
		{3, []string{"Cover", "X"}},
		{4, []string{"Cover", "Map", "Y", "Z"}},
	}
	for _, tt := range tests {
		got := e.ExcludedViews(ds.Rows[tt.row]).Sorted()
		if len(got) != len(tt.want) {
			t.Errorf("row %d: excluded = %v, want %v", tt.row, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("row %d: excluded = %v, want %v", tt.row, got, tt.want)
				break
			}
		}
	}
}

func TestEvaluator_GlobalExclusionsAlwaysIncluded(t *testing.T) {
	global := []string{"Cover", "Appendix"}
	configs := [][]export.Condition{
		nil,
		{{Field: "Region", Comparator: export.NotEquals, Value: "EU", ExcludeViews: []string{"X"}}},
		{{Field: "Status", Comparator: export.IsNotBlank, ExcludeViews: []string{"Cover"}}},
		{{Field: "Nope", Comparator: export.Equals, Value: "1", ExcludeViews: []string{"Y"}}},
	}
	for ci, conds := range configs {
		e := NewEvaluator(conds, global)
		for _, row := range sampleDataset().Rows {
			excluded := e.ExcludedViews(row)
			for _, g := range global {
				if !excluded.Has(g) {
					t.Errorf("config %d row %d: global exclusion %q missing", ci, row.Index, g)
				}
			}
		}
	}
}

func TestEvaluator_Expression(t *testing.T) {
	ds := sampleDataset()
	e := NewEvaluator([]export.Condition{
		{Comparator: export.Expression, Value: `Status == "Active" && Amount >= 20`, ExcludeViews: []string{"Big"}},
		{Comparator: export.Expression, Value: `row["Region"] == nil`, ExcludeViews: []string{"NoRegion"}},
	}, nil)

	if got := e.ExcludedViews(ds.Rows[2]); !got.Has("Big") {
		t.Errorf("row 2 excluded = %v, want Big", got.Sorted())
	}
	if got := e.ExcludedViews(ds.Rows[0]); got.Has("Big") {
		t.Errorf("row 0 excluded = %v, want no Big", got.Sorted())
	}
	if got := e.ExcludedViews(ds.Rows[4]); !got.Has("NoRegion") {
		t.Errorf("row 4 excluded = %v, want NoRegion", got.Sorted())
	}
}

func TestNewEvaluator_Problems(t *testing.T) {
	e := NewEvaluator([]export.Condition{
		{Field: "Amount", Comparator: export.GreaterThan, ExcludeViews: []string{"A"}},
		{Comparator: export.Expression, Value: "Amount >", ExcludeViews: []string{"B"}},
		{Field: "Amount", Comparator: export.Comparator("Like"), Value: "1"},
		{Field: "Region", Comparator: export.Equals, Value: "", ExcludeViews: []string{"C"}},
	}, nil)

	problems := e.Problems()
	if len(problems) != 3 {
		t.Fatalf("Problems() = %v, want 3", problems)
	}
	if !errors.Is(problems[0], ErrMissingValue) {
		t.Errorf("problem 0 = %v, want ErrMissingValue", problems[0])
	}
	if !errors.Is(problems[1], ErrInvalidExpression) {
		t.Errorf("problem 1 = %v, want ErrInvalidExpression", problems[1])
	}
	if !errors.Is(problems[2], ErrUnknownComparator) {
		t.Errorf("problem 2 = %v, want ErrUnknownComparator", problems[2])
	}

	// the blank-equals condition stays usable and matches the NA region
	if got := e.ExcludedViews(sampleDataset().Rows[4]); !got.Has("C") {
		t.Errorf("excluded = %v, want C", got.Sorted())
	}
}
