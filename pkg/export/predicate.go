package export

import "strings"

// Filter keeps rows whose Field value is one of Values.
// An empty Values set removes every row.
type Filter struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
	// ApplyAsParameter binds Field+ParamMarker to the first value.
	ApplyAsParameter bool `json:"applyAsParameter,omitempty"`
}

// BoundParameter returns the parameter produced by the filter, if any.
func (f Filter) BoundParameter() (Parameter, bool) {
	if !f.ApplyAsParameter || len(f.Values) == 0 {
		return Parameter{}, false
	}
	return Parameter{Name: f.Field + ParamMarker, Value: f.Values[0]}, true
}

// Comparator is the test applied by a Condition.
type Comparator string

const (
	IsBlank     Comparator = "IsBlank"
	IsNotBlank  Comparator = "IsNotBlank"
	Equals      Comparator = "Equals"
	NotEquals   Comparator = "NotEquals"
	GreaterThan Comparator = "GreaterThan"
	LessThan    Comparator = "LessThan"
	// Expression evaluates Value as a boolean expression over the row.
	Expression Comparator = "Expression"
)

var comparators = []Comparator{IsBlank, IsNotBlank, Equals, NotEquals, GreaterThan, LessThan, Expression}

// ParseComparator accepts names with or without spaces, in any case.
func ParseComparator(s string) (Comparator, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	for _, c := range comparators {
		if strings.ToLower(string(c)) == key {
			return c, true
		}
	}
	return "", false
}

// NeedsValue reports whether the comparator reads Condition.Value.
func (c Comparator) NeedsValue() bool {
	return c != IsBlank && c != IsNotBlank
}

// Condition excludes ExcludeViews from a row when it holds.
type Condition struct {
	Field        string     `json:"field"`
	Comparator   Comparator `json:"comparator"`
	Value        string     `json:"value,omitempty"`
	ExcludeViews []string   `json:"excludeViews"`
}

// ParameterRule sets a render parameter. Value names a column of the row
// or, when no such column exists, is used literally.
type ParameterRule struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Parameter is one resolved name/value override.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Parameters is an ordered set of overrides with unique names.
type Parameters []Parameter

// Get returns the value bound to name.
func (p Parameters) Get(name string) (string, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Value, true
		}
	}
	return "", false
}

// Has reports whether name is bound.
func (p Parameters) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// With returns a copy with name set to value, replacing an existing binding in place.
func (p Parameters) With(name, value string) Parameters {
	out := make(Parameters, len(p), len(p)+1)
	copy(out, p)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Parameter{Name: name, Value: value})
}

// Map returns the parameters as a map.
func (p Parameters) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, param := range p {
		m[param.Name] = param.Value
	}
	return m
}
