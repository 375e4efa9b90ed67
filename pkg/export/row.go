package export

import "strings"

// Value is one dataset cell. NA is distinct from the empty string.
type Value struct {
	Text string
	NA   bool
}

// NAValue returns a missing cell.
func NAValue() Value { return Value{NA: true} }

// TextValue returns a present cell.
func TextValue(s string) Value { return Value{Text: s} }

// String returns the cell text, empty for NA.
func (v Value) String() string {
	if v.NA {
		return ""
	}
	return v.Text
}

// IsBlank reports whether the cell is NA or only whitespace.
func (v Value) IsBlank() bool {
	return v.NA || strings.TrimSpace(v.Text) == ""
}

// Row is an immutable, ordered mapping of column name to cell.
type Row struct {
	// Index is the 0-based position of the row in its dataset.
	Index   int
	columns []string
	cells   map[string]Value
}

// NewRow builds a row. Missing trailing values are NA.
func NewRow(index int, columns []string, values []Value) Row {
	cols := make([]string, len(columns))
	copy(cols, columns)
	cells := make(map[string]Value, len(cols))
	for i, col := range cols {
		v := NAValue()
		if i < len(values) {
			v = values[i]
		}
		cells[col] = v
	}
	return Row{Index: index, columns: cols, cells: cells}
}

// Get returns the cell for col; ok is false when the column does not exist.
func (r Row) Get(col string) (Value, bool) {
	v, ok := r.cells[col]
	return v, ok
}

// Has reports whether col is a column of the row.
func (r Row) Has(col string) bool {
	_, ok := r.cells[col]
	return ok
}

// Columns returns the column names in dataset order.
func (r Row) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Dataset is an ordered sequence of rows sharing one header.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// HasColumn reports whether col is part of the header.
func (d *Dataset) HasColumn(col string) bool {
	for _, c := range d.Columns {
		if c == col {
			return true
		}
	}
	return false
}
