// Package table implements the column-labelled, string-valued table model the
// pipeline is built on. A missing value is the empty string; the model is
// format-agnostic and knows nothing about where a table was loaded from.
package table

import (
	"fmt"
	"sort"
	"strings"
)

// KeySep separates cell values wherever rows or multi-column keys are
// collapsed into a single string key. It must never occur in source data.
const KeySep = "\x1f"

// Table is an ordered collection of named columns over string-valued cells.
// All mutating operations return a new Table; shared row slices are never
// written through.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// New creates an empty table with the given column order.
func New(columns ...string) *Table {
	t := &Table{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, name := range columns {
		t.index[name] = i
	}
	return t
}

// FromRows creates a table from a header and pre-shaped rows. Rows shorter
// than the header are padded with nulls, longer ones truncated.
func FromRows(columns []string, rows [][]string) *Table {
	t := New(columns...)
	for _, row := range rows {
		t.appendRow(row)
	}
	return t
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.rows) }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.columns) }

// HasColumn reports whether the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns a copy of the named column's values.
func (t *Table) Column(name string) ([]string, error) {
	idx, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("table has no column %q", name)
	}
	values := make([]string, len(t.rows))
	for i, row := range t.rows {
		values[i] = row[idx]
	}
	return values, nil
}

// Cell returns the value at (row, column name).
func (t *Table) Cell(row int, name string) (string, error) {
	idx, ok := t.index[name]
	if !ok {
		return "", fmt.Errorf("table has no column %q", name)
	}
	if row < 0 || row >= len(t.rows) {
		return "", fmt.Errorf("row %d out of range (%d rows)", row, len(t.rows))
	}
	return t.rows[row][idx], nil
}

// Row returns a copy of the row at the given index.
func (t *Table) Row(i int) []string {
	return append([]string(nil), t.rows[i]...)
}

func (t *Table) appendRow(row []string) {
	shaped := make([]string, len(t.columns))
	copy(shaped, row)
	t.rows = append(t.rows, shaped)
}

// Append adds a row, padding or truncating it to the table's width. It is the
// only in-place mutation and is intended for table construction, not for
// tables already handed to other components.
func (t *Table) Append(row ...string) {
	t.appendRow(row)
}

// Select returns a new table holding only the given columns, in the given
// order.
func (t *Table) Select(columns ...string) (*Table, error) {
	indices := make([]int, len(columns))
	for i, name := range columns {
		idx, ok := t.index[name]
		if !ok {
			return nil, fmt.Errorf("table has no column %q", name)
		}
		indices[i] = idx
	}
	out := New(columns...)
	for _, row := range t.rows {
		selected := make([]string, len(indices))
		for i, idx := range indices {
			selected[i] = row[idx]
		}
		out.rows = append(out.rows, selected)
	}
	return out, nil
}

// Rename returns a new table with one column renamed.
func (t *Table) Rename(from, to string) (*Table, error) {
	idx, ok := t.index[from]
	if !ok {
		return nil, fmt.Errorf("table has no column %q", from)
	}
	if _, exists := t.index[to]; exists && to != from {
		return nil, fmt.Errorf("table already has a column %q", to)
	}
	columns := append([]string(nil), t.columns...)
	columns[idx] = to
	out := New(columns...)
	out.rows = t.rows
	return out, nil
}

// Drop returns a new table without the given columns. Dropping a column the
// table does not have is not an error.
func (t *Table) Drop(columns ...string) *Table {
	dropped := make(map[string]bool, len(columns))
	for _, name := range columns {
		dropped[name] = true
	}
	var kept []string
	for _, name := range t.columns {
		if !dropped[name] {
			kept = append(kept, name)
		}
	}
	out, _ := t.Select(kept...)
	return out
}

// Prepend returns a new table with an extra leading column.
func (t *Table) Prepend(name string, values []string) (*Table, error) {
	if _, exists := t.index[name]; exists {
		return nil, fmt.Errorf("table already has a column %q", name)
	}
	if len(values) != len(t.rows) {
		return nil, fmt.Errorf("column %q has %d values for %d rows", name, len(values), len(t.rows))
	}
	out := New(append([]string{name}, t.columns...)...)
	for i, row := range t.rows {
		out.rows = append(out.rows, append([]string{values[i]}, row...))
	}
	return out, nil
}

// WithColumn returns a new table with an extra trailing column. A single
// value is broadcast to every row.
func (t *Table) WithColumn(name string, values []string) (*Table, error) {
	if _, exists := t.index[name]; exists {
		return nil, fmt.Errorf("table already has a column %q", name)
	}
	if len(values) == 1 && len(t.rows) != 1 {
		broadcast := make([]string, len(t.rows))
		for i := range broadcast {
			broadcast[i] = values[0]
		}
		values = broadcast
	}
	if len(values) != len(t.rows) {
		return nil, fmt.Errorf("column %q has %d values for %d rows", name, len(values), len(t.rows))
	}
	columns := append(append([]string(nil), t.columns...), name)
	out := New(columns...)
	for i, row := range t.rows {
		out.rows = append(out.rows, append(append([]string(nil), row...), values[i]))
	}
	return out, nil
}

// Sort returns a new table with rows ordered lexicographically by the given
// columns. The sort is stable so that id assignment after sorting is
// deterministic across runs.
func (t *Table) Sort(columns ...string) (*Table, error) {
	indices := make([]int, len(columns))
	for i, name := range columns {
		idx, ok := t.index[name]
		if !ok {
			return nil, fmt.Errorf("table has no column %q", name)
		}
		indices[i] = idx
	}
	out := New(t.columns...)
	out.rows = append([][]string(nil), t.rows...)
	sort.SliceStable(out.rows, func(a, b int) bool {
		for _, idx := range indices {
			if out.rows[a][idx] != out.rows[b][idx] {
				return out.rows[a][idx] < out.rows[b][idx]
			}
		}
		return false
	})
	return out, nil
}

// Deduplicate returns a new table with exact duplicate rows collapsed to the
// first occurrence. Applying it twice yields the same table as applying it
// once.
func (t *Table) Deduplicate() *Table {
	out := New(t.columns...)
	seen := make(map[string]bool, len(t.rows))
	for _, row := range t.rows {
		key := strings.Join(row, KeySep)
		if seen[key] {
			continue
		}
		seen[key] = true
		out.rows = append(out.rows, row)
	}
	return out
}

// Concat concatenates tables. The receiver's column order is preserved;
// columns seen only in later tables are appended in first-seen order and
// back-filled with nulls everywhere they are absent.
func (t *Table) Concat(others ...*Table) *Table {
	columns := append([]string(nil), t.columns...)
	known := make(map[string]bool, len(columns))
	for _, name := range columns {
		known[name] = true
	}
	for _, other := range others {
		for _, name := range other.columns {
			if !known[name] {
				known[name] = true
				columns = append(columns, name)
			}
		}
	}
	out := New(columns...)
	appendAll := func(src *Table) {
		for _, row := range src.rows {
			shaped := make([]string, len(columns))
			for i, name := range columns {
				if idx, ok := src.index[name]; ok {
					shaped[i] = row[idx]
				}
			}
			out.rows = append(out.rows, shaped)
		}
	}
	appendAll(t)
	for _, other := range others {
		appendAll(other)
	}
	return out
}

// Equal reports whether two tables have identical columns and rows in
// identical order.
func (t *Table) Equal(other *Table) bool {
	if len(t.columns) != len(other.columns) || len(t.rows) != len(other.rows) {
		return false
	}
	for i := range t.columns {
		if t.columns[i] != other.columns[i] {
			return false
		}
	}
	for i := range t.rows {
		for j := range t.rows[i] {
			if t.rows[i][j] != other.rows[i][j] {
				return false
			}
		}
	}
	return true
}

// MapColumn returns a new table with fn applied to every value of one column.
func (t *Table) MapColumn(name string, fn func(string) string) (*Table, error) {
	idx, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("table has no column %q", name)
	}
	out := New(t.columns...)
	for _, row := range t.rows {
		mapped := append([]string(nil), row...)
		mapped[idx] = fn(row[idx])
		out.rows = append(out.rows, mapped)
	}
	return out, nil
}

// Filter returns a new table holding only rows for which keep returns true.
func (t *Table) Filter(keep func(row []string) bool) *Table {
	out := New(t.columns...)
	for _, row := range t.rows {
		if keep(row) {
			out.rows = append(out.rows, row)
		}
	}
	return out
}

// columnIndex is used by sibling files in this package.
func (t *Table) columnIndex(name string) (int, bool) {
	idx, ok := t.index[name]
	return idx, ok
}
