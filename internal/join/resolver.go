// Package join rewrites natural-key foreign-key columns into surrogate ids.
// Joins are pure functions: the input table is never mutated, which rules out
// the aliasing bugs that come with rename-and-delete-in-place pipelines.
package join

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bhklab/pharmacodi/internal/registry"
	"github.com/bhklab/pharmacodi/internal/table"
)

// SchemaMismatchError reports a declared foreign-key column absent from the
// table being joined, or a registry keyed on the wrong columns. It signals an
// upstream contract violation and aborts the stage.
type SchemaMismatchError struct {
	Column string
	Detail string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on column %q: %s", e.Column, e.Detail)
}

// Options control a single foreign-key resolution.
type Options struct {
	// DropUnmatched removes rows whose key failed to resolve. When false the
	// rows are kept with an empty-string sentinel in the fk column.
	DropUnmatched bool
	// Normalize, when set, is applied to both failed keys and registry keys
	// for a second resolution attempt against only the missed subset.
	Normalize func(string) string
}

// Report lists the distinct natural-key values that failed to resolve in one
// join, plus how many rows they covered.
type Report struct {
	FKColumn    string
	Keys        []string
	DroppedRows int
}

// Empty reports whether every key resolved.
func (r Report) Empty() bool { return len(r.Keys) == 0 }

// Resolve left-joins t against reg on fkColumn, replacing the natural keys in
// that column with surrogate ids. Row order is preserved; unmatched rows are
// dropped or retained with the sentinel per opts.
func Resolve(t *table.Table, reg *registry.Registry, fkColumn string, opts Options) (*table.Table, Report, error) {
	return ResolveComposite(t, reg, []string{fkColumn}, fkColumn, opts)
}

// ResolveComposite left-joins on a joint key spread over several fk columns,
// writing the resolved id into replaceColumn. The other key columns are left
// untouched for the caller to keep or drop.
func ResolveComposite(t *table.Table, reg *registry.Registry, fkColumns []string, replaceColumn string, opts Options) (*table.Table, Report, error) {
	report := Report{FKColumn: replaceColumn}
	if reg == nil {
		return nil, report, &SchemaMismatchError{Column: replaceColumn, Detail: "no registry supplied"}
	}
	for _, column := range fkColumns {
		if !t.HasColumn(column) {
			return nil, report, &SchemaMismatchError{Column: column, Detail: "column not present in table"}
		}
	}
	if len(fkColumns) != len(reg.KeyColumns()) {
		return nil, report, &SchemaMismatchError{
			Column: replaceColumn,
			Detail: fmt.Sprintf("registry keyed on %d columns, join given %d", len(reg.KeyColumns()), len(fkColumns)),
		}
	}
	replaceIdx := -1
	for i, column := range fkColumns {
		if column == replaceColumn {
			replaceIdx = i
		}
	}
	if replaceIdx < 0 {
		return nil, report, &SchemaMismatchError{Column: replaceColumn, Detail: "replace column is not one of the join columns"}
	}

	keyColumns := make([][]string, len(fkColumns))
	for i, column := range fkColumns {
		values, err := t.Column(column)
		if err != nil {
			return nil, report, err
		}
		keyColumns[i] = values
	}

	resolved := make([]string, t.NumRows())
	matched := make([]bool, t.NumRows())
	key := make([]string, len(fkColumns))
	missed := 0
	for row := 0; row < t.NumRows(); row++ {
		for i := range fkColumns {
			key[i] = keyColumns[i][row]
		}
		if id, ok := reg.Lookup(key...); ok {
			resolved[row] = id
			matched[row] = true
		} else {
			missed++
		}
	}

	// Fallback pass: retry only the missed subset with normalized keys
	// against a normalized registry. This recovers identifiers referenced
	// both with and without a version suffix.
	if missed > 0 && opts.Normalize != nil {
		normalized := reg.Normalized(opts.Normalize)
		for row := 0; row < t.NumRows(); row++ {
			if matched[row] {
				continue
			}
			for i := range fkColumns {
				key[i] = opts.Normalize(keyColumns[i][row])
			}
			if id, ok := normalized.Lookup(key...); ok {
				resolved[row] = id
				matched[row] = true
			}
		}
	}

	unmatched := make(map[string]bool)
	out := table.New(t.Columns()...)
	replaceTableIdx := -1
	for i, name := range t.Columns() {
		if name == replaceColumn {
			replaceTableIdx = i
		}
	}
	for row := 0; row < t.NumRows(); row++ {
		if !matched[row] {
			unmatched[keyColumns[replaceIdx][row]] = true
			if opts.DropUnmatched {
				report.DroppedRows++
				continue
			}
		}
		newRow := t.Row(row)
		newRow[replaceTableIdx] = resolved[row]
		out.Append(newRow...)
	}

	report.Keys = make([]string, 0, len(unmatched))
	for key := range unmatched {
		report.Keys = append(report.Keys, key)
	}
	sort.Strings(report.Keys)
	return out, report, nil
}

// StripGeneVersion removes a trailing ".<digits>" version suffix from an
// identifier, so ENSG00000000001.14 matches ENSG00000000001.
func StripGeneVersion(id string) string {
	dot := strings.LastIndexByte(id, '.')
	if dot < 0 || dot == len(id)-1 {
		return id
	}
	for _, r := range id[dot+1:] {
		if r < '0' || r > '9' {
			return id
		}
	}
	return id[:dot]
}

// NormalizeTissueName collapses case, whitespace and punctuation so tissue
// labels that differ only in formatting ("Lymphoid Tissue" vs
// "lymphoid_tissue") resolve to the same registry entry.
func NormalizeTissueName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
