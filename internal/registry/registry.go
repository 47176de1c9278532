// Package registry builds natural-key to surrogate-id lookups from keyed
// primary tables. A registry is immutable once built; the orchestrator owns
// an append-only Map of them and hands stages a read-only View.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bhklab/pharmacodi/internal/table"
)

const keySep = table.KeySep

// DuplicateKeyError reports a natural key that appears more than once in a
// primary table after deduplication. This means upstream table construction
// is broken, so it is fatal rather than recoverable.
type DuplicateKeyError struct {
	Column string
	Value  string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate natural key %q in column %q", e.Value, e.Column)
}

// SchemaError reports a required column missing from the source table.
type SchemaError struct {
	Table  string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %q is missing column %q", e.Table, e.Column)
}

// Registry maps natural keys of one primary table to its surrogate ids. The
// key column is exposed under the foreign-key column name that dependent
// tables use (e.g. tissue "name" becomes "tissue_id").
type Registry struct {
	fkColumn   string
	keyColumns []string
	ids        map[string]string
}

// Build creates a registry from a primary table carrying an "id" column and
// the given natural-key column.
func Build(t *table.Table, keyColumn, fkColumn string) (*Registry, error) {
	return BuildComposite(t, []string{keyColumn}, fkColumn)
}

// BuildComposite creates a registry keyed jointly on several columns. The
// experiment registry needs this because experiment names are only unique
// within one dataset.
func BuildComposite(t *table.Table, keyColumns []string, fkColumn string) (*Registry, error) {
	if !t.HasColumn("id") {
		return nil, &SchemaError{Table: fkColumn, Column: "id"}
	}
	for _, column := range keyColumns {
		if !t.HasColumn(column) {
			return nil, &SchemaError{Table: fkColumn, Column: column}
		}
	}
	ids, err := t.Column("id")
	if err != nil {
		return nil, err
	}
	keyValues := make([][]string, len(keyColumns))
	for i, column := range keyColumns {
		if keyValues[i], err = t.Column(column); err != nil {
			return nil, err
		}
	}
	r := &Registry{
		fkColumn:   fkColumn,
		keyColumns: append([]string(nil), keyColumns...),
		ids:        make(map[string]string, t.NumRows()),
	}
	parts := make([]string, len(keyColumns))
	for row := 0; row < t.NumRows(); row++ {
		for i := range keyColumns {
			parts[i] = keyValues[i][row]
		}
		key := strings.Join(parts, keySep)
		if _, exists := r.ids[key]; exists {
			return nil, &DuplicateKeyError{Column: strings.Join(keyColumns, ","), Value: strings.Join(parts, ",")}
		}
		r.ids[key] = ids[row]
	}
	return r, nil
}

// FKColumn returns the foreign-key column name dependent tables use.
func (r *Registry) FKColumn() string { return r.fkColumn }

// KeyColumns returns the natural-key column names the registry is keyed on.
func (r *Registry) KeyColumns() []string {
	return append([]string(nil), r.keyColumns...)
}

// Len returns the number of keys in the registry.
func (r *Registry) Len() int { return len(r.ids) }

// Lookup resolves a natural key (one value per key column) to a surrogate id.
func (r *Registry) Lookup(key ...string) (string, bool) {
	id, ok := r.ids[strings.Join(key, keySep)]
	return id, ok
}

// Normalized derives a registry whose keys have been passed through fn.
// When two original keys collapse to the same normalized key the first wins
// deterministically (iteration is ordered), which is adequate for a fallback
// lookup: any id a normalized key resolves to is a valid id.
func (r *Registry) Normalized(fn func(string) string) *Registry {
	keys := make([]string, 0, len(r.ids))
	for key := range r.ids {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := &Registry{
		fkColumn:   r.fkColumn,
		keyColumns: append([]string(nil), r.keyColumns...),
		ids:        make(map[string]string, len(r.ids)),
	}
	for _, key := range keys {
		parts := strings.Split(key, keySep)
		for i, part := range parts {
			parts[i] = fn(part)
		}
		normalized := strings.Join(parts, keySep)
		if _, exists := out.ids[normalized]; !exists {
			out.ids[normalized] = r.ids[key]
		}
	}
	return out
}

// Map is the orchestrator-owned collection of registries, keyed by primary
// table name. Only the orchestrator appends to it; stages see it through the
// read-only View interface.
type Map struct {
	registries map[string]*Registry
}

// View is the read-only face of Map handed to pipeline stages.
type View interface {
	Get(name string) (*Registry, bool)
}

// NewMap creates an empty registry map.
func NewMap() *Map {
	return &Map{registries: make(map[string]*Registry)}
}

// Register adds a registry under a table name. Re-registering a name is a
// programming error and fails loudly.
func (m *Map) Register(name string, r *Registry) error {
	if _, exists := m.registries[name]; exists {
		return fmt.Errorf("registry %q already registered", name)
	}
	m.registries[name] = r
	return nil
}

// Get returns the registry for a table name.
func (m *Map) Get(name string) (*Registry, bool) {
	r, ok := m.registries[name]
	return r, ok
}
