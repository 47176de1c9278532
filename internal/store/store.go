// Package store loads per-dataset table files from the processed-data tree
// and persists combined tables to the output directory.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/bhklab/pharmacodi/internal/table"
)

// TableNotFoundError reports a mandatory table with no matching files under
// the source tree.
type TableNotFoundError struct {
	Table string
	Root  string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("no %q tables found under %s", e.Table, e.Root)
}

// Store scans a processed-data tree laid out one dataset per subdirectory,
// with each table stored as {root}/{dataset}/{dataset}_{table}.csv.
type Store struct {
	root string
}

// NewStore creates a store over a processed-data root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

var datasetDirPattern = regexp.MustCompile(`^\w+$`)

// Load reads every per-dataset instance of a named table, concatenates them
// (first file's column order wins, missing columns become nulls) and removes
// exact duplicate rows. Zero matches is a TableNotFoundError for mandatory
// tables and an empty table for optional ones.
func (s *Store) Load(name string, mandatory bool) (*table.Table, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.root, err)
	}

	var tables []*table.Table
	for _, entry := range entries {
		if !entry.IsDir() || !datasetDirPattern.MatchString(entry.Name()) {
			continue
		}
		// Only the one-dataset-per-subdirectory shape counts; a file merely
		// containing the table name elsewhere is ignored.
		path := filepath.Join(s.root, entry.Name(), entry.Name()+"_"+name+".csv")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		t, err := table.ReadCSVFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s table: %w", name, err)
		}
		tables = append(tables, t)
	}

	if len(tables) == 0 {
		if mandatory {
			return nil, &TableNotFoundError{Table: name, Root: s.root}
		}
		return table.New(), nil
	}

	combined := tables[0].Concat(tables[1:]...)
	return combined.Deduplicate(), nil
}

// Datasets lists the dataset subdirectories present under the root.
func (s *Store) Datasets() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && datasetDirPattern.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Writer persists combined tables to the output directory in the .tbl
// columnar format.
type Writer struct {
	root string
}

// NewWriter creates a writer. The output directory is created on first use
// and existing files are overwritten.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Write persists a table as {root}/{name}.tbl and returns it so callers can
// chain it into later joins without rereading from disk. With assignID a
// dense 1..N id column is prepended in current row order; callers wanting a
// particular id order must sort first.
func (w *Writer) Write(t *table.Table, name string, assignID bool) (*table.Table, error) {
	if assignID && !t.HasColumn("id") {
		ids := make([]string, t.NumRows())
		for i := range ids {
			ids[i] = strconv.Itoa(i + 1)
		}
		withID, err := t.Prepend("id", ids)
		if err != nil {
			return nil, fmt.Errorf("failed to assign ids to %s: %w", name, err)
		}
		t = withID
	}
	if err := table.WriteBinaryFile(t, filepath.Join(w.root, name+".tbl")); err != nil {
		return nil, fmt.Errorf("failed to write %s table: %w", name, err)
	}
	return t, nil
}

// Read loads a previously written table back from the output directory.
func (w *Writer) Read(name string) (*table.Table, error) {
	t, err := table.ReadBinaryFile(filepath.Join(w.root, name+".tbl"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &TableNotFoundError{Table: name, Root: w.root}
		}
		return nil, err
	}
	return t, nil
}
