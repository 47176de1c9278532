package table

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadXLSXFile reads the first sheet of a workbook into a table. Reference
// and annotation files are distributed as spreadsheets often enough that the
// loaders accept them alongside CSV.
func ReadXLSXFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadXLSX(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadXLSX reads the first sheet of workbook data into a table.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("no header row found")
	}

	header := make([]string, len(rows[0]))
	for i, value := range rows[0] {
		header[i] = strings.TrimSpace(value)
	}

	t := New(header...)
	for _, row := range rows[1:] {
		if emptyRecord(row) {
			continue
		}
		t.appendRow(row)
	}
	return t, nil
}
