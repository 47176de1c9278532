package table

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// The .tbl columnar format: a fixed magic and version, the column names,
// then every column's values in column-major order. Each string is a uvarint
// length followed by raw bytes. The layout is fully deterministic, which the
// pipeline's idempotence guarantee depends on.
var binaryMagic = []byte("PDTB")

const binaryVersion = 1

// maxRowPrealloc bounds how much row capacity a .tbl header can reserve
// before any values are read.
const maxRowPrealloc = 1 << 16

// WriteBinaryFile persists a table in the .tbl columnar format, overwriting
// any existing file.
func WriteBinaryFile(t *Table, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteBinary(t, f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// WriteBinary writes a table in the .tbl columnar format.
func WriteBinary(t *Table, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(binaryMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(binaryVersion); err != nil {
		return err
	}
	writeUvarint(bw, uint64(len(t.columns)))
	writeUvarint(bw, uint64(len(t.rows)))
	for _, name := range t.columns {
		writeString(bw, name)
	}
	for col := range t.columns {
		for _, row := range t.rows {
			writeString(bw, row[col])
		}
	}
	return bw.Flush()
}

func writeUvarint(w *bufio.Writer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, _ = w.Write(buf[:n])
}

func writeString(w *bufio.Writer, s string) {
	writeUvarint(w, uint64(len(s)))
	_, _ = w.WriteString(s)
}

// ReadBinaryFile reads a .tbl file back into a table.
func ReadBinaryFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadBinary(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadBinary reads a table in the .tbl columnar format.
func ReadBinary(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(binaryMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(magic) != string(binaryMagic) {
		return nil, errors.New("not a .tbl table file")
	}
	version, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != binaryVersion {
		return nil, fmt.Errorf("unsupported .tbl version %d", version)
	}
	ncols, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	nrows, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if nrows > 0 && ncols == 0 {
		return nil, errors.New("corrupt .tbl header: rows without columns")
	}
	columns := make([]string, ncols)
	for i := range columns {
		if columns[i], err = readString(br); err != nil {
			return nil, err
		}
	}

	// The header counts are untrusted; grow incrementally instead of
	// preallocating nrows x ncols, so a corrupt header fails on its first
	// missing value rather than after a huge allocation.
	cells := make([][]string, ncols)
	for col := range cells {
		values := make([]string, 0, min(nrows, maxRowPrealloc))
		for row := uint64(0); row < nrows; row++ {
			value, err := readString(br)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", columns[col], row, err)
			}
			values = append(values, value)
		}
		cells[col] = values
	}

	t := New(columns...)
	t.rows = make([][]string, nrows)
	for row := range t.rows {
		t.rows[row] = make([]string, ncols)
		for col := range cells {
			t.rows[row][col] = cells[col][row]
		}
	}
	return t, nil
}

func readString(br *bufio.Reader) (string, error) {
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
