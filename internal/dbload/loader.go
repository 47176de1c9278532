// Package dbload bulk-copies pipeline output tables into PharmacoDB.
package dbload

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/bhklab/pharmacodi/internal/db"
	"github.com/bhklab/pharmacodi/internal/store"
	"github.com/bhklab/pharmacodi/internal/table"
)

// loadOrder lists every PharmacoDB table in a sequence that satisfies the
// foreign keys between them. Tables without an output file are skipped.
var loadOrder = []string{
	"tissue",
	"gene",
	"dataset",
	"compound",
	"cell",
	"target",
	"clinical_trial",
	"compound_annotation",
	"gene_annotation",
	"dataset_cell",
	"dataset_tissue",
	"dataset_compound",
	"mol_cell",
	"dataset_statistics",
	"experiment",
	"dose_response",
	"profile",
	"cell_synonym",
	"tissue_synonym",
	"compound_synonym",
	"compound_target",
	"gene_target",
	"gene_compound_tissue_dataset",
	"compound_trial",
}

// Loader copies pipeline outputs into Postgres.
type Loader struct {
	conn   *db.Connection
	writer *store.Writer
	logger *zap.Logger
}

func New(conn *db.Connection, writer *store.Writer, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{conn: conn, writer: writer, logger: logger}
}

// LoadAll truncates and reloads every output table present in the output
// directory, in foreign-key order.
func (l *Loader) LoadAll(ctx context.Context) error {
	for _, name := range loadOrder {
		t, err := l.writer.Read(name)
		if err != nil {
			var notFound *store.TableNotFoundError
			if errors.As(err, &notFound) {
				l.logger.Debug("no output file for table, skipping", zap.String("table", name))
				continue
			}
			return fmt.Errorf("table %s: %w", name, err)
		}
		if err := l.Load(ctx, name, t); err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
	}
	return nil
}

// Load replaces the contents of one table. Cells are converted using the
// destination column types; the empty string loads as NULL.
func (l *Loader) Load(ctx context.Context, name string, t *table.Table) error {
	start := time.Now()
	types, err := l.columnTypes(ctx, name)
	if err != nil {
		return err
	}
	columns := t.Columns()
	converters := make([]func(string) (any, error), len(columns))
	for i, column := range columns {
		dataType, ok := types[column]
		if !ok {
			return fmt.Errorf("destination has no column %q", column)
		}
		converters[i] = converterFor(dataType)
	}

	rows := make([][]any, 0, t.NumRows())
	for r := 0; r < t.NumRows(); r++ {
		row := t.Row(r)
		converted := make([]any, len(row))
		for c, cell := range row {
			value, err := converters[c](cell)
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", r+1, columns[c], err)
			}
			converted[c] = value
		}
		rows = append(rows, converted)
	}

	return l.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE %q CASCADE", name)); err != nil {
			return fmt.Errorf("truncating: %w", err)
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{name}, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copying: %w", err)
		}
		l.logger.Info("loaded table",
			zap.String("table", name),
			zap.Int64("rows", copied),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	})
}

// columnTypes reads the destination column types from information_schema.
func (l *Loader) columnTypes(ctx context.Context, name string) (map[string]string, error) {
	rows, err := l.conn.Pool.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("reading column types: %w", err)
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var column, dataType string
		if err := rows.Scan(&column, &dataType); err != nil {
			return nil, err
		}
		types[column] = dataType
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("destination table does not exist")
	}
	return types, nil
}

func converterFor(dataType string) func(string) (any, error) {
	switch dataType {
	case "smallint", "integer", "bigint":
		return func(cell string) (any, error) {
			if cell == "" {
				return nil, nil
			}
			return strconv.ParseInt(cell, 10, 64)
		}
	case "real", "double precision", "numeric":
		return func(cell string) (any, error) {
			if cell == "" {
				return nil, nil
			}
			return strconv.ParseFloat(cell, 64)
		}
	default:
		return func(cell string) (any, error) {
			if cell == "" {
				return nil, nil
			}
			return cell, nil
		}
	}
}
