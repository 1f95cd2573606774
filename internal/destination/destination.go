// Package destination implements the destination writer (C6): a
// pre-flight schema coercion check followed by a kind-specific writer
// (file, Delta append/upsert/replace, ODBC append/custom), batching rows
// into transactions the way the teacher's replay.Applier batches DML.
package destination

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/parquetio"
	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/schema"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

// insertBatchSize caps how many rows are held in memory before a batch
// is flushed to the destination, mirroring the teacher's replay.Applier
// batching threshold.
const insertBatchSize = 1000

// Writer writes one stage's output to one declared Destination.
type Writer struct {
	ctx    sqlengine.Context
	logger zerolog.Logger
}

// New creates a destination Writer bound to a sqlengine.Context, from
// which it reads the stage output table named by the Destination's Name.
func New(sqlCtx sqlengine.Context, logger zerolog.Logger) *Writer {
	return &Writer{ctx: sqlCtx, logger: logger.With().Str("component", "destination").Logger()}
}

// Write streams dest.Name's registered table to the destination described
// by dest, after verifying the table's schema coerces to any expected
// schema.
func (w *Writer) Write(ctx context.Context, dest pipeline.Destination, expected *schema.Schema) (int, error) {
	plan, err := w.ctx.SQL(ctx, fmt.Sprintf("SELECT * FROM %s", quoteIdent(dest.Name)))
	if err != nil {
		return 0, aqerrors.New(aqerrors.Destination, dest.Name, err)
	}
	df, err := plan.Execute(ctx)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Destination, dest.Name, err)
	}
	defer df.Close()

	sch := df.Schema()
	if expected != nil {
		if err := schema.Coerce(*expected, sch); err != nil {
			return 0, err
		}
	}

	switch dest.Kind {
	case pipeline.SourceInMemory:
		return w.writeInMemory(ctx, df)
	case pipeline.SourceFile:
		return w.writeFile(ctx, dest, sch, df)
	case pipeline.SourceDelta:
		return w.writeDelta(ctx, dest, sch, df)
	case pipeline.SourceOdbc:
		return w.writeOdbc(ctx, dest, sch, df)
	default:
		return 0, aqerrors.Newf(aqerrors.Config, dest.Name, "unsupported destination type %q", dest.Kind)
	}
}

// writeInMemory drains the result set without persisting it anywhere: an
// in_memory destination's final table stays registered in the
// sqlengine.Context under dest.Name for the caller to query directly
// after the run completes.
func (w *Writer) writeInMemory(ctx context.Context, df sqlengine.DataFrame) (int, error) {
	count := 0
	for df.Next(ctx) {
		count++
	}
	return count, df.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (w *Writer) writeFile(ctx context.Context, dest pipeline.Destination, sch schema.Schema, df sqlengine.DataFrame) (int, error) {
	switch dest.Format {
	case pipeline.FormatParquet:
		return w.writeFileParquet(ctx, dest.Path, sch, df)
	case pipeline.FormatCSV:
		return w.writeFileCSV(ctx, dest.Path, sch, df)
	case pipeline.FormatJSON:
		return w.writeFileJSON(ctx, dest.Path, sch, df)
	default:
		return 0, aqerrors.Newf(aqerrors.Config, dest.Name, "unsupported file format %q", dest.Format)
	}
}

func (w *Writer) writeFileParquet(ctx context.Context, path string, sch schema.Schema, df sqlengine.DataFrame) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "write-file", err)
	}
	var rows [][]any
	for df.Next(ctx) {
		row := df.Row()
		cp := make([]any, len(row))
		copy(cp, row)
		rows = append(rows, cp)
	}
	if err := df.Err(); err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "write-file", err)
	}
	count, err := parquetio.WriteRows(path, sch, rows)
	if err != nil {
		return count, err
	}
	return count, nil
}

func (w *Writer) writeFileCSV(ctx context.Context, path string, sch schema.Schema, df sqlengine.DataFrame) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "write-file", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "write-file", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := make([]string, len(sch.Fields))
	for i, field := range sch.Fields {
		header[i] = field.Name
	}
	if err := cw.Write(header); err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "write-file", err)
	}

	count := 0
	for df.Next(ctx) {
		row := df.Row()
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprintf("%v", v)
		}
		if err := cw.Write(record); err != nil {
			return count, aqerrors.New(aqerrors.Storage, "write-file", err)
		}
		count++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return count, aqerrors.New(aqerrors.Storage, "write-file", err)
	}
	return count, df.Err()
}

func (w *Writer) writeFileJSON(ctx context.Context, path string, sch schema.Schema, df sqlengine.DataFrame) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "write-file", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "write-file", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	count := 0
	for df.Next(ctx) {
		row := df.Row()
		obj := make(map[string]any, len(sch.Fields))
		for i, field := range sch.Fields {
			if i < len(row) {
				obj[field.Name] = row[i]
			}
		}
		if err := enc.Encode(obj); err != nil {
			return count, aqerrors.New(aqerrors.Storage, "write-file", err)
		}
		count++
	}
	return count, df.Err()
}

func (w *Writer) writeOdbc(ctx context.Context, dest pipeline.Destination, sch schema.Schema, df sqlengine.DataFrame) (int, error) {
	db, err := openOdbc(dest.ConnectionString)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Destination, dest.Name, err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Destination, dest.Name, err)
	}

	// pre_insert and insert share one transaction (ODBC Custom write mode
	// decision, SPEC_FULL.md §4): any failure rolls the whole thing back.
	if dest.WriteMode == pipeline.WriteCustom && dest.PreInsert != "" {
		if _, err := tx.ExecContext(ctx, dest.PreInsert); err != nil {
			tx.Rollback()
			return 0, aqerrors.New(aqerrors.Destination, dest.Name, err)
		}
	}

	insertQuery := dest.InsertQuery
	if dest.WriteMode == pipeline.WriteAppend {
		insertQuery = buildAppendInsert(dest.Table, sch)
	}
	if insertQuery == "" {
		tx.Rollback()
		return 0, aqerrors.Newf(aqerrors.Config, dest.Name, "no insert statement resolved for write_mode %q", dest.WriteMode)
	}

	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		tx.Rollback()
		return 0, aqerrors.New(aqerrors.Destination, dest.Name, err)
	}
	defer stmt.Close()

	count := 0
	for df.Next(ctx) {
		if _, err := stmt.ExecContext(ctx, df.Row()...); err != nil {
			tx.Rollback()
			return count, aqerrors.New(aqerrors.Destination, dest.Name, err)
		}
		count++
	}
	if err := df.Err(); err != nil {
		tx.Rollback()
		return count, err
	}

	if err := tx.Commit(); err != nil {
		return count, aqerrors.New(aqerrors.Destination, dest.Name, err)
	}
	return count, nil
}

func buildAppendInsert(table string, sch schema.Schema) string {
	cols := make([]string, len(sch.Fields))
	placeholders := make([]string, len(sch.Fields))
	for i, f := range sch.Fields {
		cols[i] = f.Name
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}

func openOdbc(connectionString string) (*sql.DB, error) {
	return sql.Open("odbc", connectionString)
}
