package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/schema"
)

// SQLiteContext is the default Context implementation: an in-process
// SQLite database used as the physical execution engine for a single
// pipeline run.
type SQLiteContext struct {
	db     *sql.DB
	logger zerolog.Logger

	mu     sync.Mutex
	tables map[string]schema.Schema

	seq atomic.Int64
}

// contextSeq numbers SQLiteContexts so each one gets its own DSN.
var contextSeq atomic.Int64

// NewSQLiteContext opens a fresh in-memory SQLite database for one
// pipeline run. Each Context gets its own private database so concurrent
// runs never collide.
func NewSQLiteContext(logger zerolog.Logger) (*SQLiteContext, error) {
	// A unique DSN per context keeps :memory: databases from being shared
	// across connections in the pool.
	dsn := fmt.Sprintf("file:aqueducts_%d?mode=memory&cache=shared", contextSeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, aqerrors.New(aqerrors.Internal, "sqlengine-open", err)
	}
	db.SetMaxOpenConns(1) // shared in-memory cache needs a single writer

	return &SQLiteContext{
		db:     db,
		logger: logger.With().Str("component", "sqlengine").Logger(),
		tables: make(map[string]schema.Schema),
	}, nil
}

func sqliteColumnType(t schema.DataType) string {
	switch t {
	case schema.Boolean,
		schema.Int8, schema.Int16, schema.Int32, schema.Int64,
		schema.Uint8, schema.Uint16, schema.Uint32, schema.Uint64,
		schema.Date32, schema.Date64, schema.Time32, schema.Time64,
		schema.Timestamp, schema.TimestampTZ, schema.Duration,
		schema.IntervalYearMonth, schema.IntervalDayTime, schema.IntervalMonthDayNano:
		return "INTEGER"
	case schema.Float32, schema.Float64, schema.Decimal128, schema.Decimal256:
		return "REAL"
	case schema.Binary, schema.FixedSizeBinary:
		return "BLOB"
	case schema.Unknown:
		return "" // no declared type: values keep their own storage class
	default:
		return "TEXT"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (c *SQLiteContext) RegisterTable(ctx context.Context, name string, sch schema.Schema, rows [][]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name))); err != nil {
		return aqerrors.New(aqerrors.Internal, "register-table", err)
	}

	cols := make([]string, len(sch.Fields))
	for i, f := range sch.Fields {
		null := ""
		if !f.Nullable {
			null = " NOT NULL"
		}
		cols[i] = fmt.Sprintf("%s %s%s", quoteIdent(f.Name), sqliteColumnType(f.Type), null)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return aqerrors.New(aqerrors.Internal, "register-table", err)
	}

	if len(rows) > 0 {
		placeholders := make([]string, len(sch.Fields))
		for i := range placeholders {
			placeholders[i] = "?"
		}
		insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(placeholders, ", "))

		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return aqerrors.New(aqerrors.Internal, "register-table", err)
		}
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			tx.Rollback()
			return aqerrors.New(aqerrors.Internal, "register-table", err)
		}
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				stmt.Close()
				tx.Rollback()
				return aqerrors.New(aqerrors.DataProcessing, "register-table", err)
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return aqerrors.New(aqerrors.Internal, "register-table", err)
		}
	}

	c.tables[name] = sch
	c.logger.Debug().Str("table", name).Int("rows", len(rows)).Msg("registered table")
	return nil
}

func (c *SQLiteContext) DeregisterTable(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; !ok {
		return nil
	}
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name))); err != nil {
		return aqerrors.New(aqerrors.Internal, "deregister-table", err)
	}
	delete(c.tables, name)
	return nil
}

func (c *SQLiteContext) SQL(ctx context.Context, query string) (PhysicalPlan, error) {
	// Validate the query compiles by preparing it; SQLite has no separate
	// plan representation, so the "plan" is the prepared statement plus
	// its declared column types.
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, aqerrors.New(aqerrors.DataProcessing, "sql-compile", err)
	}
	return &sqlitePlan{ctx: c, query: query, stmt: stmt}, nil
}

func (c *SQLiteContext) Close() error {
	return c.db.Close()
}

type sqlitePlan struct {
	ctx   *SQLiteContext
	query string
	stmt  *sql.Stmt
}

func (p *sqlitePlan) Schema(ctx context.Context) (schema.Schema, error) {
	cols, err := p.stmt.QueryContext(ctx)
	if err != nil {
		return schema.Schema{}, aqerrors.New(aqerrors.DataProcessing, "sql-schema", err)
	}
	defer cols.Close()
	return inferSchema(cols)
}

func (p *sqlitePlan) Execute(ctx context.Context) (DataFrame, error) {
	rows, err := p.stmt.QueryContext(ctx)
	if err != nil {
		return nil, aqerrors.New(aqerrors.DataProcessing, "sql-execute", err)
	}
	sch, err := inferSchema(rows)
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &sqliteDataFrame{rows: rows, sch: sch, stmt: p.stmt}, nil
}

func inferSchema(rows *sql.Rows) (schema.Schema, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return schema.Schema{}, aqerrors.New(aqerrors.Internal, "infer-schema", err)
	}
	fields := make([]schema.Field, len(colTypes))
	for i, ct := range colTypes {
		nullable, _ := ct.Nullable()
		fields[i] = schema.Field{Name: ct.Name(), Type: dataTypeFromSQLite(ct.DatabaseTypeName()), Nullable: nullable}
	}
	return schema.Schema{Fields: fields}, nil
}

func dataTypeFromSQLite(name string) schema.DataType {
	switch strings.ToUpper(name) {
	case "INTEGER", "INT":
		return schema.Int64
	case "REAL", "FLOAT", "DOUBLE":
		return schema.Float64
	case "BLOB":
		return schema.Binary
	case "":
		// Expression columns (e.g. SUM(x), a * 2) carry no declared type.
		return schema.Unknown
	default:
		return schema.Utf8
	}
}

type sqliteDataFrame struct {
	rows *sql.Rows
	sch  schema.Schema
	stmt *sql.Stmt

	cur []any
	err error
}

func (d *sqliteDataFrame) Schema() schema.Schema { return d.sch }

func (d *sqliteDataFrame) Next(ctx context.Context) bool {
	if !d.rows.Next() {
		return false
	}
	vals := make([]any, len(d.sch.Fields))
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := d.rows.Scan(ptrs...); err != nil {
		d.err = aqerrors.New(aqerrors.DataProcessing, "scan-row", err)
		return false
	}
	d.cur = vals
	return true
}

func (d *sqliteDataFrame) Row() []any { return d.cur }
func (d *sqliteDataFrame) Err() error {
	if d.err != nil {
		return d.err
	}
	return d.rows.Err()
}

func (d *sqliteDataFrame) Close() error {
	err := d.rows.Close()
	if d.stmt != nil {
		d.stmt.Close()
	}
	return err
}
