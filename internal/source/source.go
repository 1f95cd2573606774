// Package source implements the source registrar (C4): turning a
// pipeline.Source declaration into rows loaded into a sqlengine.Context,
// dispatching on source kind, with storage configuration overlaid from
// environment defaults the way the teacher's config layer overlays
// connection parameters.
package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/parquetio"
	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/schema"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

// InMemoryProvider supplies rows for an in_memory source by name. Callers
// that registered a pipeline with in_memory sources must set this on the
// Registrar before Register is called for that source.
type InMemoryProvider func(name string) (schema.Schema, [][]any, error)

// Registrar loads each declared Source into a sqlengine.Context, and
// tracks registration order so it can be unwound LIFO on teardown,
// mirroring the runner's scoped-resource-acquisition discipline.
type Registrar struct {
	ctx      sqlengine.Context
	logger   zerolog.Logger
	inMemory InMemoryProvider

	registered []string // LIFO order
}

// New creates a Registrar bound to a sqlengine.Context.
func New(sqlCtx sqlengine.Context, inMemory InMemoryProvider, logger zerolog.Logger) *Registrar {
	return &Registrar{
		ctx:      sqlCtx,
		logger:   logger.With().Str("component", "source").Logger(),
		inMemory: inMemory,
	}
}

// Register loads src into the bound Context under its own name.
func (r *Registrar) Register(ctx context.Context, src pipeline.Source) error {
	overlay := storageConfigOverlay(src.StorageConfig)

	var (
		sch  schema.Schema
		rows [][]any
		err  error
	)

	switch src.Kind {
	case pipeline.SourceInMemory:
		if r.inMemory == nil {
			return aqerrors.Newf(aqerrors.Source, "register", "source %q: no in-memory rows provided", src.Name)
		}
		sch, rows, err = r.inMemory(src.Name)
	case pipeline.SourceFile:
		sch, rows, err = loadFile(src.Path, src.Format)
	case pipeline.SourceDirectory:
		sch, rows, err = loadDirectory(src.Path, src.Format, src.PartitionColumns)
	case pipeline.SourceDelta:
		sch, rows, err = loadDelta(src.Path, src.DeltaVersion, overlay)
	case pipeline.SourceOdbc:
		sch, rows, err = loadOdbc(ctx, src.ConnectionString, src.Query)
	default:
		return aqerrors.Newf(aqerrors.Config, "register", "unknown source type %q", src.Kind)
	}
	if err != nil {
		return err
	}

	if err := r.ctx.RegisterTable(ctx, src.Name, sch, rows); err != nil {
		return aqerrors.New(aqerrors.Source, "register", err)
	}
	r.registered = append(r.registered, src.Name)
	r.logger.Debug().Str("source", src.Name).Str("type", string(src.Kind)).Int("rows", len(rows)).Msg("source registered")
	return nil
}

// Teardown deregisters every source this Registrar registered, in
// reverse (LIFO) order, continuing past individual errors and returning
// the first one encountered.
func (r *Registrar) Teardown(ctx context.Context) error {
	var firstErr error
	for i := len(r.registered) - 1; i >= 0; i-- {
		name := r.registered[i]
		if err := r.ctx.DeregisterTable(ctx, name); err != nil && firstErr == nil {
			firstErr = aqerrors.New(aqerrors.Source, "teardown", err)
		}
	}
	r.registered = nil
	return firstErr
}

// storageConfigOverlay merges a source's explicit storage_config onto the
// AWS_*/GOOGLE_*/AZURE_* environment defaults: explicit values win, and
// environment values fill in anything the document omitted.
func storageConfigOverlay(explicit map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, prefix := range []string{"AWS_", "GOOGLE_", "AZURE_"} {
		for _, kv := range os.Environ() {
			if !strings.HasPrefix(kv, prefix) {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			merged[parts[0]] = parts[1]
		}
	}
	for k, v := range explicit {
		merged[k] = v
	}
	return merged
}

func loadFile(path string, format pipeline.FileFormat) (schema.Schema, [][]any, error) {
	if format == pipeline.FormatParquet {
		sch, rows, err := parquetio.ReadRows(path)
		if err != nil {
			return schema.Schema{}, nil, err
		}
		return sch, rows, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-file", err)
	}
	defer f.Close()

	switch format {
	case pipeline.FormatCSV:
		return decodeCSV(f)
	case pipeline.FormatJSON:
		return decodeJSONLines(f)
	default:
		return schema.Schema{}, nil, aqerrors.Newf(aqerrors.Config, "load-file", "unsupported file format %q", format)
	}
}

// loadDirectory reads every file in dir (sorted for determinism),
// decoding Hive-style "key=value" path segments between dir and each
// file into synthetic partition columns appended to every row, the way
// a partitioned data lake directory's layout substitutes for explicit
// partition columns in the underlying files.
func loadDirectory(dir string, format pipeline.FileFormat, partitionColumns []string) (schema.Schema, [][]any, error) {
	var filePaths []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			filePaths = append(filePaths, p)
		}
		return nil
	})
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-directory", err)
	}
	sort.Strings(filePaths)

	var (
		combined schema.Schema
		rows     [][]any
		appended bool
	)
	for _, p := range filePaths {
		sch, fileRows, err := loadFile(p, format)
		if err != nil {
			return schema.Schema{}, nil, err
		}

		partValues, err := hivePartitionValues(dir, p, partitionColumns)
		if err != nil {
			return schema.Schema{}, nil, err
		}
		if len(partitionColumns) > 0 {
			for _, col := range partitionColumns {
				sch.Fields = append(sch.Fields, schema.Field{Name: col, Type: schema.Utf8, Nullable: true})
			}
			for i := range fileRows {
				row := make([]any, 0, len(fileRows[i])+len(partitionColumns))
				row = append(row, fileRows[i]...)
				row = append(row, partValues...)
				fileRows[i] = row
			}
		}

		if !appended {
			combined = sch
			appended = true
		} else if err := schema.Coerce(combined, sch); err != nil {
			return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-directory", err)
		}
		rows = append(rows, fileRows...)
	}
	return combined, rows, nil
}

// hivePartitionValues extracts "key=value" segments from p's path
// relative to dir, in the order partitionColumns declares them, e.g.
// dir/year=2024/month=01/part-0.csv with partitionColumns
// ["year","month"] yields ["2024","01"].
func hivePartitionValues(dir, p string, partitionColumns []string) ([]any, error) {
	if len(partitionColumns) == 0 {
		return nil, nil
	}
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return nil, aqerrors.New(aqerrors.Source, "load-directory", err)
	}
	segments := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")

	found := make(map[string]string, len(segments))
	for _, seg := range segments {
		kv := strings.SplitN(seg, "=", 2)
		if len(kv) == 2 {
			found[kv[0]] = kv[1]
		}
	}

	values := make([]any, len(partitionColumns))
	for i, col := range partitionColumns {
		v, ok := found[col]
		if !ok {
			return nil, aqerrors.Newf(aqerrors.Source, "load-directory",
				"path %q has no %q=... segment for declared partition column %q", rel, col, col)
		}
		values[i] = v
	}
	return values, nil
}

// loadDelta reads a Delta Lake table's data. The corpus carries no Delta
// client library, so this loads the latest (or pinned) version's data
// files the same way loadDirectory reads a directory of Parquet/CSV
// files, keyed off a manifest file "_aqueducts_manifest.json" written by
// the destination writer's Delta append/upsert/replace paths. This keeps
// round-tripping (write with this module, read back with this module)
// correct without depending on an unavailable external crate.
func loadDelta(path string, version *int64, _ map[string]string) (schema.Schema, [][]any, error) {
	manifestPath := filepath.Join(path, "_aqueducts_manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-delta", err)
	}
	var manifest deltaManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-delta", err)
	}

	v := manifest.Version
	if version != nil {
		v = *version
	}
	entry, ok := manifest.Versions[strconv.FormatInt(v, 10)]
	if !ok {
		return schema.Schema{}, nil, aqerrors.Newf(aqerrors.Source, "load-delta", "delta table %q has no version %d", path, v)
	}

	var rows [][]any
	for _, file := range entry.Files {
		_, fileRows, err := decodeCSVPath(filepath.Join(path, file))
		if err != nil {
			return schema.Schema{}, nil, err
		}
		rows = append(rows, fileRows...)
	}
	return entry.Schema, rows, nil
}

func decodeCSVPath(path string) (schema.Schema, [][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-delta-part", err)
	}
	defer f.Close()
	return decodeCSV(f)
}

// deltaManifest is the append-only version log this module writes
// alongside a Delta destination's data files, in lieu of a full Delta Lake
// transaction log reader/writer.
type deltaManifest struct {
	Version  int64                       `json:"version"`
	Versions map[string]deltaVersionInfo `json:"versions"`
}

type deltaVersionInfo struct {
	Files  []string      `json:"files"`
	Schema schema.Schema `json:"schema"`
}

func decodeCSV(r io.Reader) (schema.Schema, [][]any, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return schema.Schema{}, nil, nil
		}
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "decode-csv", err)
	}

	fields := make([]schema.Field, len(header))
	for i, h := range header {
		fields[i] = schema.Field{Name: h, Type: schema.Utf8, Nullable: true}
	}

	var rows [][]any
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "decode-csv", err)
		}
		row := make([]any, len(record))
		for i, v := range record {
			row[i] = v
		}
		rows = append(rows, row)
	}
	return schema.Schema{Fields: fields}, rows, nil
}

func decodeJSONLines(r io.Reader) (schema.Schema, [][]any, error) {
	dec := json.NewDecoder(r)
	var (
		fieldOrder []string
		fieldSeen  = map[string]struct{}{}
		records    []map[string]any
	)
	for dec.More() {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "decode-json", err)
		}
		for k := range obj {
			if _, ok := fieldSeen[k]; !ok {
				fieldSeen[k] = struct{}{}
				fieldOrder = append(fieldOrder, k)
			}
		}
		records = append(records, obj)
	}

	fields := make([]schema.Field, len(fieldOrder))
	for i, name := range fieldOrder {
		fields[i] = schema.Field{Name: name, Type: schema.Utf8, Nullable: true}
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(fieldOrder))
		for j, name := range fieldOrder {
			if v, ok := rec[name]; ok {
				row[j] = fmt.Sprintf("%v", v)
			}
		}
		rows[i] = row
	}
	return schema.Schema{Fields: fields}, rows, nil
}

func loadOdbc(ctx context.Context, connectionString, query string) (schema.Schema, [][]any, error) {
	db, err := openOdbc(connectionString)
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-odbc", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-odbc", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-odbc", err)
	}
	fields := make([]schema.Field, len(cols))
	for i, c := range cols {
		fields[i] = schema.Field{Name: c, Type: schema.Utf8, Nullable: true}
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "load-odbc", err)
		}
		out = append(out, vals)
	}
	return schema.Schema{Fields: fields}, out, rows.Err()
}
