package destination

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/schema"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

func newPopulatedContext(t *testing.T) sqlengine.Context {
	t.Helper()
	sqlCtx, err := sqlengine.NewSQLiteContext(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlCtx.Close() })

	sch := schema.Schema{Fields: []schema.Field{{Name: "id", Type: schema.Int64}, {Name: "name", Type: schema.Utf8}}}
	rows := [][]any{{int64(1), "alice"}, {int64(2), "bob"}}
	require.NoError(t, sqlCtx.RegisterTable(context.Background(), "out", sch, rows))
	return sqlCtx
}

func TestWriter_WriteFileCSV(t *testing.T) {
	sqlCtx := newPopulatedContext(t)
	w := New(sqlCtx, zerolog.Nop())

	dir := t.TempDir()
	path := filepath.Join(dir, "result.csv")
	dest := pipeline.Destination{Name: "out", Kind: pipeline.SourceFile, Format: pipeline.FormatCSV, Path: path}

	n, err := w.Write(context.Background(), dest, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "alice")
}

func TestWriter_WriteDeltaAppendThenReplace(t *testing.T) {
	sqlCtx := newPopulatedContext(t)
	w := New(sqlCtx, zerolog.Nop())
	dir := t.TempDir()

	dest := pipeline.Destination{Name: "out", Kind: pipeline.SourceDelta, Path: dir, WriteMode: pipeline.WriteAppend}
	n, err := w.Write(context.Background(), dest, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	manifest, err := readManifest(dir)
	require.NoError(t, err)
	require.Equal(t, int64(0), manifest.Version)

	dest.WriteMode = pipeline.WriteReplace
	n, err = w.Write(context.Background(), dest, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	manifest, err = readManifest(dir)
	require.NoError(t, err)
	require.Equal(t, int64(1), manifest.Version)
}

func registerTable(t *testing.T, sqlCtx sqlengine.Context, sch schema.Schema, rows [][]any) {
	t.Helper()
	require.NoError(t, sqlCtx.DeregisterTable(context.Background(), "out"))
	require.NoError(t, sqlCtx.RegisterTable(context.Background(), "out", sch, rows))
}

func TestWriter_DeltaUpsertMergesByKey(t *testing.T) {
	sqlCtx := newPopulatedContext(t)
	w := New(sqlCtx, zerolog.Nop())
	dir := t.TempDir()

	dest := pipeline.Destination{
		Name: "out", Kind: pipeline.SourceDelta, Path: dir,
		WriteMode: pipeline.WriteUpsert, MergeKeys: []string{"id"},
	}
	n, err := w.Write(context.Background(), dest, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	sch := schema.Schema{Fields: []schema.Field{{Name: "id", Type: schema.Int64}, {Name: "name", Type: schema.Utf8}}}
	registerTable(t, sqlCtx, sch, [][]any{{int64(2), "bobby"}, {int64(3), "carol"}})

	n, err = w.Write(context.Background(), dest, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	manifest, err := readManifest(dir)
	require.NoError(t, err)
	_, rows, err := readTableRows(dir, manifest)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byID := map[string][]string{}
	for _, row := range rows {
		byID[row[0]] = row
	}
	require.Equal(t, "alice", byID["1"][1])
	require.Equal(t, "bobby", byID["2"][1])
	require.Equal(t, "carol", byID["3"][1])
}

func TestWriter_DeltaUpsertIsIdempotent(t *testing.T) {
	sqlCtx := newPopulatedContext(t)
	w := New(sqlCtx, zerolog.Nop())
	dir := t.TempDir()

	dest := pipeline.Destination{
		Name: "out", Kind: pipeline.SourceDelta, Path: dir,
		WriteMode: pipeline.WriteUpsert, MergeKeys: []string{"id"},
	}
	_, err := w.Write(context.Background(), dest, nil)
	require.NoError(t, err)

	manifestAfterFirst, err := readManifest(dir)
	require.NoError(t, err)
	_, rowsAfterFirst, err := readTableRows(dir, manifestAfterFirst)
	require.NoError(t, err)

	sch := schema.Schema{Fields: []schema.Field{{Name: "id", Type: schema.Int64}, {Name: "name", Type: schema.Utf8}}}
	registerTable(t, sqlCtx, sch, [][]any{{int64(1), "alice"}, {int64(2), "bob"}})

	_, err = w.Write(context.Background(), dest, nil)
	require.NoError(t, err)

	manifestAfterSecond, err := readManifest(dir)
	require.NoError(t, err)
	_, rowsAfterSecond, err := readTableRows(dir, manifestAfterSecond)
	require.NoError(t, err)

	require.Equal(t, rowsAfterFirst, rowsAfterSecond)
}

func TestWriter_DeltaReplaceScopedByPredicate(t *testing.T) {
	sqlCtx, err := sqlengine.NewSQLiteContext(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlCtx.Close() })

	sch := schema.Schema{Fields: []schema.Field{{Name: "date", Type: schema.Utf8}, {Name: "value", Type: schema.Int64}}}
	require.NoError(t, sqlCtx.RegisterTable(context.Background(), "out", sch,
		[][]any{{"2024-01-01", int64(1)}, {"2024-01-02", int64(2)}}))

	w := New(sqlCtx, zerolog.Nop())
	dir := t.TempDir()

	appendDest := pipeline.Destination{Name: "out", Kind: pipeline.SourceDelta, Path: dir, WriteMode: pipeline.WriteAppend}
	_, err = w.Write(context.Background(), appendDest, nil)
	require.NoError(t, err)

	registerTable(t, sqlCtx, sch, [][]any{{"2024-01-01", int64(99)}})

	replaceDest := pipeline.Destination{
		Name: "out", Kind: pipeline.SourceDelta, Path: dir, WriteMode: pipeline.WriteReplace,
		Predicates: []pipeline.Predicate{{Column: "date", Value: "2024-01-01"}},
	}
	n, err := w.Write(context.Background(), replaceDest, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	manifest, err := readManifest(dir)
	require.NoError(t, err)
	_, rows, err := readTableRows(dir, manifest)
	require.NoError(t, err)

	byDate := map[string]string{}
	for _, row := range rows {
		byDate[row[0]] = row[1]
	}
	require.Len(t, rows, 2)
	require.Equal(t, "99", byDate["2024-01-01"])
	require.Equal(t, "2", byDate["2024-01-02"])
}

func TestWriter_SchemaMismatchRejected(t *testing.T) {
	sqlCtx := newPopulatedContext(t)
	w := New(sqlCtx, zerolog.Nop())

	expected := schema.Schema{Fields: []schema.Field{{Name: "missing_field", Type: schema.Int64}}}
	dest := pipeline.Destination{Name: "out", Kind: pipeline.SourceFile, Format: pipeline.FormatCSV, Path: filepath.Join(t.TempDir(), "x.csv")}

	_, err := w.Write(context.Background(), dest, &expected)
	require.Error(t, err)
}
