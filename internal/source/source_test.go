package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aqueducts/aqueducts/internal/parquetio"
	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/schema"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

func TestRegistrar_InMemory(t *testing.T) {
	sqlCtx, err := sqlengine.NewSQLiteContext(zerolog.Nop())
	require.NoError(t, err)
	defer sqlCtx.Close()

	provider := func(name string) (schema.Schema, [][]any, error) {
		return schema.Schema{Fields: []schema.Field{{Name: "id", Type: schema.Int64}}}, [][]any{{int64(1)}, {int64(2)}}, nil
	}

	reg := New(sqlCtx, provider, zerolog.Nop())
	err = reg.Register(context.Background(), pipeline.Source{Name: "nums", Kind: pipeline.SourceInMemory})
	require.NoError(t, err)

	require.NoError(t, reg.Teardown(context.Background()))
}

func TestLoadFile_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,alice\n2,bob\n"), 0o644))

	sch, rows, err := loadFile(path, pipeline.FormatCSV)
	require.NoError(t, err)
	require.Len(t, sch.Fields, 2)
	require.Len(t, rows, 2)
	require.Equal(t, "alice", rows[0][1])
}

func TestLoadFile_MissingParquet(t *testing.T) {
	_, _, err := loadFile("whatever.parquet", pipeline.FormatParquet)
	require.Error(t, err)
}

func TestLoadFile_ParquetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.parquet")

	sch := schema.Schema{Fields: []schema.Field{{Name: "id", Type: schema.Int64}, {Name: "name", Type: schema.Utf8}}}
	n, err := parquetio.WriteRows(path, sch, [][]any{{int64(1), "alice"}, {int64(2), "bob"}})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	gotSch, rows, err := loadFile(path, pipeline.FormatParquet)
	require.NoError(t, err)
	require.Equal(t, sch, gotSch)
	require.Len(t, rows, 2)
	require.Equal(t, "alice", rows[0][1])
	require.Equal(t, "bob", rows[1][1])
}

func TestLoadDirectory_HivePartitionColumns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "year=2024", "month=01"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "year=2024", "month=02"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "year=2024", "month=01", "part-0.csv"), []byte("id,name\n1,alice\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "year=2024", "month=02", "part-0.csv"), []byte("id,name\n2,bob\n"), 0o644))

	sch, rows, err := loadDirectory(dir, pipeline.FormatCSV, []string{"year", "month"})
	require.NoError(t, err)
	require.Len(t, sch.Fields, 4)
	require.Equal(t, "year", sch.Fields[2].Name)
	require.Equal(t, "month", sch.Fields[3].Name)
	require.Len(t, rows, 2)

	byID := map[string][]any{}
	for _, row := range rows {
		byID[row[0].(string)] = row
	}
	require.Equal(t, []any{"1", "alice", "2024", "01"}, byID["1"])
	require.Equal(t, []any{"2", "bob", "2024", "02"}, byID["2"])
}

func TestLoadDirectory_MissingPartitionSegmentErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0.csv"), []byte("id,name\n1,alice\n"), 0o644))

	_, _, err := loadDirectory(dir, pipeline.FormatCSV, []string{"year"})
	require.Error(t, err)
}
