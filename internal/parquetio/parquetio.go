// Package parquetio implements Parquet file encode/decode for File
// sources and destinations (C4/C6), using xitongsys/parquet-go's
// schema-less JSON writer/reader the same way the destination writer's
// Delta path pairs a JSON manifest with plain part files: a JSON
// sidecar (path+".schema.json") preserves this module's logical
// schema.Schema across the round trip, since Parquet's own footer type
// system cannot represent every type in the universal lattice (decimal
// widths, intervals, maps, unions, dictionaries) without loss.
package parquetio

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/schema"
)

func sidecarPath(path string) string { return path + ".schema.json" }

type jsonSchemaField struct {
	Tag string `json:"Tag"`
}

type jsonSchemaDoc struct {
	Tag    string            `json:"Tag"`
	Fields []jsonSchemaField `json:"Fields"`
}

// parquetTag renders one field's parquet-go JSON-schema tag. Only the
// primitive numeric/boolean lattice members get a matching Parquet
// physical type; everything else (strings, binaries, temporal types,
// decimals, and every compound type) is stored as a UTF8 byte array,
// with the sidecar schema authoritative for decoding it back.
func parquetTag(f schema.Field) string {
	base := fmt.Sprintf("name=%s, repetitiontype=OPTIONAL", f.Name)
	switch f.Type {
	case schema.Boolean:
		return base + ", type=BOOLEAN"
	case schema.Int8, schema.Int16, schema.Int32:
		return base + ", type=INT32"
	case schema.Int64:
		return base + ", type=INT64"
	case schema.Uint8, schema.Uint16, schema.Uint32:
		return base + ", type=INT32, convertedtype=UINT_32"
	case schema.Uint64:
		return base + ", type=INT64, convertedtype=UINT_64"
	case schema.Float32:
		return base + ", type=FLOAT"
	case schema.Float64:
		return base + ", type=DOUBLE"
	default:
		return base + ", type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

func buildJSONSchema(sch schema.Schema) (string, error) {
	doc := jsonSchemaDoc{Tag: "name=root, repetitiontype=REQUIRED"}
	for _, f := range sch.Fields {
		doc.Fields = append(doc.Fields, jsonSchemaField{Tag: parquetTag(f)})
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteRows encodes rows under sch to a Parquet file at path, alongside
// a JSON sidecar that preserves the full logical schema for ReadRows.
func WriteRows(path string, sch schema.Schema, rows [][]any) (int, error) {
	jsonSchemaStr, err := buildJSONSchema(sch)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "parquet-write", err)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "parquet-write", err)
	}
	defer fw.Close()

	pw, err := writer.NewJSONWriter(jsonSchemaStr, fw, int64(runtime.NumCPU()))
	if err != nil {
		return 0, aqerrors.New(aqerrors.Storage, "parquet-write", err)
	}

	count := 0
	for _, row := range rows {
		rec := make(map[string]any, len(sch.Fields))
		for i, f := range sch.Fields {
			if i >= len(row) || row[i] == nil {
				continue
			}
			rec[f.Name] = encodeValue(f, row[i])
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return count, aqerrors.New(aqerrors.Storage, "parquet-write", err)
		}
		if err := pw.Write(string(b)); err != nil {
			return count, aqerrors.New(aqerrors.Storage, "parquet-write", err)
		}
		count++
	}
	if err := pw.WriteStop(); err != nil {
		return count, aqerrors.New(aqerrors.Storage, "parquet-write", err)
	}

	sidecar, err := json.Marshal(sch)
	if err != nil {
		return count, aqerrors.New(aqerrors.Storage, "parquet-write", err)
	}
	if err := os.WriteFile(sidecarPath(path), sidecar, 0o644); err != nil {
		return count, aqerrors.New(aqerrors.Storage, "parquet-write", err)
	}
	return count, nil
}

func encodeValue(f schema.Field, v any) any {
	switch f.Type {
	case schema.Boolean, schema.Int8, schema.Int16, schema.Int32, schema.Int64,
		schema.Uint8, schema.Uint16, schema.Uint32, schema.Uint64,
		schema.Float32, schema.Float64:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ReadRows decodes a Parquet file previously written by WriteRows,
// restoring the logical schema from its JSON sidecar.
func ReadRows(path string) (schema.Schema, [][]any, error) {
	sidecar, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "parquet-read", err)
	}
	var sch schema.Schema
	if err := json.Unmarshal(sidecar, &sch); err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "parquet-read", err)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "parquet-read", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, int64(runtime.NumCPU()))
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "parquet-read", err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	recs, err := pr.ReadByNumber(num)
	if err != nil {
		return schema.Schema{}, nil, aqerrors.New(aqerrors.Source, "parquet-read", err)
	}

	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		m, ok := rec.(map[string]any)
		if !ok {
			b, _ := json.Marshal(rec)
			m = map[string]any{}
			_ = json.Unmarshal(b, &m)
		}
		row := make([]any, len(sch.Fields))
		for i, f := range sch.Fields {
			row[i] = decodeValue(f, m[f.Name])
		}
		rows = append(rows, row)
	}
	return sch, rows, nil
}

func decodeValue(f schema.Field, v any) any {
	if v == nil {
		return nil
	}
	switch f.Type {
	case schema.Int8, schema.Int16, schema.Int32, schema.Int64,
		schema.Uint8, schema.Uint16, schema.Uint32, schema.Uint64:
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int64:
			return n
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i
			}
			return n
		default:
			return v
		}
	default:
		return v
	}
}
