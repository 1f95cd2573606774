// Package pipeline holds the declarative Pipeline document model (C2):
// sources, stages, and destinations, along with the format-aware parser
// that turns a YAML/JSON/TOML document into a validated Pipeline.
package pipeline

import (
	"github.com/aqueducts/aqueducts/internal/schema"
)

// SourceKind discriminates the supported source variants.
type SourceKind string

const (
	SourceInMemory  SourceKind = "in_memory"
	SourceFile      SourceKind = "file"
	SourceDirectory SourceKind = "directory"
	SourceDelta     SourceKind = "delta"
	SourceOdbc      SourceKind = "odbc"
)

// FileFormat is the on-disk encoding of a file/directory source or a file
// destination.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatJSON    FileFormat = "json"
	FormatParquet FileFormat = "parquet"
)

// Source describes one named input to a pipeline.
type Source struct {
	Name string     `yaml:"name" json:"name" toml:"name" validate:"required"`
	Kind SourceKind `yaml:"type" json:"type" toml:"type" validate:"required,oneof=in_memory file directory delta odbc"`

	// File / Directory
	Format FileFormat `yaml:"format,omitempty" json:"format,omitempty" toml:"format,omitempty"`
	Path   string     `yaml:"path,omitempty" json:"path,omitempty" toml:"path,omitempty"`

	// Directory: Hive-style partition columns parsed from path segments
	// ("key=value") rather than from file contents.
	PartitionColumns []string `yaml:"partition_columns,omitempty" json:"partition_columns,omitempty" toml:"partition_columns,omitempty"`

	// Delta
	DeltaVersion   *int64  `yaml:"delta_version,omitempty" json:"delta_version,omitempty" toml:"delta_version,omitempty"`
	DeltaTimestamp *string `yaml:"delta_timestamp,omitempty" json:"delta_timestamp,omitempty" toml:"delta_timestamp,omitempty"`

	// Odbc
	ConnectionString string `yaml:"connection_string,omitempty" json:"connection_string,omitempty" toml:"connection_string,omitempty"`
	Query            string `yaml:"query,omitempty" json:"query,omitempty" toml:"query,omitempty"`

	// InMemory rows are supplied out-of-band by the caller at registration
	// time; the document only names the source.

	StorageConfig map[string]string `yaml:"storage_config,omitempty" json:"storage_config,omitempty" toml:"storage_config,omitempty"`
}

// Stage is one step of a pipeline's execution DAG: a named SQL query over
// previously-registered tables, optionally shown/explained/printed. A
// stage's level (its position in the pipeline's nested Stages array) is
// author-declared, not inferred: the document itself groups stages into
// levels, and stages within one level run concurrently.
type Stage struct {
	Name           string `yaml:"name" json:"name" toml:"name" validate:"required"`
	Query          string `yaml:"query" json:"query" toml:"query" validate:"required"`
	Show           *int   `yaml:"show,omitempty" json:"show,omitempty" toml:"show,omitempty"`
	Explain        bool   `yaml:"explain,omitempty" json:"explain,omitempty" toml:"explain,omitempty"`
	ExplainAnalyze bool   `yaml:"explain_analyze,omitempty" json:"explain_analyze,omitempty" toml:"explain_analyze,omitempty"`
	PrintSchema    bool   `yaml:"print_schema,omitempty" json:"print_schema,omitempty" toml:"print_schema,omitempty"`
}

// WriteMode discriminates how a Delta or ODBC destination applies rows.
type WriteMode string

const (
	WriteAppend  WriteMode = "append"
	WriteUpsert  WriteMode = "upsert"
	WriteReplace WriteMode = "replace"
	WriteCustom  WriteMode = "custom"
)

// Predicate is one `column = value` equality clause of a Delta Replace
// destination's deletion predicate; the full predicate is the conjunction
// of every entry. Value is a string-encoded literal compared as text with
// the column's stored string form; it is not parsed by the column's
// declared type, so "1.0" does not match a stored "1".
type Predicate struct {
	Column string `yaml:"column" json:"column" toml:"column" validate:"required"`
	Value  string `yaml:"value" json:"value" toml:"value"`
}

// Destination describes where a pipeline's final stage output is written.
type Destination struct {
	Name string     `yaml:"name" json:"name" toml:"name" validate:"required"`
	Kind SourceKind `yaml:"type" json:"type" toml:"type" validate:"required,oneof=file delta odbc in_memory"`

	Format     FileFormat `yaml:"format,omitempty" json:"format,omitempty" toml:"format,omitempty"`
	Path       string     `yaml:"path,omitempty" json:"path,omitempty" toml:"path,omitempty"`
	SingleFile bool       `yaml:"single_file,omitempty" json:"single_file,omitempty" toml:"single_file,omitempty"`

	WriteMode WriteMode `yaml:"write_mode,omitempty" json:"write_mode,omitempty" toml:"write_mode,omitempty"`

	// Delta upsert
	MergeKeys []string `yaml:"merge_keys,omitempty" json:"merge_keys,omitempty" toml:"merge_keys,omitempty"`
	// Delta replace: conjunction of column=value equalities selecting the
	// rows to delete before the new dataset is appended.
	Predicates       []Predicate `yaml:"predicates,omitempty" json:"predicates,omitempty" toml:"predicates,omitempty"`
	PartitionColumns []string    `yaml:"partition_columns,omitempty" json:"partition_columns,omitempty" toml:"partition_columns,omitempty"`

	// Odbc
	ConnectionString string `yaml:"connection_string,omitempty" json:"connection_string,omitempty" toml:"connection_string,omitempty"`
	Table            string `yaml:"table,omitempty" json:"table,omitempty" toml:"table,omitempty"`
	PreInsert        string `yaml:"pre_insert,omitempty" json:"pre_insert,omitempty" toml:"pre_insert,omitempty"`
	InsertQuery      string `yaml:"insert,omitempty" json:"insert,omitempty" toml:"insert,omitempty"`

	StorageConfig map[string]string `yaml:"storage_config,omitempty" json:"storage_config,omitempty" toml:"storage_config,omitempty"`
}

// Pipeline is the fully parsed, template-rendered document: the
// declarative description of one ETL run. Stages is an ordered sequence
// of levels (each a non-empty set of stages); Destination is singular and
// optional. There is no version field: a `version` key in the document is
// ignored by all three decoders.
type Pipeline struct {
	Sources     []Source     `yaml:"sources" json:"sources" toml:"sources"`
	Stages      [][]Stage    `yaml:"stages" json:"stages" toml:"stages"`
	Destination *Destination `yaml:"destination,omitempty" json:"destination,omitempty" toml:"destination,omitempty"`
}

// SourceSchemas optionally declares the expected schema of a named source,
// used by the destination writer's pre-flight coercion check. Not part of
// the wire document; populated by callers that know their source schemas
// ahead of time.
type SourceSchemas map[string]schema.Schema
