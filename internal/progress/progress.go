// Package progress implements the progress tracker (C7): a small Tracker
// interface with a Null implementation, a Logging implementation, and a
// ChannelBridge implementation that broadcasts events to subscribers the
// way the teacher's metrics.Collector does.
package progress

import (
	"time"

	"github.com/aqueducts/aqueducts/internal/schema"
)

// EventKind discriminates the kind of progress Event.
type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventSourceRegistered EventKind = "source_registered"
	EventStageStarted    EventKind = "stage_started"
	EventStageCompleted  EventKind = "stage_completed"
	EventStageFailed     EventKind = "stage_failed"
	EventSchemaPrinted   EventKind = "schema_printed"
	EventExplained       EventKind = "explained"
	EventRowsPreview     EventKind = "rows_preview"
	EventDestinationWritten EventKind = "destination_written"
	EventRunCompleted    EventKind = "run_completed"
	EventRunFailed       EventKind = "run_failed"
)

// Event is a single progress notification. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind      EventKind
	Name      string
	At        time.Time
	RowCount  int
	Schema    schema.Schema
	Query     string
	Rows      [][]any
	Err       error
}

// Tracker receives progress notifications from a pipeline run. Every
// method must return promptly: a slow tracker must never stall execution,
// so implementations that fan events out further (ChannelBridge) do so
// with a buffered, non-blocking send.
type Tracker interface {
	RunStarted(runID string)
	SourceRegistered(name string)
	StageStarted(name string)
	StageCompleted(name string, rowCount int)
	StageFailed(name string, err error)
	SchemaPrinted(name string, sch schema.Schema)
	Explained(name, query string)
	RowsPreview(name string, sch schema.Schema, rows [][]any)
	DestinationWritten(name string, rowCount int)
	RunCompleted()
	RunFailed(err error)
}

// Null discards every event. It is the default Tracker for pipelines run
// without an interactive or remote observer.
type Null struct{}

func (Null) RunStarted(string)                               {}
func (Null) SourceRegistered(string)                          {}
func (Null) StageStarted(string)                              {}
func (Null) StageCompleted(string, int)                       {}
func (Null) StageFailed(string, error)                        {}
func (Null) SchemaPrinted(string, schema.Schema)              {}
func (Null) Explained(string, string)                         {}
func (Null) RowsPreview(string, schema.Schema, [][]any)       {}
func (Null) DestinationWritten(string, int)                   {}
func (Null) RunCompleted()                                    {}
func (Null) RunFailed(error)                                  {}
