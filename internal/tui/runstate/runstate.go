// Package runstate holds the dashboard's accumulated view of one pipeline
// run, rebuilt incrementally from a progress.Event stream. It is its own
// package so both the Bubble Tea model (internal/tui) and its render
// components (internal/tui/components) can depend on it without a cycle.
package runstate

import (
	"time"

	"github.com/aqueducts/aqueducts/internal/progress"
)

// StageStatus is the lifecycle state of one pipeline stage as seen by the
// dashboard.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Stage is one row in the stage progress table.
type Stage struct {
	Name     string
	Status   StageStatus
	RowCount int
	Err      error
}

// LogEntry is one line in the scrolling event log, the dashboard's
// analogue of the teacher's metrics.LogEntry.
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// State is the dashboard's accumulated view of one run, rebuilt
// incrementally from a progress.Event stream the way the teacher's
// Model rebuilds metrics.Snapshot from Collector broadcasts.
type State struct {
	RunID     string
	Phase     string // "waiting", "running", "completed", "failed"
	StartedAt time.Time

	Stages      []Stage
	stageIndex  map[string]int
	SourceCount int

	TotalRows  int
	ErrorCount int

	Logs []LogEntry
}

// New creates an empty dashboard state.
func New() State {
	return State{Phase: "waiting", stageIndex: make(map[string]int)}
}

// Apply folds one progress.Event into the state, returning the updated
// value (State is small enough to copy, matching bubbletea's
// value-receiver Update convention).
func (s State) Apply(ev progress.Event) State {
	if s.stageIndex == nil {
		s.stageIndex = make(map[string]int)
	}

	switch ev.Kind {
	case progress.EventRunStarted:
		s.RunID = ev.Name
		s.Phase = "running"
		s.StartedAt = ev.At
	case progress.EventSourceRegistered:
		s.SourceCount++
		s.log("INF", "source registered: "+ev.Name, ev.At)
	case progress.EventStageStarted:
		s.upsertStage(ev.Name, StageRunning, 0, nil)
		s.log("INF", "stage started: "+ev.Name, ev.At)
	case progress.EventStageCompleted:
		s.upsertStage(ev.Name, StageCompleted, ev.RowCount, nil)
		s.TotalRows += ev.RowCount
		s.log("INF", "stage completed: "+ev.Name, ev.At)
	case progress.EventStageFailed:
		s.upsertStage(ev.Name, StageFailed, 0, ev.Err)
		s.ErrorCount++
		s.log("ERR", "stage failed: "+ev.Name+": "+errText(ev.Err), ev.At)
	case progress.EventSchemaPrinted:
		s.log("DBG", "schema printed: "+ev.Name, ev.At)
	case progress.EventExplained:
		s.log("DBG", "explain: "+ev.Name, ev.At)
	case progress.EventRowsPreview:
		s.log("DBG", "rows preview: "+ev.Name, ev.At)
	case progress.EventDestinationWritten:
		s.log("INF", "destination written: "+ev.Name, ev.At)
	case progress.EventRunCompleted:
		s.Phase = "completed"
		s.log("INF", "run completed", ev.At)
	case progress.EventRunFailed:
		s.Phase = "failed"
		s.ErrorCount++
		s.log("ERR", "run failed: "+errText(ev.Err), ev.At)
	}
	return s
}

func (s *State) upsertStage(name string, status StageStatus, rows int, err error) {
	if i, ok := s.stageIndex[name]; ok {
		s.Stages[i].Status = status
		if rows > 0 {
			s.Stages[i].RowCount = rows
		}
		s.Stages[i].Err = err
		return
	}
	s.stageIndex[name] = len(s.Stages)
	s.Stages = append(s.Stages, Stage{Name: name, Status: status, RowCount: rows, Err: err})
}

func (s *State) log(level, msg string, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	s.Logs = append(s.Logs, LogEntry{Time: at, Level: level, Message: msg})
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
