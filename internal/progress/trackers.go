package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/schema"
)

// Logging reports every event through a zerolog.Logger, in the teacher's
// structured-field style.
type Logging struct {
	logger zerolog.Logger
}

// NewLogging creates a Tracker that logs every event.
func NewLogging(logger zerolog.Logger) *Logging {
	return &Logging{logger: logger.With().Str("component", "progress").Logger()}
}

func (l *Logging) RunStarted(runID string) {
	l.logger.Info().Str("run_id", runID).Msg("run started")
}
func (l *Logging) SourceRegistered(name string) {
	l.logger.Debug().Str("source", name).Msg("source registered")
}
func (l *Logging) StageStarted(name string) {
	l.logger.Info().Str("stage", name).Msg("stage started")
}
func (l *Logging) StageCompleted(name string, rowCount int) {
	l.logger.Info().Str("stage", name).Int("rows", rowCount).Msg("stage completed")
}
func (l *Logging) StageFailed(name string, err error) {
	l.logger.Error().Str("error", aqerrors.RedactError(err)).Str("stage", name).Msg("stage failed")
}
func (l *Logging) SchemaPrinted(name string, sch schema.Schema) {
	fields := make([]string, len(sch.Fields))
	for i, f := range sch.Fields {
		fields[i] = f.Name + ":" + f.Type.String()
	}
	l.logger.Info().Str("stage", name).Strs("fields", fields).Msg("schema")
}
func (l *Logging) Explained(name, query string) {
	l.logger.Info().Str("stage", name).Str("query", query).Msg("explain")
}
func (l *Logging) RowsPreview(name string, sch schema.Schema, rows [][]any) {
	l.logger.Info().Str("stage", name).Int("rows", len(rows)).Msg("rows preview")
}
func (l *Logging) DestinationWritten(name string, rowCount int) {
	l.logger.Info().Str("destination", name).Int("rows", rowCount).Msg("destination written")
}
func (l *Logging) RunCompleted() {
	l.logger.Info().Msg("run completed")
}
func (l *Logging) RunFailed(err error) {
	l.logger.Error().Str("error", aqerrors.RedactError(err)).Msg("run failed")
}

// ChannelBridge fans events out to subscriber channels, the same
// subscribe/unsubscribe/broadcast shape as the teacher's metrics.Collector,
// generalized from one fixed Snapshot type to the open Event stream a
// remote client or local TUI consumes.
type ChannelBridge struct {
	logger zerolog.Logger

	mu          sync.Mutex
	subscribers map[chan Event]struct{}

	runID string
}

// NewChannelBridge creates a ChannelBridge tracker.
func NewChannelBridge(logger zerolog.Logger) *ChannelBridge {
	return &ChannelBridge{
		logger:      logger.With().Str("component", "progress-bridge").Logger(),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new buffered channel that receives every
// subsequent event. Callers must call Unsubscribe when done.
func (b *ChannelBridge) Subscribe() chan Event {
	ch := make(chan Event, 256)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *ChannelBridge) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *ChannelBridge) emit(ev Event) {
	ev.At = time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Warn().Str("kind", string(ev.Kind)).Msg("subscriber channel full, dropping event")
		}
	}
}

func (b *ChannelBridge) RunStarted(runID string) {
	b.runID = runID
	b.emit(Event{Kind: EventRunStarted, Name: runID})
}
func (b *ChannelBridge) SourceRegistered(name string) {
	b.emit(Event{Kind: EventSourceRegistered, Name: name})
}
func (b *ChannelBridge) StageStarted(name string) {
	b.emit(Event{Kind: EventStageStarted, Name: name})
}
func (b *ChannelBridge) StageCompleted(name string, rowCount int) {
	b.emit(Event{Kind: EventStageCompleted, Name: name, RowCount: rowCount})
}
func (b *ChannelBridge) StageFailed(name string, err error) {
	b.emit(Event{Kind: EventStageFailed, Name: name, Err: err})
}
func (b *ChannelBridge) SchemaPrinted(name string, sch schema.Schema) {
	b.emit(Event{Kind: EventSchemaPrinted, Name: name, Schema: sch})
}
func (b *ChannelBridge) Explained(name, query string) {
	b.emit(Event{Kind: EventExplained, Name: name, Query: query})
}
func (b *ChannelBridge) RowsPreview(name string, sch schema.Schema, rows [][]any) {
	b.emit(Event{Kind: EventRowsPreview, Name: name, Schema: sch, Rows: rows})
}
func (b *ChannelBridge) DestinationWritten(name string, rowCount int) {
	b.emit(Event{Kind: EventDestinationWritten, Name: name, RowCount: rowCount})
}
func (b *ChannelBridge) RunCompleted() {
	b.emit(Event{Kind: EventRunCompleted})
}
func (b *ChannelBridge) RunFailed(err error) {
	b.emit(Event{Kind: EventRunFailed, Err: err})
}

// multi fans every call out to a fixed set of trackers, letting a run
// drive more than one observer (e.g. a logger and a TUI bridge) at once.
type multi []Tracker

// Multi combines several trackers into one.
func Multi(trackers ...Tracker) Tracker {
	return multi(trackers)
}

func (m multi) RunStarted(runID string) {
	for _, t := range m {
		t.RunStarted(runID)
	}
}
func (m multi) SourceRegistered(name string) {
	for _, t := range m {
		t.SourceRegistered(name)
	}
}
func (m multi) StageStarted(name string) {
	for _, t := range m {
		t.StageStarted(name)
	}
}
func (m multi) StageCompleted(name string, rowCount int) {
	for _, t := range m {
		t.StageCompleted(name, rowCount)
	}
}
func (m multi) StageFailed(name string, err error) {
	for _, t := range m {
		t.StageFailed(name, err)
	}
}
func (m multi) SchemaPrinted(name string, sch schema.Schema) {
	for _, t := range m {
		t.SchemaPrinted(name, sch)
	}
}
func (m multi) Explained(name, query string) {
	for _, t := range m {
		t.Explained(name, query)
	}
}
func (m multi) RowsPreview(name string, sch schema.Schema, rows [][]any) {
	for _, t := range m {
		t.RowsPreview(name, sch, rows)
	}
}
func (m multi) DestinationWritten(name string, rowCount int) {
	for _, t := range m {
		t.DestinationWritten(name, rowCount)
	}
}
func (m multi) RunCompleted() {
	for _, t := range m {
		t.RunCompleted()
	}
}
func (m multi) RunFailed(err error) {
	for _, t := range m {
		t.RunFailed(err)
	}
}
