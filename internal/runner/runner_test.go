package runner

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

func newTestEngine(l zerolog.Logger) (sqlengine.Context, error) {
	return sqlengine.NewSQLiteContext(l)
}

type recordingTracker struct {
	progress.Null
	completed bool
	failed    error
	stages    []string
}

func (r *recordingTracker) RunCompleted()         { r.completed = true }
func (r *recordingTracker) RunFailed(err error)    { r.failed = err }
func (r *recordingTracker) StageStarted(name string) { r.stages = append(r.stages, name) }

func parsePipeline(t *testing.T, doc string) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.Parse(doc, pipeline.FormatYAML, nil)
	require.NoError(t, err)
	return p
}

func TestRunner_RunEmitsRunCompleted(t *testing.T) {
	doc := `
sources: []
stages:
  - - name: doubled
      query: "SELECT 1 AS n"
`
	r := New(newTestEngine, zerolog.Nop())
	tracker := &recordingTracker{}
	err := r.Run(context.Background(), parsePipeline(t, doc), Options{Tracker: tracker})
	require.NoError(t, err)
	require.True(t, tracker.completed)
	require.Nil(t, tracker.failed)
	require.Equal(t, []string{"doubled"}, tracker.stages)
}

func TestRunner_RunEmitsRunFailedOnBadStage(t *testing.T) {
	doc := `
sources: []
stages:
  - - name: broken
      query: "SELECT FROM WHERE"
`
	r := New(newTestEngine, zerolog.Nop())
	tracker := &recordingTracker{}
	err := r.Run(context.Background(), parsePipeline(t, doc), Options{Tracker: tracker})
	require.Error(t, err)
	require.False(t, tracker.completed)
	require.Error(t, tracker.failed)
}

func TestRunner_RunFailsWhenEngineFactoryErrors(t *testing.T) {
	doc := `
sources: []
stages:
  - - name: doubled
      query: "SELECT 1 AS n"
`
	r := New(func(zerolog.Logger) (sqlengine.Context, error) {
		return nil, errEngineUnavailable
	}, zerolog.Nop())
	tracker := &recordingTracker{}
	err := r.Run(context.Background(), parsePipeline(t, doc), Options{Tracker: tracker})
	require.Error(t, err)
	require.Error(t, tracker.failed)
}

var errEngineUnavailable = errEngine{}

type errEngine struct{}

func (errEngine) Error() string { return "engine unavailable" }
