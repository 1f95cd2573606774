package runstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqueducts/aqueducts/internal/progress"
)

func TestState_ApplyLifecycle(t *testing.T) {
	s := New()

	s = s.Apply(progress.Event{Kind: progress.EventRunStarted, Name: "run-1"})
	require.Equal(t, "running", s.Phase)
	require.Equal(t, "run-1", s.RunID)

	s = s.Apply(progress.Event{Kind: progress.EventStageStarted, Name: "clean"})
	require.Len(t, s.Stages, 1)
	require.Equal(t, StageRunning, s.Stages[0].Status)

	s = s.Apply(progress.Event{Kind: progress.EventStageCompleted, Name: "clean", RowCount: 42})
	require.Equal(t, StageCompleted, s.Stages[0].Status)
	require.Equal(t, 42, s.Stages[0].RowCount)
	require.Equal(t, 42, s.TotalRows)

	s = s.Apply(progress.Event{Kind: progress.EventRunCompleted})
	require.Equal(t, "completed", s.Phase)
}

func TestState_ApplyStageFailure(t *testing.T) {
	s := New()
	s = s.Apply(progress.Event{Kind: progress.EventStageStarted, Name: "bad"})
	s = s.Apply(progress.Event{Kind: progress.EventStageFailed, Name: "bad", Err: errors.New("boom")})

	require.Equal(t, StageFailed, s.Stages[0].Status)
	require.Equal(t, 1, s.ErrorCount)
	require.NotEmpty(t, s.Logs)
}

func TestState_UpsertStageKeepsSingleEntryPerName(t *testing.T) {
	s := New()
	s = s.Apply(progress.Event{Kind: progress.EventStageStarted, Name: "a"})
	s = s.Apply(progress.Event{Kind: progress.EventStageStarted, Name: "b"})
	s = s.Apply(progress.Event{Kind: progress.EventStageCompleted, Name: "a", RowCount: 5})

	require.Len(t, s.Stages, 2)
	require.Equal(t, StageCompleted, s.Stages[0].Status)
	require.Equal(t, StageRunning, s.Stages[1].Status)
}
