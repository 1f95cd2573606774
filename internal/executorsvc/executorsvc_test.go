package executorsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

func newTestEngine(logger zerolog.Logger) (sqlengine.Context, error) {
	return sqlengine.NewSQLiteContext(logger)
}

func simplePipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	doc := `
sources: []
stages:
  - - name: doubled
      query: "SELECT 1 AS n"
`
	p, err := pipeline.Parse(doc, pipeline.FormatYAML, nil)
	require.NoError(t, err)
	return p
}

func TestService_SubmitRunsAndCompletes(t *testing.T) {
	svc := New(newTestEngine, 0, 0, prometheus.NewRegistry(), zerolog.Nop())

	j, pos, err := svc.SubmitPipeline(simplePipeline(t))
	require.NoError(t, err)
	require.Equal(t, 0, pos)

	select {
	case <-j.done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}
	require.NoError(t, j.result)
}

func TestService_CancelUnknownRun(t *testing.T) {
	svc := New(newTestEngine, 0, 0, prometheus.NewRegistry(), zerolog.Nop())
	err := svc.Cancel("no-such-run")
	require.Error(t, err)
}

func TestService_RejectsOverMemoryBudget(t *testing.T) {
	svc := New(newTestEngine, 1, 0, prometheus.NewRegistry(), zerolog.Nop())
	_, _, err := svc.SubmitPipeline(simplePipeline(t))
	require.Error(t, err)
}

func TestService_QueuesSecondRunBehindFirst(t *testing.T) {
	svc := New(newTestEngine, 0, 0, prometheus.NewRegistry(), zerolog.Nop())

	j1, pos1, err := svc.SubmitPipeline(simplePipeline(t))
	require.NoError(t, err)
	require.Equal(t, 0, pos1)
	j2, pos2, err := svc.SubmitPipeline(simplePipeline(t))
	require.NoError(t, err)
	require.Equal(t, 1, pos2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, j := range []*job{j1, j2} {
		select {
		case <-j.done:
		case <-ctx.Done():
			t.Fatal("runs did not complete in time")
		}
	}
}

func TestService_RejectsWhenQueueFull(t *testing.T) {
	svc := New(newTestEngine, 0, 1, prometheus.NewRegistry(), zerolog.Nop())

	// Fill the single execution slot with a job that never completes on
	// its own within the test, then saturate the queue capacity of 1.
	svc.mu.Lock()
	svc.running = &job{runID: "blocker", done: make(chan struct{})}
	svc.mu.Unlock()

	_, pos, err := svc.SubmitPipeline(simplePipeline(t))
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	_, _, err = svc.SubmitPipeline(simplePipeline(t))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrQueueFull))
}

func TestService_BroadcastsQueuePositionAsJobsComplete(t *testing.T) {
	svc := New(newTestEngine, 0, 0, prometheus.NewRegistry(), zerolog.Nop())

	j1, _, err := svc.SubmitPipeline(simplePipeline(t))
	require.NoError(t, err)
	j2, pos2, err := svc.SubmitPipeline(simplePipeline(t))
	require.NoError(t, err)
	require.Equal(t, 1, pos2)

	select {
	case <-j1.done:
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not complete in time")
	}

	select {
	case updated := <-j2.posCh:
		require.Equal(t, 0, updated)
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive updated queue position")
	}

	select {
	case <-j2.done:
	case <-time.After(5 * time.Second):
		t.Fatal("second run did not complete in time")
	}
}
