package executorsvc

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/remoteclient"
)

type recordingTracker struct {
	progress.Null
	completedStages []string
	runCompleted    bool
	runFailed       error
}

func (r *recordingTracker) StageCompleted(name string, rowCount int) {
	r.completedStages = append(r.completedStages, name)
}
func (r *recordingTracker) RunCompleted()       { r.runCompleted = true }
func (r *recordingTracker) RunFailed(err error) { r.runFailed = err }

func newTestServer(t *testing.T) (string, *Service) {
	t.Helper()
	return newTestServerWithAPIKey(t, "")
}

func newTestServerWithAPIKey(t *testing.T, apiKey string) (string, *Service) {
	t.Helper()
	svc := New(newTestEngine, 0, 0, prometheus.NewRegistry(), zerolog.Nop())
	srv := NewServer(svc, apiKey, zerolog.Nop())

	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return wsURL, svc
}

func TestServer_ExecuteRequestRunsPipelineEndToEnd(t *testing.T) {
	wsURL, _ := newTestServer(t)

	client := remoteclient.New(wsURL, "", zerolog.Nop())
	tracker := &recordingTracker{}

	doc := `
sources: []
stages:
  - - name: doubled
      query: "SELECT 1 AS n"
`
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Run(ctx, "run-1", doc, "yaml", nil, tracker)
	require.NoError(t, err)
	require.Equal(t, []string{"doubled"}, tracker.completedStages)
	require.True(t, tracker.runCompleted)
}

func TestServer_ExecuteRequestRejectsMalformedDocument(t *testing.T) {
	wsURL, _ := newTestServer(t)

	client := remoteclient.New(wsURL, "", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Run(ctx, "run-2", "not: [valid", "yaml", nil, &recordingTracker{})
	require.Error(t, err)
}

func TestServer_ExecuteRequestUnsupportedFormat(t *testing.T) {
	wsURL, _ := newTestServer(t)

	client := remoteclient.New(wsURL, "", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Run(ctx, "run-3", "sources: []", "xml", nil, &recordingTracker{})
	require.Error(t, err)
}

func TestServer_RejectsMissingAPIKey(t *testing.T) {
	wsURL, _ := newTestServerWithAPIKey(t, "top-secret")

	client := remoteclient.New(wsURL, "", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Run(ctx, "run-4", "sources: []", "yaml", nil, &recordingTracker{})
	require.Error(t, err)
}

func TestServer_AcceptsMatchingAPIKey(t *testing.T) {
	wsURL, _ := newTestServerWithAPIKey(t, "top-secret")

	client := remoteclient.New(wsURL, "top-secret", zerolog.Nop())
	tracker := &recordingTracker{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc := `
sources: []
stages:
  - - name: doubled
      query: "SELECT 1 AS n"
`
	err := client.Run(ctx, "run-5", doc, "yaml", nil, tracker)
	require.NoError(t, err)
	require.True(t, tracker.runCompleted)
}
