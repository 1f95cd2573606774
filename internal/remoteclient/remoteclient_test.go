package remoteclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/protocol"
)

// fakeExecutor accepts one session, waits for an ExecuteRequest, and
// replays a fixed progress/result sequence.
func fakeExecutor(t *testing.T, fail bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()

		send := func(mt protocol.MessageType, p any) {
			d, err := protocol.Encode(mt, p)
			require.NoError(t, err)
			require.NoError(t, conn.Write(ctx, websocket.MessageText, d))
		}

		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		typ, err := protocol.Decode(data, &protocol.Hello{})
		require.NoError(t, err)
		require.Equal(t, protocol.TypeHello, typ)
		send(protocol.TypeWelcome, protocol.Welcome{ExecutorID: "fake-executor", ProtocolVersion: "1"})

		_, data, err = conn.Read(ctx)
		require.NoError(t, err)
		typ, err = protocol.Decode(data, &protocol.ExecuteRequest{})
		require.NoError(t, err)
		require.Equal(t, protocol.TypeExecuteRequest, typ)

		send(protocol.TypeRunAccepted, protocol.RunAccepted{RunID: "r1", QueuePos: 0})
		send(protocol.TypeProgress, protocol.ProgressEvent{RunID: "r1", Kind: string(progress.EventStageCompleted), Name: "s1", RowCount: 3})

		if fail {
			send(protocol.TypeRunResult, protocol.RunResult{RunID: "r1", Success: false, Error: "boom", Category: "data_processing"})
		} else {
			send(protocol.TypeRunResult, protocol.RunResult{RunID: "r1", Success: true})
		}
	}))
}

type recordingTracker struct {
	progress.Null
	completedStages []string
	runFailed       bool
	runCompleted    bool
}

func (r *recordingTracker) StageCompleted(name string, rowCount int) {
	r.completedStages = append(r.completedStages, name)
}
func (r *recordingTracker) RunCompleted()       { r.runCompleted = true }
func (r *recordingTracker) RunFailed(err error) { r.runFailed = true }

func TestClient_Run_Success(t *testing.T) {
	srv := fakeExecutor(t, false)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(wsURL, "", zerolog.Nop())

	tracker := &recordingTracker{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx, "r1", "sources: []", "yaml", nil, tracker)
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, tracker.completedStages)
}

func TestClient_Run_ExecutorReportsFailure(t *testing.T) {
	srv := fakeExecutor(t, true)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(wsURL, "", zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx, "r1", "sources: []", "yaml", nil, &recordingTracker{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}
