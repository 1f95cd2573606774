// Package remoteclient implements the remote client (C11): a thin driver
// that opens a WebSocket session against an executor service, submits one
// pipeline document, and feeds the resulting progress stream into a local
// progress.Tracker, generalizing the teacher's daemon.Client (REST job
// submission + polling) into a single long-lived streamed session.
package remoteclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/protocol"
)

// clientVersion is reported to the executor in every Hello message.
const clientVersion = "1"

// Client drives one WebSocket session against an executor service.
type Client struct {
	url    string
	apiKey string
	logger zerolog.Logger
	dial   time.Duration
}

// New creates a Client pointed at an executor's ws:// or wss:// URL
// (e.g. "ws://localhost:8081/ws"). An empty apiKey omits the X-API-Key
// header; the executor then accepts the connection only if it was not
// started with its own --api-key.
func New(url, apiKey string, logger zerolog.Logger) *Client {
	return &Client{url: url, apiKey: apiKey, logger: logger.With().Str("component", "remoteclient").Logger(), dial: 10 * time.Second}
}

// Run submits document for execution and blocks until the executor
// reports a terminal result or ctx is cancelled, in which case a cancel
// request is sent before returning ctx.Err().
func (c *Client) Run(ctx context.Context, runID, document, format string, vars map[string]string, tracker progress.Tracker) error {
	if tracker == nil {
		tracker = progress.Null{}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dial)
	conn, _, err := websocket.Dial(dialCtx, c.url, c.dialOptions())
	cancel()
	if err != nil {
		return aqerrors.New(aqerrors.Protocol, "dial", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := writeEnvelope(ctx, conn, protocol.TypeHello, protocol.Hello{ClientVersion: clientVersion}); err != nil {
		return err
	}

	req := protocol.ExecuteRequest{RunID: runID, Document: document, Format: format, Vars: vars}
	if err := writeEnvelope(ctx, conn, protocol.TypeExecuteRequest, req); err != nil {
		return err
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- c.readLoop(ctx, conn, tracker)
	}()

	select {
	case <-ctx.Done():
		cancelCtx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
		_ = writeEnvelope(cancelCtx, conn, protocol.TypeCancelRequest, protocol.CancelRequest{RunID: runID})
		cancelFn()
		<-resultCh
		return ctx.Err()
	case err := <-resultCh:
		return err
	}
}

// Cancel opens a short-lived session against the executor and asks it to
// cancel runID, independent of whatever session originally submitted it.
func (c *Client) Cancel(ctx context.Context, runID string) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dial)
	conn, _, err := websocket.Dial(dialCtx, c.url, c.dialOptions())
	cancel()
	if err != nil {
		return aqerrors.New(aqerrors.Protocol, "dial", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	return writeEnvelope(ctx, conn, protocol.TypeCancelRequest, protocol.CancelRequest{RunID: runID})
}

// dialOptions sets the X-API-Key header when an API key is configured;
// coder/websocket accepts a nil *websocket.DialOptions for the unkeyed case.
func (c *Client) dialOptions() *websocket.DialOptions {
	if c.apiKey == "" {
		return nil
	}
	header := http.Header{}
	header.Set("X-API-Key", c.apiKey)
	return &websocket.DialOptions{HTTPHeader: header}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, tracker progress.Tracker) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return aqerrors.New(aqerrors.Protocol, "read", err)
		}

		var envType protocol.MessageType
		var progressMsg protocol.ProgressEvent
		var rejected protocol.RunRejected
		var result protocol.RunResult
		var welcome protocol.Welcome
		var queuePos protocol.QueuePosition

		envType, err = protocol.Decode(data, nil)
		if err != nil {
			c.logger.Warn().Err(err).Msg("malformed message from executor")
			continue
		}

		switch envType {
		case protocol.TypeWelcome:
			if _, err := protocol.Decode(data, &welcome); err == nil {
				c.logger.Debug().Str("executor_id", welcome.ExecutorID).Str("protocol_version", welcome.ProtocolVersion).Msg("handshake complete")
			}
		case protocol.TypeQueuePosition:
			if _, err := protocol.Decode(data, &queuePos); err == nil {
				c.logger.Debug().Str("run_id", queuePos.RunID).Int("position", queuePos.Position).Msg("queue position")
			}
		case protocol.TypeRunAccepted:
			c.logger.Debug().Msg("run accepted")
		case protocol.TypeRunRejected:
			if _, err := protocol.Decode(data, &rejected); err == nil {
				return aqerrors.Newf(aqerrors.Protocol, "executor", "run rejected: %s", rejected.Reason)
			}
		case protocol.TypeProgress:
			if _, err := protocol.Decode(data, &progressMsg); err == nil {
				applyProgress(tracker, progressMsg)
			}
		case protocol.TypeRunResult:
			if _, err := protocol.Decode(data, &result); err != nil {
				return aqerrors.New(aqerrors.Protocol, "decode-result", err)
			}
			if !result.Success {
				return fmt.Errorf("%s: %s", result.Category, result.Error)
			}
			return nil
		case protocol.TypePong:
		default:
			c.logger.Warn().Str("type", string(envType)).Msg("unhandled message type")
		}
	}
}

// applyProgress replays a wire ProgressEvent onto a local Tracker. Only
// the fields the wire format carries are reconstructable; schema/query/row
// payloads (only ever produced and consumed locally) are not roundtripped.
func applyProgress(tracker progress.Tracker, ev protocol.ProgressEvent) {
	switch progress.EventKind(ev.Kind) {
	case progress.EventRunStarted:
		tracker.RunStarted(ev.RunID)
	case progress.EventSourceRegistered:
		tracker.SourceRegistered(ev.Name)
	case progress.EventStageStarted:
		tracker.StageStarted(ev.Name)
	case progress.EventStageCompleted:
		tracker.StageCompleted(ev.Name, ev.RowCount)
	case progress.EventStageFailed:
		tracker.StageFailed(ev.Name, fmt.Errorf("%s", ev.Message))
	case progress.EventDestinationWritten:
		tracker.DestinationWritten(ev.Name, ev.RowCount)
	case progress.EventRunCompleted:
		tracker.RunCompleted()
	case progress.EventRunFailed:
		tracker.RunFailed(fmt.Errorf("%s", ev.Message))
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, typ protocol.MessageType, payload any) error {
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		return aqerrors.New(aqerrors.Protocol, "encode", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return aqerrors.New(aqerrors.Protocol, "write", err)
	}
	return nil
}
