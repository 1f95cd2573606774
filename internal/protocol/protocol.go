// Package protocol defines the wire messages exchanged between a remote
// client and the executor service (C9): a typed envelope plus the
// distinct client->server and server->client message sets, following the
// teacher's stream.Message Kind()-discriminated shape and its JSON-based
// daemon.JobRequest/JobResponse wire format.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates every message that can appear inside an
// Envelope, in either direction.
type MessageType string

const (
	// Client -> server
	TypeHello          MessageType = "hello"
	TypeExecuteRequest MessageType = "execute_request"
	TypeCancelRequest  MessageType = "cancel_request"
	TypePing           MessageType = "ping"

	// Server -> client
	TypeWelcome       MessageType = "welcome"
	TypeRunAccepted   MessageType = "run_accepted"
	TypeRunRejected   MessageType = "run_rejected"
	TypeQueuePosition MessageType = "queue_position"
	TypeProgress      MessageType = "progress"
	TypeRunResult     MessageType = "run_result"
	TypePong          MessageType = "pong"
)

// Rejection reasons carried by RunRejected.Reason. Rejections of a
// malformed document or an over-budget run carry the redacted error text
// instead of one of these constants.
const (
	ReasonUnauthenticated    = "unauthenticated"
	ReasonQueueFull          = "queue_full"
	ReasonDuplicateExecution = "duplicate_execution"
)

// Envelope is the single JSON shape written to the wire; Payload's
// concrete type is determined by Type.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a typed payload in an Envelope and marshals it.
func Encode(t MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", t, err)
	}
	env := Envelope{Type: t, Payload: raw}
	return json.Marshal(env)
}

// Decode parses an Envelope and unmarshals its payload into out.
func Decode(data []byte, out any) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if out != nil && len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			return env.Type, fmt.Errorf("protocol: decode %s payload: %w", env.Type, err)
		}
	}
	return env.Type, nil
}

// Hello is the first message a client sends once its WebSocket connects
// and its X-API-Key header has been accepted.
type Hello struct {
	ClientVersion string `json:"client_version"`
}

// Welcome answers Hello, confirming the session before any
// ExecuteRequest is processed.
type Welcome struct {
	ExecutorID      string `json:"executor_id"`
	ProtocolVersion string `json:"protocol_version"`
}

// QueuePosition reports a queued run's current (0-indexed) position,
// pushed again every time a job ahead of it in the queue completes.
type QueuePosition struct {
	RunID    string `json:"run_id"`
	Position int    `json:"position"`
}

// ExecuteRequest asks the executor to run a pipeline document.
type ExecuteRequest struct {
	RunID    string            `json:"run_id"`
	Document string            `json:"document"`
	Format   string            `json:"format"` // "yaml" | "json" | "toml"
	Vars     map[string]string `json:"vars,omitempty"`
}

// CancelRequest asks the executor to cancel a run in progress.
type CancelRequest struct {
	RunID string `json:"run_id"`
}

// RunAccepted confirms a run was queued or started.
type RunAccepted struct {
	RunID    string `json:"run_id"`
	QueuePos int    `json:"queue_position"`
}

// RunRejected reports the executor declined a run or a session (bad
// auth, a full queue, an exceeded memory budget, a malformed document or
// an unsupported format). RunID is empty for session-level rejections
// (Unauthenticated) that happen before any run is named. The executor
// assigns its own run ID to every accepted run and never rejects a
// duplicate execution_id, so ReasonDuplicateExecution is not sent.
type RunRejected struct {
	RunID             string `json:"run_id,omitempty"`
	Reason            string `json:"reason"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// ProgressEvent is the wire form of a progress.Event.
type ProgressEvent struct {
	RunID    string `json:"run_id"`
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
	RowCount int    `json:"row_count,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RunResult reports a run's terminal outcome. Exactly one terminal
// message is sent per run, matching the pipeline runner's single
// terminal-event guarantee.
type RunResult struct {
	RunID    string `json:"run_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Category string `json:"category,omitempty"`
}
